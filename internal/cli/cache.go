package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/stirrup/internal/config"
	"github.com/harun/stirrup/pkg/cache"
	"github.com/spf13/cobra"
)

var (
	cacheDir         string
	cacheClearAll    bool
	cachePruneAge    time.Duration
	cacheInspectJSON bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage session checkpoints",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached sessions",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect <fingerprint>",
	Short: "Show details of a cached session",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheInspect,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [fingerprint...]",
	Short: "Remove cached sessions",
	RunE:  runCacheClear,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove cached sessions not updated within --max-age",
	Args:  cobra.NoArgs,
	RunE:  runCachePrune,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "checkpoint cache directory")
	cacheInspectCmd.Flags().BoolVar(&cacheInspectJSON, "json", false, "print as JSON")
	cacheClearCmd.Flags().BoolVar(&cacheClearAll, "all", false, "remove every cached session")
	cachePruneCmd.Flags().DurationVar(&cachePruneAge, "max-age", 0, "age threshold (default from config)")

	cacheCmd.AddCommand(cacheListCmd, cacheInspectCmd, cacheClearCmd, cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openCache builds the cache manager from config and flags. The returned
// func closes the logger.
func openCache(cmd *cobra.Command) (*cache.Manager, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if cmd.Flags().Changed("cache-dir") {
		cfg.Cache.Dir = cacheDir
	}
	if cmd.Flags().Changed("max-age") {
		cfg.Cache.MaxAge = cachePruneAge
	}

	lg, err := setupLogging(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	m, err := cache.New(cache.Config{BaseDir: cfg.Cache.Dir, Logger: lg.Zerolog()})
	if err != nil {
		lg.Close()
		return nil, nil, nil, err
	}
	return m, cfg, func() { lg.Close() }, nil
}

func runCacheList(cmd *cobra.Command, args []string) error {
	m, _, closeFn, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	fps, err := m.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(fps) == 0 {
		fmt.Fprintln(out, "No cached sessions")
		return nil
	}

	fmt.Fprintf(out, "%-16s %5s %8s  %-20s %s\n", "FINGERPRINT", "TURN", "MESSAGES", "MODEL", "UPDATED")
	for _, fp := range fps {
		info, err := m.Info(fp)
		if err != nil {
			fmt.Fprintf(out, "%-16s (unreadable: %v)\n", fp, err)
			continue
		}
		fmt.Fprintf(out, "%-16s %5d %8d  %-20s %s ago\n",
			fp, info.Turn, info.Messages, info.Model, formatDuration(time.Since(info.UpdatedAt)))
	}
	return nil
}

func runCacheInspect(cmd *cobra.Command, args []string) error {
	m, _, closeFn, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	info, err := m.Info(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cacheInspectJSON {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "Fingerprint: %s\n", info.Fingerprint)
	fmt.Fprintf(out, "Turn: %d\n", info.Turn)
	fmt.Fprintf(out, "Messages: %d\n", info.Messages)
	fmt.Fprintf(out, "Model: %s\n", info.Model)
	fmt.Fprintf(out, "Tools: %v\n", info.ToolNames)
	fmt.Fprintf(out, "Has files: %t\n", info.HasFiles)
	fmt.Fprintf(out, "Updated: %s\n", info.UpdatedAt.Format(time.RFC3339))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	if !cacheClearAll && len(args) == 0 {
		return fmt.Errorf("give one or more fingerprints or --all")
	}

	m, _, closeFn, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	fps := args
	if cacheClearAll {
		if fps, err = m.List(); err != nil {
			return err
		}
	}

	for _, fp := range fps {
		if err := m.Clear(cmd.Context(), fp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", fp)
	}
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	m, cfg, closeFn, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	removed, err := m.Prune(cmd.Context(), cfg.Cache.MaxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d cached sessions\n", len(removed))
	return nil
}
