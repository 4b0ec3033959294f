package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/harun/stirrup/internal/config"
	"github.com/harun/stirrup/pkg/cache"
	"github.com/harun/stirrup/pkg/subagent"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and cache status",
	Long:  `Show the active model, the checkpoint cache and the sub-agent run registry.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	nop := zerolog.Nop()

	fmt.Fprintf(out, "Config: %s\n", config.NewLoader(cfgFile).GetConfigPath())
	fmt.Fprintf(out, "Model: %s/%s\n", cfg.Model.Provider, cfg.Model.Name)
	fmt.Fprintf(out, "Max turns: %d\n", cfg.Agent.MaxTurns)

	if cfg.Cache.Enabled {
		m, err := cache.New(cache.Config{BaseDir: cfg.Cache.Dir, Logger: &nop})
		if err != nil {
			return err
		}
		fps, err := m.List()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cache: %s (%d entries)\n", m.BaseDir(), len(fps))

		var newest time.Time
		for _, fp := range fps {
			if info, err := m.Info(fp); err == nil && info.UpdatedAt.After(newest) {
				newest = info.UpdatedAt
			}
		}
		if !newest.IsZero() {
			fmt.Fprintf(out, "Last checkpoint: %s ago\n", formatDuration(time.Since(newest)))
		}
	} else {
		fmt.Fprintln(out, "Cache: disabled")
	}

	coordinator := subagent.NewCoordinator(subagent.CoordinatorConfig{
		RegistryPath: filepath.Join(cfg.DataDir, registryFileName),
		Logger:       &nop,
	})
	stats := coordinator.Stats()
	fmt.Fprintf(out, "Sub-agent runs: %d total, %d active, %d finished, %d exhausted, %d failed, %d interrupted\n",
		stats.TotalRuns, stats.ActiveRuns, stats.FinishedRuns, stats.ExhaustedRuns, stats.FailedRuns, stats.InterruptedRuns)

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
