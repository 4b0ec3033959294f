package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/harun/stirrup/internal/config"
	"github.com/harun/stirrup/pkg/agent"
	"github.com/harun/stirrup/pkg/cache"
	"github.com/harun/stirrup/pkg/commandqueue"
	"github.com/harun/stirrup/pkg/metadata"
	"github.com/harun/stirrup/pkg/subagent"
	"github.com/spf13/cobra"
)

// registryFileName holds sub-agent run records under the data dir
const registryFileName = "subagents.json"

// newClient is replaced in tests
var newClient = buildClient

// errNotFinished makes the process exit non-zero when the agent stops
// without calling finish
var errNotFinished = errors.New("agent did not finish")

var (
	runTask         string
	runModel        string
	runProvider     string
	runBaseURL      string
	runAPIKey       string
	runMaxTurns     int
	runOutputDir    string
	runCacheDir     string
	runSystemPrompt string
	runFingerprint  string
	runResume       bool
	runNoCache      bool
	runNoSandbox    bool
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run the agent on a task",
	Long: `Run the agent on a task until it calls finish or exhausts its turns.

The task can be given with --task or as positional arguments. Files named in
the finish call are copied into the output directory. With --resume a run
continues from the checkpoint of an identical earlier invocation.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runTask, "task", "", "task for the agent")
	f.StringVar(&runModel, "model", "", "model name")
	f.StringVar(&runProvider, "provider", "", "model provider (openai, anthropic, openrouter)")
	f.StringVar(&runBaseURL, "base-url", "", "API base URL for OpenAI-compatible gateways")
	f.StringVar(&runAPIKey, "api-key", "", "provider API key")
	f.IntVar(&runMaxTurns, "max-turns", 0, "maximum number of turns")
	f.StringVar(&runOutputDir, "output-dir", "", "directory receiving finish output files")
	f.StringVar(&runCacheDir, "cache-dir", "", "checkpoint cache directory")
	f.StringVar(&runSystemPrompt, "system-prompt", "", "system prompt for the agent")
	f.StringVar(&runFingerprint, "fingerprint", "", "cache key to use instead of the derived one")
	f.BoolVar(&runResume, "resume", false, "resume from the checkpoint for this task")
	f.BoolVar(&runNoCache, "no-cache", false, "disable checkpointing")
	f.BoolVar(&runNoSandbox, "no-sandbox", false, "run without the local execution environment")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides cfg with the flags the user set explicitly
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("provider") {
		cfg.Model.Provider = runProvider
	}
	if f.Changed("model") {
		cfg.Model.Name = runModel
	}
	if f.Changed("base-url") {
		cfg.Model.BaseURL = runBaseURL
	}
	if f.Changed("api-key") {
		cfg.Model.APIKey = runAPIKey
	}
	if f.Changed("max-turns") {
		cfg.Agent.MaxTurns = runMaxTurns
	}
	if f.Changed("output-dir") {
		cfg.OutputDir = runOutputDir
	}
	if f.Changed("cache-dir") {
		cfg.Cache.Dir = runCacheDir
	}
	if f.Changed("system-prompt") {
		cfg.Agent.SystemPrompt = runSystemPrompt
	}
	if runNoCache {
		cfg.Cache.Enabled = false
	}
	if runNoSandbox {
		cfg.Sandbox.Enabled = false
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(runTask)
	if task == "" {
		task = strings.TrimSpace(strings.Join(args, " "))
	}
	if task == "" {
		return fmt.Errorf("a task is required (--task or positional argument)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if runResume && !cfg.Cache.Enabled {
		return fmt.Errorf("--resume requires the cache to be enabled")
	}

	lg, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer lg.Close()
	logger := lg.Zerolog()

	stopTelemetry, err := setupTelemetry(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTelemetry(ctx); err != nil {
			logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	coordinator := subagent.NewCoordinator(subagent.CoordinatorConfig{
		RegistryPath: filepath.Join(cfg.DataDir, registryFileName),
		Logger:       logger,
	})
	a, err := buildAgent(cfg, client, coordinator, logger)
	if err != nil {
		return err
	}

	opts := agent.SessionOptions{
		Resume:                  runResume,
		Fingerprint:             runFingerprint,
		DisableCacheOnInterrupt: !cfg.Cache.OnInterrupt,
		OutputDir:               cfg.OutputDir,
	}
	if cfg.Cache.Enabled {
		m, err := cache.New(cache.Config{BaseDir: cfg.Cache.Dir, Logger: logger})
		if err != nil {
			return err
		}
		opts.Cache = m
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := commandqueue.New(cfg.Queue.MaxConcurrentRuns, logger)
	handle, err := queue.Submit(ctx, a.Name(), func(ctx context.Context) (interface{}, error) {
		return a.Run(ctx, task, opts)
	})
	if err != nil {
		return err
	}

	value, runErr := handle.Wait(context.Background())
	if err := queue.Shutdown(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Command queue shutdown reported errors")
	}

	result, _ := value.(*agent.Result)
	if result != nil {
		printResult(cmd.OutOrStdout(), result)
	}
	if runErr != nil {
		return runErr
	}
	if result == nil || result.Status != agent.StatusFinished {
		turns := 0
		status := "unknown"
		if result != nil {
			turns, status = result.Turns, result.Status.String()
		}
		return fmt.Errorf("%w: %s after %d turns", errNotFinished, status, turns)
	}
	return nil
}

// printResult writes a human readable summary of a session
func printResult(w io.Writer, result *agent.Result) {
	fmt.Fprintf(w, "Status: %s (%d turns)\n", result.Status, result.Turns)
	if result.Finish != nil && result.Finish.Reason != "" {
		fmt.Fprintf(w, "Reason: %s\n", result.Finish.Reason)
	}
	if result.Fingerprint != "" {
		fmt.Fprintf(w, "Fingerprint: %s\n", result.Fingerprint)
	}

	if len(result.OutputFiles) > 0 {
		fmt.Fprintln(w, "Output files:")
		for _, path := range result.OutputFiles {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}

	if usages := result.Metadata[metadata.KindTokenUsage]; len(usages) > 0 {
		fmt.Fprintln(w, "Token usage:")
		sorted := make([]*metadata.TokenUsage, 0, len(usages))
		for _, e := range usages {
			if u, ok := e.(*metadata.TokenUsage); ok {
				sorted = append(sorted, u)
			}
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Model < sorted[j].Model })
		for _, u := range sorted {
			fmt.Fprintf(w, "  %s: %d calls, %d input, %d output (%d reasoning)\n",
				u.Model, u.NumCalls, u.Input, u.Output(), u.Reasoning)
		}
	}

	if counts := result.Metadata[metadata.KindToolUseCount]; len(counts) > 0 {
		parts := make([]string, 0, len(counts))
		for _, e := range counts {
			if c, ok := e.(*metadata.ToolUseCount); ok {
				parts = append(parts, fmt.Sprintf("%s=%d", c.Tool, c.Count))
			}
		}
		sort.Strings(parts)
		fmt.Fprintf(w, "Tool calls: %s\n", strings.Join(parts, ", "))
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}
