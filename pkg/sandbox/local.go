package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// ProviderName is the name LocalProvider reports
	ProviderName = "local_sandbox"

	// RunCommandTool is the name of the shell tool
	RunCommandTool = "run_command"
)

// LocalProvider owns a temporary working directory on the host and serves
// run_command and file tools bound to it. It satisfies toolexecutor.ExecEnvProvider.
type LocalProvider struct {
	config  Config
	logger  zerolog.Logger
	workDir string
	mu      sync.RWMutex
}

// NewLocalProvider creates a local execution environment
func NewLocalProvider(cfg Config, logger *zerolog.Logger) (*LocalProvider, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l := log.Logger
	if logger != nil {
		l = *logger
	}

	return &LocalProvider{
		config: cfg.withDefaults(),
		logger: l.With().Str("component", "sandbox").Logger(),
	}, nil
}

func (p *LocalProvider) Name() string { return ProviderName }

// WorkDir returns the working directory, empty until Acquire succeeds
func (p *LocalProvider) WorkDir() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workDir
}

// Config returns the effective configuration
func (p *LocalProvider) Config() Config {
	return p.config
}

// Acquire creates the working directory and returns run_command and the
// file tools bound to it
func (p *LocalProvider) Acquire(ctx context.Context) ([]*toolexecutor.Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workDir != "" {
		return nil, ErrAlreadyAcquired
	}

	if p.config.BaseDir != "" {
		if err := os.MkdirAll(p.config.BaseDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create sandbox base dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(p.config.BaseDir, "stirrup-")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox work dir: %w", err)
	}
	p.workDir = dir

	logger := tracing.LoggerFromContext(ctx, p.logger)
	logger.Info().
		Str("work_dir", dir).
		Dur("timeout", p.config.Timeout).
		Msg("Starting local sandbox")

	return append([]*toolexecutor.Tool{p.runCommandTool()}, p.fileTools()...), nil
}

// Release removes the working directory unless KeepWorkDir is set
func (p *LocalProvider) Release(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workDir == "" {
		return ErrNotAcquired
	}

	dir := p.workDir
	p.workDir = ""

	logger := tracing.LoggerFromContext(ctx, p.logger)
	if p.config.KeepWorkDir {
		logger.Info().Str("work_dir", dir).Msg("Stopping local sandbox, work dir kept")
		return nil
	}

	logger.Info().Str("work_dir", dir).Msg("Stopping local sandbox")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove sandbox work dir: %w", err)
	}
	return nil
}

// Execute runs req.Command through the shell inside the working directory.
// A non-zero exit is not an error; a timeout returns the partial output with
// ErrExecutionTimeout.
func (p *LocalProvider) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	workDir := p.WorkDir()
	if workDir == "" {
		return ExecuteResult{}, ErrNotAcquired
	}
	if strings.TrimSpace(req.Command) == "" {
		return ExecuteResult{}, ErrEmptyCommand
	}

	timeout := p.config.Timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.config.Shell, "-c", req.Command)
	cmd.Dir = workDir
	cmd.Env = p.buildEnvironment(workDir)
	// background children may hold the pipes open after the shell is killed
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	result := ExecuteResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, ErrExecutionTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("failed to run command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	logger := tracing.LoggerFromContext(ctx, p.logger)
	logger.Debug().
		Str("command", req.Command).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("Command executed in sandbox")

	return result, nil
}

// buildEnvironment builds the environment variables for the command
func (p *LocalProvider) buildEnvironment(workDir string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
	}

	keys := make([]string, 0, len(p.config.Env))
	for key := range p.config.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+p.config.Env[key])
	}
	return env
}

func (p *LocalProvider) runCommandTool() *toolexecutor.Tool {
	return &toolexecutor.Tool{
		Name: RunCommandTool,
		Description: fmt.Sprintf("Run a shell command in the working directory. "+
			"Commands time out after %s. Output is truncated to %d bytes per stream.",
			p.config.Timeout, p.config.MaxOutputBytes),
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "cmd",
				Type:        "string",
				Description: "Shell command to execute",
				Required:    true,
			},
			{
				Name:        "timeout",
				Type:        "integer",
				Description: "Timeout in seconds, capped by the sandbox limit",
			},
		},
		// the command enforces its own deadline
		Timeout: p.config.Timeout + 5*time.Second,
		Handler: p.handleRunCommand,
	}
}

func (p *LocalProvider) handleRunCommand(ctx context.Context, params map[string]interface{}) (toolexecutor.ToolResult, error) {
	command, _ := params["cmd"].(string)

	req := ExecuteRequest{Command: command}
	if secs, ok := params["timeout"].(float64); ok && secs > 0 {
		req.Timeout = time.Duration(secs * float64(time.Second))
	}

	result, err := p.Execute(ctx, req)
	if err != nil && !errors.Is(err, ErrExecutionTimeout) {
		return toolexecutor.ToolResult{}, err
	}
	return toolexecutor.Text(p.formatResult(result)), nil
}

func (p *LocalProvider) formatResult(result ExecuteResult) string {
	var b strings.Builder
	if result.TimedOut {
		fmt.Fprintf(&b, "Command timed out after %s\n", result.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(&b, "Exit code: %d\n", result.ExitCode)
	}
	if len(result.Stdout) > 0 {
		b.WriteString("<stdout>\n")
		b.WriteString(truncate(result.Stdout, p.config.MaxOutputBytes))
		b.WriteString("\n</stdout>\n")
	}
	if len(result.Stderr) > 0 {
		b.WriteString("<stderr>\n")
		b.WriteString(truncate(result.Stderr, p.config.MaxOutputBytes))
		b.WriteString("\n</stderr>\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(data []byte, limit int) string {
	if limit <= 0 || len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + fmt.Sprintf("\n... (%d bytes truncated)", len(data)-limit)
}

var _ toolexecutor.ExecEnvProvider = (*LocalProvider)(nil)
