// Package sandbox provides the local execution environment for a session: a
// private working directory and a run_command tool that executes shell
// commands inside it.
package sandbox

import "time"

const (
	defaultTimeout        = 30 * time.Second
	defaultMaxOutputBytes = 16 * 1024
	defaultShell          = "/bin/sh"
)

// Config defines sandbox configuration
type Config struct {
	// BaseDir is where working directories are created; empty uses the OS temp dir
	BaseDir string `json:"base_dir" mapstructure:"base_dir"`

	// Timeout bounds every command unless the call asks for less
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxOutputBytes caps stdout and stderr each, as returned to the model
	MaxOutputBytes int `json:"max_output_bytes" mapstructure:"max_output_bytes"`

	// Shell runs the command string with "-c"
	Shell string `json:"shell" mapstructure:"shell"`

	// Env is added to the minimal command environment
	Env map[string]string `json:"env" mapstructure:"env"`

	// KeepWorkDir leaves the working directory on disk after Release
	KeepWorkDir bool `json:"keep_work_dir" mapstructure:"keep_work_dir"`
}

// ExecuteRequest represents a sandbox execution request
type ExecuteRequest struct {
	// Command is passed to the shell verbatim
	Command string `json:"command"`

	// Stdin is the standard input
	Stdin []byte `json:"stdin"`

	// Timeout overrides Config.Timeout when shorter
	Timeout time.Duration `json:"timeout"`
}

// ExecuteResult represents a sandbox execution result
type ExecuteResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:        defaultTimeout,
		MaxOutputBytes: defaultMaxOutputBytes,
		Shell:          defaultShell,
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	if cfg.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if cfg.MaxOutputBytes < 0 {
		return ErrInvalidOutputLimit
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if c.Shell == "" {
		c.Shell = defaultShell
	}
	return c
}
