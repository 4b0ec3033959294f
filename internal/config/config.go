// Package config loads stirrup settings from a JSON or YAML file with
// STIRRUP_ environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config represents the main stirrup configuration
type Config struct {
	Model     ModelConfig     `json:"model" mapstructure:"model"`
	Agent     AgentConfig     `json:"agent" mapstructure:"agent"`
	Cache     CacheConfig     `json:"cache" mapstructure:"cache"`
	Sandbox   SandboxConfig   `json:"sandbox" mapstructure:"sandbox"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Queue     QueueConfig     `json:"queue" mapstructure:"queue"`
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// OutputDir receives files named by the finish tool
	OutputDir string `json:"output_dir" mapstructure:"output_dir"`

	// DataDir holds the cache, logs and run registry by default
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelConfig selects and tunes the LLM provider
type ModelConfig struct {
	Provider        string `json:"provider" mapstructure:"provider"` // openai, anthropic, openrouter
	Name            string `json:"name" mapstructure:"name"`
	BaseURL         string `json:"base_url,omitempty" mapstructure:"base_url"`
	APIKey          string `json:"api_key,omitempty" mapstructure:"api_key"`
	MaxTokens       int    `json:"max_tokens" mapstructure:"max_tokens"` // context window
	MaxOutputTokens int    `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	ReasoningEffort string `json:"reasoning_effort,omitempty" mapstructure:"reasoning_effort"`
	ThinkingBudget  int    `json:"thinking_budget,omitempty" mapstructure:"thinking_budget"`
	MaxRetries      int    `json:"max_retries" mapstructure:"max_retries"`
}

// AgentConfig holds the session loop settings
type AgentConfig struct {
	Name                string           `json:"name" mapstructure:"name"`
	SystemPrompt        string           `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	MaxTurns            int              `json:"max_turns" mapstructure:"max_turns"`
	SummarizationCutoff float64          `json:"summarization_cutoff" mapstructure:"summarization_cutoff"`
	MaxParallelTools    int              `json:"max_parallel_tools" mapstructure:"max_parallel_tools"`
	Tools               ToolPolicyConfig `json:"tools" mapstructure:"tools"`
	SubAgents           []SubAgentConfig `json:"sub_agents,omitempty" mapstructure:"sub_agents"`
	// MaxDepth bounds sub-agent nesting
	MaxDepth int `json:"max_depth" mapstructure:"max_depth"`
}

// SubAgentConfig declares an agent the main agent can delegate to. Sub-agents
// share the model client and run without an execution environment.
type SubAgentConfig struct {
	Name         string `json:"name" mapstructure:"name"`
	Description  string `json:"description,omitempty" mapstructure:"description"`
	SystemPrompt string `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	MaxTurns     int    `json:"max_turns,omitempty" mapstructure:"max_turns"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// CacheConfig controls checkpointing
type CacheConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" mapstructure:"dir"`
	// OnInterrupt writes a checkpoint when a run is cancelled
	OnInterrupt bool          `json:"on_interrupt" mapstructure:"on_interrupt"`
	MaxAge      time.Duration `json:"max_age" mapstructure:"max_age"` // used by cache prune
}

// SandboxConfig defines the local execution environment
type SandboxConfig struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`
	BaseDir        string        `json:"base_dir,omitempty" mapstructure:"base_dir"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxOutputBytes int           `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	KeepWorkDir    bool          `json:"keep_work_dir" mapstructure:"keep_work_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
}

// QueueConfig bounds concurrently running sessions
type QueueConfig struct {
	MaxConcurrentRuns int `json:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// TelemetryConfig holds tracing and metrics settings
type TelemetryConfig struct {
	TracingEnabled bool    `json:"tracing_enabled" mapstructure:"tracing_enabled"`
	ServiceName    string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio    float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	// AuditLog writes tool, session and cache events to <data_dir>/audit.log
	AuditLog bool `json:"audit_log" mapstructure:"audit_log"`
	// MetricsAddr serves /metrics when set, e.g. ":9090"
	MetricsAddr string `json:"metrics_addr,omitempty" mapstructure:"metrics_addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:        "openai",
			Name:            "gpt-4o",
			MaxTokens:       128000,
			MaxOutputTokens: 4096,
			MaxRetries:      3,
		},
		Agent: AgentConfig{
			Name:                "agent",
			MaxTurns:            30,
			SummarizationCutoff: 0.7,
			MaxDepth:            3,
			Tools: ToolPolicyConfig{
				Allow: []string{"*"},
				Deny:  []string{},
			},
		},
		Cache: CacheConfig{
			Enabled:     true,
			OnInterrupt: true,
			MaxAge:      7 * 24 * time.Hour,
		},
		Sandbox: SandboxConfig{
			Enabled:        true,
			Timeout:        30 * time.Second,
			MaxOutputBytes: 16 * 1024,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     true,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
			Redaction:  true,
		},
		Queue: QueueConfig{
			MaxConcurrentRuns: 1,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stirrup",
			SampleRatio: 1,
		},
		OutputDir: "output",
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Model.APIKey != "" {
		masked.Model.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
