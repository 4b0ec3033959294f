package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "STIRRUP"
	defaultDirName    = ".stirrup"
	defaultConfigName = "stirrup.json"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// providerKeyEnv is consulted when model.api_key is unset
var providerKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file if it exists, applies STIRRUP_* environment
// overrides and fills derived paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDerived(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDerived(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDirName)
	}

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.DataDir, "cache")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "stirrup.log")
	}

	if cfg.Model.APIKey == "" {
		if env, ok := providerKeyEnv[cfg.Model.Provider]; ok {
			cfg.Model.APIKey = os.Getenv(env)
		}
	}
	if cfg.Model.Provider == "openrouter" && cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = openRouterBaseURL
	}
	return nil
}

// setDefaults registers every key so that environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.base_url", d.Model.BaseURL)
	v.SetDefault("model.api_key", d.Model.APIKey)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.max_output_tokens", d.Model.MaxOutputTokens)
	v.SetDefault("model.reasoning_effort", d.Model.ReasoningEffort)
	v.SetDefault("model.thinking_budget", d.Model.ThinkingBudget)
	v.SetDefault("model.max_retries", d.Model.MaxRetries)

	v.SetDefault("agent.name", d.Agent.Name)
	v.SetDefault("agent.system_prompt", d.Agent.SystemPrompt)
	v.SetDefault("agent.max_turns", d.Agent.MaxTurns)
	v.SetDefault("agent.summarization_cutoff", d.Agent.SummarizationCutoff)
	v.SetDefault("agent.max_parallel_tools", d.Agent.MaxParallelTools)
	v.SetDefault("agent.tools.allow", d.Agent.Tools.Allow)
	v.SetDefault("agent.tools.deny", d.Agent.Tools.Deny)
	v.SetDefault("agent.sub_agents", d.Agent.SubAgents)
	v.SetDefault("agent.max_depth", d.Agent.MaxDepth)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.on_interrupt", d.Cache.OnInterrupt)
	v.SetDefault("cache.max_age", d.Cache.MaxAge)

	v.SetDefault("sandbox.enabled", d.Sandbox.Enabled)
	v.SetDefault("sandbox.base_dir", d.Sandbox.BaseDir)
	v.SetDefault("sandbox.timeout", d.Sandbox.Timeout)
	v.SetDefault("sandbox.max_output_bytes", d.Sandbox.MaxOutputBytes)
	v.SetDefault("sandbox.keep_work_dir", d.Sandbox.KeepWorkDir)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("queue.max_concurrent_runs", d.Queue.MaxConcurrentRuns)

	v.SetDefault("telemetry.tracing_enabled", d.Telemetry.TracingEnabled)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.sample_ratio", d.Telemetry.SampleRatio)
	v.SetDefault("telemetry.metrics_addr", d.Telemetry.MetricsAddr)
	v.SetDefault("telemetry.audit_log", d.Telemetry.AuditLog)

	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("data_dir", d.DataDir)
}

// Save writes cfg to the config path, creating parent directories
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.Set("model", cfg.Model)
	v.Set("agent", cfg.Agent)
	v.Set("cache", cfg.Cache)
	v.Set("sandbox", cfg.Sandbox)
	v.Set("logging", cfg.Logging)
	v.Set("queue", cfg.Queue)
	v.Set("telemetry", cfg.Telemetry)
	v.Set("output_dir", cfg.OutputDir)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(configPath, 0600)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDirName, defaultConfigName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
