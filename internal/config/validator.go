package config

import (
	"fmt"
	"slices"
	"strings"
)

var (
	validProviders        = []string{"openai", "anthropic", "openrouter"}
	validLogLevels        = []string{"debug", "info", "warn", "error"}
	validReasoningEfforts = []string{"minimal", "low", "medium", "high"}
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates the model provider
func (v *Validator) ValidateProvider(provider string) error {
	if slices.Contains(validProviders, provider) {
		return nil
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format. Empty keys are allowed since
// the provider SDKs fall back to their own environment variables.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openrouter":
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	}
	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateMaxTokens validates a token limit; 0 means unknown
func (v *Validator) ValidateMaxTokens(name string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("%s must be >= 0, got %d", name, tokens)
	}
	return nil
}

// ValidateReasoningEffort validates the OpenAI reasoning effort
func (v *Validator) ValidateReasoningEffort(effort string) error {
	if effort == "" || slices.Contains(validReasoningEfforts, effort) {
		return nil
	}
	return fmt.Errorf("invalid reasoning effort: %s (must be one of: %s)", effort, strings.Join(validReasoningEfforts, ", "))
}

// ValidateCutoff validates the summarization cutoff fraction
func (v *Validator) ValidateCutoff(cutoff float64) error {
	if cutoff < 0 || cutoff > 1 {
		return fmt.Errorf("summarization_cutoff must be between 0 and 1, got %g", cutoff)
	}
	return nil
}

// reservedToolNames cannot be used for sub-agents
var reservedToolNames = []string{"finish", "run_command"}

// ValidateSubAgents checks sub-agent names are present, unique and free
func (v *Validator) ValidateSubAgents(mainAgent string, subs []SubAgentConfig) []error {
	var errs []error
	seen := map[string]bool{mainAgent: true}
	for i, sub := range subs {
		name := strings.TrimSpace(sub.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("sub-agent %d: name is required", i))
		case slices.Contains(reservedToolNames, name):
			errs = append(errs, fmt.Errorf("sub-agent %d: name %q is reserved", i, name))
		case seen[name]:
			errs = append(errs, fmt.Errorf("sub-agent %d: duplicate name %q", i, name))
		}
		seen[name] = true
		if sub.MaxTurns < 0 {
			errs = append(errs, fmt.Errorf("sub-agent %s: max_turns must be >= 0", name))
		}
	}
	return errs
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	if slices.Contains(validLogLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLogLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateProvider(cfg.Model.Provider); err != nil {
		errs = append(errs, err)
	} else if err := v.ValidateAPIKey(cfg.Model.APIKey, cfg.Model.Provider); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateModel(cfg.Model.Name); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateMaxTokens("model.max_tokens", cfg.Model.MaxTokens); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateMaxTokens("model.max_output_tokens", cfg.Model.MaxOutputTokens); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateReasoningEffort(cfg.Model.ReasoningEffort); err != nil {
		errs = append(errs, err)
	}
	if cfg.Model.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("model.max_retries must be >= 0"))
	}

	if cfg.Agent.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_turns must be positive, got %d", cfg.Agent.MaxTurns))
	}
	if err := v.ValidateCutoff(cfg.Agent.SummarizationCutoff); err != nil {
		errs = append(errs, err)
	}
	if cfg.Agent.MaxParallelTools < 0 {
		errs = append(errs, fmt.Errorf("agent.max_parallel_tools must be >= 0"))
	}

	if cfg.Agent.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("agent.max_depth must be >= 0"))
	}
	errs = append(errs, v.ValidateSubAgents(cfg.Agent.Name, cfg.Agent.SubAgents)...)

	if cfg.Cache.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("cache.max_age must be >= 0"))
	}
	if cfg.Sandbox.Timeout < 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be >= 0"))
	}
	if cfg.Sandbox.MaxOutputBytes < 0 {
		errs = append(errs, fmt.Errorf("sandbox.max_output_bytes must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if cfg.Queue.MaxConcurrentRuns < 1 {
		errs = append(errs, fmt.Errorf("queue.max_concurrent_runs must be >= 1"))
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1"))
	}

	return errs
}
