package agent

import (
	"context"
	"fmt"

	"github.com/harun/stirrup/internal/observability"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Agent holds the static configuration shared by all of its sessions
type Agent struct {
	config Config
	logger zerolog.Logger
}

// New validates cfg and fills in defaults
func New(cfg Config) (*Agent, error) {
	observability.EnsureRegistered()

	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: llm client is required", ErrConfig)
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.MaxTurns < 0 {
		return nil, fmt.Errorf("%w: max turns cannot be negative", ErrConfig)
	}
	if cfg.SummarizationCutoff == 0 {
		cfg.SummarizationCutoff = defaultSummarizationCutoff
	}
	if cfg.SummarizationCutoff < 0 || cfg.SummarizationCutoff > 1 {
		return nil, fmt.Errorf("%w: summarization cutoff must be between 0 and 1", ErrConfig)
	}
	if cfg.MaxParallelTools < 0 {
		return nil, fmt.Errorf("%w: max parallel tools cannot be negative", ErrConfig)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.ToolPolicy != nil {
		if err := cfg.ToolPolicy.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.Registry.Logger == nil {
		cfg.Registry.Logger = &logger
	}

	return &Agent{
		config: cfg,
		logger: logger.With().Str("agent", cfg.Name).Logger(),
	}, nil
}

// Name returns the agent name
func (a *Agent) Name() string {
	return a.config.Name
}

// Client returns the model client
func (a *Agent) Client() llm.Client {
	return a.config.Client
}

// NewSession prepares a run of this agent
func (a *Agent) NewSession(opts SessionOptions) *Session {
	return &Session{
		agent:  a,
		opts:   opts,
		logger: a.logger,
	}
}

// Run is shorthand for NewSession(opts).Run(ctx, task)
func (a *Agent) Run(ctx context.Context, task string, opts SessionOptions) (*Result, error) {
	return a.NewSession(opts).Run(ctx, task)
}
