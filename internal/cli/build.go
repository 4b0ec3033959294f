package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/harun/stirrup/internal/config"
	"github.com/harun/stirrup/internal/observability"
	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/agent"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/harun/stirrup/pkg/sandbox"
	"github.com/harun/stirrup/pkg/subagent"
	"github.com/harun/stirrup/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// buildClient creates the provider client wrapped with retries
func buildClient(cfg *config.Config, logger *zerolog.Logger) (llm.Client, error) {
	var inner llm.Client
	switch cfg.Model.Provider {
	case "anthropic":
		c, err := llm.NewAnthropicClient(llm.AnthropicConfig{
			Model:           cfg.Model.Name,
			APIKey:          cfg.Model.APIKey,
			BaseURL:         cfg.Model.BaseURL,
			MaxTokens:       cfg.Model.MaxTokens,
			MaxOutputTokens: cfg.Model.MaxOutputTokens,
			ThinkingBudget:  cfg.Model.ThinkingBudget,
		})
		if err != nil {
			return nil, err
		}
		inner = c
	case "openai", "openrouter":
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			Model:           cfg.Model.Name,
			APIKey:          cfg.Model.APIKey,
			BaseURL:         cfg.Model.BaseURL,
			MaxTokens:       cfg.Model.MaxTokens,
			MaxOutputTokens: cfg.Model.MaxOutputTokens,
			ReasoningEffort: cfg.Model.ReasoningEffort,
		})
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Model.Provider)
	}

	return llm.NewRetryingClient(inner, llm.RetryConfig{
		MaxAttempts: cfg.Model.MaxRetries,
		Logger:      logger,
	}), nil
}

// buildAgent assembles the main agent, its sandbox and its sub-agent tools
func buildAgent(cfg *config.Config, client llm.Client, coordinator *subagent.Coordinator, logger *zerolog.Logger) (*agent.Agent, error) {
	tools := make([]*toolexecutor.Tool, 0, len(cfg.Agent.SubAgents))
	for _, sub := range cfg.Agent.SubAgents {
		subAgent, err := agent.New(agent.Config{
			Name:                sub.Name,
			Client:              client,
			MaxTurns:            sub.MaxTurns,
			SystemPrompt:        sub.SystemPrompt,
			SummarizationCutoff: cfg.Agent.SummarizationCutoff,
			MaxParallelTools:    cfg.Agent.MaxParallelTools,
			Logger:              logger,
		})
		if err != nil {
			return nil, fmt.Errorf("sub-agent %s: %w", sub.Name, err)
		}

		tool, err := subagent.NewTool(subagent.Config{
			Agent:       subAgent,
			Description: sub.Description,
			MaxDepth:    cfg.Agent.MaxDepth,
			Coordinator: coordinator,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}

	var providers []toolexecutor.Provider
	if cfg.Sandbox.Enabled {
		p, err := sandbox.NewLocalProvider(sandbox.Config{
			BaseDir:        cfg.Sandbox.BaseDir,
			Timeout:        cfg.Sandbox.Timeout,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
			KeepWorkDir:    cfg.Sandbox.KeepWorkDir,
		}, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	return agent.New(agent.Config{
		Name:                cfg.Agent.Name,
		Client:              client,
		Providers:           providers,
		Tools:               tools,
		MaxTurns:            cfg.Agent.MaxTurns,
		SystemPrompt:        cfg.Agent.SystemPrompt,
		SummarizationCutoff: cfg.Agent.SummarizationCutoff,
		MaxParallelTools:    cfg.Agent.MaxParallelTools,
		ToolPolicy: &toolexecutor.ToolPolicy{
			Allow: cfg.Agent.Tools.Allow,
			Deny:  cfg.Agent.Tools.Deny,
		},
		Logger: logger,
	})
}

// setupTelemetry starts tracing, the audit log and the metrics endpoint as
// configured. The returned function stops them.
func setupTelemetry(cfg *config.Config, logger *zerolog.Logger) (func(context.Context) error, error) {
	var stops []func(context.Context) error

	if cfg.Telemetry.TracingEnabled {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio); err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		stops = append(stops, tracing.ShutdownOpenTelemetry)
	}

	if cfg.Telemetry.AuditLog {
		if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log"), 0); err != nil {
			return nil, fmt.Errorf("failed to init audit log: %w", err)
		}
		stops = append(stops, func(context.Context) error {
			return observability.GetAuditLogger().Close()
		})
	}

	if cfg.Telemetry.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		srv := &http.Server{
			Addr:              cfg.Telemetry.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", srv.Addr).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
		stops = append(stops, srv.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}, nil
}
