package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/stirrup/pkg/llm"
	"github.com/harun/stirrup/pkg/toolexecutor"
)

// toolset is what the providers of one session produced
type toolset struct {
	registry *toolexecutor.Registry
	specs    []llm.ToolSpec
	execEnv  toolexecutor.ExecEnvProvider
	// acquired in acquisition order, released in reverse
	acquired []toolexecutor.Provider
}

func (t *toolset) workDir() string {
	if t == nil || t.execEnv == nil {
		return ""
	}
	return t.execEnv.WorkDir()
}

// setupTools binds consumers to the execution environment, acquires every
// provider and registers the resulting tools.
func (s *Session) setupTools(ctx context.Context) (*toolset, error) {
	cfg := s.agent.config

	var execEnv toolexecutor.ExecEnvProvider
	for _, p := range cfg.Providers {
		env, ok := p.(toolexecutor.ExecEnvProvider)
		if !ok {
			continue
		}
		if execEnv != nil {
			return nil, fmt.Errorf("%w: only one execution environment is allowed, got %s and %s",
				ErrConfig, execEnv.Name(), env.Name())
		}
		execEnv = env
	}

	for _, p := range cfg.Providers {
		if _, isEnv := p.(toolexecutor.ExecEnvProvider); isEnv {
			continue
		}
		consumer, ok := p.(toolexecutor.ExecEnvConsumer)
		if !ok {
			continue
		}
		if execEnv == nil {
			return nil, fmt.Errorf("%w: provider %s requires an execution environment", ErrConfig, p.Name())
		}
		if err := consumer.BindExecEnv(execEnv); err != nil {
			return nil, fmt.Errorf("%w: failed to bind %s to %s: %w", ErrConfig, p.Name(), execEnv.Name(), err)
		}
	}

	// The execution environment comes up first so consumers find its work dir
	ordered := make([]toolexecutor.Provider, 0, len(cfg.Providers))
	if execEnv != nil {
		ordered = append(ordered, execEnv)
	}
	for _, p := range cfg.Providers {
		if _, isEnv := p.(toolexecutor.ExecEnvProvider); !isEnv {
			ordered = append(ordered, p)
		}
	}

	ts := &toolset{
		registry: toolexecutor.New(cfg.Registry),
		execEnv:  execEnv,
	}

	tools := append([]*toolexecutor.Tool{}, cfg.Tools...)
	for _, p := range ordered {
		provided, err := p.Acquire(ctx)
		if err != nil {
			s.releaseTools(ctx, ts)
			return nil, fmt.Errorf("failed to acquire provider %s: %w", p.Name(), err)
		}
		ts.acquired = append(ts.acquired, p)
		tools = append(tools, provided...)
		s.logger.Debug().Str("provider", p.Name()).Int("tools", len(provided)).Msg("Provider acquired")
	}

	if cfg.ToolPolicy != nil {
		tools = cfg.ToolPolicy.Filter(tools)
	}

	if !cfg.DisableFinishTool {
		finish := toolexecutor.NewFinishTool()
		if cfg.FinishTool != nil {
			custom := *cfg.FinishTool
			custom.Finish = true
			finish = &custom
		}
		tools = append(tools, finish)
	}

	for _, tool := range tools {
		if err := ts.registry.RegisterTool(tool); err != nil {
			s.releaseTools(ctx, ts)
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	ts.specs = ts.registry.Specs()

	return ts, nil
}

// releaseTools releases acquired providers in reverse order
func (s *Session) releaseTools(ctx context.Context, ts *toolset) error {
	if ts == nil {
		return nil
	}

	var errs []error
	for i := len(ts.acquired) - 1; i >= 0; i-- {
		p := ts.acquired[i]
		if err := p.Release(ctx); err != nil {
			s.logger.Warn().Err(err).Str("provider", p.Name()).Msg("Failed to release provider")
			errs = append(errs, fmt.Errorf("release %s: %w", p.Name(), err))
		}
	}
	ts.acquired = nil
	return errors.Join(errs...)
}
