package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/stirrup/internal/observability"
	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/cache"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/harun/stirrup/pkg/metadata"
	"github.com/harun/stirrup/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Session is a single run of an Agent. It is not safe for concurrent use.
type Session struct {
	agent  *Agent
	opts   SessionOptions
	logger zerolog.Logger

	tools       *toolset
	fingerprint string
	state       *cache.State
	warnings    []string
}

// Run drives the turn loop until the finish tool is called, the turn budget
// is spent or ctx is cancelled. Exhausting the budget is not an error: the
// result carries StatusExhausted and a nil Finish.
func (s *Session) Run(ctx context.Context, task string) (result *Result, err error) {
	cfg := s.agent.config

	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewAgentRunContext(ctx, cfg.Name)
	} else {
		ctx = tracing.WithAgentName(ctx, cfg.Name)
	}

	s.fingerprint = s.opts.Fingerprint
	if s.fingerprint == "" {
		s.fingerprint = cache.Fingerprint(task, cfg.Name, cfg.SystemPrompt)
	}
	if err := cache.ValidateFingerprint(s.fingerprint); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	ctx = tracing.WithFingerprint(ctx, s.fingerprint)

	ctx, span := tracing.StartSpan(ctx, "stirrup/agent", "agent.run",
		attribute.String("agent", cfg.Name),
		attribute.String("fingerprint", s.fingerprint),
		attribute.Int("max_turns", cfg.MaxTurns),
	)
	defer func() { tracing.EndSpan(span, err) }()

	s.logger = tracing.LoggerFromContext(ctx, s.agent.logger)
	logger := s.logger

	start := time.Now()
	defer func() {
		status := "error"
		turns := 0
		if result != nil {
			status = result.Status.String()
			turns = result.Turns
		}
		observability.RecordSessionRun(cfg.Name, status, time.Since(start))
		observability.RecordSessionAudit(ctx, "run", cfg.Name, status, map[string]interface{}{
			"fingerprint": s.fingerprint,
			"turns":       turns,
		})
	}()

	ts, err := s.setupTools(ctx)
	if err != nil {
		return nil, err
	}
	s.tools = ts
	defer s.releaseTools(tracing.DetachedContext(ctx), ts)

	if err := s.initState(ctx, task); err != nil {
		return nil, err
	}

	logger.Info().
		Int("turn", s.state.Turn).
		Int("tools", ts.registry.Len()).
		Str("model", cfg.Client.ModelSlug()).
		Msg("Session started")

	for s.state.Turn < cfg.MaxTurns {
		if ctx.Err() != nil {
			return s.interrupt(ctx)
		}

		finish, err := s.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.interrupt(ctx)
			}
			logger.Error().Err(err).Int("turn", s.state.Turn+1).Msg("Session failed")
			return nil, err
		}
		if finish != nil {
			return s.finish(ctx, finish), nil
		}
	}

	logger.Warn().Int("max_turns", cfg.MaxTurns).Msg("Turn budget exhausted without finish")
	return s.result(StatusExhausted, nil), nil
}

// initState resumes from the cache when asked and possible, otherwise starts
// from the system prompt and task.
func (s *Session) initState(ctx context.Context, task string) error {
	cfg := s.agent.config

	if s.opts.Cache != nil && s.opts.Resume {
		state, err := s.opts.Cache.LoadState(ctx, s.fingerprint, cfg.Client.ModelSlug(), s.tools.registry.Names())
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if state != nil && len(state.Messages) > 0 {
			if state.Metadata == nil {
				state.Metadata = metadata.Run{}
			}
			if state.Task == "" {
				state.Task = task
			}
			s.state = state
			s.warnings = append(s.warnings, state.Warnings...)

			if dir := s.tools.workDir(); dir != "" && state.ExecEnvFiles != "" {
				if _, err := s.opts.Cache.RestoreFiles(ctx, s.fingerprint, dir); err != nil {
					return err
				}
			}
			s.logger.Info().Int("turn", state.Turn).Msg("Resuming session from checkpoint")
			return nil
		}
	}

	s.state = &cache.State{
		Task:     task,
		Messages: []llm.Message{llm.SystemMessage(cfg.SystemPrompt), llm.UserMessage(task)},
		History:  []llm.Message{llm.SystemMessage(cfg.SystemPrompt), llm.UserMessage(task)},
		Metadata: metadata.Run{},
	}
	return nil
}

// step runs one turn and commits it to the state. It returns the finish
// params when a valid finish call was made.
func (s *Session) step(ctx context.Context) (_ *toolexecutor.FinishParams, err error) {
	cfg := s.agent.config
	turn := s.state.Turn + 1

	ctx, span := tracing.StartSpan(ctx, "stirrup/agent", "agent.turn", attribute.Int("turn", turn))
	defer func() { tracing.EndSpan(span, err) }()
	logger := s.logger.With().Int("turn", turn).Logger()

	observability.RecordTurn(cfg.Name)

	if s.needsSummary() {
		if err := s.summarize(ctx, "proactive"); err != nil {
			return nil, err
		}
	}

	msg, err := s.generate(ctx, s.state.Messages, s.tools.specs)
	if errors.Is(err, llm.ErrContextOverflow) {
		logger.Warn().Err(err).Msg("Context window exceeded, summarizing")
		if err := s.summarize(ctx, "overflow"); err != nil {
			return nil, err
		}
		msg, err = s.generate(ctx, s.state.Messages, s.tools.specs)
		if errors.Is(err, llm.ErrContextOverflow) {
			return nil, fmt.Errorf("context still exceeded after summarization: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	turnMessages := []llm.Message{msg}
	turnMeta := metadata.Run{}
	s.recordModelCall(turnMeta, msg)

	var finish *toolexecutor.FinishParams
	if len(msg.ToolCalls) == 0 {
		logger.Debug().Msg("Model replied without tool calls")
	} else {
		outcomes, err := s.dispatch(ctx, msg.ToolCalls, turn)
		if err != nil {
			return nil, err
		}

		for _, outcome := range outcomes {
			turnMessages = append(turnMessages, outcome.Message)
			if outcome.Executed {
				turnMeta.Add(&metadata.ToolUseCount{Tool: outcome.Tool.Name, Count: 1})
			}
			if outcome.Result != nil && outcome.Result.Metadata != nil {
				turnMeta.Add(outcome.Result.Metadata)
			}
			if finish == nil && isValidFinish(outcome) {
				params, err := toolexecutor.DecodeFinishParams(outcome.Params)
				if err != nil {
					logger.Warn().Err(err).Msg("Ignoring undecodable finish call")
					continue
				}
				finish = &params
			}
		}
	}

	s.state.Messages = append(s.state.Messages, turnMessages...)
	s.state.History = append(s.state.History, turnMessages...)
	s.state.Metadata.Extend(turnMeta)
	s.state.Turn = turn

	if err := s.checkpoint(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to save checkpoint")
	}

	logger.Debug().
		Int("tool_calls", len(msg.ToolCalls)).
		Bool("finished", finish != nil).
		Msg("Turn completed")

	return finish, nil
}

// generate calls the model and stamps request timing when the client did not
func (s *Session) generate(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec) (_ llm.Message, err error) {
	client := s.agent.config.Client
	model := client.ModelSlug()

	ctx, span := tracing.StartSpan(ctx, "stirrup/agent", "llm.generate",
		attribute.String("model", model),
		attribute.Int("messages", len(messages)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	msg, err := client.Generate(ctx, messages, specs)
	duration := time.Since(start)
	if err != nil {
		observability.RecordLLMCall(model, duration, false, 0, 0, 0)
		return llm.Message{}, err
	}

	msg.Role = llm.RoleAssistant
	if msg.RequestStart.IsZero() || msg.RequestEnd.IsZero() {
		msg.RequestStart = start
		msg.RequestEnd = start.Add(duration)
	}

	usage := msg.TokenUsage
	observability.RecordLLMCall(model, duration, true, usage.Input, usage.Answer, usage.Reasoning)
	return msg, nil
}

// recordModelCall files token usage and throughput for one assistant message
func (s *Session) recordModelCall(run metadata.Run, msg llm.Message) {
	model := s.agent.config.Client.ModelSlug()
	run.Add(metadata.NewTokenUsage(model, msg.TokenUsage))
	if speed, ok := metadata.ComputeModelSpeed(model, msg.TokenUsage.Output(), msg.TokenUsage.Reasoning, msg.Duration()); ok {
		run.Add(speed)
	}
}

// dispatch executes the calls of one turn concurrently. Outcomes keep the
// order of calls regardless of completion order.
func (s *Session) dispatch(ctx context.Context, calls []llm.ToolCall, turn int) ([]toolexecutor.Outcome, error) {
	ctx = toolexecutor.ContextWithExecContext(ctx, &toolexecutor.ExecutionContext{
		AgentName: s.agent.config.Name,
		WorkDir:   s.tools.workDir(),
		Turn:      turn,
	})

	outcomes := make([]toolexecutor.Outcome, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	if limit := s.agent.config.MaxParallelTools; limit > 0 {
		g.SetLimit(limit)
	}

	for i, call := range calls {
		g.Go(func() error {
			outcome, err := s.tools.registry.Execute(gctx, call)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func isValidFinish(outcome toolexecutor.Outcome) bool {
	return outcome.Tool != nil &&
		outcome.Tool.Finish &&
		outcome.Message.ArgsWasValid &&
		outcome.Result != nil &&
		outcome.Result.ValidFinish
}

// checkpoint persists the state when a cache is configured
func (s *Session) checkpoint(ctx context.Context) error {
	if s.opts.Cache == nil || s.state == nil {
		return nil
	}

	return s.opts.Cache.SaveState(ctx, s.fingerprint, s.state, cache.SaveOptions{
		ExecEnvDir: s.tools.workDir(),
		Model:      s.agent.config.Client.ModelSlug(),
		ToolNames:  s.tools.registry.Names(),
	})
}

// interrupt flushes the last completed turn and reports the cancellation
func (s *Session) interrupt(ctx context.Context) (*Result, error) {
	s.logger.Warn().Int("turn", s.state.Turn).Msg("Session interrupted")

	if !s.opts.DisableCacheOnInterrupt {
		if err := s.checkpoint(tracing.DetachedContext(ctx)); err != nil {
			s.logger.Error().Err(err).Msg("Failed to save checkpoint on interrupt")
		}
	}

	return s.result(StatusInterrupted, nil), ctx.Err()
}

func (s *Session) finish(ctx context.Context, params *toolexecutor.FinishParams) *Result {
	res := s.result(StatusFinished, params)

	if s.opts.OutputDir != "" && len(params.Paths) > 0 {
		s.copyOutputs(ctx, params.Paths, res)
	}

	s.logger.Info().
		Int("turns", s.state.Turn).
		Str("reason", params.Reason).
		Msg("Session finished")
	return res
}

func (s *Session) result(status Status, finish *toolexecutor.FinishParams) *Result {
	res := &Result{
		Finish:      finish,
		Status:      status,
		Turns:       s.state.Turn,
		Fingerprint: s.fingerprint,
		History:     append([]llm.Message(nil), s.state.History...),
		Run:         s.state.Metadata.Clone(),
		Warnings:    append([]string(nil), s.warnings...),
	}

	aggregated, err := metadata.Aggregate(s.state.Metadata)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to aggregate run metadata")
		res.Warnings = append(res.Warnings, fmt.Sprintf("metadata aggregation failed: %v", err))
	}
	res.Metadata = aggregated

	return res
}
