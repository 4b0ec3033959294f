// Package subagent exposes an agent as a tool of another agent. Each call runs
// a full nested session and hands its history and metrics back to the parent
// as a sub_agent metadata node.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/agent"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/harun/stirrup/pkg/metadata"
	"github.com/harun/stirrup/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultMaxDepth = 3

// ErrMaxDepth is returned when nesting goes deeper than allowed
var ErrMaxDepth = errors.New("maximum sub-agent depth reached")

// Config configures a sub-agent tool
type Config struct {
	Agent *agent.Agent
	// Description is shown to the parent model; defaults to a generic one
	Description string
	// MaxDepth bounds nesting; 0 uses the default
	MaxDepth    int
	Coordinator *Coordinator
	Logger      *zerolog.Logger
}

// NewTool wraps cfg.Agent as a tool named after the agent
func NewTool(cfg Config) (*toolexecutor.Tool, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("sub-agent tool requires an agent")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.Description == "" {
		cfg.Description = fmt.Sprintf("Delegate a self-contained task to the %s agent. It works independently and reports back when done.", cfg.Agent.Name())
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	runner := &runner{config: cfg, logger: logger}
	return &toolexecutor.Tool{
		Name:        cfg.Agent.Name(),
		Description: cfg.Description,
		Parameters: []toolexecutor.ToolParameter{
			{
				Name:        "task",
				Type:        "string",
				Description: "Complete description of the task for the sub-agent",
				Required:    true,
			},
		},
		Handler: runner.handle,
	}, nil
}

type runner struct {
	config Config
	logger zerolog.Logger
}

func (r *runner) handle(ctx context.Context, params map[string]interface{}) (toolexecutor.ToolResult, error) {
	name := r.config.Agent.Name()
	task, _ := params["task"].(string)

	if tracing.GetDepth(ctx) >= r.config.MaxDepth {
		return toolexecutor.ToolResult{}, fmt.Errorf("%w (%d)", ErrMaxDepth, r.config.MaxDepth)
	}

	// Files named by the sub-agent's finish call land in the parent's work dir
	var opts agent.SessionOptions
	if execCtx := toolexecutor.ExecContextFromContext(ctx); execCtx != nil {
		opts.OutputDir = execCtx.WorkDir
	}

	parent := tracing.GetAgentName(ctx)
	childCtx := tracing.PropagateToSubAgent(ctx, name)

	var runID string
	if r.config.Coordinator != nil {
		id, err := r.config.Coordinator.Start(childCtx, parent, name, task)
		if err != nil {
			return toolexecutor.ToolResult{}, err
		}
		runID = id
	}

	result, err := r.config.Agent.Run(childCtx, task, opts)
	r.complete(ctx, runID, result, err)
	if err != nil {
		if toolexecutor.IsFatal(err) || ctx.Err() != nil {
			return toolexecutor.ToolResult{}, err
		}
		return toolexecutor.ToolResult{}, fmt.Errorf("sub-agent %s failed: %w", name, err)
	}

	return toolexecutor.ToolResult{
		Content: describe(name, result),
		Metadata: &metadata.SubAgent{
			Name:     name,
			Messages: result.History,
			Run:      result.Run,
		},
	}, nil
}

func (r *runner) complete(ctx context.Context, runID string, result *agent.Result, err error) {
	if r.config.Coordinator == nil || runID == "" {
		return
	}

	status, turns := StatusFailed, 0
	if result != nil {
		turns = result.Turns
		switch result.Status {
		case agent.StatusFinished:
			status = StatusFinished
		case agent.StatusExhausted:
			status = StatusExhausted
		case agent.StatusInterrupted:
			status = StatusInterrupted
		}
	}
	if cerr := r.config.Coordinator.Complete(runID, status, turns, err); cerr != nil {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Warn().
			Err(cerr).
			Str("sub_run_id", runID).
			Str("status", string(status)).
			Msg("Failed to record sub-agent completion")
	}
}

// describe renders the sub-agent outcome for the parent model
func describe(name string, result *agent.Result) string {
	if result.Finish != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Sub-agent %s finished after %d turns: %s", name, result.Turns, result.Finish.Reason)
		if len(result.OutputFiles) > 0 {
			fmt.Fprintf(&b, "\nFiles: %s", strings.Join(result.OutputFiles, ", "))
		}
		return b.String()
	}

	msg := fmt.Sprintf("Sub-agent %s stopped after %d turns without finishing.", name, result.Turns)
	if last := lastAssistantContent(result.History); last != "" {
		msg += "\nLast response: " + last
	}
	return msg
}

func lastAssistantContent(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleAssistant && strings.TrimSpace(history[i].Content) != "" {
			return history[i].Content
		}
	}
	return ""
}
