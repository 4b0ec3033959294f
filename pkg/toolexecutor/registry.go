package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/stirrup/internal/observability"
	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const defaultMaxOutputBytes = 50 * 1024

// Config configures a Registry
type Config struct {
	// DefaultTimeout applies to tools without their own Timeout; 0 means none
	DefaultTimeout time.Duration
	// MaxOutputBytes truncates tool content; 0 uses the default
	MaxOutputBytes int
	Logger         *zerolog.Logger
}

// Registry maps tool names to their definitions and compiled schemas
type Registry struct {
	tools   map[string]*Tool
	schemas map[string]*gojsonschema.Schema
	config  Config
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// Outcome is the result of dispatching one tool call
type Outcome struct {
	Message llm.Message
	Tool    *Tool
	Params  map[string]interface{}
	// Result is set only when the handler returned successfully
	Result *ToolResult
	// Executed is true once the handler was invoked
	Executed  bool
	Truncated bool
	Duration  time.Duration
}

// New creates an empty Registry
func New(cfg Config) *Registry {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Registry{
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		config:  cfg,
		logger:  logger,
	}
}

// RegisterTool validates and registers a tool. Names must be unique.
func (r *Registry) RegisterTool(tool *Tool) error {
	if err := validateToolDefinition(tool); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.JSONSchema()))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}

	r.tools[tool.Name] = tool
	r.schemas[tool.Name] = schema

	r.logger.Debug().Str("tool", tool.Name).Msg("Tool registered")

	return nil
}

// Unregister removes a tool
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tools, name)
	delete(r.schemas, name)
}

// Lookup returns a tool by name
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// HasFinishTool reports whether any registered tool is a finish tool
func (r *Registry) HasFinishTool() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tool := range r.tools {
		if tool.Finish {
			return true
		}
	}
	return false
}

// Specs returns model-facing descriptions of all tools, sorted by name
func (r *Registry) Specs() []llm.ToolSpec {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		specs = append(specs, llm.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.JSONSchema(),
		})
	}
	return specs
}

// Execute dispatches one tool call. Lookup, argument and handler failures are
// reported in the returned tool message; only a FatalError or cancellation of
// ctx is returned as an error.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "stirrup/toolexecutor", "tool.execute",
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("tool", call.Name).Logger()

	r.mu.RLock()
	tool := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	if tool == nil {
		logger.Warn().Msg("Tool not found")
		return Outcome{
			Message: llm.ToolMessage(call.ID, call.Name,
				fmt.Sprintf("Tool '%s' not found. Available tools: %s", call.Name, strings.Join(r.Names(), ", ")), false),
		}, nil
	}

	params, err := parseArguments(call.Arguments)
	if err != nil {
		logger.Debug().Err(err).Msg("Malformed tool arguments")
		return Outcome{
			Tool:    tool,
			Message: llm.ToolMessage(call.ID, call.Name, fmt.Sprintf("Invalid JSON arguments for tool '%s': %v", call.Name, err), false),
		}, nil
	}

	if err := validateParameters(schema, params); err != nil {
		logger.Debug().Err(err).Msg("Parameter validation failed")
		return Outcome{
			Tool:    tool,
			Params:  params,
			Message: llm.ToolMessage(call.ID, call.Name, fmt.Sprintf("Argument validation failed for tool '%s': %v", call.Name, err), false),
		}, nil
	}

	outcome := Outcome{Tool: tool, Params: params, Executed: true}

	if execCtx := ExecContextFromContext(ctx); execCtx != nil {
		scoped := *execCtx
		scoped.ToolCallID = call.ID
		ctx = ContextWithExecContext(ctx, &scoped)
	}

	startTime := time.Now()
	result, err := r.runHandler(ctx, tool, params)
	outcome.Duration = time.Since(startTime)
	observability.RecordToolExecution(tool.Name, outcome.Duration, err == nil)

	if err != nil {
		if IsFatal(err) {
			var fe *FatalError
			if errors.As(err, &fe) && fe.Tool == "" {
				fe.Tool = tool.Name
			}
			spanErr = err
			logger.Error().Err(err).Msg("Fatal tool error")
			return outcome, err
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			spanErr = err
			return outcome, ctx.Err()
		}

		logger.Warn().Dur("duration", outcome.Duration).Err(err).Msg("Tool execution failed")
		outcome.Message = llm.ToolMessage(call.ID, call.Name, fmt.Sprintf("Tool '%s' failed: %v", call.Name, err), true)
		return outcome, nil
	}

	content, truncated := r.truncateOutput(result.Content)
	result.Content = content
	outcome.Truncated = truncated
	outcome.Result = &result
	outcome.Message = llm.ToolMessage(call.ID, call.Name, content, true)

	logger.Debug().
		Dur("duration", outcome.Duration).
		Bool("truncated", truncated).
		Msg("Tool execution completed")

	return outcome, nil
}

// runHandler invokes the handler with the tool timeout and converts panics
// into errors.
func (r *Registry) runHandler(ctx context.Context, tool *Tool, params map[string]interface{}) (ToolResult, error) {
	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type handlerResult struct {
		result ToolResult
		err    error
	}
	done := make(chan handlerResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().
					Str("tool", tool.Name).
					Str("stack", string(debug.Stack())).
					Msgf("Tool handler panicked: %v", rec)
				done <- handlerResult{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		result, err := tool.Handler(runCtx, params)
		done <- handlerResult{result: result, err: err}
	}()

	var res handlerResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		res.err = runCtx.Err()
	}

	if res.err != nil && runCtx.Err() != nil {
		if ctx.Err() != nil {
			return ToolResult{}, ctx.Err()
		}
		if !IsFatal(res.err) {
			return ToolResult{}, fmt.Errorf("tool execution timeout after %v", timeout)
		}
	}
	return res.result, res.err
}

func parseArguments(raw string) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, err
	}
	if params == nil {
		// "null"
		params = map[string]interface{}{}
	}
	return params, nil
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return errors.New(strings.Join(problems, "; "))
	}

	return nil
}

// truncateOutput truncates content that exceeds the size limit
func (r *Registry) truncateOutput(content string) (string, bool) {
	maxSize := r.config.MaxOutputBytes
	if len(content) <= maxSize {
		return content, false
	}

	r.logger.Warn().
		Int("original", len(content)).
		Int("truncated", maxSize).
		Msg("Output truncated")

	return content[:maxSize] + "\n... [output truncated]", true
}
