package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the current session run
	RunIDKey ContextKey = "run_id"
	// AgentNameKey is the context key for the running agent's name
	AgentNameKey ContextKey = "agent_name"
	// FingerprintKey is the context key for the cache fingerprint of the run
	FingerprintKey ContextKey = "fingerprint"
	// DepthKey is the context key for sub-agent nesting depth
	DepthKey ContextKey = "depth"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID     string
	RunID       string
	AgentName   string
	Fingerprint string
	Depth       int
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithAgentName adds the agent name to the context
func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, AgentNameKey, name)
}

// WithFingerprint adds the cache fingerprint to the context
func WithFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, FingerprintKey, fingerprint)
}

// WithDepth sets the sub-agent nesting depth
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, DepthKey, depth)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetAgentName retrieves the agent name from the context
func GetAgentName(ctx context.Context) string {
	if name, ok := ctx.Value(AgentNameKey).(string); ok {
		return name
	}
	return ""
}

// GetFingerprint retrieves the cache fingerprint from the context
func GetFingerprint(ctx context.Context) string {
	if fp, ok := ctx.Value(FingerprintKey).(string); ok {
		return fp
	}
	return ""
}

// GetDepth returns the sub-agent nesting depth; 0 for a top-level run
func GetDepth(ctx context.Context) int {
	if depth, ok := ctx.Value(DepthKey).(int); ok {
		return depth
	}
	return 0
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:     GetTraceID(ctx),
		RunID:       GetRunID(ctx),
		AgentName:   GetAgentName(ctx),
		Fingerprint: GetFingerprint(ctx),
		Depth:       GetDepth(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.AgentName != "" {
		ctx = WithAgentName(ctx, tc.AgentName)
	}
	if tc.Fingerprint != "" {
		ctx = WithFingerprint(ctx, tc.Fingerprint)
	}
	if tc.Depth > 0 {
		ctx = WithDepth(ctx, tc.Depth)
	}
	return ctx
}

// NewAgentRunContext creates a context for a session run with a fresh run ID.
// A trace ID is generated when the caller did not supply one.
func NewAgentRunContext(ctx context.Context, agentName string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithAgentName(ctx, agentName)
	return ctx
}
