package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubAgent derives the context for a nested agent run.
// It keeps the trace ID, assigns a new run ID and increments the depth.
// The parent's cache fingerprint is not inherited.
func PropagateToSubAgent(ctx context.Context, subAgentName string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(ctx, traceID)
	newCtx = WithRunID(newCtx, NewRunID())
	newCtx = WithAgentName(newCtx, subAgentName)
	newCtx = WithFingerprint(newCtx, "")
	newCtx = WithDepth(newCtx, GetDepth(ctx)+1)

	return newCtx
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	fields := logger.With()
	if tc.TraceID != "" {
		fields = fields.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		fields = fields.Str("run_id", tc.RunID)
	}
	if tc.AgentName != "" {
		fields = fields.Str("agent", tc.AgentName)
	}
	if tc.Fingerprint != "" {
		fields = fields.Str("fingerprint", tc.Fingerprint)
	}
	if tc.Depth > 0 {
		fields = fields.Int("depth", tc.Depth)
	}

	return fields.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// DetachedContext carries the tracing values of ctx without its cancellation.
// Used to flush state after the run context was cancelled.
func DetachedContext(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
