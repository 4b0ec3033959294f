package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPropagateToSubAgent(t *testing.T) {
	parentCtx := context.Background()
	parentCtx = WithTraceID(parentCtx, "trace-123")
	parentCtx = WithRunID(parentCtx, "run-parent")
	parentCtx = WithAgentName(parentCtx, "parent-agent")
	parentCtx = WithFingerprint(parentCtx, "aabbccdd1122")

	childCtx := PropagateToSubAgent(parentCtx, "child-agent")

	if GetTraceID(childCtx) != "trace-123" {
		t.Error("Trace ID not propagated")
	}
	if GetRunID(childCtx) == "run-parent" || GetRunID(childCtx) == "" {
		t.Error("Sub-agent should get a fresh run ID")
	}
	if GetAgentName(childCtx) != "child-agent" {
		t.Error("Agent name not updated")
	}
	if GetFingerprint(childCtx) != "" {
		t.Error("Fingerprint should not leak into sub-agent runs")
	}
	if GetDepth(childCtx) != 1 {
		t.Errorf("Expected depth 1, got %d", GetDepth(childCtx))
	}

	grandchild := PropagateToSubAgent(childCtx, "grandchild")
	if GetDepth(grandchild) != 2 {
		t.Errorf("Expected depth 2, got %d", GetDepth(grandchild))
	}
}

func TestPropagateToSubAgentNoTraceID(t *testing.T) {
	childCtx := PropagateToSubAgent(context.Background(), "child-agent")

	if GetTraceID(childCtx) == "" {
		t.Error("Trace ID not generated when missing")
	}
	if GetRunID(childCtx) == "" {
		t.Error("Run ID not generated")
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-xyz")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithAgentName(ctx, "agent-789")
	ctx = WithFingerprint(ctx, "fp-abc")

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("test message")

	output := buf.String()
	for _, want := range []string{"trace-xyz", "run-456", "agent-789", "fp-abc"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output: %s", want, output)
		}
	}
}

func TestDetachedContext(t *testing.T) {
	parent, cancel := context.WithCancel(WithRunID(context.Background(), "run-1"))
	cancel()

	detached := DetachedContext(parent)

	if detached.Err() != nil {
		t.Error("Detached context should not be cancelled")
	}
	if GetRunID(detached) != "run-1" {
		t.Error("Run ID not carried over")
	}

	select {
	case <-detached.Done():
		t.Error("Detached context should not be done")
	case <-time.After(10 * time.Millisecond):
	}
}
