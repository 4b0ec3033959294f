package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/stirrup/internal/observability"
	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/llm"
	"go.opentelemetry.io/otel/attribute"
)

const summaryPrompt = "The conversation is about to exceed the context window. " +
	"Summarize the work so far: steps taken, files created or changed, intermediate results and what remains to be done. " +
	"The summary replaces the conversation, so include everything needed to continue the task."

const bridgePrefix = "Summary of progress so far:\n\n"

// needsSummary reports whether the last model call used more of the context
// window than the cutoff allows.
func (s *Session) needsSummary() bool {
	maxTokens := s.agent.config.Client.MaxTokens()
	if maxTokens <= 0 {
		return false
	}

	for i := len(s.state.Messages) - 1; i >= 0; i-- {
		msg := s.state.Messages[i]
		if msg.Role != llm.RoleAssistant {
			continue
		}
		return float64(msg.TokenUsage.Input) > s.agent.config.SummarizationCutoff*float64(maxTokens)
	}
	return false
}

// summarize asks the model to condense the conversation and replaces the
// working messages with a bridge: system prompt, task and summary.
// The full history keeps everything.
func (s *Session) summarize(ctx context.Context, trigger string) (err error) {
	cfg := s.agent.config

	ctx, span := tracing.StartSpan(ctx, "stirrup/agent", "agent.summarize", attribute.String("trigger", trigger))
	defer func() { tracing.EndSpan(span, err) }()

	observability.RecordSummarization(cfg.Name, trigger)
	s.logger.Info().
		Str("trigger", trigger).
		Int("messages", len(s.state.Messages)).
		Msg("Summarizing conversation")

	request := llm.UserMessage(summaryPrompt)
	messages := append(append([]llm.Message(nil), s.state.Messages...), request)

	// Tool specs stay declared: providers reject tool_use history without them.
	reply, err := s.generate(ctx, messages, s.tools.specs)
	if err != nil {
		return fmt.Errorf("summarization failed: %w", err)
	}
	summary := strings.TrimSpace(reply.Content)
	if summary == "" {
		return fmt.Errorf("summarization failed: model returned an empty summary")
	}
	s.recordModelCall(s.state.Metadata, reply)

	system := llm.SystemMessage(cfg.SystemPrompt)
	if len(s.state.Messages) > 0 && s.state.Messages[0].Role == llm.RoleSystem {
		system = s.state.Messages[0]
	}
	bridge := llm.UserMessage(bridgePrefix + summary)

	s.state.Messages = []llm.Message{system, llm.UserMessage(s.state.Task), bridge}
	s.state.History = append(s.state.History, request, reply, bridge)

	return nil
}
