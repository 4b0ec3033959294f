package metadata

import (
	"encoding/json"
	"time"

	"github.com/harun/stirrup/pkg/llm"
)

// Built-in categories
const (
	KindTokenUsage   = "token_usage"
	KindModelSpeed   = "model_speed"
	KindToolUseCount = "tool_use_count"
	KindSubAgent     = "sub_agent"
)

func init() {
	Register(KindTokenUsage, func() Entry { return &TokenUsage{} })
	Register(KindModelSpeed, func() Entry { return &ModelSpeed{} })
	Register(KindToolUseCount, func() Entry { return &ToolUseCount{} })
	Register(KindSubAgent, func() Entry { return &SubAgent{} })
}

// TokenUsage sums token consumption for one model
type TokenUsage struct {
	Model     string `json:"model"`
	NumCalls  int    `json:"num_calls"`
	Input     int    `json:"input"`
	Answer    int    `json:"answer"`
	Reasoning int    `json:"reasoning"`
}

// NewTokenUsage records one call's usage
func NewTokenUsage(model string, usage llm.TokenUsage) *TokenUsage {
	return &TokenUsage{
		Model:     model,
		NumCalls:  1,
		Input:     usage.Input,
		Answer:    usage.Answer,
		Reasoning: usage.Reasoning,
	}
}

func (t *TokenUsage) Kind() string     { return KindTokenUsage }
func (t *TokenUsage) MergeKey() string { return t.Model }

// Output returns answer plus reasoning tokens
func (t *TokenUsage) Output() int { return t.Answer + t.Reasoning }

// Total returns input plus output tokens
func (t *TokenUsage) Total() int { return t.Input + t.Output() }

// Merge sums two usage records for the same model
func (t *TokenUsage) Merge(other Entry) (Entry, error) {
	o, ok := other.(*TokenUsage)
	if !ok {
		return nil, &MergeError{Kind: KindTokenUsage, Left: t.Model, Right: other.Kind()}
	}
	if o.Model != t.Model {
		return nil, &MergeError{Kind: KindTokenUsage, Left: t.Model, Right: o.Model}
	}
	return &TokenUsage{
		Model:     t.Model,
		NumCalls:  t.NumCalls + o.NumCalls,
		Input:     t.Input + o.Input,
		Answer:    t.Answer + o.Answer,
		Reasoning: t.Reasoning + o.Reasoning,
	}, nil
}

func (t *TokenUsage) MarshalJSON() ([]byte, error) {
	type alias TokenUsage
	return json.Marshal(struct {
		*alias
		Output int `json:"output"`
		Total  int `json:"total"`
	}{(*alias)(t), t.Output(), t.Total()})
}

// ModelSpeed is the effective throughput of one model across calls.
// SumOutputTokensPerSecond accumulates each call's end-to-end rate; divide
// by NumCalls for the mean.
type ModelSpeed struct {
	Model                    string  `json:"model"`
	NumCalls                 int     `json:"num_calls"`
	SumOutputTokensPerSecond float64 `json:"sum_output_tokens_per_second"`
	OutputTokens             int     `json:"output_tokens"`
	ReasoningTokens          int     `json:"reasoning_tokens"`
	DurationSeconds          float64 `json:"llm_call_duration_seconds"`
}

// ComputeModelSpeed builds a throughput record for a single call.
// It reports false when the duration is not positive.
func ComputeModelSpeed(model string, outputTokens, reasoningTokens int, duration time.Duration) (*ModelSpeed, bool) {
	if duration <= 0 {
		return nil, false
	}
	seconds := duration.Seconds()
	return &ModelSpeed{
		Model:                    model,
		NumCalls:                 1,
		SumOutputTokensPerSecond: float64(outputTokens) / seconds,
		OutputTokens:             outputTokens,
		ReasoningTokens:          reasoningTokens,
		DurationSeconds:          seconds,
	}, true
}

func (m *ModelSpeed) Kind() string     { return KindModelSpeed }
func (m *ModelSpeed) MergeKey() string { return m.Model }

// AnswerTokens returns output minus reasoning tokens
func (m *ModelSpeed) AnswerTokens() int {
	return m.OutputTokens - m.ReasoningTokens
}

// MeanOutputTokensPerSecond averages the per-call rates
func (m *ModelSpeed) MeanOutputTokensPerSecond() float64 {
	if m.NumCalls == 0 {
		return 0
	}
	return m.SumOutputTokensPerSecond / float64(m.NumCalls)
}

// Merge sums two throughput records for the same model
func (m *ModelSpeed) Merge(other Entry) (Entry, error) {
	o, ok := other.(*ModelSpeed)
	if !ok {
		return nil, &MergeError{Kind: KindModelSpeed, Left: m.Model, Right: other.Kind()}
	}
	if o.Model != m.Model {
		return nil, &MergeError{Kind: KindModelSpeed, Left: m.Model, Right: o.Model}
	}
	return &ModelSpeed{
		Model:                    m.Model,
		NumCalls:                 m.NumCalls + o.NumCalls,
		SumOutputTokensPerSecond: m.SumOutputTokensPerSecond + o.SumOutputTokensPerSecond,
		OutputTokens:             m.OutputTokens + o.OutputTokens,
		ReasoningTokens:          m.ReasoningTokens + o.ReasoningTokens,
		DurationSeconds:          m.DurationSeconds + o.DurationSeconds,
	}, nil
}

func (m *ModelSpeed) MarshalJSON() ([]byte, error) {
	type alias ModelSpeed
	return json.Marshal(struct {
		*alias
		AnswerTokens int `json:"answer_tokens"`
	}{(*alias)(m), m.AnswerTokens()})
}

// ToolUseCount counts executed calls of one tool
type ToolUseCount struct {
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

func (t *ToolUseCount) Kind() string     { return KindToolUseCount }
func (t *ToolUseCount) MergeKey() string { return t.Tool }

func (t *ToolUseCount) Merge(other Entry) (Entry, error) {
	o, ok := other.(*ToolUseCount)
	if !ok || o.Tool != t.Tool {
		right := other.Kind()
		if ok {
			right = o.Tool
		}
		return nil, &MergeError{Kind: KindToolUseCount, Left: t.Tool, Right: right}
	}
	return &ToolUseCount{Tool: t.Tool, Count: t.Count + o.Count}, nil
}

// SubAgent wraps the history and metrics of a nested run
type SubAgent struct {
	Name     string        `json:"name"`
	Messages []llm.Message `json:"message_history"`
	Run      Run           `json:"run_metadata"`
}

func (s *SubAgent) Kind() string { return KindSubAgent }
