package llm

import (
	"time"
)

// Role identifies the sender of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlock is one ordered part of a multi-part message body
type ContentBlock struct {
	Type      string `json:"type"` // "text" or "image"
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// TextBlock returns a text content block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock returns an image content block backed by raw bytes
func ImageBlock(mediaType string, data []byte) ContentBlock {
	return ContentBlock{Type: "image", MediaType: mediaType, Data: data}
}

// Reasoning is the provider-neutral form of extended reasoning output.
// Any field may be empty; adapters fill whatever the provider returned.
type Reasoning struct {
	Signature string `json:"signature,omitempty"`
	Content   string `json:"content,omitempty"`
	// RedactedData is the opaque payload of a redacted thinking block.
	// It is replayed as-is and never holds a signature.
	RedactedData string `json:"redacted_data,omitempty"`
}

// ToolCall is a single tool invocation requested by the model
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Signature string `json:"signature,omitempty"`
}

// TokenUsage tracks token consumption of one model call
type TokenUsage struct {
	Input     int `json:"input"`
	Answer    int `json:"answer"`
	Reasoning int `json:"reasoning"`
}

// Output returns the total generated tokens (answer + reasoning)
func (u TokenUsage) Output() int {
	return u.Answer + u.Reasoning
}

// Total returns input plus output tokens
func (u TokenUsage) Total() int {
	return u.Input + u.Output()
}

// NewTokenUsage builds a usage record from provider totals.
// Reasoning is clamped so the answer count is never negative.
func NewTokenUsage(input, output, reasoning int) TokenUsage {
	if reasoning > output {
		reasoning = output
	}
	if reasoning < 0 {
		reasoning = 0
	}
	return TokenUsage{
		Input:     input,
		Answer:    output - reasoning,
		Reasoning: reasoning,
	}
}

// Message is a single conversation entry. Role selects which fields apply:
// assistant messages carry Reasoning, ToolCalls, TokenUsage and request timing;
// tool messages carry ToolCallID, Name and ArgsWasValid.
type Message struct {
	Role    Role           `json:"role"`
	Content string         `json:"content"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`

	Reasoning    *Reasoning `json:"reasoning,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	TokenUsage   TokenUsage `json:"token_usage"`
	RequestStart time.Time  `json:"request_start,omitempty"`
	RequestEnd   time.Time  `json:"request_end,omitempty"`

	ToolCallID   string `json:"tool_call_id,omitempty"`
	Name         string `json:"name,omitempty"`
	ArgsWasValid bool   `json:"args_was_valid,omitempty"`
}

// SystemMessage creates a system message
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message with optional extra content blocks
func UserMessage(content string, blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: content, Blocks: blocks}
}

// ToolMessage creates a tool result message
func ToolMessage(toolCallID, name, content string, argsWasValid bool) Message {
	return Message{
		Role:         RoleTool,
		ToolCallID:   toolCallID,
		Name:         name,
		Content:      content,
		ArgsWasValid: argsWasValid,
	}
}

// Duration returns the wall time of the request that produced an assistant message
func (m Message) Duration() time.Duration {
	if m.RequestStart.IsZero() || m.RequestEnd.IsZero() {
		return 0
	}
	return m.RequestEnd.Sub(m.RequestStart)
}

// E2EOTPS returns end-to-end output tokens per second for an assistant message.
// ok is false when timing is missing, the duration is not positive, or no tokens
// were produced.
func (m Message) E2EOTPS() (float64, bool) {
	d := m.Duration()
	if d <= 0 {
		return 0, false
	}
	out := m.TokenUsage.Output()
	if out <= 0 {
		return 0, false
	}
	return float64(out) / d.Seconds(), true
}

// ToolSpec describes a tool to a model provider
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}
