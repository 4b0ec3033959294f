package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an Anthropic Messages API client
type AnthropicConfig struct {
	Model           string
	APIKey          string
	BaseURL         string
	MaxTokens       int // context window
	MaxOutputTokens int
	ThinkingBudget  int // 0 disables extended thinking
}

// AnthropicClient implements Client for Anthropic Claude
type AnthropicClient struct {
	client anthropic.Client
	config AnthropicConfig
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200_000
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 8192
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		config: cfg,
	}, nil
}

// ModelSlug returns the model identifier
func (c *AnthropicClient) ModelSlug() string {
	return c.config.Model
}

// MaxTokens returns the context window size
func (c *AnthropicClient) MaxTokens() int {
	return c.config.MaxTokens
}

// Generate makes a Messages API call
func (c *AnthropicClient) Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error) {
	system, converted := toAnthropicMessages(messages)

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		Messages:  converted,
		MaxTokens: int64(c.config.MaxOutputTokens),
	}

	if system != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	if c.config.ThinkingBudget > 0 {
		reqParams.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(c.config.ThinkingBudget))
	}

	if len(tools) > 0 {
		toolParams := make([]anthropic.ToolUnionParam, 0, len(tools))
		for _, tool := range tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			toolParam.InputSchema.Required = requiredNames(tool.Parameters["required"])
			toolParams = append(toolParams, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		reqParams.Tools = toolParams
	}

	start := time.Now()
	response, err := c.client.Messages.New(ctx, reqParams)
	end := time.Now()
	if err != nil {
		return Message{}, classifyAnthropicError(err)
	}

	stopReason := string(response.StopReason)
	if stopReason == string(anthropic.StopReasonMaxTokens) || stopReason == "model_context_window_exceeded" {
		return Message{}, &ContextOverflowError{Model: c.config.Model, FinishReason: stopReason}
	}

	content := ""
	var reasoning *Reasoning
	toolCalls := []ToolCall{}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ThinkingBlock:
			if reasoning == nil {
				reasoning = &Reasoning{}
			}
			if reasoning.Signature != "" {
				return Message{}, fmt.Errorf("found multiple thinking blocks in the response")
			}
			reasoning.Signature = b.Signature
			reasoning.Content = b.Thinking
		case anthropic.RedactedThinkingBlock:
			if reasoning == nil {
				reasoning = &Reasoning{}
			}
			if reasoning.RedactedData == "" {
				reasoning.RedactedData = b.Data
			}
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: b.JSON.Input.Raw(),
			})
		}
	}

	// The Messages API does not report reasoning tokens separately
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		Reasoning: reasoning,
		ToolCalls: toolCalls,
		TokenUsage: NewTokenUsage(
			int(response.Usage.InputTokens),
			int(response.Usage.OutputTokens),
			0,
		),
		RequestStart: start,
		RequestEnd:   end,
	}, nil
}

// toAnthropicMessages splits out the system prompt and folds consecutive tool
// results into a single user turn.
func toAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	system := ""
	out := []anthropic.MessageParam{}
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == RoleTool {
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, !msg.ArgsWasValid))
			continue
		}
		flush()

		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case RoleUser:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, block := range msg.Blocks {
				switch block.Type {
				case "text":
					blocks = append(blocks, anthropic.NewTextBlock(block.Text))
				case "image":
					if block.ImageURL != "" {
						blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: block.ImageURL}))
					} else {
						blocks = append(blocks, anthropic.NewImageBlockBase64(block.MediaType, base64.StdEncoding.EncodeToString(block.Data)))
					}
				}
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(" "))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Reasoning != nil {
				if msg.Reasoning.Signature != "" {
					blocks = append(blocks, anthropic.NewThinkingBlock(msg.Reasoning.Signature, msg.Reasoning.Content))
				}
				if msg.Reasoning.RedactedData != "" {
					blocks = append(blocks, anthropic.NewRedactedThinkingBlock(msg.Reasoning.RedactedData))
				}
			}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(args), tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(" "))
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		}
	}
	flush()

	return system, out
}

// requiredNames reads a schema "required" list whether it was built in Go
// ([]string) or decoded from JSON ([]interface{}).
func requiredNames(v interface{}) []string {
	switch names := v.(type) {
	case []string:
		return names
	case []interface{}:
		out := make([]string, 0, len(names))
		for _, name := range names {
			if s, ok := name.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && IsTransientStatus(apiErr.StatusCode) {
		return &TransientError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}
