package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures an OpenAI-compatible chat completions client
type OpenAIConfig struct {
	Model           string
	APIKey          string
	BaseURL         string // OpenRouter and other compatible gateways
	MaxTokens       int    // context window
	MaxOutputTokens int
	ReasoningEffort string
}

// OpenAIClient implements Client for OpenAI-compatible chat completions
type OpenAIClient struct {
	client openai.Client
	config OpenAIConfig
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 64_000
	}

	// Retries are handled by RetryingClient
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		config: cfg,
	}, nil
}

// ModelSlug returns the model identifier
func (c *OpenAIClient) ModelSlug() string {
	return c.config.Model
}

// MaxTokens returns the context window size
func (c *OpenAIClient) MaxTokens() int {
	return c.config.MaxTokens
}

// Generate makes a chat completions call
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error) {
	converted, err := toOpenAIMessages(messages)
	if err != nil {
		return Message{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.config.Model),
		Messages: converted,
	}

	if c.config.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.config.MaxOutputTokens))
	}
	if c.config.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(c.config.ReasoningEffort)
	}

	if len(tools) > 0 {
		toolParams := make([]openai.ChatCompletionToolParam, 0, len(tools))
		for _, tool := range tools {
			toolParams = append(toolParams, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = toolParams
	}

	start := time.Now()
	response, err := c.client.Chat.Completions.New(ctx, params)
	end := time.Now()
	if err != nil {
		return Message{}, classifyOpenAIError(err)
	}

	if len(response.Choices) == 0 {
		return Message{}, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	finishReason := string(choice.FinishReason)
	if finishReason == "length" || finishReason == "max_tokens" {
		return Message{}, &ContextOverflowError{Model: c.config.Model, FinishReason: finishReason}
	}

	toolCalls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return Message{
		Role:      RoleAssistant,
		Content:   choice.Message.Content,
		Reasoning: openAIReasoning(choice.Message),
		ToolCalls: toolCalls,
		TokenUsage: NewTokenUsage(
			int(response.Usage.PromptTokens),
			int(response.Usage.CompletionTokens),
			int(response.Usage.CompletionTokensDetails.ReasoningTokens),
		),
		RequestStart: start,
		RequestEnd:   end,
	}, nil
}

// openAIReasoning picks up reasoning_content that compatible gateways attach
// to the message as an extra field.
func openAIReasoning(msg openai.ChatCompletionMessage) *Reasoning {
	field, ok := msg.JSON.ExtraFields["reasoning_content"]
	if !ok || !field.Valid() {
		field, ok = msg.JSON.ExtraFields["reasoning"]
		if !ok || !field.Valid() {
			return nil
		}
	}

	var content string
	if err := json.Unmarshal([]byte(field.Raw()), &content); err != nil || content == "" {
		return nil
	}
	return &Reasoning{Content: content}
}

func toOpenAIMessages(messages []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleUser:
			if len(msg.Blocks) == 0 {
				out = append(out, openai.UserMessage(msg.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{}
			if msg.Content != "" {
				parts = append(parts, openai.TextContentPart(msg.Content))
			}
			for _, block := range msg.Blocks {
				switch block.Type {
				case "text":
					parts = append(parts, openai.TextContentPart(block.Text))
				case "image":
					url := block.ImageURL
					if url == "" {
						url = fmt.Sprintf("data:%s;base64,%s", block.MediaType, base64.StdEncoding.EncodeToString(block.Data))
					}
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
				}
			}
			out = append(out, openai.UserMessage(parts))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			out = append(out, assistantMsg.ToParam())
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	return out, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && IsTransientStatus(apiErr.StatusCode) {
		return &TransientError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}
