package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	mu   sync.Mutex
	body map[string]interface{}
}

func (c *capturedRequest) get() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

func newAnthropicServer(t *testing.T, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err == nil {
			var body map[string]interface{}
			if json.Unmarshal(raw, &body) == nil {
				captured.mu.Lock()
				captured.body = body
				captured.mu.Unlock()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func newTestAnthropicClient(t *testing.T, baseURL string) *AnthropicClient {
	t.Helper()
	client, err := NewAnthropicClient(AnthropicConfig{
		Model:   "claude-test",
		APIKey:  "test-key",
		BaseURL: baseURL,
	})
	require.NoError(t, err)
	return client
}

// decodedSpec mirrors a tool spec that went through a JSON round trip, so
// "required" is a []interface{}.
func decodedSpec(t *testing.T) ToolSpec {
	t.Helper()
	var params map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`), &params))
	return ToolSpec{Name: "read_file", Description: "Read a file", Parameters: params}
}

const textResponse = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn",
"usage":{"input_tokens":1,"output_tokens":1}}`

func TestAnthropicClient_DeclaresToolsWithToolHistory(t *testing.T) {
	server, captured := newAnthropicServer(t, textResponse)
	client := newTestAnthropicClient(t, server.URL)

	history := []Message{
		UserMessage("read a.txt"),
		{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "t1", Name: "read_file", Arguments: `{"path":"a.txt"}`}},
		},
		ToolMessage("t1", "read_file", "hello", true),
		UserMessage("summarize"),
	}

	reply, err := client.Generate(context.Background(), history, []ToolSpec{decodedSpec(t)})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Content)

	body := captured.get()
	require.NotNil(t, body)
	tools, ok := body["tools"].([]interface{})
	require.True(t, ok, "request must declare tools")
	require.Len(t, tools, 1)

	tool := tools[0].(map[string]interface{})
	assert.Equal(t, "read_file", tool["name"])
	schema := tool["input_schema"].(map[string]interface{})
	assert.Equal(t, []interface{}{"path"}, schema["required"])

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 4)
	toolUse := messages[1].(map[string]interface{})["content"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "tool_use", toolUse["type"])
}

func TestAnthropicClient_KeepsRedactedThinkingOpaque(t *testing.T) {
	server, _ := newAnthropicServer(t, `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"redacted_thinking","data":"opaque-payload"},{"type":"text","text":"done"}],
"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	client := newTestAnthropicClient(t, server.URL)

	reply, err := client.Generate(context.Background(), []Message{UserMessage("go")}, nil)
	require.NoError(t, err)
	require.NotNil(t, reply.Reasoning)
	assert.Equal(t, "opaque-payload", reply.Reasoning.RedactedData)
	assert.Empty(t, reply.Reasoning.Signature)
	assert.Equal(t, "done", reply.Content)
}

func TestToAnthropicMessages_ReplaysRedactedThinking(t *testing.T) {
	history := []Message{
		UserMessage("go"),
		{
			Role:      RoleAssistant,
			Content:   "done",
			Reasoning: &Reasoning{RedactedData: "opaque-payload"},
		},
	}

	_, out := toAnthropicMessages(history)
	require.Len(t, out, 2)
	blocks := out[1].Content
	require.Len(t, blocks, 2)
	assert.Nil(t, blocks[0].OfThinking)
	require.NotNil(t, blocks[0].OfRedactedThinking)
	assert.Equal(t, "opaque-payload", blocks[0].OfRedactedThinking.Data)
}

func TestRequiredNames(t *testing.T) {
	assert.Equal(t, []string{"a"}, requiredNames([]string{"a"}))
	assert.Equal(t, []string{"a", "b"}, requiredNames([]interface{}{"a", "b"}))
	assert.Empty(t, requiredNames([]interface{}{}))
	assert.Nil(t, requiredNames(nil))
	assert.Nil(t, requiredNames("path"))
}
