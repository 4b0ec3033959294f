package subagent

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/agent"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/harun/stirrup/pkg/metadata"
	"github.com/harun/stirrup/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
	model string
}

func (m *mockClient) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Message, error) {
	args := m.Called(ctx, messages, tools)
	return args.Get(0).(llm.Message), args.Error(1)
}

func (m *mockClient) ModelSlug() string { return m.model }
func (m *mockClient) MaxTokens() int    { return 0 }

func turn(name, args string, input int) llm.Message {
	return llm.Message{
		Role:       llm.RoleAssistant,
		ToolCalls:  []llm.ToolCall{{ID: name + "-call", Name: name, Arguments: args}},
		TokenUsage: llm.NewTokenUsage(input, 10, 2),
	}
}

func newAgent(t *testing.T, name string, client llm.Client, tools ...*toolexecutor.Tool) *agent.Agent {
	t.Helper()
	logger := zerolog.Nop()
	a, err := agent.New(agent.Config{Name: name, Client: client, Tools: tools, MaxTurns: 3, Logger: &logger})
	require.NoError(t, err)
	return a
}

func TestCoordinator_Lifecycle(t *testing.T) {
	logger := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "runs", "subagents.json")
	c := NewCoordinator(CoordinatorConfig{RegistryPath: path, Logger: &logger})

	ctx := tracing.PropagateToSubAgent(tracing.NewAgentRunContext(context.Background(), "lead"), "researcher")
	id, err := c.Start(ctx, "lead", "researcher", "look things up")
	require.NoError(t, err)

	record, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, record.Status)
	assert.Equal(t, "researcher", record.Agent)
	assert.Equal(t, "lead", record.Parent)
	assert.Equal(t, 1, record.Depth)
	assert.NotEmpty(t, record.TraceID)
	assert.Equal(t, 1, c.Stats().ActiveRuns)

	assert.Error(t, c.Complete(id, StatusRunning, 0, nil))
	assert.Error(t, c.Complete("missing", StatusFinished, 0, nil))
	require.NoError(t, c.Complete(id, StatusFailed, 2, errors.New("boom")))

	record, _ = c.Get(id)
	assert.Equal(t, StatusFailed, record.Status)
	assert.Equal(t, "boom", record.Error)
	assert.NotNil(t, record.CompletedAt)

	// a new coordinator sees the persisted record
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded := NewCoordinator(CoordinatorConfig{RegistryPath: path, Logger: &logger})
	runs := reloaded.List()
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, Stats{TotalRuns: 1, FailedRuns: 1}, reloaded.Stats())
}

func TestCoordinator_CorruptRegistryStartsEmpty(t *testing.T) {
	logger := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "subagents.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	c := NewCoordinator(CoordinatorConfig{RegistryPath: path, Logger: &logger})
	assert.Empty(t, c.List())
}

func TestNewTool_RequiresAgent(t *testing.T) {
	_, err := NewTool(Config{})
	assert.Error(t, err)
}

func TestSubAgentTool_NestsMetadata(t *testing.T) {
	child := &mockClient{model: "child-model"}
	child.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(turn("finish", `{"reason":"found it","paths":[]}`, 40), nil).Once()

	logger := zerolog.Nop()
	coordinator := NewCoordinator(CoordinatorConfig{Logger: &logger})
	researcher, err := NewTool(Config{Agent: newAgent(t, "researcher", child), Coordinator: coordinator})
	require.NoError(t, err)
	assert.Equal(t, "researcher", researcher.Name)

	parent := &mockClient{model: "parent-model"}
	parent.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(turn("researcher", `{"task":"find the answer"}`, 100), nil).Once()
	parent.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(turn("finish", `{"reason":"done","paths":[]}`, 150), nil).Once()

	lead := newAgent(t, "lead", parent, researcher)
	result, err := lead.Run(context.Background(), "answer the question", agent.SessionOptions{})
	require.NoError(t, err)
	require.Equal(t, agent.StatusFinished, result.Status)

	// the child's task reached the child model
	childMessages := child.Calls[0].Arguments.Get(1).([]llm.Message)
	assert.Equal(t, "find the answer", childMessages[1].Content)

	// the parent sees a readable outcome
	var toolReply string
	for _, msg := range result.History {
		if msg.Role == llm.RoleTool && msg.Name == "researcher" {
			toolReply = msg.Content
		}
	}
	assert.Contains(t, toolReply, "found it")

	// raw run keeps the nested node
	nodes := result.Run[metadata.KindSubAgent]
	require.Len(t, nodes, 1)
	node := nodes[0].(*metadata.SubAgent)
	assert.Equal(t, "researcher", node.Name)
	assert.NotEmpty(t, node.Messages)

	// aggregation walks into the child
	assert.NotContains(t, result.Metadata, metadata.KindSubAgent)
	byModel := map[string]int{}
	for _, e := range result.Metadata[metadata.KindTokenUsage] {
		u := e.(*metadata.TokenUsage)
		byModel[u.Model] = u.Input
	}
	assert.Equal(t, map[string]int{"parent-model": 250, "child-model": 40}, byModel)

	counts := map[string]int{}
	for _, e := range result.Metadata[metadata.KindToolUseCount] {
		c := e.(*metadata.ToolUseCount)
		counts[c.Tool] = c.Count
	}
	assert.Equal(t, map[string]int{"researcher": 1, "finish": 2}, counts)

	runs := coordinator.List()
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFinished, runs[0].Status)
	assert.Equal(t, "lead", runs[0].Parent)
	assert.Equal(t, 1, runs[0].Depth)
}

func TestSubAgentTool_DepthLimit(t *testing.T) {
	child := &mockClient{model: "child-model"}
	tool, err := NewTool(Config{Agent: newAgent(t, "worker", child), MaxDepth: 2})
	require.NoError(t, err)

	ctx := tracing.WithDepth(context.Background(), 2)
	_, err = tool.Handler(ctx, map[string]interface{}{"task": "too deep"})
	assert.ErrorIs(t, err, ErrMaxDepth)
	child.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubAgentTool_ReportsExhaustion(t *testing.T) {
	child := &mockClient{model: "child-model"}
	child.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(llm.Message{Role: llm.RoleAssistant, Content: "still working"}, nil)

	tool, err := NewTool(Config{Agent: newAgent(t, "worker", child)})
	require.NoError(t, err)

	res, err := tool.Handler(context.Background(), map[string]interface{}{"task": "endless"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "without finishing")
	assert.Contains(t, res.Content, "still working")
	require.IsType(t, &metadata.SubAgent{}, res.Metadata)
}

func TestSubAgentTool_LogsUnrecordedCompletion(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	nop := zerolog.Nop()
	coordinator := NewCoordinator(CoordinatorConfig{RegistryPath: filepath.Join(t.TempDir(), "subagents.json"), Logger: &nop})

	r := &runner{config: Config{Coordinator: coordinator}, logger: logger}
	r.complete(context.Background(), "unknown-run", &agent.Result{Status: agent.StatusFinished, Turns: 2}, nil)

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, "Failed to record sub-agent completion")
	assert.Contains(t, out, "run not found: unknown-run")
	assert.Contains(t, out, `"sub_run_id":"unknown-run"`)
}
