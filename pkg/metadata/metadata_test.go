package metadata

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/harun/stirrup/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeModelSpeed(t *testing.T) {
	speed, ok := ComputeModelSpeed("gpt-4o", 100, 20, 2500*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", speed.Model)
	assert.Equal(t, 1, speed.NumCalls)
	assert.Equal(t, 100, speed.OutputTokens)
	assert.Equal(t, 20, speed.ReasoningTokens)
	assert.Equal(t, 80, speed.AnswerTokens())
	assert.InDelta(t, 2.5, speed.DurationSeconds, 1e-9)
	assert.InDelta(t, 40.0, speed.SumOutputTokensPerSecond, 1e-9)
}

func TestComputeModelSpeed_InvalidDuration(t *testing.T) {
	_, ok := ComputeModelSpeed("gpt-4o", 100, 0, 0)
	assert.False(t, ok)

	_, ok = ComputeModelSpeed("gpt-4o", 100, 0, -time.Second)
	assert.False(t, ok)
}

func TestAggregate_RollsUpSameModelAcrossSubAgents(t *testing.T) {
	root := Run{}
	root.Add(&ModelSpeed{Model: "gpt-4o", NumCalls: 1, SumOutputTokensPerSecond: 80, OutputTokens: 120, ReasoningTokens: 30, DurationSeconds: 1.5})

	nested := Run{}
	nested.Add(&ModelSpeed{Model: "gpt-4o", NumCalls: 1, SumOutputTokensPerSecond: 100, OutputTokens: 150, ReasoningTokens: 50, DurationSeconds: 1.5})
	root.Add(&SubAgent{Name: "researcher", Run: nested})

	agg, err := Aggregate(root)
	require.NoError(t, err)
	require.Len(t, agg[KindModelSpeed], 1)
	assert.NotContains(t, agg, KindSubAgent)

	total := agg[KindModelSpeed][0].(*ModelSpeed)
	assert.Equal(t, "gpt-4o", total.Model)
	assert.Equal(t, 2, total.NumCalls)
	assert.Equal(t, 270, total.OutputTokens)
	assert.Equal(t, 80, total.ReasoningTokens)
	assert.Equal(t, 190, total.AnswerTokens())
	assert.InDelta(t, 3.0, total.DurationSeconds, 1e-9)
	assert.InDelta(t, 90.0, total.MeanOutputTokensPerSecond(), 1e-9)
}

func TestAggregate_KeepsDifferentModelsSeparate(t *testing.T) {
	root := Run{}
	root.Add(&ModelSpeed{Model: "gpt-4o", NumCalls: 1, OutputTokens: 120, DurationSeconds: 1.5})
	nested := Run{}
	nested.Add(&ModelSpeed{Model: "claude-sonnet", NumCalls: 1, OutputTokens: 150, ReasoningTokens: 50, DurationSeconds: 1.5})
	root.Add(&SubAgent{Run: nested})

	agg, err := Aggregate(root)
	require.NoError(t, err)
	require.Len(t, agg[KindModelSpeed], 2)

	byModel := map[string]*ModelSpeed{}
	for _, e := range agg[KindModelSpeed] {
		s := e.(*ModelSpeed)
		byModel[s.Model] = s
	}
	assert.Equal(t, 120, byModel["gpt-4o"].OutputTokens)
	assert.Equal(t, 150, byModel["claude-sonnet"].OutputTokens)
}

func TestAggregate_DeeplyNestedAndMixedKinds(t *testing.T) {
	leaf := Run{}
	leaf.Add(NewTokenUsage("m", llm.NewTokenUsage(10, 5, 2)))
	leaf.Add(&ToolUseCount{Tool: "search", Count: 1})

	middle := Run{}
	middle.Add(NewTokenUsage("m", llm.NewTokenUsage(20, 10, 0)))
	middle.Add(&SubAgent{Name: "leaf", Run: leaf})

	root := Run{}
	root.Add(NewTokenUsage("m", llm.NewTokenUsage(30, 15, 5)))
	root.Add(&ToolUseCount{Tool: "search", Count: 2})
	root.Add(&ToolUseCount{Tool: "finish", Count: 1})
	root.Add(&SubAgent{Name: "middle", Run: middle})

	agg, err := Aggregate(root)
	require.NoError(t, err)

	require.Len(t, agg[KindTokenUsage], 1)
	usage := agg[KindTokenUsage][0].(*TokenUsage)
	assert.Equal(t, 3, usage.NumCalls)
	assert.Equal(t, 60, usage.Input)
	assert.Equal(t, 30, usage.Output())
	assert.Equal(t, 7, usage.Reasoning)
	assert.Equal(t, 23, usage.Answer)

	counts := map[string]int{}
	for _, e := range agg[KindToolUseCount] {
		c := e.(*ToolUseCount)
		counts[c.Tool] = c.Count
	}
	assert.Equal(t, map[string]int{"search": 3, "finish": 1}, counts)
}

func TestAggregate_DoesNotMutateInput(t *testing.T) {
	first := &TokenUsage{Model: "m", NumCalls: 1, Input: 1}
	root := Run{}
	root.Add(first)
	root.Add(&TokenUsage{Model: "m", NumCalls: 1, Input: 2})

	_, err := Aggregate(root)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Input)
	assert.Len(t, root[KindTokenUsage], 2)
}

func TestMerge_DifferentModelsFails(t *testing.T) {
	a := &ModelSpeed{Model: "gpt-4o"}
	b := &ModelSpeed{Model: "claude-sonnet"}

	_, err := a.Merge(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyMismatch))

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, KindModelSpeed, mergeErr.Kind)

	_, err = (&TokenUsage{Model: "a"}).Merge(&TokenUsage{Model: "b"})
	assert.ErrorIs(t, err, ErrKeyMismatch)

	_, err = (&ToolUseCount{Tool: "a"}).Merge(&TokenUsage{Model: "a"})
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

type customEntry struct {
	Label string `json:"label"`
}

func (c *customEntry) Kind() string { return "custom_note" }

func TestRun_JSONRoundTrip(t *testing.T) {
	Register("custom_note", func() Entry { return &customEntry{} })

	nested := Run{}
	nested.Add(&ToolUseCount{Tool: "search", Count: 4})

	run := Run{}
	run.Add(NewTokenUsage("gpt-5", llm.NewTokenUsage(100, 40, 10)))
	run.Add(&customEntry{Label: "hello"})
	run.Add(&SubAgent{
		Name:     "helper",
		Messages: []llm.Message{llm.UserMessage("do it")},
		Run:      nested,
	})

	data, err := json.Marshal(run)
	require.NoError(t, err)

	var decoded Run
	require.NoError(t, json.Unmarshal(data, &decoded))

	usage := decoded[KindTokenUsage][0].(*TokenUsage)
	assert.Equal(t, 30, usage.Answer)
	assert.Equal(t, "hello", decoded["custom_note"][0].(*customEntry).Label)

	sub := decoded[KindSubAgent][0].(*SubAgent)
	assert.Equal(t, "helper", sub.Name)
	require.Len(t, sub.Messages, 1)
	assert.Equal(t, 4, sub.Run[KindToolUseCount][0].(*ToolUseCount).Count)
}

func TestRun_UnknownKindDecodesAsRaw(t *testing.T) {
	var run Run
	require.NoError(t, json.Unmarshal([]byte(`{"mystery":[{"x":1}]}`), &run))

	raw, ok := run["mystery"][0].(*Raw)
	require.True(t, ok)
	assert.Equal(t, "mystery", raw.Kind())

	out, err := json.Marshal(run)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mystery":[{"x":1}]}`, string(out))
}

func TestAggregateJSON(t *testing.T) {
	root := Run{}
	root.Add(&ModelSpeed{Model: "gpt-4o", NumCalls: 1, OutputTokens: 100, ReasoningTokens: 40, DurationSeconds: 2})
	nested := Run{}
	nested.Add(&ModelSpeed{Model: "gpt-4o", NumCalls: 1, OutputTokens: 50, ReasoningTokens: 10, DurationSeconds: 1})
	root.Add(&SubAgent{Run: nested})

	out, err := AggregateJSON(root)
	require.NoError(t, err)
	require.Len(t, out[KindModelSpeed], 1)

	item := out[KindModelSpeed][0]
	assert.Equal(t, "gpt-4o", item["model"])
	assert.EqualValues(t, 150, item["output_tokens"])
	assert.EqualValues(t, 100, item["answer_tokens"])
	assert.EqualValues(t, 2, item["num_calls"])
}
