package toolexecutor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestToolPolicy_IsToolAllowed_AllowAll tests allowing all tools with wildcard
func TestToolPolicy_IsToolAllowed_AllowAll(t *testing.T) {
	policy := &ToolPolicy{
		Allow: []string{"*"},
	}

	assert.True(t, policy.IsToolAllowed("any_tool"))
	assert.True(t, policy.IsToolAllowed("run_command"))
}

// TestToolPolicy_IsToolAllowed_DenyWins tests that deny overrides allow
func TestToolPolicy_IsToolAllowed_DenyWins(t *testing.T) {
	policy := &ToolPolicy{
		Allow: []string{"*"},
		Deny:  []string{"run_command"},
	}

	assert.False(t, policy.IsToolAllowed("run_command"))
	assert.True(t, policy.IsToolAllowed("read_file"))
}

func TestToolPolicy_IsToolAllowed_SpecificAllow(t *testing.T) {
	policy := &ToolPolicy{
		Allow: []string{"read_file", "web_*"},
	}

	assert.True(t, policy.IsToolAllowed("read_file"))
	assert.True(t, policy.IsToolAllowed("web_search"))
	assert.False(t, policy.IsToolAllowed("run_command"))
}

func TestToolPolicy_EmptyAllowsEverything(t *testing.T) {
	var nilPolicy *ToolPolicy
	assert.True(t, nilPolicy.IsToolAllowed("x"))
	assert.True(t, (&ToolPolicy{}).IsToolAllowed("x"))
}

func TestToolPolicy_Validate(t *testing.T) {
	assert.NoError(t, (&ToolPolicy{Allow: []string{"a"}}).Validate())
	assert.Error(t, (&ToolPolicy{Deny: []string{"*"}}).Validate())
	assert.Error(t, (&ToolPolicy{Allow: []string{" "}}).Validate())
}

func TestToolPolicy_FilterKeepsFinish(t *testing.T) {
	noop := func(ctx context.Context, params map[string]interface{}) (ToolResult, error) {
		return Text(""), nil
	}
	tools := []*Tool{
		{Name: "run_command", Description: "d", Handler: noop},
		{Name: "read_file", Description: "d", Handler: noop},
		NewFinishTool(),
	}

	policy := &ToolPolicy{Allow: []string{"read_file"}}
	filtered := policy.Filter(tools)

	names := []string{}
	for _, tool := range filtered {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"read_file", FinishToolName}, names)
}
