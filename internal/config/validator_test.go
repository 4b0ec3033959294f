package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateProvider(t *testing.T) {
	v := NewValidator()

	for _, p := range []string{"openai", "anthropic", "openrouter"} {
		assert.NoError(t, v.ValidateProvider(p), p)
	}
	assert.Error(t, v.ValidateProvider(""))
	assert.Error(t, v.ValidateProvider("gemini"))
}

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("empty key falls back to environment", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("", "anthropic"))
	})

	t.Run("valid anthropic key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-test123", "anthropic"))
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "anthropic"))
	})

	t.Run("openrouter key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-or-v1-abc", "openrouter"))
		assert.Error(t, v.ValidateAPIKey("sk-abc", "openrouter"))
	})

	t.Run("openai accepts gateway keys", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("local-gateway-token", "openai"))
	})
}

func TestValidateModel(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateModel("gpt-4o"))
	assert.Error(t, v.ValidateModel("  "))
}

func TestValidateReasoningEffort(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateReasoningEffort(""))
	assert.NoError(t, v.ValidateReasoningEffort("high"))
	assert.Error(t, v.ValidateReasoningEffort("extreme"))
}

func TestValidateCutoff(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateCutoff(0))
	assert.NoError(t, v.ValidateCutoff(1))
	assert.Error(t, v.ValidateCutoff(-0.1))
	assert.Error(t, v.ValidateCutoff(1.01))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()
	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	assert.Empty(t, v.ValidateConfig(DefaultConfig()))

	cfg := DefaultConfig()
	cfg.Model.MaxTokens = -1
	cfg.Sandbox.Timeout = -1
	cfg.Telemetry.SampleRatio = 2
	assert.Len(t, v.ValidateConfig(cfg), 3)
}

func TestValidateSubAgents(t *testing.T) {
	v := NewValidator()

	assert.Empty(t, v.ValidateSubAgents("agent", []SubAgentConfig{{Name: "researcher"}, {Name: "writer", MaxTurns: 5}}))

	errs := v.ValidateSubAgents("agent", []SubAgentConfig{
		{Name: ""},
		{Name: "finish"},
		{Name: "agent"},
		{Name: "coder"},
		{Name: "coder", MaxTurns: -1},
	})
	assert.Len(t, errs, 5)
}
