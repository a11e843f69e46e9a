package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/common/logger"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/registry"
)

func testConfig(mode string) *config.Config {
	return &config.Config{
		Runtime: config.RuntimeConfig{Mode: mode},
		LLM: config.LLMConfig{
			DefaultProvider: "openai",
			DefaultModel:    "gpt-4o",
		},
	}
}

func TestComplete_RegisteredFactory(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.RegisterLLMFactory("openai", func(modelName string, _ map[string]interface{}) (registry.LLM, error) {
		return fakeLLM{text: "from " + modelName, usage: model.Usage{PromptTokens: 100, CompletionTokens: 50}}, nil
	}))

	s := NewService(reg, testConfig(config.ModeDevelopment), map[string]config.ModelPrice{
		"gpt-4o": {InputPer1K: 0.01, OutputPer1K: 0.03},
	}, logger.Discard())

	out, err := s.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "from gpt-4o", out.Text)
	assert.Equal(t, int64(150), out.Usage.TotalTokens)
	assert.InDelta(t, 0.0025, out.Usage.CostUSD, 1e-9)
}

func TestComplete_UnknownProviderFailsOutsideDemo(t *testing.T) {
	s := NewService(registry.New(), testConfig(config.ModeDevelopment), nil, logger.Discard())

	_, err := s.Complete(context.Background(), Request{Provider: "anthropic", Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, model.KindRegistry, model.KindOf(err))
}

func TestComplete_DemoModeFallsBackToEcho(t *testing.T) {
	s := NewService(registry.New(), testConfig(config.ModeDemo), nil, logger.Discard())

	out, err := s.Complete(context.Background(), Request{Prompt: "summarize this"})
	require.NoError(t, err)
	assert.Equal(t, "echo: summarize this", out.Text)
	assert.Positive(t, out.Usage.TotalTokens)
	assert.Zero(t, out.Usage.CostUSD)
}

func TestComplete_ExplicitEchoProvider(t *testing.T) {
	s := NewService(registry.New(), testConfig(config.ModeProduction), nil, logger.Discard())

	out, err := s.Complete(context.Background(), Request{Provider: EchoProvider, Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, EchoProvider, out.Usage.Provider)
}

func TestCost(t *testing.T) {
	s := NewService(registry.New(), testConfig(config.ModeDevelopment), map[string]config.ModelPrice{
		"gpt-4o": {InputPer1K: 0.005, OutputPer1K: 0.015},
	}, logger.Discard())

	assert.InDelta(t, 0.005+0.015, s.Cost("gpt-4o", 1000, 1000), 1e-9)
	assert.Zero(t, s.Cost("unknown-model", 1000, 1000))
}

type fakeLLM struct {
	text  string
	usage model.Usage
}

func (f fakeLLM) Complete(_ context.Context, _ string) (*registry.Completion, error) {
	return &registry.Completion{Text: f.text, Usage: f.usage}, nil
}
