package runctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/registry"
)

func committed(output map[string]interface{}) model.NodeResult {
	return model.NodeResult{
		Success: true,
		Output:  output,
		Metadata: model.NodeMetadata{
			StartTime: time.Now(),
			EndTime:   time.Now(),
		},
	}
}

func TestResolveInputs(t *testing.T) {
	c := New(registry.New(), nil)
	c.Commit("fetch", committed(map[string]interface{}{
		"payload": map[string]interface{}{"title": "hello", "score": 42},
	}))

	node := &blueprint.NodeSpec{
		ID:   "summarize",
		Kind: blueprint.KindLLM,
		InputMappings: map[string]blueprint.InputMapping{
			"topic": {SourceNodeID: "fetch", SourceOutputPath: "payload.title"},
			"score": {SourceNodeID: "fetch", SourceOutputPath: "payload.score"},
		},
	}

	inputs, err := c.ResolveInputs(node)
	require.NoError(t, err)
	assert.Equal(t, "hello", inputs["topic"])
	assert.Equal(t, 42, inputs["score"])
}

func TestResolveInputs_MissingSource(t *testing.T) {
	c := New(registry.New(), nil)
	node := &blueprint.NodeSpec{
		ID: "a",
		InputMappings: map[string]blueprint.InputMapping{
			"x": {SourceNodeID: "ghost", SourceOutputPath: "y"},
		},
	}

	_, err := c.ResolveInputs(node)
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestResolveInputs_MissingPath(t *testing.T) {
	c := New(registry.New(), nil)
	c.Commit("fetch", committed(map[string]interface{}{"result": "ok"}))

	node := &blueprint.NodeSpec{
		ID: "a",
		InputMappings: map[string]blueprint.InputMapping{
			"x": {SourceNodeID: "fetch", SourceOutputPath: "result.missing.deep"},
		},
	}

	_, err := c.ResolveInputs(node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result.missing.deep")
}

func TestResolveInputs_SelectionFromGlobals(t *testing.T) {
	c := New(registry.New(), map[string]interface{}{"style": "formal"})
	c.Commit("fetch", committed(map[string]interface{}{"result": "data"}))

	node := &blueprint.NodeSpec{
		ID:             "a",
		InputSelection: []string{"style", "fetch"},
	}

	inputs, err := c.ResolveInputs(node)
	require.NoError(t, err)
	assert.Equal(t, "formal", inputs["style"])
	assert.Equal(t, map[string]interface{}{"result": "data"}, inputs["fetch"])
}

func TestTemplateContext_UnwrapsResults(t *testing.T) {
	c := New(registry.New(), map[string]interface{}{
		"seeded": model.NodeResult{Success: true, Output: map[string]interface{}{"v": 1}},
	})
	c.Commit("fetch", committed(map[string]interface{}{"title": "hello"}))

	out, err := c.RenderTemplates("{{ fetch.title }} / {{ seeded.v }}", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello / 1", out)
}

func TestRenderTemplates_StrictUndefined(t *testing.T) {
	c := New(registry.New(), nil)

	_, err := c.RenderTemplates("{{ nowhere.path }}", nil)
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestRenderTemplates_ExtraWins(t *testing.T) {
	c := New(registry.New(), map[string]interface{}{"topic": "global"})

	out, err := c.RenderTemplates("{{ topic }}", map[string]interface{}{"topic": "local"})
	require.NoError(t, err)
	assert.Equal(t, "local", out)
}
