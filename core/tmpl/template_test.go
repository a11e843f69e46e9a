package tmpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_DottedPaths(t *testing.T) {
	ctx := map[string]interface{}{
		"user": map[string]interface{}{"name": "ada"},
		"n":    float64(3),
	}

	out, err := Render("hello {{ user.name }}, you have {{ n }} items", ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello ada, you have 3 items", out)
}

func TestRender_Fallback(t *testing.T) {
	out, err := Render("model: {{ model or \"gpt-4o\" }}", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "model: gpt-4o", out)

	out, err = Render("model: {{ model or \"gpt-4o\" }}", map[string]interface{}{"model": "claude"})
	require.NoError(t, err)
	assert.Equal(t, "model: claude", out)
}

func TestRender_StrictUndefined(t *testing.T) {
	_, err := Render("{{ missing.path }}", map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.path")
}

func TestRender_RejectsCalls(t *testing.T) {
	_, err := Render("{{ fn(x) }}", map[string]interface{}{})
	require.Error(t, err)
}

func TestRenderValue_PreservesTypes(t *testing.T) {
	ctx := map[string]interface{}{
		"rows": []interface{}{1, 2, 3},
		"name": "widget",
	}

	args := map[string]interface{}{
		"items": "{{ rows }}",
		"label": "name={{ name }}",
		"count": 7,
	}

	out, err := RenderValue(args, ctx)
	require.NoError(t, err)

	rendered := out.(map[string]interface{})
	assert.Equal(t, []interface{}{1, 2, 3}, rendered["items"])
	assert.Equal(t, "name=widget", rendered["label"])
	assert.Equal(t, 7, rendered["count"])
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("Summarize {topic} in {{ style or \"brief\" }} form for {{ user.name }}")
	assert.ElementsMatch(t, []string{"topic", "style", "user"}, names)
}

func TestPlaceholders_Empty(t *testing.T) {
	assert.Empty(t, Placeholders("no templates here"))
}
