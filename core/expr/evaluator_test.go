package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceos-ai/iceos/core/model"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	require.NoError(t, err)
	return e
}

func TestEvaluateBool_Comparisons(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name string
		expr string
		vars map[string]interface{}
		want bool
	}{
		{"greater than", "x > 0", map[string]interface{}{"x": 5}, true},
		{"less than", "x < 0", map[string]interface{}{"x": 5}, false},
		{"equality", "status == \"done\"", map[string]interface{}{"status": "done"}, true},
		{"boolean and", "a && b", map[string]interface{}{"a": true, "b": false}, false},
		{"boolean or", "a || b", map[string]interface{}{"a": true, "b": false}, true},
		{"negation", "!done", map[string]interface{}{"done": false}, true},
		{"arithmetic", "count * 2 + 1 >= 7", map[string]interface{}{"count": 3}, true},
		{"modulo", "n % 2 == 0", map[string]interface{}{"n": 4}, true},
		{"dotted path", "result.score > 0.5", map[string]interface{}{
			"result": map[string]interface{}{"score": 0.9},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateBool(tt.expr, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_RejectsUnsafeExpressions(t *testing.T) {
	e := newEvaluator(t)

	unsafe := []struct {
		name string
		expr string
	}{
		{"function call", "size(items) > 0"},
		{"indexing", "items[0] == 1"},
		{"method call", "name.startsWith(\"a\")"},
		{"list literal", "[1, 2, 3] == x"},
		{"map literal", "{\"a\": 1} == x"},
		{"macro", "items.all(i, i > 0)"},
	}

	for _, tt := range unsafe {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.expr)
			require.Error(t, err)
			assert.Equal(t, model.KindExpression, model.KindOf(err))
		})
	}
}

func TestValidate_AcceptsRestrictedGrammar(t *testing.T) {
	e := newEvaluator(t)

	safe := []string{
		"x > 0",
		"a.b.c == \"ok\" && count < 10",
		"(x + y) * 2 != 0",
		"-x < 0 || !flag",
	}

	for _, expr := range safe {
		assert.NoError(t, e.Validate(expr), expr)
	}
}

func TestEvaluate_UnknownVariable(t *testing.T) {
	e := newEvaluator(t)

	_, err := e.EvaluateBool("missing > 0", map[string]interface{}{"x": 1})
	require.Error(t, err)
	assert.Equal(t, model.KindExpression, model.KindOf(err))
}

func TestEvaluate_CachesPrograms(t *testing.T) {
	e := newEvaluator(t)

	_, err := e.EvaluateBool("x > 0", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	_, err = e.EvaluateBool("x > 0", map[string]interface{}{"x": -1})
	require.NoError(t, err)

	assert.Equal(t, 1, e.CacheSize())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}
