package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckOutput_TypeMap(t *testing.T) {
	schema := map[string]interface{}{
		"result": "string",
		"count":  "int",
		"done":   "bool",
	}

	assert.NoError(t, CheckOutput(schema, map[string]interface{}{
		"result": "ok",
		"count":  3,
		"done":   true,
		"extra":  "tolerated",
	}))

	// Missing declared key
	err := CheckOutput(schema, map[string]interface{}{"result": "ok", "count": 3})
	require.Error(t, err)

	// Wrong type
	err = CheckOutput(schema, map[string]interface{}{
		"result": 42, "count": 3, "done": true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestCheckOutput_OptionalAndUnknownTypes(t *testing.T) {
	schema := map[string]interface{}{
		"summary": "string?",
		"payload": "blob",
	}

	// Optional key may be absent; unknown type names constrain nothing
	assert.NoError(t, CheckOutput(schema, map[string]interface{}{
		"payload": []interface{}{1, 2, 3},
	}))
	assert.NoError(t, CheckOutput(schema, map[string]interface{}{
		"summary": "short",
		"payload": "anything",
	}))

	// Present optional keys are still type checked
	assert.Error(t, CheckOutput(schema, map[string]interface{}{
		"summary": 7,
		"payload": "x",
	}))
}

func TestCheckOutput_NestedObjects(t *testing.T) {
	schema := map[string]interface{}{
		"stats": map[string]interface{}{
			"tokens": "int",
		},
	}

	assert.NoError(t, CheckOutput(schema, map[string]interface{}{
		"stats": map[string]interface{}{"tokens": 120},
	}))
	assert.Error(t, CheckOutput(schema, map[string]interface{}{
		"stats": map[string]interface{}{"tokens": "many"},
	}))
}
