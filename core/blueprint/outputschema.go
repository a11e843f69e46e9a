package blueprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Output schemas are abbreviated type maps ({"result": "string"}).
// CheckOutput expands one into a JSON Schema document and validates a
// node's output against it: declared keys are required unless the type
// name carries a trailing "?", extra keys are allowed.
func CheckOutput(schema map[string]interface{}, output map[string]interface{}) error {
	doc := expandSchema(schema)

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema:output", doc); err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}
	compiled, err := compiler.Compile("schema:output")
	if err != nil {
		return fmt.Errorf("invalid output schema: %w", err)
	}

	// Roundtrip normalizes native Go values into JSON ones
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("output is not serializable: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("output is not serializable: %w", err)
	}

	if err := compiled.Validate(instance); err != nil {
		return fmt.Errorf("output does not match declared schema: %w", err)
	}
	return nil
}

// expandSchema turns a type map into a JSON Schema object document
func expandSchema(schema map[string]interface{}) map[string]interface{} {
	properties := map[string]interface{}{}
	required := []interface{}{}

	for key, decl := range schema {
		optional := false
		var prop map[string]interface{}

		switch d := decl.(type) {
		case string:
			name := d
			if strings.HasSuffix(name, "?") {
				optional = true
				name = strings.TrimSuffix(name, "?")
			}
			prop = typeSchema(name)
		case map[string]interface{}:
			// Nested object declaration
			prop = expandSchema(d)
		default:
			prop = map[string]interface{}{}
		}

		properties[key] = prop
		if !optional {
			required = append(required, key)
		}
	}

	doc := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// typeSchema maps abbreviated type names onto JSON Schema types
func typeSchema(name string) map[string]interface{} {
	switch strings.ToLower(name) {
	case "string", "str", "text":
		return map[string]interface{}{"type": "string"}
	case "bool", "boolean":
		return map[string]interface{}{"type": "boolean"}
	case "int", "integer":
		return map[string]interface{}{"type": "integer"}
	case "float", "number", "double":
		return map[string]interface{}{"type": "number"}
	case "object", "map", "dict":
		return map[string]interface{}{"type": "object"}
	case "array", "list":
		return map[string]interface{}{"type": "array"}
	default:
		// Unknown names constrain nothing
		return map[string]interface{}{}
	}
}
