package main

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Inbound message schemas. Every client frame is an envelope
// {type, data} whose data is validated against the schema for its type
// before anything downstream sees it.
var inboundSchemas = map[string]string{
	"patch_node": `{
		"type": "object",
		"properties": {
			"node_id": {"type": "string", "minLength": 1},
			"field":   {"type": "string", "minLength": 1},
			"value":   {}
		},
		"required": ["node_id", "field", "value"],
		"additionalProperties": false
	}`,
	"telemetry": `{
		"type": "object",
		"properties": {
			"node_id":    {"type": "string", "minLength": 1},
			"latency_ms": {"type": "number", "minimum": 0},
			"cost":       {"type": "number", "minimum": 0}
		},
		"required": ["node_id", "latency_ms", "cost"],
		"additionalProperties": false
	}`,
	"cursor": `{
		"type": "object",
		"properties": {
			"user": {"type": "string", "minLength": 1},
			"x":    {"type": "number"},
			"y":    {"type": "number"}
		},
		"required": ["user", "x", "y"],
		"additionalProperties": false
	}`,
}

// MessageValidator compiles the inbound schemas once and validates
// decoded message payloads by type.
type MessageValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewMessageValidator compiles every inbound schema
func NewMessageValidator() (*MessageValidator, error) {
	compiler := jsonschema.NewCompiler()
	for name, raw := range inboundSchemas {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s schema: %w", name, err)
		}
		if err := compiler.AddResource("schema:"+name, doc); err != nil {
			return nil, fmt.Errorf("failed to add %s schema: %w", name, err)
		}
	}

	schemas := make(map[string]*jsonschema.Schema, len(inboundSchemas))
	for name := range inboundSchemas {
		schema, err := compiler.Compile("schema:" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
		}
		schemas[name] = schema
	}
	return &MessageValidator{schemas: schemas}, nil
}

// Validate checks a payload against the schema for its message type.
// Unknown types are rejected.
func (v *MessageValidator) Validate(messageType string, payload []byte) error {
	schema, ok := v.schemas[messageType]
	if !ok {
		return fmt.Errorf("unknown message type %q", messageType)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%s message rejected: %w", messageType, err)
	}
	return nil
}
