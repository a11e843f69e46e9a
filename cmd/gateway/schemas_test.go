package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageValidator_PatchNode(t *testing.T) {
	v, err := NewMessageValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate("patch_node",
		[]byte(`{"node_id": "n1", "field": "prompt", "value": "hello"}`)))
	assert.NoError(t, v.Validate("patch_node",
		[]byte(`{"node_id": "n1", "field": "retries", "value": 3}`)))

	// Missing required field
	assert.Error(t, v.Validate("patch_node",
		[]byte(`{"node_id": "n1", "field": "prompt"}`)))

	// Empty node_id
	assert.Error(t, v.Validate("patch_node",
		[]byte(`{"node_id": "", "field": "prompt", "value": "x"}`)))

	// Unknown extra property
	assert.Error(t, v.Validate("patch_node",
		[]byte(`{"node_id": "n1", "field": "prompt", "value": "x", "extra": true}`)))
}

func TestMessageValidator_Telemetry(t *testing.T) {
	v, err := NewMessageValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate("telemetry",
		[]byte(`{"node_id": "n1", "latency_ms": 120.5, "cost": 0.002}`)))
	assert.NoError(t, v.Validate("telemetry",
		[]byte(`{"node_id": "n1", "latency_ms": 0, "cost": 0}`)))

	// Negative latency
	assert.Error(t, v.Validate("telemetry",
		[]byte(`{"node_id": "n1", "latency_ms": -1, "cost": 0}`)))

	// Wrong type
	assert.Error(t, v.Validate("telemetry",
		[]byte(`{"node_id": "n1", "latency_ms": "fast", "cost": 0}`)))
}

func TestMessageValidator_Cursor(t *testing.T) {
	v, err := NewMessageValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate("cursor",
		[]byte(`{"user": "alice", "x": 10.5, "y": -3}`)))

	assert.Error(t, v.Validate("cursor",
		[]byte(`{"user": "alice", "x": 10.5}`)))
}

func TestMessageValidator_UnknownTypeRejected(t *testing.T) {
	v, err := NewMessageValidator()
	require.NoError(t, err)

	err = v.Validate("shell_exec", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message type")
}

func TestMessageValidator_InvalidJSONRejected(t *testing.T) {
	v, err := NewMessageValidator()
	require.NoError(t, err)

	assert.Error(t, v.Validate("cursor", []byte(`{not json`)))
}

func TestTopicFor(t *testing.T) {
	topic, msgType := topicFor("run:run_abc123:live")
	assert.Equal(t, "run:run_abc123", topic)
	assert.Equal(t, "event", msgType)

	topic, msgType = topicFor("draft:sess-9:updated")
	assert.Equal(t, "draft:sess-9", topic)
	assert.Equal(t, "draft.updated", msgType)

	topic, _ = topicFor("run:abc:events")
	assert.Empty(t, topic)

	topic, _ = topicFor("something:else")
	assert.Empty(t, topic)
}

func TestEnvelope(t *testing.T) {
	frame := Envelope("event", map[string]interface{}{"k": "v"})

	assert.Equal(t, "event", frame["type"])
	assert.NotEmpty(t, frame["mid"])
	assert.NotZero(t, frame["ts"])
	assert.Equal(t, map[string]interface{}{"k": "v"}, frame["data"])

	// Each envelope gets a fresh message id
	other := Envelope("event", nil)
	assert.NotEqual(t, frame["mid"], other["mid"])
}
