package model

import (
	"encoding/json"
	"time"
)

// EventType identifies a lifecycle event on the run stream
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventLevelStarted      EventType = "level.started"
	EventLevelCompleted    EventType = "level.completed"
	EventNodeQueued        EventType = "node.queued"
	EventNodeStarted       EventType = "node.started"
	EventNodeProgress      EventType = "node.progress"
	EventNodeCompleted     EventType = "node.completed"
	EventNodeFailed        EventType = "node.failed"
	EventNodeSkipped       EventType = "node.skipped"
	EventNodeRetrying      EventType = "node.retrying"
	EventTokenUpdate       EventType = "resource.token_update"
	EventCostUpdate        EventType = "resource.cost_update"
	EventContextSnapshot   EventType = "debug.context_snapshot"
	EventValidationError   EventType = "debug.validation_error"
	EventHumanInputNeeded  EventType = "human.input_required"
	EventDraftUpdated      EventType = "draft.updated"
)

// ExecutionEvent is a single entry on a run's event stream. Fields carry
// event-type-specific payload and are flattened into the JSON encoding.
type ExecutionEvent struct {
	EventType EventType              `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	NodeID    string                 `json:"node_id,omitempty"`
	Level     int                    `json:"level,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewEvent builds an event stamped with the current time
func NewEvent(eventType EventType, runID string) ExecutionEvent {
	return ExecutionEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Fields:    map[string]interface{}{},
	}
}

// WithNode attaches a node id
func (e ExecutionEvent) WithNode(nodeID string) ExecutionEvent {
	e.NodeID = nodeID
	return e
}

// WithLevel attaches a level number
func (e ExecutionEvent) WithLevel(level int) ExecutionEvent {
	e.Level = level
	return e
}

// WithField attaches a payload field
func (e ExecutionEvent) WithField(key string, value interface{}) ExecutionEvent {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Marshal encodes the event as JSON
func (e ExecutionEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes an event from JSON
func UnmarshalEvent(data []byte) (ExecutionEvent, error) {
	var e ExecutionEvent
	err := json.Unmarshal(data, &e)
	return e, err
}
