// Package blueprint holds the typed DAG documents of the authoring
// surface: node specs, blueprints, partial blueprints, drafts, and the
// graph validator.
package blueprint

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SchemaVersion is the current accepted blueprint schema version
const SchemaVersion = "1.1.0"

// acceptedVersions is the set of schema versions the validator accepts
var acceptedVersions = map[string]bool{
	SchemaVersion: true,
}

// Blueprint is a validated, immutable DAG of nodes ready to run.
// Registered blueprints never change; new versions get new ids.
type Blueprint struct {
	SchemaVersion string                 `json:"schema_version"`
	BlueprintID   string                 `json:"blueprint_id"`
	Nodes         []NodeSpec             `json:"nodes"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// New creates a blueprint with a fresh id and the current schema version
func New(nodes []NodeSpec) *Blueprint {
	return &Blueprint{
		SchemaVersion: SchemaVersion,
		BlueprintID:   "bp_" + uuid.New().String(),
		Nodes:         nodes,
		Metadata:      map[string]interface{}{},
	}
}

// NodeByID returns the node with the given id, or nil
func (b *Blueprint) NodeByID(id string) *NodeSpec {
	for i := range b.Nodes {
		if b.Nodes[i].ID == id {
			return &b.Nodes[i]
		}
	}
	return nil
}

// NodeIDs returns the node ids in declaration order
func (b *Blueprint) NodeIDs() []string {
	ids := make([]string, len(b.Nodes))
	for i := range b.Nodes {
		ids[i] = b.Nodes[i].ID
	}
	return ids
}

// Marshal encodes the blueprint as JSON
func (b *Blueprint) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// Unmarshal decodes a blueprint from its persisted JSON form
func Unmarshal(data []byte) (*Blueprint, error) {
	var b Blueprint
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode blueprint: %w", err)
	}
	return &b, nil
}
