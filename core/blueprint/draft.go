package blueprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Position is a node's canvas placement in the authoring UI
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Draft is the author-time, mutable predecessor of a blueprint. Every
// mutation recomputes the version lock; stores compare the caller's
// lock against the stored one before applying changes.
type Draft struct {
	SessionID       string                 `json:"session_id"`
	PromptHistory   []string               `json:"prompt_history"`
	MermaidVersions []string               `json:"mermaid_versions"`
	LockedNodes     []string               `json:"locked_nodes"`
	NodePositions   map[string]Position    `json:"node_positions"`
	Meta            map[string]interface{} `json:"meta"`
	LastBlueprint   *Blueprint             `json:"last_blueprint,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
	VersionLock     string                 `json:"version_lock"`
}

// NewDraft creates an empty draft for a session with its initial lock
func NewDraft(sessionID string) (*Draft, error) {
	d := &Draft{
		SessionID:       sessionID,
		PromptHistory:   []string{},
		MermaidVersions: []string{},
		LockedNodes:     []string{},
		NodePositions:   map[string]Position{},
		Meta:            map[string]interface{}{},
		UpdatedAt:       time.Now().UTC(),
	}
	if err := d.Reseal(); err != nil {
		return nil, err
	}
	return d, nil
}

// ComputeLock hashes the canonical JSON of the draft minus the lock
// field. encoding/json sorts map keys, which is all the canonicalization
// the draft shape needs.
func (d *Draft) ComputeLock() (string, error) {
	shadow := *d
	shadow.VersionLock = ""
	data, err := json.Marshal(&shadow)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize draft: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Reseal recomputes and stores the version lock after a mutation
func (d *Draft) Reseal() error {
	lock, err := d.ComputeLock()
	if err != nil {
		return err
	}
	d.VersionLock = lock
	return nil
}

// LockMatches reports whether the presented lock matches the stored one
func (d *Draft) LockMatches(presented string) bool {
	return presented != "" && presented == d.VersionLock
}

// RecordPrompt appends an authoring prompt to the history
func (d *Draft) RecordPrompt(prompt string) {
	d.PromptHistory = append(d.PromptHistory, prompt)
	d.touch()
}

// RecordMermaid appends a rendered mermaid version
func (d *Draft) RecordMermaid(diagram string) {
	d.MermaidVersions = append(d.MermaidVersions, diagram)
	d.touch()
}

// SetPosition places a node on the canvas
func (d *Draft) SetPosition(nodeID string, pos Position) {
	if d.NodePositions == nil {
		d.NodePositions = map[string]Position{}
	}
	d.NodePositions[nodeID] = pos
	d.touch()
}

// LockNode marks a node as frozen against further authoring edits
func (d *Draft) LockNode(nodeID string) {
	for _, id := range d.LockedNodes {
		if id == nodeID {
			return
		}
	}
	d.LockedNodes = append(d.LockedNodes, nodeID)
	d.touch()
}

// NodeLocked reports whether a node is frozen
func (d *Draft) NodeLocked(nodeID string) bool {
	for _, id := range d.LockedNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// SetBlueprint stores the latest instantiated blueprint on the draft
func (d *Draft) SetBlueprint(bp *Blueprint) {
	d.LastBlueprint = bp
	d.touch()
}

func (d *Draft) touch() {
	d.UpdatedAt = time.Now().UTC()
}
