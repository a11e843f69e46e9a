package blueprint

import (
	"fmt"

	"github.com/iceos-ai/iceos/core/model"
)

// PartialNode wraps a NodeSpec with authoring-time bookkeeping the
// finalized blueprint never carries.
type PartialNode struct {
	NodeSpec
	PendingInputs  []string               `json:"pending_inputs,omitempty"`
	PendingOutputs []string               `json:"pending_outputs,omitempty"`
	PartialConfig  map[string]interface{} `json:"partial_config,omitempty"`
}

// PartialBlueprint is the mutable, under-construction form of a
// blueprint used by the authoring surface. It tolerates incomplete
// nodes and reports progress through ValidateIncremental.
type PartialBlueprint struct {
	SchemaVersion string                 `json:"schema_version"`
	BlueprintID   string                 `json:"blueprint_id"`
	Nodes         []PartialNode          `json:"nodes"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	validator *Validator
}

// IncrementalResult is the authoring-time validation report
type IncrementalResult struct {
	IsValid     bool     `json:"is_valid"`
	Errors      []Issue  `json:"errors"`
	Warnings    []Issue  `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	CanFinalize bool     `json:"can_finalize"`
}

// NewPartial creates an empty partial blueprint
func NewPartial(validator *Validator) *PartialBlueprint {
	bp := New(nil)
	return &PartialBlueprint{
		SchemaVersion: bp.SchemaVersion,
		BlueprintID:   bp.BlueprintID,
		Metadata:      map[string]interface{}{},
		validator:     validator,
	}
}

// AddNode appends a node. Duplicate or malformed ids are rejected
// immediately; everything else waits for ValidateIncremental.
func (p *PartialBlueprint) AddNode(node PartialNode) error {
	if !ValidID(node.ID) {
		return model.Errorf(model.KindValidation, "node id %q is not a valid identifier", node.ID)
	}
	for i := range p.Nodes {
		if p.Nodes[i].ID == node.ID {
			return model.Errorf(model.KindValidation, "node id %q already exists", node.ID)
		}
	}
	p.Nodes = append(p.Nodes, node)
	return nil
}

// AddEdge records a dependency from one existing node to another
func (p *PartialBlueprint) AddEdge(fromID, toID string) error {
	from := p.node(fromID)
	if from == nil {
		return model.Errorf(model.KindValidation, "edge source %q does not exist", fromID)
	}
	to := p.node(toID)
	if to == nil {
		return model.Errorf(model.KindValidation, "edge target %q does not exist", toID)
	}
	for _, dep := range to.Dependencies {
		if dep == fromID {
			return nil
		}
	}
	to.Dependencies = append(to.Dependencies, fromID)
	return nil
}

func (p *PartialBlueprint) node(id string) *PartialNode {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i]
		}
	}
	return nil
}

// snapshot builds a throwaway Blueprint view for the full validator.
// Node specs are copied so the llm output-schema default applied during
// validation never leaks back into the partial.
func (p *PartialBlueprint) snapshot() *Blueprint {
	nodes := make([]NodeSpec, len(p.Nodes))
	for i := range p.Nodes {
		nodes[i] = p.Nodes[i].NodeSpec
	}
	return &Blueprint{
		SchemaVersion: p.SchemaVersion,
		BlueprintID:   p.BlueprintID,
		Nodes:         nodes,
		Metadata:      p.Metadata,
	}
}

// ValidateIncremental runs the full validator over the current shape
// and layers authoring-time warnings and suggestions on top. Pending
// markers downgrade the related errors: a node the author has flagged
// as incomplete should not read as broken.
func (p *PartialBlueprint) ValidateIncremental(globalKeys ...string) IncrementalResult {
	issues := p.validator.Validate(p.snapshot(), globalKeys...)

	pending := map[string]bool{}
	for i := range p.Nodes {
		node := &p.Nodes[i]
		if len(node.PendingInputs) > 0 || len(node.PendingOutputs) > 0 || len(node.PartialConfig) > 0 {
			pending[node.ID] = true
		}
	}

	result := IncrementalResult{}
	for _, issue := range issues {
		if pending[issue.NodeID] && downgradable(issue.Code) {
			result.Warnings = append(result.Warnings, issue)
			continue
		}
		result.Errors = append(result.Errors, issue)
	}

	for i := range p.Nodes {
		node := &p.Nodes[i]
		if node.Kind == KindLLM && len(node.OutputSchema) == 0 {
			result.Suggestions = append(result.Suggestions,
				fmt.Sprintf("node %q: consider adding output_schema instead of the default {text: string}", node.ID))
		}
		if len(node.Dependencies) == 0 && len(node.InputMappings) == 0 && i > 0 {
			result.Suggestions = append(result.Suggestions,
				fmt.Sprintf("node %q: no dependencies or input mappings; it will run in the first level", node.ID))
		}
	}

	result.IsValid = len(result.Errors) == 0
	result.CanFinalize = result.IsValid && len(p.Nodes) > 0 && len(pending) == 0
	return result
}

// downgradable reports which issue codes become warnings on nodes the
// author marked as still in progress.
func downgradable(code string) bool {
	switch code {
	case CodeMissingOutputSchema, CodeUnresolvedPlaceholder, CodeInvalidNode:
		return true
	}
	return false
}

// Finalize converts the partial into an immutable blueprint, failing
// when incremental validation still reports errors or pending markers.
func (p *PartialBlueprint) Finalize(globalKeys ...string) (*Blueprint, error) {
	result := p.ValidateIncremental(globalKeys...)
	if !result.CanFinalize {
		if len(result.Errors) > 0 {
			return nil, model.Errorf(model.KindValidation, "cannot finalize: %s", result.Errors[0].String())
		}
		return nil, model.Errorf(model.KindValidation, "cannot finalize: blueprint has pending nodes or is empty")
	}

	bp := p.snapshot()
	// Re-run to apply the llm output-schema default onto the snapshot
	// that actually ships.
	if issues := p.validator.Validate(bp, globalKeys...); len(issues) > 0 {
		return nil, model.Errorf(model.KindValidation, "cannot finalize: %s", issues[0].String())
	}
	return bp, nil
}
