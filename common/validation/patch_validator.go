// Package validation guards document mutations arriving from clients.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxPatchOps caps the number of operations a single patch may carry
const MaxPatchOps = 64

// PatchValidator validates RFC 6902 operations against draft documents
// before they are applied: only authoring fields are patchable, and the
// store-managed fields stay out of reach.
type PatchValidator struct {
	allowedRoots map[string]bool
}

// NewPatchValidator creates a validator scoped to the draft document
func NewPatchValidator() *PatchValidator {
	return &PatchValidator{
		allowedRoots: map[string]bool{
			"meta":             true,
			"prompt_history":   true,
			"mermaid_versions": true,
			"node_positions":   true,
			"locked_nodes":     true,
			"last_blueprint":   true,
		},
	}
}

// ValidatePatch decodes and validates a raw patch document
func (v *PatchValidator) ValidatePatch(patch []byte) error {
	var operations []map[string]interface{}
	if err := json.Unmarshal(patch, &operations); err != nil {
		return fmt.Errorf("patch must be a JSON array of operations: %w", err)
	}
	return v.ValidateOperations(operations)
}

// ValidateOperations validates all patch operations
func (v *PatchValidator) ValidateOperations(operations []map[string]interface{}) error {
	if len(operations) == 0 {
		return fmt.Errorf("patch contains no operations")
	}
	if len(operations) > MaxPatchOps {
		return fmt.Errorf("patch contains %d operations, limit is %d", len(operations), MaxPatchOps)
	}

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}
	}
	return nil
}

// validateOperation validates a single operation
func (v *PatchValidator) validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	path, ok := op["path"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}
	if err := v.validatePath(path, index); err != nil {
		return err
	}

	switch opType {
	case "add", "replace", "test":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}

	case "remove":
		// Remove doesn't need value

	case "move", "copy":
		from, ok := op["from"].(string)
		if !ok {
			return fmt.Errorf("operation %d: 'from' required for %s operation", index, opType)
		}
		if err := v.validatePath(from, index); err != nil {
			return err
		}

	default:
		return fmt.Errorf("operation %d: unsupported operation type: %s", index, opType)
	}

	return nil
}

// validatePath checks the path targets a patchable part of the draft
func (v *PatchValidator) validatePath(path string, index int) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("operation %d: path %q must be absolute", index, path)
	}

	root := strings.SplitN(path[1:], "/", 2)[0]
	if !v.allowedRoots[root] {
		return fmt.Errorf("operation %d: path %q is not patchable", index, path)
	}
	return nil
}
