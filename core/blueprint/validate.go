package blueprint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iceos-ai/iceos/core/expr"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/tmpl"
)

// Issue codes, in the order the validator emits them.
const (
	CodeSchemaVersion         = "schema_version"
	CodeInvalidNodeID         = "invalid_node_id"
	CodeDuplicateNodeID       = "duplicate_node_id"
	CodeUnknownDependency     = "unknown_dependency"
	CodeUnknownBranchTarget   = "unknown_branch_target"
	CodeMissingOutputSchema   = "missing_output_schema"
	CodeCircularDependency    = "circular_dependency"
	CodeUnresolvedPlaceholder = "unresolved_placeholder"
	CodeInvalidExpression     = "invalid_expression"
	CodeInvalidNode           = "invalid_node"
)

// Issue is a single validation finding
type Issue struct {
	Code    string `json:"code"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", i.Code, i.NodeID, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Code, i.Message)
}

// Validator runs the ordered check pipeline over blueprints. Checks
// accumulate; callers always see the full, deterministic issue list.
type Validator struct {
	evaluator *expr.Evaluator
}

// NewValidator creates a validator sharing the given expression evaluator
func NewValidator(evaluator *expr.Evaluator) *Validator {
	return &Validator{evaluator: evaluator}
}

// Validate runs all checks in order and returns every issue found.
// globalKeys names the initial-context keys available to prompt
// placeholders. The llm output-schema default is applied here.
func (v *Validator) Validate(bp *Blueprint, globalKeys ...string) []Issue {
	var issues []Issue

	// 1. Schema version
	if !acceptedVersions[bp.SchemaVersion] {
		issues = append(issues, Issue{
			Code:    CodeSchemaVersion,
			Message: fmt.Sprintf("schema_version %q is not accepted (want %s)", bp.SchemaVersion, SchemaVersion),
		})
	}

	// 2. Node-id uniqueness and syntactic validity
	seen := map[string]bool{}
	for i := range bp.Nodes {
		node := &bp.Nodes[i]
		if !ValidID(node.ID) {
			issues = append(issues, Issue{
				Code:    CodeInvalidNodeID,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node id %q is not a valid identifier", node.ID),
			})
		}
		if seen[node.ID] {
			issues = append(issues, Issue{
				Code:    CodeDuplicateNodeID,
				NodeID:  node.ID,
				Message: fmt.Sprintf("node id %q is declared more than once", node.ID),
			})
		}
		seen[node.ID] = true
	}

	// 3. Referential integrity
	for i := range bp.Nodes {
		node := &bp.Nodes[i]
		for _, dep := range node.Dependencies {
			if !seen[dep] {
				issues = append(issues, Issue{
					Code:    CodeUnknownDependency,
					NodeID:  node.ID,
					Message: fmt.Sprintf("dependency %q does not exist", dep),
				})
			}
		}
		for _, target := range append(append([]string{}, node.TrueBranch...), node.FalseBranch...) {
			if !seen[target] {
				issues = append(issues, Issue{
					Code:    CodeUnknownBranchTarget,
					NodeID:  node.ID,
					Message: fmt.Sprintf("branch target %q does not exist", target),
				})
			}
		}
		for _, field := range sortedMappingKeys(node.InputMappings) {
			mapping := node.InputMappings[field]
			if !seen[mapping.SourceNodeID] {
				issues = append(issues, Issue{
					Code:    CodeUnknownDependency,
					NodeID:  node.ID,
					Message: fmt.Sprintf("input mapping %q source %q does not exist", field, mapping.SourceNodeID),
				})
			}
		}
	}

	// 4. Output-schema presence policy. LLM nodes default to
	// {text: string}; every other kind must declare one.
	for i := range bp.Nodes {
		node := &bp.Nodes[i]
		if len(node.OutputSchema) > 0 {
			continue
		}
		if node.Kind == KindLLM {
			node.OutputSchema = map[string]interface{}{"text": "string"}
			continue
		}
		issues = append(issues, Issue{
			Code:    CodeMissingOutputSchema,
			NodeID:  node.ID,
			Message: "output_schema is required",
		})
	}

	// 5. Cycle detection (Kahn)
	issues = append(issues, detectCycle(bp)...)

	// 6. Placeholder resolution for llm prompts
	globals := map[string]bool{}
	for _, key := range globalKeys {
		globals[key] = true
	}
	for i := range bp.Nodes {
		node := &bp.Nodes[i]
		if node.Kind != KindLLM {
			continue
		}
		provided := map[string]bool{}
		for field := range node.InputMappings {
			provided[field] = true
		}
		for _, sel := range node.InputSelection {
			provided[sel] = true
		}
		for _, name := range tmpl.Placeholders(node.Prompt) {
			if !provided[name] && !globals[name] {
				issues = append(issues, Issue{
					Code:    CodeUnresolvedPlaceholder,
					NodeID:  node.ID,
					Message: fmt.Sprintf("prompt placeholder %q has no input mapping, selection, or global", name),
				})
			}
		}
	}

	// 7. Per-node runtime validation, including expression parsing
	for i := range bp.Nodes {
		issues = append(issues, v.validateNode(&bp.Nodes[i])...)
	}

	return issues
}

// validateNode applies kind checks and expression parsing, recursing
// into inline loop bodies and parallel branches.
func (v *Validator) validateNode(node *NodeSpec) []Issue {
	var issues []Issue

	for _, err := range node.RuntimeValidate() {
		issues = append(issues, Issue{
			Code:    CodeInvalidNode,
			NodeID:  node.ID,
			Message: err.Error(),
		})
	}

	for _, expression := range []string{node.Expression, node.ConvergenceCondition, node.MetricExpression} {
		if expression == "" {
			continue
		}
		if err := v.evaluator.Validate(expression); err != nil {
			issues = append(issues, Issue{
				Code:    CodeInvalidExpression,
				NodeID:  node.ID,
				Message: err.Error(),
			})
		}
	}

	for i := range node.Body {
		issues = append(issues, v.validateNode(&node.Body[i])...)
	}
	for _, branch := range node.Branches {
		for i := range branch {
			issues = append(issues, v.validateNode(&branch[i])...)
		}
	}

	return issues
}

// ValidateError returns nil for valid blueprints, or a ValidationError
// aggregating every issue.
func (v *Validator) ValidateError(bp *Blueprint, globalKeys ...string) error {
	issues := v.Validate(bp, globalKeys...)
	if len(issues) == 0 {
		return nil
	}
	msgs := make([]string, len(issues))
	for i, issue := range issues {
		msgs[i] = issue.String()
	}
	return model.Errorf(model.KindValidation, "blueprint invalid: %s", strings.Join(msgs, "; "))
}

// detectCycle runs Kahn's algorithm over the dependency edges. Node
// declaration order seeds the queue, keeping the report deterministic.
func detectCycle(bp *Blueprint) []Issue {
	inDegree := map[string]int{}
	dependents := map[string][]string{}
	known := map[string]bool{}

	for i := range bp.Nodes {
		known[bp.Nodes[i].ID] = true
	}
	for i := range bp.Nodes {
		node := &bp.Nodes[i]
		if _, ok := inDegree[node.ID]; !ok {
			inDegree[node.ID] = 0
		}
		for _, dep := range node.Dependencies {
			if !known[dep] {
				// Reported by referential integrity; skip for Kahn.
				continue
			}
			inDegree[node.ID]++
			dependents[dep] = append(dependents[dep], node.ID)
		}
	}

	var queue []string
	for i := range bp.Nodes {
		if inDegree[bp.Nodes[i].ID] == 0 {
			queue = append(queue, bp.Nodes[i].ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed == len(bp.Nodes) {
		return nil
	}

	var remaining []string
	for id, deg := range inDegree {
		if deg > 0 {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)

	return []Issue{{
		Code:    CodeCircularDependency,
		Message: fmt.Sprintf("CircularDependencyError: cycle involving nodes %s", strings.Join(remaining, ", ")),
	}}
}

// sortedMappingKeys keeps issue ordering deterministic when a node has
// several broken mappings.
func sortedMappingKeys(mappings map[string]InputMapping) []string {
	keys := make([]string, 0, len(mappings))
	for k := range mappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
