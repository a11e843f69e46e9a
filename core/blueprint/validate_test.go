package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceos-ai/iceos/core/expr"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	eval, err := expr.NewEvaluator()
	require.NoError(t, err)
	return NewValidator(eval)
}

func toolNode(id string, deps ...string) NodeSpec {
	return NodeSpec{
		ID:           id,
		Kind:         KindTool,
		Dependencies: deps,
		ToolName:     "echo_tool",
		OutputSchema: map[string]interface{}{"result": "string"},
	}
}

func TestValidate_ValidLinearChain(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{
		toolNode("fetch"),
		toolNode("transform", "fetch"),
		toolNode("store", "transform"),
	})

	assert.Empty(t, v.Validate(bp))
}

func TestValidate_SchemaVersion(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{toolNode("a")})
	bp.SchemaVersion = "0.9.0"

	issues := v.Validate(bp)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeSchemaVersion, issues[0].Code)
}

func TestValidate_DuplicateAndInvalidIDs(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{
		toolNode("a"),
		toolNode("a"),
		toolNode("9bad"),
	})

	issues := v.Validate(bp)
	codes := issueCodes(issues)
	assert.Contains(t, codes, CodeDuplicateNodeID)
	assert.Contains(t, codes, CodeInvalidNodeID)
}

func TestValidate_UnknownDependency(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{toolNode("a", "ghost")})

	issues := v.Validate(bp)
	require.NotEmpty(t, issues)
	assert.Equal(t, CodeUnknownDependency, issues[0].Code)
	assert.Equal(t, "a", issues[0].NodeID)
}

func TestValidate_CycleDetection(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{
		toolNode("a", "c"),
		toolNode("b", "a"),
		toolNode("c", "b"),
	})

	issues := v.Validate(bp)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeCircularDependency, issues[0].Code)
	assert.Contains(t, issues[0].Message, "CircularDependencyError")
	assert.Contains(t, issues[0].Message, "a, b, c")
}

func TestValidate_SelfCycle(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{toolNode("a", "a")})

	issues := v.Validate(bp)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeCircularDependency, issues[0].Code)
}

func TestValidate_LLMOutputSchemaDefault(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{
		toolNode("fetch"),
		{
			ID:           "gen",
			Kind:         KindLLM,
			Model:        "gpt-4o",
			Prompt:       "Summarize {{ topic }}",
			Dependencies: []string{"fetch"},
			InputMappings: map[string]InputMapping{
				"topic": {SourceNodeID: "fetch", SourceOutputPath: "result"},
			},
		},
	})

	issues := v.Validate(bp)
	assert.Empty(t, issues)
	assert.Equal(t, map[string]interface{}{"text": "string"}, bp.NodeByID("gen").OutputSchema)
}

func TestValidate_MissingOutputSchema(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{{ID: "a", Kind: KindTool, ToolName: "x"}})

	issues := v.Validate(bp)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeMissingOutputSchema, issues[0].Code)
}

func TestValidate_UnresolvedPlaceholder(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{
		toolNode("fetch"),
		{
			ID:           "gen",
			Kind:         KindLLM,
			Model:        "gpt-4o",
			Prompt:       "Write about {{ topic }} in {style}",
			Dependencies: []string{"fetch"},
			InputMappings: map[string]InputMapping{
				"topic": {SourceNodeID: "fetch", SourceOutputPath: "result"},
			},
		},
	})

	issues := v.Validate(bp)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeUnresolvedPlaceholder, issues[0].Code)
	assert.Contains(t, issues[0].Message, "style")

	// The same placeholder resolves once declared as a global input.
	assert.Empty(t, v.Validate(bp, "style"))
}

func TestValidate_ConditionExpression(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{
		toolNode("check"),
		toolNode("yes", "gate"),
		{
			ID:           "gate",
			Kind:         KindCondition,
			Dependencies: []string{"check"},
			Expression:   "check.result == \"ok\"",
			TrueBranch:   []string{"yes"},
			OutputSchema: map[string]interface{}{"result": "bool"},
		},
	})

	assert.Empty(t, v.Validate(bp))

	bp.NodeByID("gate").Expression = "size(items) > 0"
	issues := v.Validate(bp)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeInvalidExpression, issues[0].Code)
}

func TestValidate_UnknownBranchTarget(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{
		toolNode("check"),
		{
			ID:           "gate",
			Kind:         KindCondition,
			Dependencies: []string{"check"},
			Expression:   "check.ok",
			TrueBranch:   []string{"missing"},
			OutputSchema: map[string]interface{}{"result": "bool"},
		},
	})

	issues := v.Validate(bp)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeUnknownBranchTarget, issues[0].Code)
}

func TestValidate_AccumulatesAllIssues(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{
		{ID: "a", Kind: KindTool}, // no tool_name, no schema
		toolNode("b", "ghost"),
	})

	issues := v.Validate(bp)
	codes := issueCodes(issues)
	assert.Contains(t, codes, CodeUnknownDependency)
	assert.Contains(t, codes, CodeMissingOutputSchema)
	assert.Contains(t, codes, CodeInvalidNode)
}

func TestValidateError_WrapsValidationKind(t *testing.T) {
	v := newTestValidator(t)
	bp := New([]NodeSpec{toolNode("a", "ghost")})

	err := v.ValidateError(bp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")

	assert.NoError(t, v.ValidateError(New([]NodeSpec{toolNode("a")})))
}

func issueCodes(issues []Issue) []string {
	codes := make([]string, len(issues))
	for i, issue := range issues {
		codes[i] = issue.Code
	}
	return codes
}

func TestPartial_AddNodeAndEdge(t *testing.T) {
	p := NewPartial(newTestValidator(t))

	require.NoError(t, p.AddNode(PartialNode{NodeSpec: toolNode("a")}))
	require.NoError(t, p.AddNode(PartialNode{NodeSpec: toolNode("b")}))
	require.Error(t, p.AddNode(PartialNode{NodeSpec: toolNode("a")}))

	require.NoError(t, p.AddEdge("a", "b"))
	require.NoError(t, p.AddEdge("a", "b")) // idempotent
	require.Error(t, p.AddEdge("ghost", "b"))

	assert.Equal(t, []string{"a"}, p.node("b").Dependencies)
}

func TestPartial_ValidateIncremental(t *testing.T) {
	p := NewPartial(newTestValidator(t))

	require.NoError(t, p.AddNode(PartialNode{
		NodeSpec:       NodeSpec{ID: "a", Kind: KindTool},
		PendingOutputs: []string{"result"},
	}))

	result := p.ValidateIncremental()
	assert.True(t, result.IsValid, "pending nodes downgrade their issues to warnings")
	assert.False(t, result.CanFinalize)
	assert.NotEmpty(t, result.Warnings)
}

func TestPartial_Finalize(t *testing.T) {
	p := NewPartial(newTestValidator(t))
	require.NoError(t, p.AddNode(PartialNode{NodeSpec: toolNode("a")}))
	require.NoError(t, p.AddNode(PartialNode{NodeSpec: toolNode("b", "a")}))

	bp, err := p.Finalize()
	require.NoError(t, err)
	assert.Len(t, bp.Nodes, 2)
	assert.Equal(t, SchemaVersion, bp.SchemaVersion)
}

func TestPartial_FinalizeFailsWhilePending(t *testing.T) {
	p := NewPartial(newTestValidator(t))
	require.NoError(t, p.AddNode(PartialNode{
		NodeSpec:      toolNode("a"),
		PendingInputs: []string{"query"},
	}))

	_, err := p.Finalize()
	require.Error(t, err)
}

func TestPartial_FinalizeEmptyFails(t *testing.T) {
	p := NewPartial(newTestValidator(t))
	_, err := p.Finalize()
	require.Error(t, err)
}
