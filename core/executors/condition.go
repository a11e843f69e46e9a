package executors

import (
	"context"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
)

// ConditionExecutor evaluates the restricted expression and marks the
// enabled/skipped branches for the engine's skip-propagation table.
type ConditionExecutor struct {
	deps *Deps
}

func (e *ConditionExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	value, err := e.deps.Expr.EvaluateBool(node.Expression, exec.Ctx.TemplateContext(inputs))
	if err != nil {
		return failure(node, start, err)
	}

	result := success(node, start, map[string]interface{}{"result": value})
	if value {
		result.EnabledBranches = node.TrueBranch
		result.SkippedBranches = node.FalseBranch
	} else {
		result.EnabledBranches = node.FalseBranch
		result.SkippedBranches = node.TrueBranch
	}
	return result
}
