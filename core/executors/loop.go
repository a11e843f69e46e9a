package executors

import (
	"context"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/runctx"
	"github.com/iceos-ai/iceos/core/tmpl"
)

// LoopExecutor iterates a body sub-graph over the items at
// items_source, binding each item under item_var.
type LoopExecutor struct {
	deps *Deps
}

func (e *LoopExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	templateCtx := exec.Ctx.TemplateContext(inputs)
	raw, found := tmpl.ResolvePath(templateCtx, node.ItemsSource)
	if !found {
		return failure(node, start, model.Errorf(model.KindValidation,
			"items_source %q not found in context", node.ItemsSource))
	}
	items, ok := raw.([]interface{})
	if !ok {
		return failure(node, start, model.Errorf(model.KindValidation,
			"items_source %q is not a list", node.ItemsSource))
	}

	limit := len(items)
	if node.MaxIterations > 0 && node.MaxIterations < limit {
		limit = node.MaxIterations
	}

	iterationOutputs := make([]interface{}, 0, limit)
	failures := 0
	for i := 0; i < limit; i++ {
		globals := exec.Ctx.TemplateContext(inputs)
		globals[node.ItemVar] = items[i]
		globals["loop_index"] = i
		iterCtx := runctx.New(exec.Ctx.Registry(), globals)

		results, err := e.deps.Sub.RunNodes(ctx, exec, node.Body, iterCtx)
		if err != nil {
			// An iteration failure follows the run's failure policy:
			// halt fails the loop node, the other policies record the
			// iteration and move on.
			if exec.FailurePolicy == PolicyHalt || exec.FailurePolicy == "" {
				return failure(node, start, model.Errorf(model.KindExecution,
					"iteration %d failed: %v", i, err))
			}
			failures++
			iterationOutputs = append(iterationOutputs, map[string]interface{}{
				"iteration_error": err.Error(),
			})
			continue
		}

		outputs := map[string]interface{}{}
		for id, result := range results {
			outputs[id] = result.Output
		}
		iterationOutputs = append(iterationOutputs, outputs)
	}

	if limit > 0 && failures == limit {
		return failure(node, start, model.Errorf(model.KindExecution,
			"all %d iterations failed", limit))
	}

	return success(node, start, map[string]interface{}{
		"iterations":        limit,
		"failed_iterations": failures,
		"results":           iterationOutputs,
	})
}
