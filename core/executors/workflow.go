package executors

import (
	"context"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/tmpl"
)

// WorkflowExecutor runs a registered blueprint as a child workflow
type WorkflowExecutor struct {
	deps *Deps
}

func (e *WorkflowExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	child, err := e.deps.Registry.GetWorkflowInstance(node.WorkflowRef)
	if err != nil {
		return failure(node, start, err)
	}

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	initial := exec.Ctx.TemplateContext(inputs)
	for key, val := range node.ConfigOverrides {
		initial[key] = val
	}

	report, err := e.deps.Sub.RunBlueprint(ctx, child, initial, exec.Depth+1)
	if err != nil {
		return failure(node, start, err)
	}
	if !report.Success {
		return failure(node, start, model.Errorf(model.KindExecution,
			"child workflow %q failed: %s", node.WorkflowRef, report.Error))
	}

	childOutput := report.Output()
	output := map[string]interface{}{}
	if len(node.ExposedOutputs) == 0 {
		output = childOutput
	} else {
		for alias, path := range node.ExposedOutputs {
			value, found := tmpl.ResolvePath(childOutput, path)
			if !found {
				return failure(node, start, model.Errorf(model.KindValidation,
					"exposed output %q: path %q not found in child result", alias, path))
			}
			output[alias] = value
		}
	}

	result := success(node, start, output)
	result.Usage = &model.Usage{
		TotalTokens: report.TotalTokens,
		CostUSD:     report.TotalCost,
	}
	return result
}
