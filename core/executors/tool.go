package executors

import (
	"context"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/sandbox"
)

// ToolExecutor resolves a registered tool, renders its arguments, and
// invokes it inside the resource sandbox.
type ToolExecutor struct {
	deps *Deps
}

func (e *ToolExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	tool, err := e.deps.Registry.GetToolInstance(node.ToolName)
	if err != nil {
		return failure(node, start, err)
	}

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	rendered, err := exec.Ctx.RenderTemplates(node.ToolArgs, inputs)
	if err != nil {
		return failure(node, start, err)
	}

	args, _ := rendered.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}
	// Mapped dependency outputs ride along under their declared names
	// unless the tool args already bind them.
	for key, val := range inputs {
		if _, bound := args[key]; !bound {
			args[key] = val
		}
	}

	box := sandbox.ForNode(node.EffectiveTimeout(DefaultToolTimeout))
	var output map[string]interface{}
	_, err = box.Run(ctx, func(runCtx context.Context) error {
		var toolErr error
		output, toolErr = tool.Execute(runCtx, args)
		return toolErr
	})
	if err != nil {
		return failure(node, start, err)
	}

	if output == nil {
		output = map[string]interface{}{"result": nil}
	}
	return success(node, start, output)
}
