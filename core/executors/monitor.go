package executors

import (
	"context"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
)

// Engine-visible actions a monitor node can request. The engine reads
// action_taken from the node output and holds or cancels dispatch.
const (
	MonitorActionNone  = "none"
	MonitorActionAlert = "alert"
	MonitorActionPause = "pause"
	MonitorActionAbort = "abort"
)

// MonitorExecutor evaluates the metric expression against the run
// context and reports the triggered action.
type MonitorExecutor struct {
	deps *Deps
}

func (e *MonitorExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	triggered, err := e.deps.Expr.EvaluateBool(node.MetricExpression, exec.Ctx.TemplateContext(inputs))
	if err != nil {
		return failure(node, start, err)
	}

	action := MonitorActionNone
	triggersFired := 0
	if triggered {
		triggersFired = 1
		switch node.ActionOnTrigger {
		case blueprint.ActionPause:
			action = MonitorActionPause
		case blueprint.ActionAbort:
			action = MonitorActionAbort
		default:
			action = MonitorActionAlert
		}

		e.deps.Bus.Emit(ctx, model.NewEvent(model.EventNodeProgress, exec.RunID).
			WithNode(node.ID).
			WithField("alert", node.MetricExpression).
			WithField("action", action).
			WithField("channels", node.AlertChannels))
	}

	return success(node, start, map[string]interface{}{
		"checks_performed": 1,
		"triggers_fired":   triggersFired,
		"action_taken":     action,
	})
}
