package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
)

// HumanExecutor publishes an input-required event and blocks on the
// run's approval list until a response arrives or the node times out.
type HumanExecutor struct {
	deps *Deps
}

// ApprovalKey is the Redis list a human response is pushed onto
func ApprovalKey(runID, nodeID string) string {
	return fmt.Sprintf("run:%s:human:%s", runID, nodeID)
}

// HumanResponse is the payload the approvals endpoint pushes
type HumanResponse struct {
	Approved bool        `json:"approved"`
	Value    interface{} `json:"value,omitempty"`
	Choice   string      `json:"choice,omitempty"`
}

func (e *HumanExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	event := model.NewEvent(model.EventHumanInputNeeded, exec.RunID).
		WithNode(node.ID).
		WithField("prompt_message", node.PromptMessage).
		WithField("approval_type", node.ApprovalType)
	if node.ApprovalType == blueprint.ApprovalChoice {
		event = event.WithField("choices", node.Choices)
	}
	e.deps.Bus.Emit(ctx, event)

	timeout := time.Duration(node.EffectiveTimeout(DefaultHumanTimeout) * float64(time.Second))

	if e.deps.Redis == nil {
		return failure(node, start, model.Errorf(model.KindHumanTimeout,
			"no approval channel available"))
	}

	popped, err := e.deps.Redis.BlockingPopList(ctx, timeout, ApprovalKey(exec.RunID, node.ID))
	if err != nil {
		return failure(node, start, model.Errorf(model.KindExecution, "approval wait failed: %v", err))
	}
	if len(popped) < 2 {
		return failure(node, start, model.Errorf(model.KindHumanTimeout,
			"no response within %s", timeout))
	}

	var response HumanResponse
	if err := json.Unmarshal([]byte(popped[1]), &response); err != nil {
		return failure(node, start, model.Errorf(model.KindValidation, "bad approval payload: %v", err))
	}

	if node.ApprovalType == blueprint.ApprovalChoice {
		if !contains(node.Choices, response.Choice) {
			return failure(node, start, model.Errorf(model.KindValidation,
				"choice %q is not among the offered choices", response.Choice))
		}
	}

	return success(node, start, map[string]interface{}{
		"approved": response.Approved,
		"value":    response.Value,
		"choice":   response.Choice,
	})
}
