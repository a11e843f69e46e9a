package executors

import (
	"context"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/llm"
	"github.com/iceos-ai/iceos/core/model"
)

// RecursiveExecutor iterates an agent or child workflow until the
// convergence condition holds or max_iterations is exhausted.
type RecursiveExecutor struct {
	deps *Deps
}

func (e *RecursiveExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	contextKey := node.ContextKey
	if contextKey == "" {
		contextKey = node.ID
	}

	state := exec.Ctx.TemplateContext(inputs)
	var (
		lastOutput map[string]interface{}
		totalUsage model.Usage
		converged  bool
		iteration  int
	)

	for iteration = 1; iteration <= node.MaxIterations; iteration++ {
		state["_recursive_iteration"] = iteration

		lastOutput, err = e.step(ctx, exec, node, state)
		if err != nil {
			return failure(node, start, err)
		}
		if usage, ok := lastOutput["_usage"].(model.Usage); ok {
			accumulate(&totalUsage, usage)
			delete(lastOutput, "_usage")
		}

		// Bookkeeping under context_key carries across iterations when
		// preserve_context is set.
		if node.PreserveContext {
			state[contextKey] = lastOutput
		}
		for key, val := range lastOutput {
			state[key] = val
		}

		ok, evalErr := e.deps.Expr.EvaluateBool(node.ConvergenceCondition, state)
		if evalErr != nil {
			return failure(node, start, evalErr)
		}
		if ok {
			converged = true
			break
		}
	}
	if iteration > node.MaxIterations {
		iteration = node.MaxIterations
	}

	output := map[string]interface{}{
		"converged":            converged,
		"_recursive_iteration": iteration,
		"_can_recurse":         !converged,
		"_recursive_node_id":   node.ID,
	}
	if converged {
		output["reason"] = "condition_met"
	} else {
		output["reason"] = "max_iterations_reached"
	}
	for key, val := range lastOutput {
		if _, taken := output[key]; !taken {
			output[key] = val
		}
	}

	result := success(node, start, output)
	result.Usage = &totalUsage
	return result
}

// step executes one iteration: the referenced agent's LLM loop or the
// referenced child workflow.
func (e *RecursiveExecutor) step(ctx context.Context, exec *Execution, node *blueprint.NodeSpec, state map[string]interface{}) (map[string]interface{}, error) {
	if node.WorkflowRef != "" {
		child, err := e.deps.Registry.GetWorkflowInstance(node.WorkflowRef)
		if err != nil {
			return nil, err
		}
		report, err := e.deps.Sub.RunBlueprint(ctx, child, state, exec.Depth+1)
		if err != nil {
			return nil, err
		}
		if !report.Success {
			return nil, model.Errorf(model.KindExecution, "iteration workflow failed: %s", report.Error)
		}
		out := report.Output()
		out["_usage"] = model.Usage{TotalTokens: report.TotalTokens, CostUSD: report.TotalCost}
		return out, nil
	}

	if _, err := e.deps.Registry.GetAgentImportPath(node.AgentPackage); err != nil {
		return nil, err
	}
	prompt, err := exec.Ctx.RenderTemplates(agentStepPrompt(node), state)
	if err != nil {
		return nil, err
	}
	completion, err := e.deps.LLM.Complete(ctx, llm.Request{
		Provider: node.Provider,
		Prompt:   prompt.(string),
		Config:   node.AgentConfig,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"response": completion.Text,
		"_usage":   completion.Usage,
	}, nil
}

func agentStepPrompt(node *blueprint.NodeSpec) string {
	if task, ok := node.AgentConfig["prompt"].(string); ok && task != "" {
		return task
	}
	return "Refine the current result. Iteration {{ _recursive_iteration }}."
}
