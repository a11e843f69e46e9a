package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/llm"
	"github.com/iceos-ai/iceos/core/model"
)

// AgentExecutor runs a bounded plan-act-observe loop. Each iteration
// asks the LLM for the next step; a TOOL directive invokes a registered
// tool (gated by allowed_tools), anything else is the final answer.
type AgentExecutor struct {
	deps *Deps
}

const toolDirective = "TOOL:"

func (e *AgentExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	importPath, err := e.deps.Registry.GetAgentImportPath(node.Package)
	if err != nil {
		return failure(node, start, err)
	}

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	iterations := node.MaxIterations
	if iterations <= 0 {
		iterations = 3
	}

	var (
		observations []string
		finalAnswer  string
		totalUsage   model.Usage
	)

	task := agentTask(node, inputs)
	for i := 0; i < iterations; i++ {
		prompt := e.buildPrompt(node, task, observations)

		completion, err := e.deps.LLM.Complete(ctx, llm.Request{
			Provider: node.Provider,
			Prompt:   prompt,
			Config:   node.AgentConfig,
		})
		if err != nil {
			return failure(node, start, err)
		}
		accumulate(&totalUsage, completion.Usage)

		directive := strings.TrimSpace(completion.Text)
		if !strings.HasPrefix(directive, toolDirective) {
			finalAnswer = completion.Text
			break
		}

		observation, err := e.invokeTool(ctx, node, directive)
		if err != nil {
			// Tool failures become observations: the agent may recover
			// on the next iteration.
			observation = fmt.Sprintf("tool error: %v", err)
		}
		observations = append(observations, observation)
		finalAnswer = observation
	}

	result := success(node, start, map[string]interface{}{
		"response":    finalAnswer,
		"agent":       node.Package,
		"import_path": importPath,
		"iterations":  len(observations) + 1,
	})
	result.Usage = &totalUsage
	return result
}

// buildPrompt assembles the iteration prompt: task, tool inventory,
// prior observations.
func (e *AgentExecutor) buildPrompt(node *blueprint.NodeSpec, task string, observations []string) string {
	var b strings.Builder
	b.WriteString("You are agent ")
	b.WriteString(node.Package)
	b.WriteString(".\nTask: ")
	b.WriteString(task)
	if len(node.AllowedTools) > 0 {
		b.WriteString("\nTools: ")
		b.WriteString(strings.Join(node.AllowedTools, ", "))
		b.WriteString("\nTo use a tool reply exactly: TOOL:<name> <json args>")
	}
	for i, obs := range observations {
		fmt.Fprintf(&b, "\nObservation %d: %s", i+1, obs)
	}
	return b.String()
}

// invokeTool parses `TOOL:<name> <json args>` and executes the tool,
// enforcing the allowed_tools gate when the agent declares one.
func (e *AgentExecutor) invokeTool(ctx context.Context, node *blueprint.NodeSpec, directive string) (string, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(directive, toolDirective))
	name, rawArgs, _ := strings.Cut(rest, " ")
	if name == "" {
		return "", model.Errorf(model.KindValidation, "empty tool directive")
	}

	if len(node.AllowedTools) > 0 && !contains(node.AllowedTools, name) {
		return "", model.Errorf(model.KindSandbox, "tool %q is not in allowed_tools", name)
	}

	tool, err := e.deps.Registry.GetToolInstance(name)
	if err != nil {
		return "", err
	}

	args := map[string]interface{}{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", model.Errorf(model.KindValidation, "bad tool args for %q: %v", name, err)
		}
	}

	output, err := tool.Execute(ctx, args)
	if err != nil {
		return "", model.Errorf(model.KindExecution, "tool %q failed: %v", name, err)
	}
	encoded, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool output: %w", err)
	}
	return string(encoded), nil
}

func agentTask(node *blueprint.NodeSpec, inputs map[string]interface{}) string {
	if task, ok := inputs["task"].(string); ok && task != "" {
		return task
	}
	if task, ok := node.AgentConfig["task"].(string); ok && task != "" {
		return task
	}
	encoded, _ := json.Marshal(inputs)
	return string(encoded)
}

func accumulate(total *model.Usage, usage model.Usage) {
	total.PromptTokens += usage.PromptTokens
	total.CompletionTokens += usage.CompletionTokens
	total.TotalTokens += usage.TotalTokens
	total.CostUSD += usage.CostUSD
	if total.Model == "" {
		total.Model = usage.Model
	}
	if total.Provider == "" {
		total.Provider = usage.Provider
	}
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
