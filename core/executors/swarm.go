package executors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/llm"
	"github.com/iceos-ai/iceos/core/model"
)

// SwarmExecutor runs a set of agents under a coordination strategy:
// consensus collects every response, hierarchical has the first agent
// synthesize the others' work, marketplace picks the strongest bid.
type SwarmExecutor struct {
	deps *Deps
}

type swarmReply struct {
	role       string
	text       string
	confidence float64
}

func (e *SwarmExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	for _, agent := range node.Agents {
		if _, err := e.deps.Registry.GetAgentImportPath(agent.Package); err != nil {
			return failure(node, start, err)
		}
	}

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}
	task := agentTask(node, inputs)

	strategy := node.CoordinationStrategy
	if strategy == "" {
		strategy = blueprint.StrategyConsensus
	}

	var totalUsage model.Usage

	workers := node.Agents
	if strategy == blueprint.StrategyHierarchical {
		workers = node.Agents[1:]
	}

	replies := make([]swarmReply, 0, len(workers))
	for _, agent := range workers {
		reply, usage, err := e.ask(ctx, agent, task, strategy)
		if err != nil {
			return failure(node, start, err)
		}
		accumulate(&totalUsage, usage)
		replies = append(replies, reply)
	}

	responses := map[string]interface{}{}
	for _, reply := range replies {
		responses[reply.role] = reply.text
	}

	var final string
	switch strategy {
	case blueprint.StrategyHierarchical:
		coordinator := node.Agents[0]
		reply, usage, err := e.synthesize(ctx, coordinator, task, replies)
		if err != nil {
			return failure(node, start, err)
		}
		accumulate(&totalUsage, usage)
		responses[coordinator.Role] = reply.text
		final = reply.text

	case blueprint.StrategyMarketplace:
		best := replies[0]
		for _, reply := range replies[1:] {
			if reply.confidence > best.confidence {
				best = reply
			}
		}
		final = best.text

	default: // consensus
		parts := make([]string, len(replies))
		for i, reply := range replies {
			parts[i] = fmt.Sprintf("[%s] %s", reply.role, reply.text)
		}
		final = strings.Join(parts, "\n")
	}

	result := success(node, start, map[string]interface{}{
		"strategy":  strategy,
		"responses": responses,
		"result":    final,
	})
	result.Usage = &totalUsage
	return result
}

// ask runs one member agent. Marketplace members are asked to lead
// with a confidence score, parsed from a `CONFIDENCE=<0..1>` prefix.
func (e *SwarmExecutor) ask(ctx context.Context, agent blueprint.AgentSpec, task, strategy string) (swarmReply, model.Usage, error) {
	prompt := fmt.Sprintf("You are the %s agent (%s).\nTask: %s", agent.Role, agent.Package, task)
	if strategy == blueprint.StrategyMarketplace {
		prompt += "\nStart your reply with CONFIDENCE=<0..1> on its own line."
	}

	completion, err := e.deps.LLM.Complete(ctx, llm.Request{Prompt: prompt, Config: agent.Config})
	if err != nil {
		return swarmReply{}, model.Usage{}, model.Errorf(model.KindExecution,
			"agent %q failed: %v", agent.Role, err)
	}

	reply := swarmReply{role: agent.Role, text: completion.Text}
	if strategy == blueprint.StrategyMarketplace {
		reply.confidence, reply.text = parseConfidence(completion.Text)
	}
	return reply, completion.Usage, nil
}

// synthesize has the coordinator combine the worker replies
func (e *SwarmExecutor) synthesize(ctx context.Context, coordinator blueprint.AgentSpec, task string, replies []swarmReply) (swarmReply, model.Usage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s coordinator. Task: %s\nSynthesize these contributions:", coordinator.Role, task)
	for _, reply := range replies {
		fmt.Fprintf(&b, "\n[%s] %s", reply.role, reply.text)
	}

	completion, err := e.deps.LLM.Complete(ctx, llm.Request{Prompt: b.String(), Config: coordinator.Config})
	if err != nil {
		return swarmReply{}, model.Usage{}, model.Errorf(model.KindExecution,
			"coordinator %q failed: %v", coordinator.Role, err)
	}
	return swarmReply{role: coordinator.Role, text: completion.Text}, completion.Usage, nil
}

// parseConfidence strips a CONFIDENCE=<x> first line, defaulting to 0.5
func parseConfidence(text string) (float64, string) {
	line, rest, found := strings.Cut(text, "\n")
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "CONFIDENCE=") {
		return 0.5, text
	}
	var confidence float64
	if _, err := fmt.Sscanf(trimmed, "CONFIDENCE=%f", &confidence); err != nil {
		return 0.5, text
	}
	if !found {
		rest = ""
	}
	return confidence, strings.TrimSpace(rest)
}
