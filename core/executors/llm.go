package executors

import (
	"context"
	"time"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/llm"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/registry"
)

// LLMExecutor renders the prompt and routes the completion through the
// LLM service.
type LLMExecutor struct {
	deps *Deps
}

func (e *LLMExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	renderedPrompt, err := exec.Ctx.RenderTemplates(node.Prompt, inputs)
	if err != nil {
		return failure(node, start, err)
	}
	prompt, ok := renderedPrompt.(string)
	if !ok {
		return failure(node, start, model.Errorf(model.KindValidation, "prompt did not render to a string"))
	}

	provider, modelName, genConfig := e.resolveRouting(exec, node, inputs)

	completion, err := e.deps.LLM.Complete(ctx, llm.Request{
		Provider: provider,
		Model:    modelName,
		Prompt:   prompt,
		Config:   genConfig,
	})
	if err != nil {
		return failure(node, start, err)
	}

	output := map[string]interface{}{
		"response": completion.Text,
		"prompt":   prompt,
		"model":    completion.Usage.Model,
		"usage": map[string]interface{}{
			"prompt_tokens":     completion.Usage.PromptTokens,
			"completion_tokens": completion.Usage.CompletionTokens,
			"total_tokens":      completion.Usage.TotalTokens,
			"cost_usd":          completion.Usage.CostUSD,
		},
	}
	if _, wantsText := node.OutputSchema["text"]; wantsText {
		output["text"] = completion.Text
	}

	result := success(node, start, output)
	usage := completion.Usage
	result.Usage = &usage
	result.Metadata.Provider = usage.Provider
	return result
}

// resolveRouting picks provider/model from llm_config or top-level
// fields. The model field may itself be a template; a factory
// registered under llm_name or the model name takes precedence over
// the default provider.
func (e *LLMExecutor) resolveRouting(exec *Execution, node *blueprint.NodeSpec, inputs map[string]interface{}) (provider, modelName string, genConfig map[string]interface{}) {
	modelName = node.Model
	if node.LLMConfig != nil {
		if node.LLMConfig.Model != "" {
			modelName = node.LLMConfig.Model
		}
		provider = node.LLMConfig.Provider
		genConfig = map[string]interface{}{}
		if node.LLMConfig.Temperature != nil {
			genConfig["temperature"] = *node.LLMConfig.Temperature
		}
		if node.LLMConfig.MaxTokens > 0 {
			genConfig["max_tokens"] = node.LLMConfig.MaxTokens
		}
	}
	if provider == "" {
		provider = node.Provider
	}

	if rendered, err := exec.Ctx.RenderTemplates(modelName, inputs); err == nil {
		if s, ok := rendered.(string); ok && s != "" {
			modelName = s
		}
	}

	if provider == "" {
		reg := e.deps.Registry
		switch {
		case node.LLMName != "" && reg.Has(registry.ClassLLMFactory, node.LLMName):
			provider = node.LLMName
		case reg.Has(registry.ClassLLMFactory, modelName):
			provider = modelName
		}
	}
	return provider, modelName, genConfig
}
