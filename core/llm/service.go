// Package llm routes completion requests to provider factories from
// the registry and accounts token cost against the pricing table.
package llm

import (
	"context"
	"strings"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/registry"
)

// Logger is the minimal logging interface the service needs
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Request describes one completion call
type Request struct {
	Provider string
	Model    string
	Prompt   string
	Config   map[string]interface{}
}

// Service resolves providers through the registry with configured
// defaults, falling back to the built-in echo provider when nothing is
// registered (demo mode, tests).
type Service struct {
	reg             *registry.Registry
	defaultProvider string
	defaultModel    string
	pricing         map[string]config.ModelPrice
	demoMode        bool
	log             Logger
}

// NewService creates the LLM service
func NewService(reg *registry.Registry, cfg *config.Config, pricing map[string]config.ModelPrice, log Logger) *Service {
	if pricing == nil {
		pricing = map[string]config.ModelPrice{}
	}
	return &Service{
		reg:             reg,
		defaultProvider: cfg.LLM.DefaultProvider,
		defaultModel:    cfg.LLM.DefaultModel,
		pricing:         pricing,
		demoMode:        cfg.Runtime.Mode == config.ModeDemo,
		log:             log,
	}
}

// Complete resolves the provider, runs the completion, and fills in
// cost from the pricing table when the provider reported only tokens.
func (s *Service) Complete(ctx context.Context, req Request) (*registry.Completion, error) {
	provider := req.Provider
	if provider == "" {
		provider = s.defaultProvider
	}
	modelName := req.Model
	if modelName == "" {
		modelName = s.defaultModel
	}

	client, err := s.client(provider, modelName, req.Config)
	if err != nil {
		return nil, err
	}

	completion, err := client.Complete(ctx, req.Prompt)
	if err != nil {
		return nil, model.Errorf(model.KindExecution, "llm %s/%s: %v", provider, modelName, err)
	}

	completion.Usage.Provider = provider
	if completion.Usage.Model == "" {
		completion.Usage.Model = modelName
	}
	if completion.Usage.TotalTokens == 0 {
		completion.Usage.TotalTokens = completion.Usage.PromptTokens + completion.Usage.CompletionTokens
	}
	if completion.Usage.CostUSD == 0 {
		completion.Usage.CostUSD = s.Cost(completion.Usage.Model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	}

	s.log.Debug("llm completion",
		"provider", provider,
		"model", completion.Usage.Model,
		"tokens", completion.Usage.TotalTokens,
		"cost_usd", completion.Usage.CostUSD)

	return completion, nil
}

// client routes to a registered factory, or to the echo provider when
// the registry has no factory and the runtime allows a fallback.
func (s *Service) client(provider, modelName string, cfg map[string]interface{}) (registry.LLM, error) {
	if s.reg.Has(registry.ClassLLMFactory, provider) {
		return s.reg.GetLLMInstance(provider, modelName, cfg)
	}
	if provider == EchoProvider || s.demoMode {
		return NewEcho(modelName), nil
	}
	return nil, model.Errorf(model.KindRegistry, "NotFound: no llm_factory named %q", provider)
}

// Cost prices a completion from the table; unknown models cost zero
func (s *Service) Cost(modelName string, promptTokens, completionTokens int64) float64 {
	price, ok := s.pricing[modelName]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*price.InputPer1K +
		float64(completionTokens)/1000*price.OutputPer1K
}

// EchoProvider is the built-in deterministic provider used in demo
// mode and tests.
const EchoProvider = "echo"

type echoClient struct {
	model string
}

// NewEcho builds the echo provider client
func NewEcho(modelName string) registry.LLM {
	return &echoClient{model: modelName}
}

// Complete returns the prompt back with estimated token counts. Cost
// stays zero; the service prices it from the table if listed.
func (e *echoClient) Complete(ctx context.Context, prompt string) (*registry.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := "echo: " + prompt
	return &registry.Completion{
		Text: text,
		Usage: model.Usage{
			PromptTokens:     estimateTokens(prompt),
			CompletionTokens: estimateTokens(text),
			Model:            e.model,
			Provider:         EchoProvider,
		},
	}, nil
}

// estimateTokens approximates tokens as words plus punctuation weight
func estimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64(len(strings.Fields(text))) + int64(len(text)/16)
}
