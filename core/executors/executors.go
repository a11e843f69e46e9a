// Package executors implements the per-kind node executors. Every
// executor returns a NodeResult and never panics; failures carry their
// taxonomy kind in Metadata.ErrorType.
package executors

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/common/logger"
	"github.com/iceos-ai/iceos/common/redis"
	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/events"
	"github.com/iceos-ai/iceos/core/expr"
	"github.com/iceos-ai/iceos/core/llm"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/registry"
	"github.com/iceos-ai/iceos/core/runctx"
)

// DefaultToolTimeout applies when a tool node has no timeout_seconds
const DefaultToolTimeout = 30.0

// DefaultHumanTimeout bounds how long a human node waits for a response
const DefaultHumanTimeout = 300.0

// Failure policies decide what keeps running after a node fails
const (
	PolicyHalt             = "halt"
	PolicyContinuePossible = "continue_possible"
	PolicyAlways           = "always"
)

// SubRunner is the engine surface composite executors recurse through.
// Implemented by the workflow engine; sub-graphs share the parent run's
// event bus and concurrency budget.
type SubRunner interface {
	// RunNodes executes an inline sub-graph (loop bodies, parallel
	// branches) under the parent execution's failure policy and
	// semaphore, and returns results keyed by node id.
	RunNodes(ctx context.Context, parent *Execution, nodes []blueprint.NodeSpec, rc *runctx.Context) (map[string]model.NodeResult, error)

	// RunBlueprint executes a full blueprint as a child run.
	RunBlueprint(ctx context.Context, bp *blueprint.Blueprint, initial map[string]interface{}, depth int) (*model.RunReport, error)
}

// CodeRunner executes code-node source after the sandbox admits it
type CodeRunner interface {
	Run(ctx context.Context, language, code string, inputs map[string]interface{}) (interface{}, error)
}

// Deps bundles everything executors share. Built once at bootstrap.
type Deps struct {
	Registry   *registry.Registry
	LLM        *llm.Service
	Expr       *expr.Evaluator
	Bus        *events.Bus
	Redis      *redis.Client
	Config     *config.Config
	CodeRunner CodeRunner
	Sub        SubRunner
	Log        *logger.Logger
}

// Execution is the per-run state handed to every executor call. The
// scheduling fields carry the run's options into sub-graphs so loop
// bodies and parallel branches inherit them instead of the defaults.
type Execution struct {
	RunID string
	Ctx   *runctx.Context
	Depth int

	FailurePolicy string
	MaxParallel   int
	Sem           *semaphore.Weighted
}

// Executor runs one node kind
type Executor interface {
	Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult
}

// success builds a successful result with timing metadata
func success(node *blueprint.NodeSpec, start time.Time, output map[string]interface{}) model.NodeResult {
	end := time.Now().UTC()
	return model.NodeResult{
		Success: true,
		Output:  output,
		Metadata: model.NodeMetadata{
			NodeID:    node.ID,
			Kind:      string(node.Kind),
			StartTime: start,
			EndTime:   end,
			Duration:  end.Sub(start).Seconds(),
		},
	}
}

// failure wraps an error into a failed result
func failure(node *blueprint.NodeSpec, start time.Time, err error) model.NodeResult {
	return model.FailureResult(node.ID, string(node.Kind), start, err)
}

// New builds the full executor set and registers each under its kind
func New(deps *Deps) (map[blueprint.Kind]Executor, error) {
	set := map[blueprint.Kind]Executor{
		blueprint.KindTool:      &ToolExecutor{deps: deps},
		blueprint.KindLLM:       &LLMExecutor{deps: deps},
		blueprint.KindAgent:     &AgentExecutor{deps: deps},
		blueprint.KindCondition: &ConditionExecutor{deps: deps},
		blueprint.KindLoop:      &LoopExecutor{deps: deps},
		blueprint.KindParallel:  &ParallelExecutor{deps: deps},
		blueprint.KindWorkflow:  &WorkflowExecutor{deps: deps},
		blueprint.KindRecursive: &RecursiveExecutor{deps: deps},
		blueprint.KindCode:      &CodeExecutor{deps: deps},
		blueprint.KindHuman:     &HumanExecutor{deps: deps},
		blueprint.KindMonitor:   &MonitorExecutor{deps: deps},
		blueprint.KindSwarm:     &SwarmExecutor{deps: deps},
	}

	for kind, executor := range set {
		if err := deps.Registry.RegisterExecutor(kind, executor); err != nil {
			return nil, err
		}
	}
	return set, nil
}
