package executors

import (
	"context"
	"time"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/sandbox"
)

// CodeExecutor gates imports against the allow-list and runs the code
// through the configured runtime inside the sandbox. Code nodes never
// run unsandboxed in production.
type CodeExecutor struct {
	deps *Deps
}

func (e *CodeExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	if !node.SandboxEnabled() && e.deps.Config.IsProduction() {
		return failure(node, start, model.Errorf(model.KindSandbox,
			"sandbox opt-out is not permitted in production"))
	}

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	runner := e.deps.CodeRunner
	if runner == nil {
		runner = defaultCodeRunner{mode: e.deps.Config.Runtime.Mode}
	}

	box := sandbox.ForNode(node.EffectiveTimeout(DefaultToolTimeout))
	codeResult, stats, err := box.RunCode(ctx, node.Code, node.Imports, func(runCtx context.Context) (interface{}, error) {
		return runner.Run(runCtx, node.Language, node.Code, inputs)
	})
	if err != nil {
		return failure(node, start, err)
	}

	return success(node, start, map[string]interface{}{
		"wasm_return_code": codeResult.WasmReturnCode,
		"result":           codeResult.Result,
		"wall_clock_ms":    stats.WallClock.Milliseconds(),
	})
}

// defaultCodeRunner is used when no runtime is wired in. Demo mode
// returns a simulated result so authoring flows stay usable; anywhere
// else a code node without a runtime is an execution error.
type defaultCodeRunner struct {
	mode string
}

func (r defaultCodeRunner) Run(_ context.Context, language, code string, inputs map[string]interface{}) (interface{}, error) {
	if r.mode == config.ModeDemo {
		return map[string]interface{}{
			"simulated": true,
			"language":  language,
			"inputs":    inputs,
		}, nil
	}
	return nil, model.Errorf(model.KindExecution, "no %s runtime configured", language)
}
