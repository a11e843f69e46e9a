package executors

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/runctx"
)

// ParallelExecutor runs branch sub-graphs concurrently under the
// declared wait strategy.
type ParallelExecutor struct {
	deps *Deps
}

type branchOutcome struct {
	index   int
	outputs map[string]interface{}
	err     error
}

func (e *ParallelExecutor) Execute(ctx context.Context, exec *Execution, node *blueprint.NodeSpec) model.NodeResult {
	start := time.Now().UTC()

	inputs, err := exec.Ctx.ResolveInputs(node)
	if err != nil {
		return failure(node, start, err)
	}

	strategy := node.WaitStrategy
	if strategy == "" {
		strategy = blueprint.WaitAll
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		outcomes = make([]branchOutcome, 0, len(node.Branches))
		winner   = -1
	)

	group, groupCtx := errgroup.WithContext(branchCtx)
	for i := range node.Branches {
		index := i
		branch := node.Branches[i]
		group.Go(func() error {
			globals := exec.Ctx.TemplateContext(inputs)
			globals["branch_index"] = index
			branchRC := runctx.New(exec.Ctx.Registry(), globals)

			results, err := e.deps.Sub.RunNodes(groupCtx, exec, branch, branchRC)

			outputs := map[string]interface{}{}
			for id, result := range results {
				outputs[id] = result.Output
			}

			mu.Lock()
			outcomes = append(outcomes, branchOutcome{index: index, outputs: outputs, err: err})
			firstSuccess := err == nil && winner == -1
			if firstSuccess {
				winner = index
			}
			mu.Unlock()

			// any/race: the first successful branch cancels the rest.
			if firstSuccess && strategy != blueprint.WaitAll {
				cancel()
			}
			if err != nil && strategy == blueprint.WaitAll {
				return err
			}
			return nil
		})
	}

	waitErr := group.Wait()

	mu.Lock()
	defer mu.Unlock()

	if strategy == blueprint.WaitAll {
		if waitErr != nil {
			return failure(node, start, model.Errorf(model.KindExecution, "branch failed: %v", waitErr))
		}
		return success(node, start, e.assemble(node, orderedOutputs(outcomes, len(node.Branches))))
	}

	// any / race
	if winner == -1 {
		return failure(node, start, model.Errorf(model.KindExecution, "no branch succeeded"))
	}
	for _, outcome := range outcomes {
		if outcome.index == winner {
			return success(node, start, map[string]interface{}{
				"winner": winner,
				"result": outcome.outputs,
			})
		}
	}
	return failure(node, start, model.Errorf(model.KindExecution, "winning branch result missing"))
}

// orderedOutputs arranges branch outputs by declaration order
func orderedOutputs(outcomes []branchOutcome, total int) []map[string]interface{} {
	ordered := make([]map[string]interface{}, total)
	for _, outcome := range outcomes {
		ordered[outcome.index] = outcome.outputs
	}
	return ordered
}

// assemble merges branch outputs when merge_outputs is set: key
// collisions promote to lists in branch order. Otherwise the result is
// the ordered list of branch outputs.
func (e *ParallelExecutor) assemble(node *blueprint.NodeSpec, branches []map[string]interface{}) map[string]interface{} {
	if !node.MergeOutputs {
		asList := make([]interface{}, len(branches))
		for i, branch := range branches {
			asList[i] = branch
		}
		return map[string]interface{}{"branches": asList}
	}

	merged := map[string]interface{}{}
	for _, branch := range branches {
		for key, val := range branch {
			existing, collision := merged[key]
			if !collision {
				merged[key] = val
				continue
			}
			if list, isList := existing.([]interface{}); isList {
				merged[key] = append(list, val)
			} else {
				merged[key] = []interface{}{existing, val}
			}
		}
	}
	return merged
}
