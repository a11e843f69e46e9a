// Package engine is the level-based workflow scheduler: it computes
// dependency levels, dispatches node tasks under a concurrency bound,
// propagates branch skips, applies failure policies at level
// boundaries, and enforces depth and budget guards.
package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/common/logger"
	"github.com/iceos-ai/iceos/common/metrics"
	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/events"
	"github.com/iceos-ai/iceos/core/executors"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/runctx"
)

// Failure policies decide what keeps running after a node fails
const (
	PolicyHalt             = executors.PolicyHalt
	PolicyContinuePossible = executors.PolicyContinuePossible
	PolicyAlways           = executors.PolicyAlways
)

// DefaultMaxParallel bounds per-level concurrency when unset
const DefaultMaxParallel = 5

// Options configures one run
type Options struct {
	MaxParallel   int
	FailurePolicy string
	DepthCeiling  int
	MaxTokens     int64
	OrgBudgetUSD  float64
}

func (o Options) normalized(cfg *config.Config) Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = DefaultMaxParallel
	}
	if o.FailurePolicy == "" {
		o.FailurePolicy = PolicyHalt
	}
	if o.DepthCeiling == 0 {
		o.DepthCeiling = cfg.Runtime.MaxDepth
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = cfg.Runtime.MaxTokens
	}
	if o.OrgBudgetUSD == 0 {
		o.OrgBudgetUSD = cfg.Runtime.OrgBudgetUSD
	}
	return o
}

// Engine executes validated blueprints. It also implements
// executors.SubRunner so composite nodes recurse through the same
// scheduler.
type Engine struct {
	set     map[blueprint.Kind]executors.Executor
	deps    *executors.Deps
	bus     *events.Bus
	cfg     *config.Config
	metrics *metrics.Metrics
	log     *logger.Logger

	mu     sync.Mutex
	active map[string]*runState
}

type runState struct {
	cancel context.CancelFunc
	status model.RunStatus
	opts   Options

	pauseMu sync.Mutex
	resume  chan struct{} // non-nil while paused
}

// New builds the engine and wires itself in as the executors' SubRunner
func New(deps *Deps) (*Engine, error) {
	e := &Engine{
		deps:    deps.Executors,
		bus:     deps.Executors.Bus,
		cfg:     deps.Executors.Config,
		metrics: deps.Metrics,
		log:     deps.Log,
		active:  map[string]*runState{},
	}
	deps.Executors.Sub = e

	set, err := executors.New(deps.Executors)
	if err != nil {
		return nil, err
	}
	e.set = set
	return e, nil
}

// Deps bundles what the engine needs beyond the executor dependencies
type Deps struct {
	Executors *executors.Deps
	Metrics   *metrics.Metrics
	Log       *logger.Logger
}

// NewRunID creates a run identifier
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// Execute runs a blueprint to completion and returns the report. The
// run is registered under runID for cancel/pause/status control.
func (e *Engine) Execute(ctx context.Context, runID string, bp *blueprint.Blueprint, initial map[string]interface{}, opts Options) *model.RunReport {
	opts = opts.normalized(e.cfg)

	runCtx, cancel := context.WithCancel(ctx)
	state := &runState{cancel: cancel, status: model.RunRunning, opts: opts}
	e.mu.Lock()
	e.active[runID] = state
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.active, runID)
		e.mu.Unlock()
	}()

	rc := runctx.New(e.deps.Registry, initial)
	report := e.runGraph(runCtx, runID, state, bp.Nodes, rc, opts, nil, 0, true)
	report.RunID = runID

	if e.metrics != nil {
		status := "completed"
		if !report.Success {
			status = "failed"
		}
		e.metrics.RunsCompleted.WithLabelValues(status).Inc()
	}
	return report
}

// Cancel stops a running run. Safe to call for unknown ids.
func (e *Engine) Cancel(runID string) bool {
	e.mu.Lock()
	state, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	state.setStatus(model.RunCancelled)
	state.unpause()
	state.cancel()
	return true
}

// Resume releases a run a monitor node paused
func (e *Engine) Resume(runID string) bool {
	e.mu.Lock()
	state, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return state.unpause()
}

// Running reports whether the run is currently active
func (e *Engine) Running(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[runID]
	return ok
}

func (s *runState) setStatus(status model.RunStatus) {
	s.pauseMu.Lock()
	s.status = status
	s.pauseMu.Unlock()
}

func (s *runState) pause() {
	s.pauseMu.Lock()
	if s.resume == nil {
		s.resume = make(chan struct{})
	}
	s.pauseMu.Unlock()
}

func (s *runState) unpause() bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.resume == nil {
		return false
	}
	close(s.resume)
	s.resume = nil
	return true
}

// awaitResume blocks while the run is paused
func (s *runState) awaitResume(ctx context.Context) error {
	s.pauseMu.Lock()
	resume := s.resume
	s.pauseMu.Unlock()
	if resume == nil {
		return nil
	}
	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNodes executes an inline sub-graph for loop bodies and parallel
// branches, sharing the parent run's event stream, failure policy, and
// concurrency budget.
func (e *Engine) RunNodes(ctx context.Context, parent *executors.Execution, nodes []blueprint.NodeSpec, rc *runctx.Context) (map[string]model.NodeResult, error) {
	depth := parent.Depth + 1
	if err := e.depthGuard(depth); err != nil {
		return nil, err
	}
	opts := Options{
		MaxParallel:   parent.MaxParallel,
		FailurePolicy: parent.FailurePolicy,
	}.normalized(e.cfg)
	report := e.runGraph(ctx, parent.RunID, nil, nodes, rc, opts, parent.Sem, depth, false)
	if !report.Success {
		return report.NodeResults, model.Errorf(model.KindExecution, "%s", report.Error)
	}
	return report.NodeResults, nil
}

// RunBlueprint executes a child workflow as its own run
func (e *Engine) RunBlueprint(ctx context.Context, bp *blueprint.Blueprint, initial map[string]interface{}, depth int) (*model.RunReport, error) {
	if err := e.depthGuard(depth); err != nil {
		return nil, err
	}
	report := e.Execute(ctx, NewRunID(), bp, initial, Options{})
	return report, nil
}

// depthGuard bounds sub-workflow nesting via ICE_MAX_DEPTH
func (e *Engine) depthGuard(depth int) error {
	if e.cfg.Runtime.MaxDepth > 0 && depth > e.cfg.Runtime.MaxDepth {
		return model.Errorf(model.KindDepth, "Depth guard aborted")
	}
	return nil
}

// runGraph is the level scheduler shared by full runs and sub-graphs.
// A nil sem starts a fresh budget; sub-graphs pass the parent's so
// nested dispatch never exceeds the run's max_parallel.
func (e *Engine) runGraph(ctx context.Context, runID string, state *runState, nodes []blueprint.NodeSpec, rc *runctx.Context, opts Options, sem *semaphore.Weighted, depth int, top bool) *model.RunReport {
	report := &model.RunReport{
		StartTime:   time.Now().UTC(),
		NodeResults: map[string]model.NodeResult{},
	}

	levels, err := computeLevels(nodes)
	if err != nil {
		report.Success = false
		report.Error = err.Error()
		report.EndTime = time.Now().UTC()
		return report
	}

	byID := map[string]*blueprint.NodeSpec{}
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	if top {
		e.bus.Emit(ctx, model.NewEvent(model.EventWorkflowStarted, runID).
			WithField("total_nodes", len(nodes)).
			WithField("total_levels", len(levels)))
		if e.metrics != nil {
			e.metrics.RunsStarted.Inc()
		}
	}

	var (
		resultMu sync.Mutex
		skipped  = map[string]bool{}
		failed   = map[string]bool{}
		totals   struct {
			tokens   int64
			cost     float64
			apiCalls int
		}
	)
	if sem == nil {
		sem = semaphore.NewWeighted(int64(opts.MaxParallel))
	}
	exec := &executors.Execution{
		RunID:         runID,
		Ctx:           rc,
		Depth:         depth,
		FailurePolicy: opts.FailurePolicy,
		MaxParallel:   opts.MaxParallel,
		Sem:           sem,
	}

	runFailed := func(message string) *model.RunReport {
		report.Success = false
		report.Error = message
		report.EndTime = time.Now().UTC()
		report.TotalTokens = totals.tokens
		report.TotalCost = totals.cost
		report.APICalls = totals.apiCalls
		if top {
			e.bus.Emit(ctx, model.NewEvent(model.EventWorkflowFailed, runID).
				WithField("error", message).
				WithField("completed", report.Completed).
				WithField("failed", report.Failed).
				WithField("skipped", report.Skipped).
				WithField("total_tokens", totals.tokens).
				WithField("total_cost_usd", totals.cost))
		}
		return report
	}

	for levelNum := 1; levelNum <= len(levels); levelNum++ {
		if ctx.Err() != nil {
			return runFailed("run cancelled")
		}
		if opts.DepthCeiling > 0 && levelNum > opts.DepthCeiling {
			return runFailed("Depth guard aborted")
		}
		if state != nil {
			if err := state.awaitResume(ctx); err != nil {
				return runFailed("run cancelled while paused")
			}
		}

		levelIDs := levels[levelNum]
		if top {
			e.bus.Emit(ctx, model.NewEvent(model.EventLevelStarted, runID).
				WithLevel(levelNum).
				WithField("nodes", levelIDs))
		}

		// Active set: drop skipped nodes and apply the failure policy
		// to nodes with failed dependencies.
		var active []*blueprint.NodeSpec
		for _, id := range levelIDs {
			node := byID[id]
			switch {
			case skipped[id]:
				e.markSkipped(ctx, runID, report, &resultMu, skipped, node, levelNum, "upstream branch disabled")
			case opts.FailurePolicy != PolicyAlways && hasFailedDep(node, failed):
				if opts.FailurePolicy == PolicyHalt {
					return runFailed("dependency failed: halting")
				}
				e.markSkipped(ctx, runID, report, &resultMu, skipped, node, levelNum, "upstream failure")
			default:
				active = append(active, node)
			}
		}

		var wg sync.WaitGroup
		for _, node := range active {
			node := node
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Loop and parallel nodes hold no slot of their own:
				// their bodies draw from this same semaphore, and an
				// ancestor keeping a slot while waiting on children
				// would deadlock the budget.
				if holdsSlot(node.Kind) {
					if err := sem.Acquire(ctx, 1); err != nil {
						resultMu.Lock()
						report.NodeResults[node.ID] = model.FailureResult(node.ID, string(node.Kind), time.Now().UTC(), model.Errorf(model.KindExecution, "run cancelled"))
						failed[node.ID] = true
						report.Failed++
						resultMu.Unlock()
						return
					}
					defer sem.Release(1)
				}

				result := e.runNode(ctx, runID, exec, node, levelNum)

				resultMu.Lock()
				report.NodeResults[node.ID] = result
				if result.Success {
					report.Completed++
					rc.Commit(node.ID, result)
					for _, branchID := range result.SkippedBranches {
						skipped[branchID] = true
					}
				} else {
					report.Failed++
					failed[node.ID] = true
				}
				if result.Usage != nil {
					totals.tokens += result.Usage.TotalTokens
					totals.cost += result.Usage.CostUSD
					totals.apiCalls++
					e.bus.Emit(ctx, model.NewEvent(model.EventTokenUpdate, runID).
						WithNode(node.ID).
						WithField("total_tokens", totals.tokens))
					e.bus.Emit(ctx, model.NewEvent(model.EventCostUpdate, runID).
						WithNode(node.ID).
						WithField("total_cost_usd", totals.cost))
				}
				resultMu.Unlock()
			}()
		}
		wg.Wait()

		if top {
			e.bus.Emit(ctx, model.NewEvent(model.EventLevelCompleted, runID).
				WithLevel(levelNum))
			if e.cfg.Service.LogLevel == "debug" {
				snapshot := map[string]interface{}{}
				for id, res := range rc.Results() {
					snapshot[id] = res.Output
				}
				e.bus.Emit(ctx, model.NewEvent(model.EventContextSnapshot, runID).
					WithLevel(levelNum).
					WithField("context_preview", preview(snapshot)))
			}
		}

		// Monitor verdicts from this level.
		action := e.levelMonitorAction(report, levelIDs)
		switch action {
		case executors.MonitorActionAbort:
			return runFailed("aborted by monitor")
		case executors.MonitorActionPause:
			if state != nil {
				state.pause()
			}
		}

		if message := e.budgetGuard(opts, totals.tokens, totals.cost); message != "" {
			return runFailed(message)
		}

		if opts.FailurePolicy == PolicyHalt {
			resultMu.Lock()
			anyFailed := len(failed) > 0
			resultMu.Unlock()
			if anyFailed {
				return runFailed(firstFailure(report))
			}
		}

		// Transitive skip propagation for later levels.
		propagateSkips(nodes, skipped)
	}

	report.EndTime = time.Now().UTC()
	report.TotalTokens = totals.tokens
	report.TotalCost = totals.cost
	report.APICalls = totals.apiCalls
	report.Success = report.Failed == 0

	if !report.Success {
		return runFailed(firstFailure(report))
	}

	if top {
		e.bus.Emit(ctx, model.NewEvent(model.EventWorkflowCompleted, runID).
			WithField("completed", report.Completed).
			WithField("failed", report.Failed).
			WithField("skipped", report.Skipped).
			WithField("total_tokens", totals.tokens).
			WithField("total_cost_usd", totals.cost).
			WithField("api_calls", totals.apiCalls).
			WithField("duration_seconds", report.EndTime.Sub(report.StartTime).Seconds()))
	}
	return report
}

// runNode dispatches one node with queued/started events and retries
func (e *Engine) runNode(ctx context.Context, runID string, exec *executors.Execution, node *blueprint.NodeSpec, level int) model.NodeResult {
	e.bus.Emit(ctx, model.NewEvent(model.EventNodeQueued, runID).WithNode(node.ID).WithLevel(level))

	executor, ok := e.set[node.Kind]
	if !ok {
		return model.FailureResult(node.ID, string(node.Kind), time.Now().UTC(),
			model.Errorf(model.KindRegistry, "NotFound: no executor for kind %q", node.Kind))
	}

	e.bus.Emit(ctx, model.NewEvent(model.EventNodeStarted, runID).WithNode(node.ID).WithLevel(level))

	var result model.NodeResult
	for attempt := 0; ; attempt++ {
		start := time.Now()
		result = executor.Execute(ctx, exec, node)
		result.Metadata.Retries = attempt

		if e.metrics != nil {
			outcome := "success"
			if !result.Success {
				outcome = "failure"
			}
			e.metrics.NodesExecuted.WithLabelValues(string(node.Kind), outcome).Inc()
			e.metrics.NodeDuration.WithLabelValues(string(node.Kind)).Observe(time.Since(start).Seconds())
		}

		if result.Success || attempt >= node.Retries || !retryable(result) || ctx.Err() != nil {
			break
		}

		delay := backoffDelay(node.BackoffSeconds, attempt)
		e.bus.Emit(ctx, model.NewEvent(model.EventNodeRetrying, runID).
			WithNode(node.ID).
			WithLevel(level).
			WithField("attempt", attempt+1).
			WithField("delay_seconds", delay.Seconds()).
			WithField("error", result.Error))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result
		}
	}

	if result.Success && len(node.OutputSchema) > 0 {
		if err := blueprint.CheckOutput(node.OutputSchema, result.Output); err != nil {
			e.bus.Emit(ctx, model.NewEvent(model.EventValidationError, runID).
				WithNode(node.ID).
				WithLevel(level).
				WithField("error", err.Error()))
			result = model.FailureResult(node.ID, string(node.Kind), time.Now().UTC(),
				model.Errorf(model.KindValidation, "OutputValidationError: %v", err))
		}
	}

	if result.Success {
		event := model.NewEvent(model.EventNodeCompleted, runID).
			WithNode(node.ID).
			WithLevel(level).
			WithField("duration", result.Metadata.Duration).
			WithField("output_preview", preview(result.Output))
		if result.Usage != nil {
			event = event.WithField("tokens", result.Usage.TotalTokens).
				WithField("cost_usd", result.Usage.CostUSD)
		}
		e.bus.Emit(ctx, event)
	} else {
		e.bus.Emit(ctx, model.NewEvent(model.EventNodeFailed, runID).
			WithNode(node.ID).
			WithLevel(level).
			WithField("error", result.Error).
			WithField("error_type", result.Metadata.ErrorType).
			WithField("retries", result.Metadata.Retries))
	}
	return result
}

func (e *Engine) markSkipped(ctx context.Context, runID string, report *model.RunReport, mu *sync.Mutex, skipped map[string]bool, node *blueprint.NodeSpec, level int, reason string) {
	mu.Lock()
	skipped[node.ID] = true
	report.Skipped++
	mu.Unlock()
	e.bus.Emit(ctx, model.NewEvent(model.EventNodeSkipped, runID).
		WithNode(node.ID).
		WithLevel(level).
		WithField("reason", reason))
	if e.metrics != nil {
		e.metrics.NodesExecuted.WithLabelValues(string(node.Kind), "skipped").Inc()
	}
}

// budgetGuard checks cumulative usage. Production fails closed; other
// modes honor BUDGET_FAIL_OPEN.
func (e *Engine) budgetGuard(opts Options, tokens int64, cost float64) string {
	overBudget := opts.OrgBudgetUSD > 0 && cost > opts.OrgBudgetUSD
	overTokens := opts.MaxTokens > 0 && tokens > opts.MaxTokens
	if !overBudget && !overTokens {
		return ""
	}

	failOpen := e.cfg.Runtime.BudgetFailOpen && !e.cfg.IsProduction()
	if failOpen {
		e.log.Warn("budget exceeded, continuing (fail-open)",
			"cost_usd", cost, "tokens", tokens)
		return ""
	}
	if overBudget {
		return "BudgetExceeded: cost limit reached"
	}
	return "BudgetExceeded: token limit reached"
}

// levelMonitorAction scans a level's results for monitor verdicts.
// Abort wins over pause.
func (e *Engine) levelMonitorAction(report *model.RunReport, levelIDs []string) string {
	action := executors.MonitorActionNone
	for _, id := range levelIDs {
		result, ok := report.NodeResults[id]
		if !ok || result.Output == nil {
			continue
		}
		taken, _ := result.Output["action_taken"].(string)
		switch taken {
		case executors.MonitorActionAbort:
			return executors.MonitorActionAbort
		case executors.MonitorActionPause:
			action = executors.MonitorActionPause
		}
	}
	return action
}

// computeLevels assigns level = 1 + max(dependency levels) and orders
// ids within a level by declaration order.
func computeLevels(nodes []blueprint.NodeSpec) (map[int][]string, error) {
	byID := map[string]*blueprint.NodeSpec{}
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	memo := map[string]int{}
	visiting := map[string]bool{}

	var levelOf func(id string) (int, error)
	levelOf = func(id string) (int, error) {
		if lvl, done := memo[id]; done {
			return lvl, nil
		}
		if visiting[id] {
			return 0, model.Errorf(model.KindValidation, "CircularDependencyError: cycle at %q", id)
		}
		node, ok := byID[id]
		if !ok {
			return 0, model.Errorf(model.KindValidation, "unknown dependency %q", id)
		}
		visiting[id] = true
		max := 0
		for _, dep := range node.Dependencies {
			depLevel, err := levelOf(dep)
			if err != nil {
				return 0, err
			}
			if depLevel > max {
				max = depLevel
			}
		}
		delete(visiting, id)
		memo[id] = max + 1
		return max + 1, nil
	}

	levels := map[int][]string{}
	for i := range nodes {
		lvl, err := levelOf(nodes[i].ID)
		if err != nil {
			return nil, err
		}
		levels[lvl] = append(levels[lvl], nodes[i].ID)
	}
	return levels, nil
}

// propagateSkips marks nodes downstream of skipped nodes
func propagateSkips(nodes []blueprint.NodeSpec, skipped map[string]bool) {
	for changed := true; changed; {
		changed = false
		for i := range nodes {
			node := &nodes[i]
			if skipped[node.ID] {
				continue
			}
			for _, dep := range node.Dependencies {
				if skipped[dep] {
					skipped[node.ID] = true
					changed = true
					break
				}
			}
		}
	}
}

// holdsSlot reports whether a node kind occupies a semaphore slot
// while it runs. Composite kinds whose bodies share the run semaphore
// do not.
func holdsSlot(kind blueprint.Kind) bool {
	return kind != blueprint.KindLoop && kind != blueprint.KindParallel
}

func hasFailedDep(node *blueprint.NodeSpec, failed map[string]bool) bool {
	for _, dep := range node.Dependencies {
		if failed[dep] {
			return true
		}
	}
	return false
}

func retryable(result model.NodeResult) bool {
	switch result.Metadata.ErrorType {
	case model.KindExecution.String(), model.KindTimeout.String():
		return true
	}
	return false
}

// backoffDelay is backoff_seconds doubled per attempt. Zero means
// immediate retry.
func backoffDelay(backoffSeconds float64, attempt int) time.Duration {
	if backoffSeconds <= 0 {
		return 0
	}
	multiplier := 1 << attempt
	return time.Duration(backoffSeconds * float64(multiplier) * float64(time.Second))
}

// preview renders a bounded JSON snippet of an output map
func preview(output map[string]interface{}) string {
	if output == nil {
		return ""
	}
	encoded, err := json.Marshal(output)
	if err != nil {
		return ""
	}
	const limit = 256
	if len(encoded) > limit {
		return string(encoded[:limit]) + "…"
	}
	return string(encoded)
}

func firstFailure(report *model.RunReport) string {
	ids := make([]string, 0, len(report.NodeResults))
	for id := range report.NodeResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		result := report.NodeResults[id]
		if !result.Success && result.Error != "" {
			return "node " + id + ": " + result.Error
		}
	}
	return "workflow failed"
}
