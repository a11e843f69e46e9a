package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceos-ai/iceos/common/config"
	"github.com/iceos-ai/iceos/common/logger"
	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/events"
	"github.com/iceos-ai/iceos/core/expr"
	"github.com/iceos-ai/iceos/core/llm"
	"github.com/iceos-ai/iceos/core/executors"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/registry"
)

type recorder struct {
	mu     sync.Mutex
	events []model.ExecutionEvent
}

func (r *recorder) record(_ context.Context, ev model.ExecutionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) ofType(eventType model.EventType) []model.ExecutionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ExecutionEvent
	for _, ev := range r.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *registry.Registry, *recorder) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{
			Runtime: config.RuntimeConfig{Mode: config.ModeDevelopment},
			LLM: config.LLMConfig{
				DefaultProvider: llm.EchoProvider,
				DefaultModel:    "echo-1",
			},
		}
	}

	reg := registry.New()
	evaluator, err := expr.NewEvaluator()
	require.NoError(t, err)

	rec := &recorder{}
	bus := events.NewBus(nil, 0, logger.Discard())
	bus.Subscribe(rec.record)

	deps := &executors.Deps{
		Registry: reg,
		LLM:      llm.NewService(reg, cfg, nil, logger.Discard()),
		Expr:     evaluator,
		Bus:      bus,
		Config:   cfg,
		Log:      logger.Discard(),
	}

	eng, err := New(&Deps{Executors: deps, Log: logger.Discard()})
	require.NoError(t, err)
	return eng, reg, rec
}

func schema() map[string]interface{} {
	return map[string]interface{}{"result": "string"}
}

func TestExecute_LinearToolChain(t *testing.T) {
	eng, reg, rec := newTestEngine(t, nil)

	var order []string
	var mu sync.Mutex
	for _, name := range []string{"extract", "transform", "load"} {
		name := name
		require.NoError(t, reg.RegisterInstance(name, toolFunc(func(_ map[string]interface{}) map[string]interface{} {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return map[string]interface{}{"result": name}
		})))
	}

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "extract", Kind: blueprint.KindTool, ToolName: "extract", OutputSchema: schema()},
		{ID: "transform", Kind: blueprint.KindTool, ToolName: "transform", Dependencies: []string{"extract"}, OutputSchema: schema()},
		{ID: "load", Kind: blueprint.KindTool, ToolName: "load", Dependencies: []string{"transform"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.True(t, report.Success, report.Error)
	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, []string{"extract", "transform", "load"}, order)

	assert.Len(t, rec.ofType(model.EventWorkflowStarted), 1)
	assert.Len(t, rec.ofType(model.EventWorkflowCompleted), 1)
	assert.Len(t, rec.ofType(model.EventLevelStarted), 3)
	assert.Len(t, rec.ofType(model.EventNodeCompleted), 3)
}

type toolFunc func(args map[string]interface{}) map[string]interface{}

func (f toolFunc) Execute(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return f(args), nil
}

func TestExecute_ConditionalBranchSkip(t *testing.T) {
	eng, reg, rec := newTestEngine(t, nil)

	executed := map[string]bool{}
	var mu sync.Mutex
	for _, name := range []string{"check", "publish", "review", "after_review"} {
		name := name
		require.NoError(t, reg.RegisterInstance(name, toolFunc(func(_ map[string]interface{}) map[string]interface{} {
			mu.Lock()
			executed[name] = true
			mu.Unlock()
			return map[string]interface{}{"result": name, "score": 9}
		})))
	}

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "check", Kind: blueprint.KindTool, ToolName: "check", OutputSchema: schema()},
		{
			ID: "gate", Kind: blueprint.KindCondition,
			Dependencies: []string{"check"},
			Expression:   "check.score > 5",
			TrueBranch:   []string{"publish"},
			FalseBranch:  []string{"review"},
			OutputSchema: map[string]interface{}{"result": "bool"},
		},
		{ID: "publish", Kind: blueprint.KindTool, ToolName: "publish", Dependencies: []string{"gate"}, OutputSchema: schema()},
		{ID: "review", Kind: blueprint.KindTool, ToolName: "review", Dependencies: []string{"gate"}, OutputSchema: schema()},
		{ID: "after_review", Kind: blueprint.KindTool, ToolName: "after_review", Dependencies: []string{"review"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.True(t, report.Success, report.Error)
	assert.True(t, executed["publish"])
	assert.False(t, executed["review"], "false branch is skipped")
	assert.False(t, executed["after_review"], "skip propagates downstream")
	assert.Equal(t, 2, report.Skipped)
	assert.Len(t, rec.ofType(model.EventNodeSkipped), 2)
}

func TestExecute_RetryWithBackoff(t *testing.T) {
	eng, reg, rec := newTestEngine(t, nil)

	var attempts int
	var mu sync.Mutex
	require.NoError(t, reg.RegisterInstance("flaky", flakyTool{fails: 2, attempts: &attempts, mu: &mu}))

	bp := blueprint.New([]blueprint.NodeSpec{{
		ID: "flaky", Kind: blueprint.KindTool, ToolName: "flaky",
		Retries: 3, BackoffSeconds: 0.05,
		OutputSchema: schema(),
	}})

	start := time.Now()
	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})
	elapsed := time.Since(start)

	require.True(t, report.Success, report.Error)
	assert.Equal(t, 3, attempts, "two failures then a success")
	assert.Equal(t, 2, report.NodeResults["flaky"].Metadata.Retries)

	retries := rec.ofType(model.EventNodeRetrying)
	require.Len(t, retries, 2)
	assert.InDelta(t, 0.05, retries[0].Fields["delay_seconds"], 1e-9)
	assert.InDelta(t, 0.10, retries[1].Fields["delay_seconds"], 1e-9)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "backoff delays are honored")
}

type flakyTool struct {
	fails    int
	attempts *int
	mu       *sync.Mutex
}

func (f flakyTool) Execute(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.attempts++
	if *f.attempts <= f.fails {
		return nil, model.Errorf(model.KindExecution, "transient failure %d", *f.attempts)
	}
	return map[string]interface{}{"result": "ok"}, nil
}

func TestExecute_ValidationErrorsNeverRetry(t *testing.T) {
	eng, reg, rec := newTestEngine(t, nil)

	calls := 0
	var mu sync.Mutex
	require.NoError(t, reg.RegisterInstance("broken", toolErrFunc(func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		return model.Errorf(model.KindValidation, "bad input shape")
	})))

	bp := blueprint.New([]blueprint.NodeSpec{{
		ID: "broken", Kind: blueprint.KindTool, ToolName: "broken",
		Retries: 5, OutputSchema: schema(),
	}})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.False(t, report.Success)
	assert.Equal(t, 1, calls, "validation failures are not retryable")
	assert.Empty(t, rec.ofType(model.EventNodeRetrying))
}

type toolErrFunc func() error

func (f toolErrFunc) Execute(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	return nil, f()
}

func TestExecute_HaltPolicy(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)

	downstream := false
	var mu sync.Mutex
	require.NoError(t, reg.RegisterInstance("boom", toolErrFunc(func() error {
		return model.Errorf(model.KindExecution, "exploded")
	})))
	require.NoError(t, reg.RegisterInstance("next", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		mu.Lock()
		downstream = true
		mu.Unlock()
		return map[string]interface{}{"result": "next"}
	})))

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "boom", Kind: blueprint.KindTool, ToolName: "boom", OutputSchema: schema()},
		{ID: "next", Kind: blueprint.KindTool, ToolName: "next", Dependencies: []string{"boom"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{FailurePolicy: PolicyHalt})

	require.False(t, report.Success)
	assert.False(t, downstream)
	assert.Contains(t, report.Error, "exploded")
}

func TestExecute_ContinuePossiblePolicy(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)

	executed := map[string]bool{}
	var mu sync.Mutex
	mark := func(name string) registry.Tool {
		return toolFunc(func(_ map[string]interface{}) map[string]interface{} {
			mu.Lock()
			executed[name] = true
			mu.Unlock()
			return map[string]interface{}{"result": name}
		})
	}
	require.NoError(t, reg.RegisterInstance("boom", toolErrFunc(func() error {
		return model.Errorf(model.KindExecution, "exploded")
	})))
	require.NoError(t, reg.RegisterInstance("ok", mark("ok")))
	require.NoError(t, reg.RegisterInstance("tainted", mark("tainted")))
	require.NoError(t, reg.RegisterInstance("clean", mark("clean")))

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "boom", Kind: blueprint.KindTool, ToolName: "boom", OutputSchema: schema()},
		{ID: "ok", Kind: blueprint.KindTool, ToolName: "ok", OutputSchema: schema()},
		{ID: "tainted", Kind: blueprint.KindTool, ToolName: "tainted", Dependencies: []string{"boom"}, OutputSchema: schema()},
		{ID: "clean", Kind: blueprint.KindTool, ToolName: "clean", Dependencies: []string{"ok"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{FailurePolicy: PolicyContinuePossible})

	require.False(t, report.Success, "a failed node fails the run overall")
	assert.True(t, executed["ok"])
	assert.True(t, executed["clean"], "clean dependency chains keep running")
	assert.False(t, executed["tainted"], "failed dependency chains are skipped")
}

func TestExecute_AlwaysPolicy(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)

	executed := false
	var mu sync.Mutex
	require.NoError(t, reg.RegisterInstance("boom", toolErrFunc(func() error {
		return model.Errorf(model.KindExecution, "exploded")
	})))
	require.NoError(t, reg.RegisterInstance("anyway", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		mu.Lock()
		executed = true
		mu.Unlock()
		return map[string]interface{}{"result": "ran"}
	})))

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "boom", Kind: blueprint.KindTool, ToolName: "boom", OutputSchema: schema()},
		{ID: "anyway", Kind: blueprint.KindTool, ToolName: "anyway", Dependencies: []string{"boom"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{FailurePolicy: PolicyAlways})

	require.False(t, report.Success)
	assert.True(t, executed, "always policy runs dependents of failed nodes")
	assert.Equal(t, 1, report.Completed)
}

func TestExecute_CycleRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "a", Kind: blueprint.KindTool, ToolName: "t", Dependencies: []string{"b"}, OutputSchema: schema()},
		{ID: "b", Kind: blueprint.KindTool, ToolName: "t", Dependencies: []string{"a"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.False(t, report.Success)
	assert.Contains(t, report.Error, "CircularDependencyError")
}

func TestExecute_DepthGuard(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)
	require.NoError(t, reg.RegisterInstance("t", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"result": "ok"}
	})))

	// Five-level chain with a ceiling of four.
	nodes := []blueprint.NodeSpec{{ID: "n1", Kind: blueprint.KindTool, ToolName: "t", OutputSchema: schema()}}
	for i := 2; i <= 5; i++ {
		nodes = append(nodes, blueprint.NodeSpec{
			ID: nodeID(i), Kind: blueprint.KindTool, ToolName: "t",
			Dependencies: []string{nodeID(i - 1)}, OutputSchema: schema(),
		})
	}

	report := eng.Execute(context.Background(), NewRunID(), blueprint.New(nodes), nil, Options{DepthCeiling: 4})

	require.False(t, report.Success)
	assert.Equal(t, "Depth guard aborted", report.Error)
	assert.Equal(t, 4, report.Completed, "levels up to the ceiling complete")
}

func nodeID(i int) string {
	return "n" + string(rune('0'+i))
}

func TestExecute_BudgetGuard(t *testing.T) {
	cfg := &config.Config{
		Runtime: config.RuntimeConfig{Mode: config.ModeProduction},
		LLM: config.LLMConfig{
			DefaultProvider: llm.EchoProvider,
			DefaultModel:    "echo-1",
		},
	}
	eng, _, _ := newTestEngine(t, cfg)

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "gen1", Kind: blueprint.KindLLM, Model: "echo-1", Provider: llm.EchoProvider,
			Prompt: "write a long essay about workflow scheduling and resource budgets"},
		{ID: "gen2", Kind: blueprint.KindLLM, Model: "echo-1", Provider: llm.EchoProvider,
			Prompt: "another prompt", Dependencies: []string{"gen1"}},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{MaxTokens: 1})

	require.False(t, report.Success)
	assert.Contains(t, report.Error, "BudgetExceeded")
	assert.Equal(t, 1, report.Completed, "guard trips at the level boundary")
}

func TestExecute_BudgetFailOpen(t *testing.T) {
	cfg := &config.Config{
		Runtime: config.RuntimeConfig{Mode: config.ModeDevelopment, BudgetFailOpen: true},
		LLM: config.LLMConfig{
			DefaultProvider: llm.EchoProvider,
			DefaultModel:    "echo-1",
		},
	}
	eng, _, _ := newTestEngine(t, cfg)

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "gen1", Kind: blueprint.KindLLM, Model: "echo-1", Provider: llm.EchoProvider, Prompt: "first"},
		{ID: "gen2", Kind: blueprint.KindLLM, Model: "echo-1", Provider: llm.EchoProvider,
			Prompt: "second", Dependencies: []string{"gen1"}},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{MaxTokens: 1})

	require.True(t, report.Success, "fail-open logs and continues outside production")
	assert.Equal(t, 2, report.Completed)
}

func TestExecute_MonitorAbort(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)

	downstream := false
	var mu sync.Mutex
	require.NoError(t, reg.RegisterInstance("emit", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"result": "x", "cost": 100}
	})))
	require.NoError(t, reg.RegisterInstance("later", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		mu.Lock()
		downstream = true
		mu.Unlock()
		return map[string]interface{}{"result": "later"}
	})))

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "emit", Kind: blueprint.KindTool, ToolName: "emit", OutputSchema: schema()},
		{
			ID: "watch", Kind: blueprint.KindMonitor,
			Dependencies:     []string{"emit"},
			MetricExpression: "emit.cost > 50",
			ActionOnTrigger:  blueprint.ActionAbort,
			OutputSchema:     map[string]interface{}{"action_taken": "string"},
		},
		{ID: "later", Kind: blueprint.KindTool, ToolName: "later", Dependencies: []string{"watch"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.False(t, report.Success)
	assert.Contains(t, report.Error, "aborted by monitor")
	assert.False(t, downstream)
}

func TestExecute_Cancel(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)

	started := make(chan struct{})
	require.NoError(t, reg.RegisterInstance("slow", slowCancelTool{started: started}))

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "slow", Kind: blueprint.KindTool, ToolName: "slow", OutputSchema: schema()},
		{ID: "after", Kind: blueprint.KindTool, ToolName: "slow", Dependencies: []string{"slow"}, OutputSchema: schema()},
	})

	runID := NewRunID()
	done := make(chan *model.RunReport, 1)
	go func() {
		done <- eng.Execute(context.Background(), runID, bp, nil, Options{})
	}()

	<-started
	require.True(t, eng.Cancel(runID))

	select {
	case report := <-done:
		require.False(t, report.Success)
	case <-time.After(3 * time.Second):
		t.Fatal("cancelled run did not settle")
	}
	assert.False(t, eng.Running(runID))
}

type slowCancelTool struct {
	started chan struct{}
}

func (s slowCancelTool) Execute(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	select {
	case <-time.After(10 * time.Second):
		return map[string]interface{}{"result": "late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestExecute_MaxParallelBound(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)

	var mu sync.Mutex
	current, peak := 0, 0
	require.NoError(t, reg.RegisterInstance("par", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
		return map[string]interface{}{"result": "ok"}
	})))

	var nodes []blueprint.NodeSpec
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		nodes = append(nodes, blueprint.NodeSpec{
			ID: id, Kind: blueprint.KindTool, ToolName: "par", OutputSchema: schema(),
		})
	}

	report := eng.Execute(context.Background(), NewRunID(), blueprint.New(nodes), nil, Options{MaxParallel: 2})

	require.True(t, report.Success, report.Error)
	assert.LessOrEqual(t, peak, 2, "max_parallel bounds concurrent dispatch")
}

func TestExecute_OutputSchemaEnforced(t *testing.T) {
	eng, reg, rec := newTestEngine(t, nil)
	require.NoError(t, reg.RegisterInstance("sloppy", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"something_else": 1}
	})))

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "sloppy", Kind: blueprint.KindTool, ToolName: "sloppy", OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.False(t, report.Success)
	assert.Contains(t, report.Error, "OutputValidationError")
	assert.Equal(t, 1, report.Failed)

	violations := rec.ofType(model.EventValidationError)
	require.Len(t, violations, 1)
	assert.Equal(t, "sloppy", violations[0].NodeID)
}

func TestExecute_ZeroBackoffRetriesImmediately(t *testing.T) {
	eng, reg, rec := newTestEngine(t, nil)

	var attempts int
	var mu sync.Mutex
	require.NoError(t, reg.RegisterInstance("flaky", flakyTool{fails: 2, attempts: &attempts, mu: &mu}))

	bp := blueprint.New([]blueprint.NodeSpec{{
		ID: "flaky", Kind: blueprint.KindTool, ToolName: "flaky",
		Retries:      3,
		OutputSchema: schema(),
	}})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.True(t, report.Success, report.Error)
	retries := rec.ofType(model.EventNodeRetrying)
	require.Len(t, retries, 2)
	for _, ev := range retries {
		assert.InDelta(t, 0.0, ev.Fields["delay_seconds"], 1e-9)
	}
}

func TestExecute_DebugContextSnapshots(t *testing.T) {
	cfg := &config.Config{
		Service: config.ServiceConfig{LogLevel: "debug"},
		Runtime: config.RuntimeConfig{Mode: config.ModeDevelopment},
		LLM: config.LLMConfig{
			DefaultProvider: llm.EchoProvider,
			DefaultModel:    "echo-1",
		},
	}
	eng, reg, rec := newTestEngine(t, cfg)
	require.NoError(t, reg.RegisterInstance("t", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"result": "ok"}
	})))

	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "a", Kind: blueprint.KindTool, ToolName: "t", OutputSchema: schema()},
		{ID: "b", Kind: blueprint.KindTool, ToolName: "t", Dependencies: []string{"a"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.True(t, report.Success, report.Error)
	snapshots := rec.ofType(model.EventContextSnapshot)
	require.Len(t, snapshots, 2, "one snapshot per level at debug log level")
	assert.Contains(t, snapshots[1].Fields["context_preview"], "a")
}

func TestExecute_SubGraphSharesConcurrencyBudget(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)

	var mu sync.Mutex
	current, peak := 0, 0
	require.NoError(t, reg.RegisterInstance("par", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
		return map[string]interface{}{"result": "ok"}
	})))

	bp := blueprint.New([]blueprint.NodeSpec{{
		ID: "fan", Kind: blueprint.KindParallel,
		WaitStrategy: blueprint.WaitAll,
		Branches: [][]blueprint.NodeSpec{
			{{ID: "b1", Kind: blueprint.KindTool, ToolName: "par", OutputSchema: schema()}},
			{{ID: "b2", Kind: blueprint.KindTool, ToolName: "par", OutputSchema: schema()}},
			{{ID: "b3", Kind: blueprint.KindTool, ToolName: "par", OutputSchema: schema()}},
		},
	}})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{MaxParallel: 1})

	require.True(t, report.Success, report.Error)
	assert.LessOrEqual(t, peak, 1, "branch sub-graphs draw from the run's semaphore")
}

func TestExecute_LoopFollowsFailurePolicy(t *testing.T) {
	eng, reg, _ := newTestEngine(t, nil)

	var calls int
	var mu sync.Mutex
	require.NoError(t, reg.RegisterInstance("step", toolErrMaybe(func() (map[string]interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return nil, model.Errorf(model.KindExecution, "second item rejected")
		}
		return map[string]interface{}{"result": "ok"}, nil
	})))

	loop := blueprint.NodeSpec{
		ID: "each", Kind: blueprint.KindLoop,
		ItemsSource: "items",
		ItemVar:     "item",
		Body:        []blueprint.NodeSpec{{ID: "work", Kind: blueprint.KindTool, ToolName: "step", OutputSchema: schema()}},
	}
	initial := map[string]interface{}{"items": []interface{}{"a", "b", "c"}}

	report := eng.Execute(context.Background(), NewRunID(),
		blueprint.New([]blueprint.NodeSpec{loop}), initial, Options{FailurePolicy: PolicyAlways})

	require.True(t, report.Success, report.Error)
	loopResult := report.NodeResults["each"]
	assert.Equal(t, 3, loopResult.Output["iterations"])
	assert.Equal(t, 1, loopResult.Output["failed_iterations"])
	assert.Equal(t, 3, calls, "remaining iterations still run")

	// Under halt the first failing iteration fails the loop node.
	mu.Lock()
	calls = 0
	mu.Unlock()
	report = eng.Execute(context.Background(), NewRunID(),
		blueprint.New([]blueprint.NodeSpec{loop}), initial, Options{FailurePolicy: PolicyHalt})

	require.False(t, report.Success)
	assert.Contains(t, report.Error, "iteration 1 failed")
	assert.Equal(t, 2, calls)
}

type toolErrMaybe func() (map[string]interface{}, error)

func (f toolErrMaybe) Execute(context.Context, map[string]interface{}) (map[string]interface{}, error) {
	return f()
}

func TestExecute_LevelOrdering(t *testing.T) {
	eng, reg, rec := newTestEngine(t, nil)
	require.NoError(t, reg.RegisterInstance("t", toolFunc(func(_ map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"result": "ok"}
	})))

	// Diamond: a → (b, c) → d gives three levels.
	bp := blueprint.New([]blueprint.NodeSpec{
		{ID: "a", Kind: blueprint.KindTool, ToolName: "t", OutputSchema: schema()},
		{ID: "b", Kind: blueprint.KindTool, ToolName: "t", Dependencies: []string{"a"}, OutputSchema: schema()},
		{ID: "c", Kind: blueprint.KindTool, ToolName: "t", Dependencies: []string{"a"}, OutputSchema: schema()},
		{ID: "d", Kind: blueprint.KindTool, ToolName: "t", Dependencies: []string{"b", "c"}, OutputSchema: schema()},
	})

	report := eng.Execute(context.Background(), NewRunID(), bp, nil, Options{})

	require.True(t, report.Success, report.Error)
	levels := rec.ofType(model.EventLevelStarted)
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a"}, levels[0].Fields["nodes"])
	assert.ElementsMatch(t, []string{"b", "c"}, levels[1].Fields["nodes"])
	assert.Equal(t, []string{"d"}, levels[2].Fields["nodes"])
}
