package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for the engine and control plane.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	NodesExecuted *prometheus.CounterVec
	NodeDuration  *prometheus.HistogramVec
	TokensUsed    prometheus.Counter
	CostUSD       prometheus.Counter
	EventsEmitted *prometheus.CounterVec
}

// New registers collectors on the given registerer and returns them.
// Pass prometheus.DefaultRegisterer in binaries; a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "iceos_runs_started_total",
			Help: "Number of workflow runs started.",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iceos_runs_completed_total",
			Help: "Number of workflow runs finished, by terminal status.",
		}, []string{"status"}),
		NodesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iceos_nodes_executed_total",
			Help: "Number of node executions, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iceos_node_duration_seconds",
			Help:    "Wall-clock duration of node executions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"kind"}),
		TokensUsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "iceos_llm_tokens_total",
			Help: "Total LLM tokens consumed across runs.",
		}),
		CostUSD: factory.NewCounter(prometheus.CounterOpts{
			Name: "iceos_llm_cost_usd_total",
			Help: "Total estimated LLM cost in USD.",
		}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iceos_events_emitted_total",
			Help: "Execution events emitted, by event type.",
		}, []string{"event_type"}),
	}
}
