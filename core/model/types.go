package model

import (
	"time"
)

// RunStatus is the lifecycle state of a workflow run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run represents a single execution of a blueprint
type Run struct {
	RunID       string                 `json:"run_id"`
	BlueprintID string                 `json:"blueprint_id"`
	Status      RunStatus              `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	CostMeta    map[string]interface{} `json:"cost_meta,omitempty"`
}

// NodeMetadata captures execution bookkeeping for a single node attempt
type NodeMetadata struct {
	NodeID    string    `json:"node_id"`
	Kind      string    `json:"kind"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // seconds
	Provider  string    `json:"provider,omitempty"`
	ErrorType string    `json:"error_type,omitempty"`
	Retries   int       `json:"retries,omitempty"`
}

// Usage holds token accounting reported by an LLM provider
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Model            string  `json:"model,omitempty"`
	Provider         string  `json:"provider,omitempty"`
}

// NodeResult is the outcome of executing one node. Executors never panic
// or throw; every failure is carried here with its taxonomy kind in
// Metadata.ErrorType.
type NodeResult struct {
	Success  bool                   `json:"success"`
	Output   map[string]interface{} `json:"output"`
	Error    string                 `json:"error,omitempty"`
	Metadata NodeMetadata           `json:"metadata"`
	Usage    *Usage                 `json:"usage,omitempty"`

	// Branch decisions from condition nodes: ids enabled / skipped
	// downstream. Consumed by the engine's skip-propagation table.
	EnabledBranches []string `json:"-"`
	SkippedBranches []string `json:"-"`
}

// FailureResult builds a failed NodeResult from an error
func FailureResult(nodeID, kind string, start time.Time, err error) NodeResult {
	end := time.Now().UTC()
	return NodeResult{
		Success: false,
		Error:   err.Error(),
		Metadata: NodeMetadata{
			NodeID:    nodeID,
			Kind:      kind,
			StartTime: start,
			EndTime:   end,
			Duration:  end.Sub(start).Seconds(),
			ErrorType: KindOf(err).String(),
		},
	}
}

// RunReport is the aggregated outcome of a run
type RunReport struct {
	RunID       string                `json:"run_id"`
	Success     bool                  `json:"success"`
	StartTime   time.Time             `json:"start_time"`
	EndTime     time.Time             `json:"end_time"`
	Error       string                `json:"error,omitempty"`
	NodeResults map[string]NodeResult `json:"node_results"`
	Completed   int                   `json:"completed"`
	Failed      int                   `json:"failed"`
	Skipped     int                   `json:"skipped"`
	TotalTokens int64                 `json:"total_tokens"`
	TotalCost   float64               `json:"total_cost_usd"`
	APICalls    int                   `json:"api_calls"`
}

// Output returns the outputs of all successful nodes keyed by node id.
func (r *RunReport) Output() map[string]interface{} {
	out := make(map[string]interface{}, len(r.NodeResults))
	for id, res := range r.NodeResults {
		if res.Success {
			out[id] = res.Output
		}
	}
	return out
}
