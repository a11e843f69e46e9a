package blueprint

import (
	"fmt"
	"regexp"
)

// Kind discriminates the node variants of a blueprint
type Kind string

const (
	KindTool      Kind = "tool"
	KindLLM       Kind = "llm"
	KindAgent     Kind = "agent"
	KindCondition Kind = "condition"
	KindLoop      Kind = "loop"
	KindParallel  Kind = "parallel"
	KindWorkflow  Kind = "workflow"
	KindRecursive Kind = "recursive"
	KindCode      Kind = "code"
	KindHuman     Kind = "human"
	KindMonitor   Kind = "monitor"
	KindSwarm     Kind = "swarm"
)

// Kinds lists every valid node kind in declaration order
var Kinds = []Kind{
	KindTool, KindLLM, KindAgent, KindCondition, KindLoop, KindParallel,
	KindWorkflow, KindRecursive, KindCode, KindHuman, KindMonitor, KindSwarm,
}

// Wait strategies for parallel nodes
const (
	WaitAll  = "all"
	WaitAny  = "any"
	WaitRace = "race"
)

// Approval types for human nodes
const (
	ApprovalApproveReject = "approve_reject"
	ApprovalInputRequired = "input_required"
	ApprovalChoice        = "choice"
)

// Monitor trigger actions
const (
	ActionPause     = "pause"
	ActionAbort     = "abort"
	ActionAlertOnly = "alert_only"
)

// Swarm coordination strategies
const (
	StrategyConsensus    = "consensus"
	StrategyHierarchical = "hierarchical"
	StrategyMarketplace  = "marketplace"
)

var nodeIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// InputMapping routes a consumer field to a producer's dotted output path
type InputMapping struct {
	SourceNodeID     string `json:"source_node_id"`
	SourceOutputPath string `json:"source_output_path"`
}

// LLMConfig selects the provider and generation parameters for llm nodes
type LLMConfig struct {
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// AgentSpec names one member of a swarm
type AgentSpec struct {
	Role    string                 `json:"role"`
	Package string                 `json:"package"`
	Config  map[string]interface{} `json:"config,omitempty"`
}

// NodeSpec is the authoring-time description of a single node. Kind
// discriminates which of the optional field groups applies; the
// validator rejects specs whose kind-specific fields are incomplete.
type NodeSpec struct {
	ID             string                  `json:"id"`
	Kind           Kind                    `json:"kind"`
	Dependencies   []string                `json:"dependencies,omitempty"`
	InputMappings  map[string]InputMapping `json:"input_mappings,omitempty"`
	InputSelection []string                `json:"input_selection,omitempty"`
	OutputSchema   map[string]interface{}  `json:"output_schema,omitempty"`
	InputSchema    map[string]interface{}  `json:"input_schema,omitempty"`
	Retries        int                     `json:"retries,omitempty"`
	BackoffSeconds float64                 `json:"backoff_seconds,omitempty"`
	TimeoutSeconds float64                 `json:"timeout_seconds,omitempty"`
	Provider       string                  `json:"provider,omitempty"`

	// tool
	ToolName string                 `json:"tool_name,omitempty"`
	ToolArgs map[string]interface{} `json:"tool_args,omitempty"`

	// llm
	Model     string     `json:"model,omitempty"`
	Prompt    string     `json:"prompt,omitempty"`
	LLMConfig *LLMConfig `json:"llm_config,omitempty"`
	LLMName   string     `json:"llm_name,omitempty"`

	// agent / recursive
	Package       string                 `json:"package,omitempty"`
	AgentConfig   map[string]interface{} `json:"agent_config,omitempty"`
	MaxIterations int                    `json:"max_iterations,omitempty"`
	AllowedTools  []string               `json:"allowed_tools,omitempty"`

	// condition
	Expression  string   `json:"expression,omitempty"`
	TrueBranch  []string `json:"true_branch,omitempty"`
	FalseBranch []string `json:"false_branch,omitempty"`

	// loop
	ItemsSource string     `json:"items_source,omitempty"`
	ItemVar     string     `json:"item_var,omitempty"`
	Body        []NodeSpec `json:"body,omitempty"`

	// parallel
	Branches     [][]NodeSpec `json:"branches,omitempty"`
	WaitStrategy string       `json:"wait_strategy,omitempty"`
	MergeOutputs bool         `json:"merge_outputs,omitempty"`

	// workflow
	WorkflowRef     string                 `json:"workflow_ref,omitempty"`
	ConfigOverrides map[string]interface{} `json:"config_overrides,omitempty"`
	ExposedOutputs  map[string]string      `json:"exposed_outputs,omitempty"`

	// recursive
	AgentPackage         string `json:"agent_package,omitempty"`
	ConvergenceCondition string `json:"convergence_condition,omitempty"`
	ContextKey           string `json:"context_key,omitempty"`
	PreserveContext      bool   `json:"preserve_context,omitempty"`

	// code
	Language string   `json:"language,omitempty"`
	Code     string   `json:"code,omitempty"`
	Imports  []string `json:"imports,omitempty"`
	Sandbox  *bool    `json:"sandbox,omitempty"`

	// human
	PromptMessage string   `json:"prompt_message,omitempty"`
	ApprovalType  string   `json:"approval_type,omitempty"`
	Choices       []string `json:"choices,omitempty"`

	// monitor
	MetricExpression string   `json:"metric_expression,omitempty"`
	ActionOnTrigger  string   `json:"action_on_trigger,omitempty"`
	AlertChannels    []string `json:"alert_channels,omitempty"`

	// swarm
	Agents               []AgentSpec `json:"agents,omitempty"`
	CoordinationStrategy string      `json:"coordination_strategy,omitempty"`
}

// ValidID reports whether a node id matches the accepted identifier form
func ValidID(id string) bool {
	return nodeIDPattern.MatchString(id)
}

// SandboxEnabled reports the effective sandbox flag for code nodes.
// Absent means enabled; untrusted code never runs outside the sandbox.
func (n *NodeSpec) SandboxEnabled() bool {
	return n.Sandbox == nil || *n.Sandbox
}

// EffectiveTimeout returns the node's timeout or the given default
func (n *NodeSpec) EffectiveTimeout(defaultSeconds float64) float64 {
	if n.TimeoutSeconds > 0 {
		return n.TimeoutSeconds
	}
	return defaultSeconds
}

// RuntimeValidate applies kind-specific structural checks. Graph-level
// checks (referential integrity, cycles) belong to the blueprint
// validator; this only inspects the node itself.
func (n *NodeSpec) RuntimeValidate() []error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if n.Retries < 0 {
		fail("retries must be >= 0")
	}
	if n.BackoffSeconds < 0 {
		fail("backoff_seconds must be >= 0")
	}
	if n.TimeoutSeconds < 0 {
		fail("timeout_seconds must be > 0 when set")
	}

	switch n.Kind {
	case KindTool:
		if n.ToolName == "" {
			fail("tool node requires tool_name")
		}

	case KindLLM:
		if n.Prompt == "" {
			fail("llm node requires prompt")
		}
		if n.Model == "" && (n.LLMConfig == nil || n.LLMConfig.Model == "") {
			fail("llm node requires model or llm_config.model")
		}

	case KindAgent:
		if n.Package == "" {
			fail("agent node requires package")
		}
		if n.MaxIterations < 0 {
			fail("max_iterations must be >= 0")
		}

	case KindCondition:
		if n.Expression == "" {
			fail("condition node requires expression")
		}
		if len(n.TrueBranch) == 0 && len(n.FalseBranch) == 0 {
			fail("condition node requires true_branch or false_branch")
		}

	case KindLoop:
		if n.ItemsSource == "" {
			fail("loop node requires items_source")
		}
		if n.ItemVar == "" {
			fail("loop node requires item_var")
		}
		if len(n.Body) == 0 {
			fail("loop node requires a non-empty body")
		}
		if n.MaxIterations <= 0 {
			fail("loop node requires max_iterations > 0")
		}

	case KindParallel:
		if len(n.Branches) == 0 {
			fail("parallel node requires at least one branch")
		}
		switch n.WaitStrategy {
		case WaitAll, WaitAny, WaitRace, "":
		default:
			fail("invalid wait_strategy %q", n.WaitStrategy)
		}

	case KindWorkflow:
		if n.WorkflowRef == "" {
			fail("workflow node requires workflow_ref")
		}

	case KindRecursive:
		hasAgent := n.AgentPackage != ""
		hasWorkflow := n.WorkflowRef != ""
		if hasAgent == hasWorkflow {
			fail("recursive node requires exactly one of agent_package or workflow_ref")
		}
		if n.ConvergenceCondition == "" {
			fail("recursive node requires convergence_condition")
		}
		if n.MaxIterations <= 0 {
			fail("recursive node requires max_iterations > 0")
		}

	case KindCode:
		switch n.Language {
		case "python", "javascript":
		default:
			fail("code node language must be python or javascript")
		}
		if n.Code == "" {
			fail("code node requires code")
		}

	case KindHuman:
		if n.PromptMessage == "" {
			fail("human node requires prompt_message")
		}
		switch n.ApprovalType {
		case ApprovalApproveReject, ApprovalInputRequired:
		case ApprovalChoice:
			if len(n.Choices) == 0 {
				fail("choice approval requires non-empty choices")
			}
		default:
			fail("invalid approval_type %q", n.ApprovalType)
		}

	case KindMonitor:
		if n.MetricExpression == "" {
			fail("monitor node requires metric_expression")
		}
		switch n.ActionOnTrigger {
		case ActionPause, ActionAbort, ActionAlertOnly:
		default:
			fail("invalid action_on_trigger %q", n.ActionOnTrigger)
		}

	case KindSwarm:
		if len(n.Agents) < 2 {
			fail("swarm node requires at least 2 agents")
		}
		roles := map[string]bool{}
		for _, agent := range n.Agents {
			if agent.Role == "" {
				fail("swarm agent requires a role")
				continue
			}
			if roles[agent.Role] {
				fail("swarm agent roles must be distinct: %q repeated", agent.Role)
			}
			roles[agent.Role] = true
			if agent.Package == "" {
				fail("swarm agent %q requires a package", agent.Role)
			}
		}
		switch n.CoordinationStrategy {
		case StrategyConsensus, StrategyHierarchical, StrategyMarketplace, "":
		default:
			fail("invalid coordination_strategy %q", n.CoordinationStrategy)
		}

	default:
		fail("unknown node kind %q", n.Kind)
	}

	return errs
}
