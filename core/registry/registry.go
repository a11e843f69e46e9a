// Package registry is the process-wide index of executable entities:
// tools, agents, chains, workflow factories, llm factories, and node
// executors. It never performs network I/O; loaders only read local
// manifests.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
)

// EntityClass partitions the registry namespace
type EntityClass string

const (
	ClassTool         EntityClass = "tool"
	ClassAgent        EntityClass = "agent"
	ClassChain        EntityClass = "chain"
	ClassWorkflow     EntityClass = "workflow"
	ClassLLMFactory   EntityClass = "llm_factory"
	ClassNodeExecutor EntityClass = "node_executor"
)

// Tool is an executable unit invoked by tool nodes
type Tool interface {
	Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// ToolFactory builds fresh tool instances from a registered class
type ToolFactory func() (Tool, error)

// WorkflowFactory produces a blueprint for workflow/sub-workflow nodes
type WorkflowFactory func() (*blueprint.Blueprint, error)

// Completion is one LLM generation with its usage accounting
type Completion struct {
	Text  string
	Usage model.Usage
}

// LLM generates completions. Implementations are built by a registered
// LLMFactory per provider.
type LLM interface {
	Complete(ctx context.Context, prompt string) (*Completion, error)
}

// LLMFactory builds an LLM client for a model and generation config
type LLMFactory func(modelName string, config map[string]interface{}) (LLM, error)

type key struct {
	class EntityClass
	name  string
}

type entry struct {
	target     interface{}
	importPath string
}

// Registry stores entities under (entity_class, name). Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]entry
}

// New creates an empty registry
func New() *Registry {
	return &Registry{entries: map[key]entry{}}
}

// register inserts an entry, permitting idempotent re-registration.
// A duplicate name pointing at a different target is a Conflict.
func (r *Registry) register(class EntityClass, name string, e entry) error {
	if name == "" {
		return model.Errorf(model.KindRegistry, "registry: empty name for class %s", class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{class: class, name: name}
	existing, ok := r.entries[k]
	if ok {
		if sameEntry(existing, e) {
			return nil
		}
		return model.Errorf(model.KindRegistry, "Conflict: %s %q already registered with a different target", class, name)
	}
	r.entries[k] = e
	return nil
}

// sameEntry reports whether re-registration targets the identical thing
func sameEntry(a, b entry) bool {
	if a.importPath != "" || b.importPath != "" {
		return a.importPath == b.importPath
	}
	// Function values are only comparable by pointer.
	va, vb := reflect.ValueOf(a.target), reflect.ValueOf(b.target)
	if va.Kind() == reflect.Func && vb.Kind() == reflect.Func {
		return va.Pointer() == vb.Pointer()
	}
	return a.target == b.target
}

func (r *Registry) lookup(class EntityClass, name string) (entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key{class: class, name: name}]
	if !ok {
		return entry{}, model.Errorf(model.KindRegistry, "NotFound: no %s named %q", class, name)
	}
	return e, nil
}

// RegisterClass registers a tool factory under a name
func (r *Registry) RegisterClass(name string, factory ToolFactory) error {
	return r.register(ClassTool, name, entry{target: factory})
}

// RegisterInstance registers an already-built tool instance
func (r *Registry) RegisterInstance(name string, tool Tool) error {
	return r.register(ClassTool, name, entry{target: tool})
}

// RegisterAgent maps an agent name to its import path
func (r *Registry) RegisterAgent(name, importPath string) error {
	if importPath == "" {
		return model.Errorf(model.KindRegistry, "registry: agent %q requires an import path", name)
	}
	return r.register(ClassAgent, name, entry{importPath: importPath})
}

// RegisterChain registers a reusable chain object
func (r *Registry) RegisterChain(name string, chain interface{}) error {
	return r.register(ClassChain, name, entry{target: chain})
}

// RegisterWorkflowFactory registers a blueprint factory for workflow refs
func (r *Registry) RegisterWorkflowFactory(name string, factory WorkflowFactory) error {
	return r.register(ClassWorkflow, name, entry{target: factory})
}

// RegisterLLMFactory registers a provider's LLM client factory
func (r *Registry) RegisterLLMFactory(name string, factory LLMFactory) error {
	return r.register(ClassLLMFactory, name, entry{target: factory})
}

// RegisterExecutor registers the executor for a node kind. The stored
// value is opaque here; the engine asserts its own executor type at
// wiring time.
func (r *Registry) RegisterExecutor(kind blueprint.Kind, executor interface{}) error {
	return r.register(ClassNodeExecutor, string(kind), entry{target: executor})
}

// GetToolInstance returns a tool by name, instantiating through the
// factory when a class was registered.
func (r *Registry) GetToolInstance(name string) (Tool, error) {
	e, err := r.lookup(ClassTool, name)
	if err != nil {
		return nil, err
	}
	switch target := e.target.(type) {
	case Tool:
		return target, nil
	case ToolFactory:
		tool, err := target()
		if err != nil {
			return nil, model.Errorf(model.KindRegistry, "failed to instantiate tool %q: %v", name, err)
		}
		return tool, nil
	default:
		return nil, model.Errorf(model.KindRegistry, "registry: tool %q has unusable target %T", name, e.target)
	}
}

// GetAgentImportPath returns the import path registered for an agent
func (r *Registry) GetAgentImportPath(name string) (string, error) {
	e, err := r.lookup(ClassAgent, name)
	if err != nil {
		return "", err
	}
	return e.importPath, nil
}

// GetChain returns a registered chain object
func (r *Registry) GetChain(name string) (interface{}, error) {
	e, err := r.lookup(ClassChain, name)
	if err != nil {
		return nil, err
	}
	return e.target, nil
}

// GetWorkflowInstance builds the blueprint registered under a workflow ref
func (r *Registry) GetWorkflowInstance(name string) (*blueprint.Blueprint, error) {
	e, err := r.lookup(ClassWorkflow, name)
	if err != nil {
		return nil, err
	}
	factory, ok := e.target.(WorkflowFactory)
	if !ok {
		return nil, model.Errorf(model.KindRegistry, "registry: workflow %q has unusable target %T", name, e.target)
	}
	bp, err := factory()
	if err != nil {
		return nil, model.Errorf(model.KindRegistry, "failed to build workflow %q: %v", name, err)
	}
	return bp, nil
}

// GetLLMInstance builds an LLM client from the named provider factory
func (r *Registry) GetLLMInstance(provider, modelName string, config map[string]interface{}) (LLM, error) {
	e, err := r.lookup(ClassLLMFactory, provider)
	if err != nil {
		return nil, err
	}
	factory, ok := e.target.(LLMFactory)
	if !ok {
		return nil, model.Errorf(model.KindRegistry, "registry: llm factory %q has unusable target %T", provider, e.target)
	}
	client, err := factory(modelName, config)
	if err != nil {
		return nil, model.Errorf(model.KindRegistry, "failed to build llm %q/%q: %v", provider, modelName, err)
	}
	return client, nil
}

// GetExecutor returns the executor registered for a node kind
func (r *Registry) GetExecutor(kind blueprint.Kind) (interface{}, error) {
	e, err := r.lookup(ClassNodeExecutor, string(kind))
	if err != nil {
		return nil, err
	}
	return e.target, nil
}

// Has reports whether a name exists under a class
func (r *Registry) Has(class EntityClass, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key{class: class, name: name}]
	return ok
}

// Names lists the registered names under a class
func (r *Registry) Names(class EntityClass) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for k := range r.entries {
		if k.class == class {
			names = append(names, k.name)
		}
	}
	return names
}

// Manifest is the declarative plugin format read by LoadPlugins
type Manifest struct {
	Agents map[string]string `json:"agents"`
	Packs  []string          `json:"packs,omitempty"`
}

// LoadPlugins reads a JSON manifest and registers its agents.
// Re-registration with identical import paths is a no-op.
func (r *Registry) LoadPlugins(manifestPath string) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to read plugin manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse plugin manifest: %w", err)
	}
	for name, importPath := range manifest.Agents {
		if err := r.RegisterAgent(name, importPath); err != nil {
			return err
		}
	}
	for _, pack := range manifest.Packs {
		if err := r.LoadEntryPoints(pack); err != nil {
			return err
		}
	}
	return nil
}

// EntryPoint populates a registry with a pack's entities
type EntryPoint func(*Registry) error

var (
	entryMu     sync.Mutex
	entryPoints = map[string][]EntryPoint{}
)

// AddEntryPoint registers a pack hook, typically from a package init.
// LoadEntryPoints replays the hooks for a group into a registry.
func AddEntryPoint(group string, ep EntryPoint) {
	entryMu.Lock()
	defer entryMu.Unlock()
	entryPoints[group] = append(entryPoints[group], ep)
}

// LoadEntryPoints runs every hook registered under a group
func (r *Registry) LoadEntryPoints(group string) error {
	entryMu.Lock()
	hooks := append([]EntryPoint(nil), entryPoints[group]...)
	entryMu.Unlock()

	for _, hook := range hooks {
		if err := hook(r); err != nil {
			return fmt.Errorf("failed to load entry points for %q: %w", group, err)
		}
	}
	return nil
}
