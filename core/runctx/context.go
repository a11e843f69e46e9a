// Package runctx owns the per-run execution context: committed node
// results, session globals, input-mapping resolution, and template
// rendering over both.
package runctx

import (
	"sync"

	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/model"
	"github.com/iceos-ai/iceos/core/registry"
	"github.com/iceos-ai/iceos/core/tmpl"
)

// Context holds committed results keyed by node id plus the run's
// initial globals. The scheduler commits results before dependents
// resolve inputs, so readers only ever see settled nodes.
type Context struct {
	mu      sync.RWMutex
	results map[string]model.NodeResult
	globals map[string]interface{}
	reg     *registry.Registry
}

// New creates a run context seeded with the initial globals
func New(reg *registry.Registry, globals map[string]interface{}) *Context {
	if globals == nil {
		globals = map[string]interface{}{}
	}
	return &Context{
		results: map[string]model.NodeResult{},
		globals: globals,
		reg:     reg,
	}
}

// Commit stores a settled node result
func (c *Context) Commit(nodeID string, result model.NodeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[nodeID] = result
}

// Result returns a committed result by node id
func (c *Context) Result(nodeID string) (model.NodeResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[nodeID]
	return r, ok
}

// Results returns a copy of all committed results
func (c *Context) Results() map[string]model.NodeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.NodeResult, len(c.results))
	for id, r := range c.results {
		out[id] = r
	}
	return out
}

// Globals returns the run's initial context map
func (c *Context) Globals() map[string]interface{} {
	return c.globals
}

// Registry exposes the read-only entity lookups executors need
func (c *Context) Registry() *registry.Registry {
	return c.reg
}

// ResolveInputs materializes a node's declared input mappings against
// the committed outputs of its producers. Every unresolved path is an
// error surfaced before the node executes.
func (c *Context) ResolveInputs(node *blueprint.NodeSpec) (map[string]interface{}, error) {
	inputs := map[string]interface{}{}

	for field, mapping := range node.InputMappings {
		result, ok := c.Result(mapping.SourceNodeID)
		if !ok {
			return nil, model.Errorf(model.KindValidation,
				"input %q: source node %q has no committed result", field, mapping.SourceNodeID)
		}
		output := result.Output
		if output == nil {
			return nil, model.Errorf(model.KindValidation,
				"input %q: source node %q produced no output", field, mapping.SourceNodeID)
		}
		value, found := tmpl.ResolvePath(output, mapping.SourceOutputPath)
		if !found {
			return nil, model.Errorf(model.KindValidation,
				"input %q: path %q not found in output of %q", field, mapping.SourceOutputPath, mapping.SourceNodeID)
		}
		inputs[field] = value
	}

	for _, key := range node.InputSelection {
		if _, taken := inputs[key]; taken {
			continue
		}
		if val, ok := c.globals[key]; ok {
			inputs[key] = val
			continue
		}
		if result, ok := c.Result(key); ok && result.Output != nil {
			inputs[key] = result.Output
		}
	}

	return inputs, nil
}

// TemplateContext assembles the flat map templates render against:
// globals, then node outputs by id, then explicit inputs. NodeResult
// wrappers are unwrapped to their output maps so templates address
// plain data.
func (c *Context) TemplateContext(extra map[string]interface{}) map[string]interface{} {
	ctx := map[string]interface{}{}
	for k, v := range c.globals {
		ctx[k] = unwrap(v)
	}

	c.mu.RLock()
	for id, result := range c.results {
		if result.Output != nil {
			ctx[id] = result.Output
		}
	}
	c.mu.RUnlock()

	for k, v := range extra {
		ctx[k] = unwrap(v)
	}
	return ctx
}

// RenderTemplates renders a value tree with strict-undefined semantics
// against the assembled template context.
func (c *Context) RenderTemplates(value interface{}, extra map[string]interface{}) (interface{}, error) {
	return tmpl.RenderValue(value, c.TemplateContext(extra))
}

// unwrap flattens NodeResult values to their output maps
func unwrap(v interface{}) interface{} {
	switch r := v.(type) {
	case model.NodeResult:
		return outputOf(r)
	case *model.NodeResult:
		if r == nil {
			return nil
		}
		return outputOf(*r)
	default:
		return v
	}
}

func outputOf(r model.NodeResult) interface{} {
	if r.Output == nil {
		return nil
	}
	return r.Output
}
