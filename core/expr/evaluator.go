// Package expr evaluates the restricted boolean/arithmetic expression
// language used by condition, monitor, and recursive nodes. Expressions
// are compiled with CEL, then walked to reject anything beyond constants,
// dotted identifiers, arithmetic, comparisons, and boolean operators.
package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"

	"github.com/iceos-ai/iceos/core/model"
)

// allowedFunctions is the operator subset an expression may use. CEL
// represents every operator as a call; any call outside this set (user
// functions, indexing, macros) is rejected at validate time.
var allowedFunctions = map[string]bool{
	operators.LogicalAnd:    true,
	operators.LogicalOr:     true,
	operators.LogicalNot:    true,
	operators.Negate:        true,
	operators.Add:           true,
	operators.Subtract:      true,
	operators.Multiply:      true,
	operators.Divide:        true,
	operators.Modulo:        true,
	operators.Equals:        true,
	operators.NotEquals:     true,
	operators.Less:          true,
	operators.LessEquals:    true,
	operators.Greater:       true,
	operators.GreaterEquals: true,
	// `x or "fallback"` sugar from the template language compiles to ||.
	operators.Conditional: true,
}

// Evaluator compiles and evaluates restricted expressions with caching
type Evaluator struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates an evaluator. Macros are disabled so has()/all()
// parse as plain calls and fail the restriction check.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(cel.ClearMacros())
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Evaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Validate parses the expression and applies the restriction walk.
// Returns an ExpressionError for anything outside the accepted grammar.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.compile(expression)
	return err
}

// Evaluate runs the expression against the variable map. Dotted paths
// resolve through nested maps; unknown identifiers fail with an
// ExpressionError rather than guessing.
func (e *Evaluator) Evaluate(expression string, vars map[string]interface{}) (interface{}, error) {
	prg, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	if vars == nil {
		vars = map[string]interface{}{}
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		if strings.Contains(err.Error(), "no such attribute") || strings.Contains(err.Error(), "no such key") {
			return nil, model.Errorf(model.KindExpression, "unknown variable in expression %q: %v", expression, err)
		}
		return nil, model.Errorf(model.KindExpression, "evaluation of %q failed: %v", expression, err)
	}

	return out.Value(), nil
}

// EvaluateBool evaluates an expression that must yield a boolean
func (e *Evaluator) EvaluateBool(expression string, vars map[string]interface{}) (bool, error) {
	val, err := e.Evaluate(expression, vars)
	if err != nil {
		return false, err
	}
	b, ok := val.(bool)
	if !ok {
		return false, model.Errorf(model.KindExpression, "expression %q did not return boolean, got %T", expression, val)
	}
	return b, nil
}

// compile returns a cached program or parses, restricts, and caches one
func (e *Evaluator) compile(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, exists := e.cache[expression]
	e.mu.RUnlock()
	if exists {
		return prg, nil
	}

	parsed, issues := e.env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, model.Errorf(model.KindExpression, "invalid expression %q: %v", expression, issues.Err())
	}

	if err := restrict(parsed.NativeRep().Expr()); err != nil {
		return nil, model.Errorf(model.KindExpression, "unsafe expression %q: %v", expression, err)
	}

	prg, err := e.env.Program(parsed)
	if err != nil {
		return nil, model.Errorf(model.KindExpression, "failed to build program for %q: %v", expression, err)
	}

	e.mu.Lock()
	e.cache[expression] = prg
	e.mu.Unlock()

	return prg, nil
}

// restrict walks the parsed AST and rejects calls outside the operator
// allow-list, indexing, comprehensions, and literal aggregates.
func restrict(node celast.Expr) error {
	switch node.Kind() {
	case celast.LiteralKind, celast.IdentKind:
		return nil

	case celast.SelectKind:
		// Dotted path segment: walk the operand chain.
		return restrict(node.AsSelect().Operand())

	case celast.CallKind:
		call := node.AsCall()
		fn := call.FunctionName()
		if fn == operators.Index {
			return fmt.Errorf("indexing is not permitted")
		}
		if !allowedFunctions[fn] {
			return fmt.Errorf("function %q is not permitted", fn)
		}
		if call.IsMemberFunction() {
			return fmt.Errorf("method calls are not permitted")
		}
		for _, arg := range call.Args() {
			if err := restrict(arg); err != nil {
				return err
			}
		}
		return nil

	case celast.ComprehensionKind:
		return fmt.Errorf("comprehensions are not permitted")

	case celast.ListKind, celast.MapKind, celast.StructKind:
		return fmt.Errorf("aggregate literals are not permitted")

	default:
		return fmt.Errorf("unsupported expression element")
	}
}

// CacheSize returns the number of cached programs
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// ClearCache drops all cached programs
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}
