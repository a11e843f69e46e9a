// Package tmpl renders the deterministic template language used in
// prompts and tool arguments. Supported forms are {{ dotted.path }} and
// {{ dotted.path or "fallback" }}; rendering is strict-undefined, so a
// path that resolves nowhere (and has no fallback) is an error. No
// filters, no calls.
package tmpl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/iceos-ai/iceos/core/model"
)

var (
	exprPattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

	// Single-brace placeholders ({name}) appear in legacy prompts and are
	// recognized for validation only. Double braces never match here.
	bracePattern = regexp.MustCompile(`(^|[^{])\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

	pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Render interpolates a template string against the context. A template
// consisting of exactly one expression keeps the resolved value's type
// when returned through RenderValue.
func Render(template string, ctx map[string]interface{}) (string, error) {
	var renderErr error
	out := exprPattern.ReplaceAllStringFunc(template, func(match string) string {
		inner := strings.TrimSpace(exprPattern.FindStringSubmatch(match)[1])
		val, err := evalExpr(inner, ctx)
		if err != nil && renderErr == nil {
			renderErr = err
		}
		if err != nil {
			return ""
		}
		return stringify(val)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

// RenderValue deeply renders every string inside maps and slices. A
// string that is exactly one {{ expression }} is replaced by the resolved
// value itself, preserving non-string types in tool arguments.
func RenderValue(value interface{}, ctx map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if expr, ok := soleExpression(v); ok {
			return evalExpr(expr, ctx)
		}
		return Render(v, ctx)

	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, elem := range v {
			rendered, err := RenderValue(elem, ctx)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			rendered, err := RenderValue(elem, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil

	default:
		return value, nil
	}
}

// Placeholders extracts the top-level variable names a template refers
// to, covering both {{ name.path }} and {name} forms. Used by the
// blueprint validator to check prompt inputs are mapped.
func Placeholders(template string) []string {
	seen := map[string]bool{}
	var names []string

	add := func(path string) {
		root := path
		if i := strings.IndexByte(path, '.'); i >= 0 {
			root = path[:i]
		}
		if !seen[root] {
			seen[root] = true
			names = append(names, root)
		}
	}

	for _, m := range exprPattern.FindAllStringSubmatch(template, -1) {
		inner := strings.TrimSpace(m[1])
		path, _, err := splitFallback(inner)
		if err != nil {
			continue
		}
		add(path)
	}

	for _, m := range bracePattern.FindAllStringSubmatch(template, -1) {
		add(m[2])
	}

	return names
}

// soleExpression reports whether the string is exactly one expression
func soleExpression(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	loc := exprPattern.FindStringIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}
	return strings.TrimSpace(exprPattern.FindStringSubmatch(trimmed)[1]), true
}

// evalExpr evaluates `path` or `path or fallback`
func evalExpr(inner string, ctx map[string]interface{}) (interface{}, error) {
	path, fallback, err := splitFallback(inner)
	if err != nil {
		return nil, err
	}

	val, found := ResolvePath(ctx, path)
	if found && val != nil {
		return val, nil
	}

	if fallback != "" {
		return evalFallback(fallback, ctx)
	}

	return nil, model.Errorf(model.KindValidation, "template references undefined value %q", path)
}

// splitFallback splits `x or y` into path and fallback token
func splitFallback(inner string) (path, fallback string, err error) {
	parts := strings.SplitN(inner, " or ", 2)
	path = strings.TrimSpace(parts[0])
	if !pathPattern.MatchString(path) {
		return "", "", model.Errorf(model.KindValidation, "unsupported template expression %q", inner)
	}
	if len(parts) == 2 {
		fallback = strings.TrimSpace(parts[1])
		if fallback == "" {
			return "", "", model.Errorf(model.KindValidation, "empty fallback in template expression %q", inner)
		}
	}
	return path, fallback, nil
}

// evalFallback resolves the right-hand side of `or`: a quoted string, a
// number, a boolean, or another dotted path.
func evalFallback(token string, ctx map[string]interface{}) (interface{}, error) {
	if len(token) >= 2 {
		if (token[0] == '"' && token[len(token)-1] == '"') ||
			(token[0] == '\'' && token[len(token)-1] == '\'') {
			return token[1 : len(token)-1], nil
		}
	}
	if token == "true" {
		return true, nil
	}
	if token == "false" {
		return false, nil
	}
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n, nil
	}
	if pathPattern.MatchString(token) {
		val, found := ResolvePath(ctx, token)
		if !found || val == nil {
			return nil, model.Errorf(model.KindValidation, "template fallback %q is undefined", token)
		}
		return val, nil
	}
	return nil, model.Errorf(model.KindValidation, "unsupported template fallback %q", token)
}

// ResolvePath walks a dotted path through nested string-keyed maps.
// The second return reports whether every segment resolved.
func ResolvePath(ctx map[string]interface{}, path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = ctx
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
