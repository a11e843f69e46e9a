// Package sandbox scopes node work under a hard wall-clock deadline
// with cooperative cancellation, and gates code-node imports against an
// allow-list before anything runs.
package sandbox

import (
	"context"
	"errors"
	"regexp"
	"runtime"
	"time"

	"github.com/iceos-ai/iceos/core/model"
)

// DefaultTimeout applies when a node declares no timeout_seconds
const DefaultTimeout = 30 * time.Second

// Stats are the resource observations taken around a sandboxed call
type Stats struct {
	WallClock time.Duration `json:"wall_clock"`
	MaxRSS    uint64        `json:"max_rss_bytes"`
}

// Sandbox runs functions under a deadline and records coarse stats
type Sandbox struct {
	timeout time.Duration
}

// New creates a sandbox with the given wall-clock deadline. Zero or
// negative falls back to DefaultTimeout.
func New(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sandbox{timeout: timeout}
}

// ForNode builds a sandbox from a node's timeout_seconds
func ForNode(timeoutSeconds float64) *Sandbox {
	return New(time.Duration(timeoutSeconds * float64(time.Second)))
}

// Run executes fn under the deadline. Crossing it, or parent
// cancellation, yields a Timeout error; fn's own error passes through.
func (s *Sandbox) Run(ctx context.Context, fn func(ctx context.Context) error) (Stats, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		err = runCtx.Err()
	}

	stats := Stats{WallClock: time.Since(start), MaxRSS: maxRSS()}

	switch {
	case err == nil:
		return stats, nil
	case errors.Is(err, context.DeadlineExceeded):
		return stats, model.Errorf(model.KindTimeout, "timed out after %s", s.timeout)
	case errors.Is(err, context.Canceled):
		return stats, model.Errorf(model.KindTimeout, "cancelled after %s", stats.WallClock.Round(time.Millisecond))
	default:
		return stats, err
	}
}

func maxRSS() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// DefaultAllowedImports is the default code-node import allow-list:
// common text/math/data utilities, nothing that touches the host.
var DefaultAllowedImports = []string{
	"json", "math", "re", "string", "textwrap", "datetime", "time",
	"collections", "itertools", "functools", "statistics", "random",
	"base64", "hashlib", "uuid", "csv",
}

// Order matters: the ES `import … from 'mod'` branch must come before
// the bare-`import` branch or the binding name would be taken for the
// module.
var importPattern = regexp.MustCompile(`(?m)^\s*(?:import\s+.+?\s+from\s+['"]([^'"]+)['"]|from\s+([A-Za-z_][A-Za-z0-9_.]*)\s+import\b|import\s+([A-Za-z_][A-Za-z0-9_.]*)|(?:const|let|var)?\s*.*=\s*require\(['"]([^'"]+)['"]\))`)

// CheckImports scans source for import statements and rejects any
// module not on the allow-list. An empty list means the default one.
// Runs before execution; a violation means the code never starts.
func CheckImports(code string, allowed []string) error {
	if len(allowed) == 0 {
		allowed = DefaultAllowedImports
	}
	allowSet := map[string]bool{}
	for _, name := range allowed {
		allowSet[name] = true
	}

	for _, match := range importPattern.FindAllStringSubmatch(code, -1) {
		var module string
		for _, group := range match[1:] {
			if group != "" {
				module = group
				break
			}
		}
		if module == "" {
			continue
		}
		root := module
		for i := 0; i < len(root); i++ {
			if root[i] == '.' || root[i] == '/' {
				root = root[:i]
				break
			}
		}
		if !allowSet[root] {
			return model.Errorf(model.KindSandbox, "import %q is not allowed", module)
		}
	}
	return nil
}

// CodeResult is the shape a sandboxed code node returns
type CodeResult struct {
	WasmReturnCode int         `json:"wasm_return_code"`
	Result         interface{} `json:"result"`
}

// RunCode gates imports then executes the code runner under the
// deadline, wrapping its output in the sandbox result shape.
func (s *Sandbox) RunCode(ctx context.Context, code string, allowedImports []string, runner func(ctx context.Context) (interface{}, error)) (*CodeResult, Stats, error) {
	if err := CheckImports(code, allowedImports); err != nil {
		return nil, Stats{}, err
	}

	var result interface{}
	stats, err := s.Run(ctx, func(runCtx context.Context) error {
		var runErr error
		result, runErr = runner(runCtx)
		return runErr
	})
	if err != nil {
		return &CodeResult{WasmReturnCode: 1}, stats, err
	}
	return &CodeResult{WasmReturnCode: 0, Result: result}, stats, nil
}
