// Package web is the optional "web" tool pack: outbound HTTP access
// for tool nodes, guarded against requests into internal address space.
// Enable it by listing "web" in ICEOS_OPTIONAL_PACKS.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iceos-ai/iceos/core/registry"
)

const (
	defaultTimeout = 15 * time.Second
	maxTimeout     = 60 * time.Second
	maxBodyBytes   = 4 << 20
)

func init() {
	registry.AddEntryPoint("web", func(r *registry.Registry) error {
		return r.RegisterInstance("http_request", NewHTTPTool())
	})
}

// HTTPTool performs guarded HTTP requests for tool nodes.
//
// Args: url (required), method (default GET), headers, body,
// timeout_seconds. JSON responses decode into the result; anything else
// comes back as a string.
type HTTPTool struct {
	guard  *URLGuard
	client *http.Client
}

// NewHTTPTool creates the tool with the default guard and client
func NewHTTPTool() *HTTPTool {
	return &HTTPTool{
		guard:  NewURLGuard(),
		client: &http.Client{Timeout: maxTimeout},
	}
}

// Execute performs the request described by the node's tool args
func (t *HTTPTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("http_request requires a url argument")
	}
	if err := t.guard.Check(rawURL); err != nil {
		return nil, fmt.Errorf("url rejected: %w", err)
	}

	method := http.MethodGet
	if m, ok := args["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead:
	default:
		return nil, fmt.Errorf("method %q is not allowed", method)
	}

	timeout := defaultTimeout
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body, ok := args["body"]; ok && body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := args["headers"].(map[string]interface{}); ok {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result interface{}
	if json.Unmarshal(data, &result) != nil {
		result = string(data)
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"result":      result,
	}, nil
}
