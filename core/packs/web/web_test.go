package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceos-ai/iceos/core/registry"
)

func TestURLGuard_BlocksInternalTargets(t *testing.T) {
	g := NewURLGuard()

	blocked := []string{
		"file:///etc/passwd",
		"ftp://example.com/data",
		"http://localhost:8080/admin",
		"http://127.0.0.1/",
		"http://[::1]/",
		"http://10.0.0.5/internal",
		"http://192.168.1.1/router",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://example.com/../../etc/passwd",
		"http://example.com/proc/self/environ",
	}
	for _, target := range blocked {
		assert.Error(t, g.Check(target), target)
	}
}

func TestURLGuard_AllowsPublicHTTPS(t *testing.T) {
	g := NewURLGuard()
	g.allowPrivate = true // skip DNS resolution in tests

	assert.NoError(t, g.Check("https://api.example.com/v1/items?q=ok"))
	assert.NoError(t, g.Check("http://example.com/path/to/resource"))
}

func TestURLGuard_RejectsMalformed(t *testing.T) {
	g := NewURLGuard()

	assert.Error(t, g.Check("://not-a-url"))
	assert.Error(t, g.Check("https:///nohost"))
}

func permissiveTool() *HTTPTool {
	tool := NewHTTPTool()
	tool.guard.allowPrivate = true
	delete(tool.guard.blockedHosts, "127.0.0.1")
	return tool
}

func TestHTTPTool_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "token", r.Header.Get("X-Api-Key"))
		json.NewEncoder(w).Encode(map[string]interface{}{"greeting": "hello"})
	}))
	defer srv.Close()

	out, err := permissiveTool().Execute(context.Background(), map[string]interface{}{
		"url":     srv.URL,
		"headers": map[string]interface{}{"X-Api-Key": "token"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, out["status_code"])
	result, ok := out["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello", result["greeting"])
}

func TestHTTPTool_PostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "create", body["action"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer srv.Close()

	out, err := permissiveTool().Execute(context.Background(), map[string]interface{}{
		"url":    srv.URL,
		"method": "post",
		"body":   map[string]interface{}{"action": "create"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, out["status_code"])
	assert.Equal(t, "created", out["result"])
}

func TestHTTPTool_RejectsBadArgs(t *testing.T) {
	tool := NewHTTPTool()
	ctx := context.Background()

	_, err := tool.Execute(ctx, map[string]interface{}{})
	assert.Error(t, err)

	_, err = tool.Execute(ctx, map[string]interface{}{"url": "http://localhost/x"})
	assert.Error(t, err)

	_, err = permissiveTool().Execute(ctx, map[string]interface{}{
		"url": "http://example.com/", "method": "TRACE",
	})
	assert.Error(t, err)
}

func TestPackRegistersTool(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.LoadEntryPoints("web"))

	tool, err := r.GetToolInstance("http_request")
	require.NoError(t, err)
	assert.NotNil(t, tool)
}
