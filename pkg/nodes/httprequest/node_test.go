package httprequest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/operion-engine/pkg/models"
	"github.com/dukex/operion-engine/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(input map[string]any) protocol.ExecuteRequest {
	return protocol.ExecuteRequest{
		Node:  &models.WorkflowNode{ID: "http", Type: "httprequest"},
		Input: input,
		Context: protocol.ExecutionContext{
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
		},
	}
}

func TestHTTPRequestNode_Execute_Success(t *testing.T) {
	var receivedBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		receivedBody = string(data)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "lead-42", r.Header.Get("X-Lead"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message": "created"}`))
	}))
	defer server.Close()

	node, err := NewHTTPRequestNode("http", map[string]any{
		"url":     server.URL + "/leads",
		"method":  "post",
		"headers": map[string]any{"X-Lead": "{{ .input.lead_id }}"},
		"body":    `{"email": "{{ .input.email }}"}`,
	})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), request(map[string]any{
		"lead_id": "lead-42",
		"email":   "a@b.com",
	}))
	require.NoError(t, err)

	assert.Equal(t, models.ResultStatusSuccess, result.Status)
	assert.Equal(t, http.StatusOK, result.Output["status_code"])
	assert.Equal(t, map[string]any{"message": "created"}, result.Output["json"])
	assert.JSONEq(t, `{"email": "a@b.com"}`, receivedBody)
}

func TestHTTPRequestNode_Execute_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	node, err := NewHTTPRequestNode("http", map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), request(nil))
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestHTTPRequestNode_Execute_ClientErrorFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer server.Close()

	node, err := NewHTTPRequestNode("http", map[string]any{"url": server.URL})
	require.NoError(t, err)

	result, err := node.Execute(context.Background(), request(nil))
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusFailed, result.Status)
	assert.Contains(t, result.Error, "HTTP 404")
}

func TestNewHTTPRequestNode_Config(t *testing.T) {
	_, err := NewHTTPRequestNode("http", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field 'url'")

	node, err := NewHTTPRequestNode("http", map[string]any{"url": "https://example.com", "timeout": 5.0})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, node.config.Method)
	assert.Equal(t, 5, node.config.Timeout)
}
