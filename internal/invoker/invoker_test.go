package invoker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/relayforge/internal/model"
)

func TestInvoke_Success(t *testing.T) {
	var gotBody string
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotHeader = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	iv := New(5)
	res := iv.Invoke(context.Background(), "POST", srv.URL,
		map[string]string{"X-API-Key": "secret"}, `{"k":"v"}`, 0)

	assert.True(t, res.Success)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, `{"id":"abc"}`, res.ResponseBody)
	assert.False(t, res.Retryable)
	assert.Empty(t, res.ErrorMessage)
	assert.Equal(t, `{"k":"v"}`, gotBody)
	assert.Equal(t, "secret", gotHeader)
}

func TestInvoke_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := New(5).Invoke(context.Background(), "POST", srv.URL, nil, "{}", 0)

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.True(t, res.Retryable)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestInvoke_ClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such resource", http.StatusNotFound)
	}))
	defer srv.Close()

	res := New(5).Invoke(context.Background(), "POST", srv.URL, nil, "{}", 0)

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.False(t, res.Retryable)
}

func TestInvoke_TimeoutClassifiedAsRetryable408(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	res := New(5).Invoke(context.Background(), "POST", srv.URL, nil, "{}", 1)

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusRequestTimeout, res.StatusCode)
	assert.True(t, res.Retryable)
	assert.Contains(t, res.ErrorMessage, "timed out")
}

func TestInvoke_ConnectionRefusedIsRetryable(t *testing.T) {
	res := New(1).Invoke(context.Background(), "POST", "http://127.0.0.1:1", nil, "{}", 0)

	assert.False(t, res.Success)
	assert.Zero(t, res.StatusCode)
	assert.True(t, res.Retryable)
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(500))
	assert.True(t, RetryableStatus(503))
	assert.True(t, RetryableStatus(408))
	assert.True(t, RetryableStatus(429))
	assert.False(t, RetryableStatus(400))
	assert.False(t, RetryableStatus(404))
	assert.False(t, RetryableStatus(200))
}

func TestBuildHeaders(t *testing.T) {
	cfg := &model.ClientConfig{
		ContentType:       "application/json",
		APIKey:            "k123",
		APIKeyHeader:      "X-API-Key",
		AdditionalHeaders: map[string]string{"X-Tenant": "t1"},
	}
	h := BuildHeaders(cfg)
	assert.Equal(t, "k123", h["X-API-Key"])
	assert.Equal(t, "application/json", h["Content-Type"])
	assert.Equal(t, "application/json", h["Accept"])
	assert.Equal(t, "t1", h["X-Tenant"])
}

func TestBuildHeaders_AuthorizationGetsBearerPrefix(t *testing.T) {
	h := BuildHeaders(&model.ClientConfig{APIKey: "tok", APIKeyHeader: "Authorization"})
	assert.Equal(t, "Bearer tok", h["Authorization"])
}

func TestBuildHeaders_DefaultKeyHeader(t *testing.T) {
	h := BuildHeaders(&model.ClientConfig{APIKey: "tok"})
	assert.Equal(t, "tok", h["X-API-Key"])
}

func TestRedactHeaders(t *testing.T) {
	h := RedactHeaders(map[string]string{
		"Authorization": "Bearer tok",
		"X-API-Key":     "k123",
		"X-Tenant":      "t1",
	})
	assert.Equal(t, "***REDACTED***", h["Authorization"])
	assert.Equal(t, "***REDACTED***", h["X-API-Key"])
	assert.Equal(t, "t1", h["X-Tenant"])
}

func TestInvoke_NeverReturnsWithoutClassification(t *testing.T) {
	// A result lacking both a status and retryability would strand the
	// delivery; even a malformed URL yields a classified result.
	res := New(1).Invoke(context.Background(), "POST", "://bad", nil, "{}", 0)
	require.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorMessage)
}
