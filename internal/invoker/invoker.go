// Package invoker wraps the outbound HTTP call to a tenant endpoint and
// classifies its outcome for the retry machinery.
package invoker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/model"
)

// maxResponseBytes caps how much of a response body is retained for the
// audit trail.
const maxResponseBytes = 1 << 20

// CallResult is the classified outcome of one invocation attempt.
// StatusCode 0 means the call never produced an HTTP response.
type CallResult struct {
	Success         bool
	StatusCode      int
	ResponseBody    string
	ResponseHeaders map[string]string
	ErrorMessage    string
	ExecutionTimeMs int64
	Retryable       bool
}

// Invoker performs external REST calls with a per-attempt timeout.
type Invoker struct {
	client         *http.Client
	defaultTimeout time.Duration
	logger         zerolog.Logger
}

// New returns an Invoker. defaultTimeoutSeconds applies when a tenant has
// no timeout override of its own.
func New(defaultTimeoutSeconds int) *Invoker {
	return &Invoker{
		client:         &http.Client{},
		defaultTimeout: time.Duration(defaultTimeoutSeconds) * time.Second,
		logger:         log.With().Str("component", "invoker").Logger(),
	}
}

// BuildHeaders assembles the request headers for a tenant: content type,
// accept, API key placement and any configured extras. The Authorization
// header gets a Bearer prefix; other key headers carry the key verbatim.
func BuildHeaders(cfg *model.ClientConfig) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if cfg.ContentType != "" {
		headers["Content-Type"] = cfg.ContentType
	}
	if cfg.APIKey != "" {
		name := cfg.APIKeyHeader
		if name == "" {
			name = "X-API-Key"
		}
		if strings.EqualFold(name, "Authorization") {
			headers[name] = "Bearer " + cfg.APIKey
		} else {
			headers[name] = cfg.APIKey
		}
	}
	for k, v := range cfg.AdditionalHeaders {
		headers[k] = v
	}
	return headers
}

// RedactHeaders copies headers with credential values replaced, for audit
// storage.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") || strings.Contains(strings.ToLower(k), "api-key") {
			out[k] = "***REDACTED***"
		} else {
			out[k] = v
		}
	}
	return out
}

// Invoke performs one attempt against the endpoint. It never returns an
// error: transport failures come back as a classified CallResult so a
// timed-out attempt still reaches the post-call audit write.
func (iv *Invoker) Invoke(ctx context.Context, method, url string, headers map[string]string, body string, timeoutSeconds int) CallResult {
	timeout := iv.defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, strings.NewReader(body))
	if err != nil {
		return CallResult{
			ErrorMessage:    "build request: " + err.Error(),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			Retryable:       false,
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := iv.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			iv.logger.Error().Str("url", url).Int64("elapsed_ms", elapsed).Msg("call timed out")
			return CallResult{
				StatusCode:      http.StatusRequestTimeout,
				ErrorMessage:    "request timed out after " + timeout.String(),
				ExecutionTimeMs: elapsed,
				Retryable:       true,
			}
		}
		iv.logger.Error().Err(err).Str("url", url).Msg("call failed")
		return CallResult{
			ErrorMessage:    err.Error(),
			ExecutionTimeMs: elapsed,
			Retryable:       true,
		}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	respBody := string(raw)
	elapsed = time.Since(start).Milliseconds()
	result := CallResult{
		Success:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode:      resp.StatusCode,
		ResponseBody:    respBody,
		ResponseHeaders: flattenHeaders(resp.Header),
		ExecutionTimeMs: elapsed,
	}
	if !result.Success {
		result.ErrorMessage = "endpoint returned status " + resp.Status
		result.Retryable = RetryableStatus(resp.StatusCode)
	}

	iv.logger.Info().Str("url", url).Int("status", resp.StatusCode).
		Int64("elapsed_ms", elapsed).Bool("success", result.Success).
		Msg("invoked endpoint")
	return result
}

// RetryableStatus reports whether an HTTP status represents a transient
// failure: any server error, request timeout or rate limit.
func RetryableStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
