// Package retry drives the durable re-delivery queue: a periodic sweep
// claims due entries and replays them on a bounded worker pool until they
// succeed or exhaust their attempt budget.
package retry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/invoker"
	"github.com/relayforge/relayforge/internal/model"
)

// Store is the durable queue the engine runs against.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.RetryEntry, error)
	ClaimOne(ctx context.Context, callID string, now time.Time) (*model.RetryEntry, error)
	UpdateAttempt(ctx context.Context, callID string, retryCount int, nextRetryTime *time.Time,
		statusCode *int, lastError string, status model.RetryStatus) error
	MarkSuccess(ctx context.Context, callID string, retryCount int) error
	MarkExhausted(ctx context.Context, callID, reason string) (bool, error)
	Stats(ctx context.Context) (*model.RetryStats, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore records successful retry deliveries in the audit trail.
type AuditStore interface {
	Insert(ctx context.Context, rec *model.AuditRecord) error
	UpdateResponse(ctx context.Context, auditID string, responsePayload *string, statusCode *int,
		responseHeaders *string, executionTimeMs int64, success bool, errorMessage *string) error
}

// Transport re-invokes the stored request.
type Transport interface {
	Invoke(ctx context.Context, method, url string, headers map[string]string, body string, timeoutSeconds int) invoker.CallResult
}

// Config is the retry policy. Zero values fall back to the defaults
// below; everything is overridable through service configuration.
type Config struct {
	MaxAttempts   int
	Interval      time.Duration
	SweepInterval time.Duration
	BatchSize     int
	Workers       int
	Retention     time.Duration
}

// Default policy: hourly attempts for 15 days.
const (
	DefaultMaxAttempts   = 360
	DefaultInterval      = time.Hour
	DefaultSweepInterval = 60 * time.Second
	DefaultBatchSize     = 100
	DefaultWorkers       = 8
	DefaultRetention     = 30 * 24 * time.Hour
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	return c
}

// Engine owns the sweep loop and the per-attempt state machine.
type Engine struct {
	store     Store
	audits    AuditStore
	transport Transport
	cfg       Config
	logger    zerolog.Logger
}

// NewEngine returns an Engine with cfg normalized to defaults.
func NewEngine(store Store, audits AuditStore, transport Transport, cfg Config) *Engine {
	return &Engine{
		store:     store,
		audits:    audits,
		transport: transport,
		cfg:       cfg.withDefaults(),
		logger:    log.With().Str("component", "retry").Logger(),
	}
}

// Start runs the sweep loop until ctx is cancelled. A separate daily tick
// purges terminal entries older than the retention window.
func (e *Engine) Start(ctx context.Context) {
	sweep := time.NewTicker(e.cfg.SweepInterval)
	cleanup := time.NewTicker(24 * time.Hour)
	defer sweep.Stop()
	defer cleanup.Stop()

	e.logger.Info().
		Dur("sweep_interval", e.cfg.SweepInterval).
		Int("batch_size", e.cfg.BatchSize).
		Int("workers", e.cfg.Workers).
		Msg("retry engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("retry engine stopped")
			return
		case <-sweep.C:
			e.Sweep(ctx)
		case <-cleanup.C:
			if n, err := e.Cleanup(ctx); err != nil {
				e.logger.Warn().Err(err).Msg("retry cleanup failed")
			} else if n > 0 {
				e.logger.Info().Int64("purged", n).Msg("purged old retry entries")
			}
		}
	}
}

// Sweep claims one batch of due entries and processes them concurrently,
// bounded by the worker pool, so a burst of due retries cannot starve
// first-attempt traffic.
func (e *Engine) Sweep(ctx context.Context) {
	entries, err := e.store.ClaimDue(ctx, time.Now().UTC(), e.cfg.BatchSize)
	if err != nil {
		e.logger.Error().Err(err).Msg("could not claim due retries")
		return
	}
	if len(entries) == 0 {
		return
	}
	e.logger.Info().Int("count", len(entries)).Msg("processing due retries")

	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(entry model.RetryEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			e.processEntry(ctx, &entry)
		}(entry)
	}
	wg.Wait()
}

// processEntry runs one attempt. The stored payload and headers are
// replayed verbatim; mapping changes made after the original failure do
// not alter in-flight retries.
func (e *Engine) processEntry(ctx context.Context, entry *model.RetryEntry) {
	attempt := entry.RetryCount + 1
	logger := e.logger.With().
		Str("call_id", entry.CallID).
		Str("client_id", entry.ClientID).
		Int("attempt", attempt).
		Int("max_attempts", entry.MaxAttempts).
		Logger()
	logger.Info().Msg("retrying failed call")

	var headers map[string]string
	if err := json.Unmarshal([]byte(entry.RequestHeaders), &headers); err != nil {
		logger.Warn().Err(err).Msg("stored headers unreadable, sending without them")
	}

	call := e.transport.Invoke(ctx, entry.HTTPMethod, entry.Endpoint, headers, entry.RequestPayload, entry.TimeoutSeconds)

	if call.Success {
		e.recordRetrySuccess(ctx, entry, attempt, call, logger)
		return
	}

	maxAttempts := entry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxAttempts
	}
	var statusCode *int
	if call.StatusCode > 0 {
		statusCode = &call.StatusCode
	}

	switch {
	case attempt >= maxAttempts:
		logger.Warn().Msg("retry budget exhausted")
		e.updateAttempt(ctx, entry.CallID, attempt, nil, statusCode, call.ErrorMessage, model.RetryExhausted, logger)
	case !call.Retryable:
		// A failure that will never succeed burns no further budget.
		logger.Warn().Int("status", call.StatusCode).Msg("non-retryable failure, giving up")
		e.updateAttempt(ctx, entry.CallID, attempt, nil, statusCode, call.ErrorMessage, model.RetryExhausted, logger)
	default:
		next := time.Now().UTC().Add(e.cfg.Interval)
		logger.Info().Time("next_retry", next).Msg("scheduling next retry")
		e.updateAttempt(ctx, entry.CallID, attempt, &next, statusCode, call.ErrorMessage, model.RetryPending, logger)
	}
}

// recordRetrySuccess writes a fresh audit pair for the successful retry
// attempt and moves the entry to its SUCCESS terminal state.
func (e *Engine) recordRetrySuccess(ctx context.Context, entry *model.RetryEntry, attempt int,
	call invoker.CallResult, logger zerolog.Logger) {
	audit := &model.AuditRecord{
		AuditID:          uuid.NewString(),
		ClientID:         entry.ClientID,
		Endpoint:         entry.Endpoint,
		HTTPMethod:       entry.HTTPMethod,
		RequestTimestamp: time.Now().UTC(),
		RequestPayload:   entry.RequestPayload,
		RequestHeaders:   entry.RequestHeaders,
		SourceRecordID:   entry.SourceRecordID,
		CorrelationID:    entry.CorrelationID,
		CreatedBy:        "RETRY_ENGINE",
	}
	if err := e.audits.Insert(ctx, audit); err != nil {
		logger.Warn().Err(err).Msg("could not write audit for successful retry")
	} else {
		var respBody *string
		if call.ResponseBody != "" {
			respBody = &call.ResponseBody
		}
		statusCode := call.StatusCode
		if err := e.audits.UpdateResponse(ctx, audit.AuditID, respBody, &statusCode, nil,
			call.ExecutionTimeMs, true, nil); err != nil {
			logger.Warn().Err(err).Msg("could not update audit for successful retry")
		}
	}

	if err := e.store.MarkSuccess(ctx, entry.CallID, attempt); err != nil {
		logger.Error().Err(err).Msg("could not mark retry as successful")
		return
	}
	logger.Info().Msg("retry succeeded")
}

func (e *Engine) updateAttempt(ctx context.Context, callID string, retryCount int, next *time.Time,
	statusCode *int, lastError string, status model.RetryStatus, logger zerolog.Logger) {
	if err := e.store.UpdateAttempt(ctx, callID, retryCount, next, statusCode, lastError, status); err != nil {
		logger.Error().Err(err).Msg("could not record retry attempt")
	}
}

// TriggerNow processes one PENDING entry immediately, outside the sweep
// schedule. It reports whether an attempt was made. The entry is claimed
// first; a trigger racing a sweep that holds the claim is refused instead
// of invoking the endpoint twice.
func (e *Engine) TriggerNow(ctx context.Context, callID string) (bool, error) {
	entry, err := e.store.ClaimOne(ctx, callID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	e.processEntry(ctx, entry)
	return true, nil
}

// Cancel forces a PENDING entry to EXHAUSTED. An attempt already
// dispatched by a sweep runs to completion; cancellation only removes the
// entry from future sweeps.
func (e *Engine) Cancel(ctx context.Context, callID string) (bool, error) {
	return e.store.MarkExhausted(ctx, callID, "cancelled manually")
}

// Stats returns queue counts by status.
func (e *Engine) Stats(ctx context.Context) (*model.RetryStats, error) {
	return e.store.Stats(ctx)
}

// Cleanup purges terminal entries older than the retention window.
func (e *Engine) Cleanup(ctx context.Context) (int64, error) {
	return e.store.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-e.cfg.Retention))
}
