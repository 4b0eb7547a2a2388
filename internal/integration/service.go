// Package integration orchestrates one outbound delivery: resolve tenant
// config, build the payload, write the pre-call audit row, invoke the
// endpoint, write the post-call audit row, and enqueue a retry on
// retryable failure.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/invoker"
	"github.com/relayforge/relayforge/internal/model"
	"github.com/relayforge/relayforge/internal/payload"
	"github.com/relayforge/relayforge/internal/repository"
	"github.com/relayforge/relayforge/internal/retry"
)

// Stable error codes surfaced to callers.
const (
	CodeClientNotFound        = "CLIENT_NOT_FOUND"
	CodeClientInactive        = "CLIENT_INACTIVE"
	CodeMappingNotFound       = "MAPPING_NOT_FOUND"
	CodeSourceDataNotFound    = "SOURCE_DATA_NOT_FOUND"
	CodeMandatoryFieldMissing = "MANDATORY_FIELD_MISSING"
	CodeSerializationFailed   = "PAYLOAD_SERIALIZATION_FAILED"
	CodeAuditFailure          = "AUDIT_FAILURE"
	CodeInvocationFailed      = "INVOCATION_FAILED"
	CodeInternal              = "INTERNAL_ERROR"
)

// Collaborator contracts. The concrete implementations live in
// internal/repository and internal/invoker; tests substitute fakes.
type (
	ConfigSource interface {
		GetConfig(ctx context.Context, clientID string) (*model.ClientConfig, error)
	}
	MappingSource interface {
		ListForClient(ctx context.Context, clientID string) ([]model.FieldMapping, error)
	}
	RecordSource interface {
		GetRecord(ctx context.Context, mappings []model.FieldMapping, recordID string) (model.SourceRecord, error)
	}
	AuditStore interface {
		Insert(ctx context.Context, rec *model.AuditRecord) error
		UpdateResponse(ctx context.Context, auditID string, responsePayload *string, statusCode *int,
			responseHeaders *string, executionTimeMs int64, success bool, errorMessage *string) error
	}
	RetryQueue interface {
		Insert(ctx context.Context, e *model.RetryEntry) error
	}
	Transport interface {
		Invoke(ctx context.Context, method, url string, headers map[string]string, body string, timeoutSeconds int) invoker.CallResult
	}
)

// Request is one delivery request.
type Request struct {
	ClientID       string         `json:"client_id" validate:"required"`
	SourceRecordID string         `json:"source_record_id" validate:"required"`
	AdditionalData map[string]any `json:"additional_data,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	RequestedBy    string         `json:"requested_by,omitempty"`
}

// Result reports the outcome of one delivery request. WillRetry
// distinguishes "failed and will be retried automatically" from "failed,
// terminal".
type Result struct {
	Success         bool       `json:"success"`
	AuditID         string     `json:"audit_id,omitempty"`
	CorrelationID   string     `json:"correlation_id"`
	ClientID        string     `json:"client_id"`
	SourceRecordID  string     `json:"source_record_id"`
	StatusCode      *int       `json:"status_code,omitempty"`
	ResponseBody    any        `json:"response_body,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ExecutionTimeMs int64      `json:"execution_time_ms,omitempty"`
	WillRetry       bool       `json:"will_retry"`
	NextRetryTime   *time.Time `json:"next_retry_time,omitempty"`
}

// Options carries the retry policy applied when enqueueing failures.
// Zero values fall back to the engine's defaults so an unset policy still
// enqueues hourly attempts with a real budget.
type Options struct {
	RetryInterval    time.Duration
	RetryMaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = retry.DefaultInterval
	}
	if o.RetryMaxAttempts <= 0 {
		o.RetryMaxAttempts = retry.DefaultMaxAttempts
	}
	return o
}

// Service is the invocation orchestrator.
type Service struct {
	clients   ConfigSource
	mappings  MappingSource
	records   RecordSource
	audits    AuditStore
	retries   RetryQueue
	transport Transport
	builder   *payload.Builder
	opts      Options
	logger    zerolog.Logger
}

// NewService wires the orchestrator.
func NewService(clients ConfigSource, mappings MappingSource, records RecordSource,
	audits AuditStore, retries RetryQueue, transport Transport, opts Options) *Service {
	return &Service{
		clients:   clients,
		mappings:  mappings,
		records:   records,
		audits:    audits,
		retries:   retries,
		transport: transport,
		builder:   payload.NewBuilder(),
		opts:      opts.withDefaults(),
		logger:    log.With().Str("component", "integration").Logger(),
	}
}

// ProcessRequest runs the full delivery state machine for one request.
// Configuration and payload errors abort before any audit write: nothing
// was attempted against the external system, so there is nothing to audit.
// A pre-call audit failure aborts before the transport call.
func (s *Service) ProcessRequest(ctx context.Context, req Request) Result {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "SYSTEM"
	}
	res := Result{
		CorrelationID:  req.CorrelationID,
		ClientID:       req.ClientID,
		SourceRecordID: req.SourceRecordID,
	}
	logger := s.logger.With().
		Str("client_id", req.ClientID).
		Str("source_record_id", req.SourceRecordID).
		Str("correlation_id", req.CorrelationID).
		Logger()
	logger.Info().Msg("processing delivery request")

	// RESOLVE_CONFIG
	cfg, err := s.clients.GetConfig(ctx, req.ClientID)
	if err != nil {
		return s.fail(&res, classifyConfigErr(err), err, logger)
	}

	// BUILD_PAYLOAD
	body, err := s.buildPayload(ctx, req)
	if err != nil {
		return s.fail(&res, classifyPayloadErr(err), err, logger)
	}

	headers := invoker.BuildHeaders(cfg)
	auditHeaders := mustJSON(invoker.RedactHeaders(headers))

	// WRITE_PRECALL_AUDIT. If this fails the call must not happen: a
	// delivery with no audit trail cannot be correlated afterwards.
	audit := &model.AuditRecord{
		AuditID:          uuid.NewString(),
		ClientID:         req.ClientID,
		Endpoint:         cfg.Endpoint,
		HTTPMethod:       cfg.HTTPMethod,
		RequestTimestamp: time.Now().UTC(),
		RequestPayload:   body,
		RequestHeaders:   auditHeaders,
		SourceRecordID:   req.SourceRecordID,
		CorrelationID:    req.CorrelationID,
		CreatedBy:        req.RequestedBy,
	}
	if err := s.audits.Insert(ctx, audit); err != nil {
		logger.Error().Err(err).Msg("pre-call audit write failed, aborting call")
		return s.fail(&res, CodeAuditFailure, err, logger)
	}
	res.AuditID = audit.AuditID

	// INVOKE
	call := s.transport.Invoke(ctx, cfg.HTTPMethod, cfg.Endpoint, headers, body, cfg.TimeoutSeconds)
	res.ExecutionTimeMs = call.ExecutionTimeMs
	if call.StatusCode > 0 {
		res.StatusCode = &call.StatusCode
	}

	// WRITE_POSTCALL_AUDIT. Best effort: the external effect already
	// happened, so a failed audit update is logged, not propagated.
	s.writePostCallAudit(ctx, audit.AuditID, call, logger)

	if call.Success {
		res.Success = true
		res.ResponseBody = decodeBody(call.ResponseBody)
		return res
	}

	// FAILURE -> MAYBE_ENQUEUE_RETRY
	res.ErrorCode = CodeInvocationFailed
	res.ErrorMessage = call.ErrorMessage
	if cfg.RetryEnabled && call.Retryable {
		if next, err := s.enqueueRetry(ctx, req, cfg, body, headers, call); err != nil {
			logger.Warn().Err(err).Msg("could not enqueue retry")
		} else {
			res.WillRetry = true
			res.NextRetryTime = &next
		}
	}
	return res
}

// buildPayload fetches mappings and the source row fresh, then builds and
// merges the payload into its wire form.
func (s *Service) buildPayload(ctx context.Context, req Request) (string, error) {
	mappings, err := s.mappings.ListForClient(ctx, req.ClientID)
	if err != nil {
		return "", err
	}
	source, err := s.records.GetRecord(ctx, mappings, req.SourceRecordID)
	if err != nil {
		return "", err
	}
	tree, err := s.builder.BuildAndMerge(mappings, source, req.AdditionalData)
	if err != nil {
		return "", err
	}
	return payload.Serialize(tree)
}

func (s *Service) writePostCallAudit(ctx context.Context, auditID string, call invoker.CallResult, logger zerolog.Logger) {
	var (
		respBody   *string
		statusCode *int
		headers    *string
		errMsg     *string
	)
	if call.ResponseBody != "" {
		respBody = &call.ResponseBody
	}
	if call.StatusCode > 0 {
		statusCode = &call.StatusCode
	}
	if len(call.ResponseHeaders) > 0 {
		h := mustJSON(call.ResponseHeaders)
		headers = &h
	}
	if call.ErrorMessage != "" {
		errMsg = &call.ErrorMessage
	}
	if err := s.audits.UpdateResponse(ctx, auditID, respBody, statusCode, headers,
		call.ExecutionTimeMs, call.Success, errMsg); err != nil {
		logger.Warn().Err(err).Str("audit_id", auditID).Msg("post-call audit update failed")
	}
}

// enqueueRetry stores the failed request for the retry engine. The payload
// and the real (unredacted) headers are captured verbatim so the retry
// replays exactly what failed.
func (s *Service) enqueueRetry(ctx context.Context, req Request, cfg *model.ClientConfig,
	body string, headers map[string]string, call invoker.CallResult) (time.Time, error) {
	now := time.Now().UTC()
	next := now.Add(s.opts.RetryInterval)
	var statusCode *int
	if call.StatusCode > 0 {
		statusCode = &call.StatusCode
	}
	entry := &model.RetryEntry{
		CallID:           uuid.NewString(),
		ClientID:         req.ClientID,
		RequestPayload:   body,
		RequestHeaders:   mustJSON(headers),
		Endpoint:         cfg.Endpoint,
		HTTPMethod:       cfg.HTTPMethod,
		TimeoutSeconds:   cfg.TimeoutSeconds,
		FailureTimestamp: now,
		RetryCount:       0,
		MaxAttempts:      s.opts.RetryMaxAttempts,
		NextRetryTime:    &next,
		LastStatusCode:   statusCode,
		LastError:        call.ErrorMessage,
		FinalStatus:      model.RetryPending,
		SourceRecordID:   req.SourceRecordID,
		CorrelationID:    req.CorrelationID,
		CreatedBy:        req.RequestedBy,
	}
	if err := s.retries.Insert(ctx, entry); err != nil {
		return time.Time{}, err
	}
	s.logger.Info().Str("call_id", entry.CallID).Time("next_retry", next).
		Msg("queued failed call for retry")
	return next, nil
}

// ProcessBatch runs ProcessRequest for each record sequentially and
// returns one result per record. Requests are independent; a failure of
// one does not stop the rest.
func (s *Service) ProcessBatch(ctx context.Context, clientID string, recordIDs []string, requestedBy string) []Result {
	results := make([]Result, 0, len(recordIDs))
	for _, id := range recordIDs {
		results = append(results, s.ProcessRequest(ctx, Request{
			ClientID:       clientID,
			SourceRecordID: id,
			RequestedBy:    requestedBy,
		}))
	}
	return results
}

// ValidationResult is the outcome of a dry-run validation.
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	ClientActive  bool     `json:"client_active"`
	PayloadSize   int      `json:"payload_size,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	ErrorCode     string   `json:"error_code,omitempty"`
	ErrorMessage  string   `json:"error_message,omitempty"`
}

// Validate builds the payload without invoking anything or writing audit
// rows.
func (s *Service) Validate(ctx context.Context, req Request) ValidationResult {
	if _, err := s.clients.GetConfig(ctx, req.ClientID); err != nil {
		return ValidationResult{ErrorCode: classifyConfigErr(err), ErrorMessage: err.Error()}
	}
	body, err := s.buildPayload(ctx, req)
	if err != nil {
		vr := ValidationResult{ClientActive: true, ErrorCode: classifyPayloadErr(err), ErrorMessage: err.Error()}
		var mfe *payload.MandatoryFieldError
		if errors.As(err, &mfe) {
			vr.MissingFields = mfe.Missing
		}
		return vr
	}
	return ValidationResult{Valid: true, ClientActive: true, PayloadSize: len(body)}
}

func (s *Service) fail(res *Result, code string, err error, logger zerolog.Logger) Result {
	logger.Error().Err(err).Str("error_code", code).Msg("delivery request failed")
	res.ErrorCode = code
	res.ErrorMessage = err.Error()
	return *res
}

func classifyConfigErr(err error) string {
	switch {
	case errors.Is(err, repository.ErrClientNotFound):
		return CodeClientNotFound
	case errors.Is(err, repository.ErrClientInactive):
		return CodeClientInactive
	default:
		return CodeInternal
	}
}

func classifyPayloadErr(err error) string {
	var mfe *payload.MandatoryFieldError
	switch {
	case errors.Is(err, repository.ErrNoMappings):
		return CodeMappingNotFound
	case errors.Is(err, payload.ErrSourceDataNotFound):
		return CodeSourceDataNotFound
	case errors.As(err, &mfe):
		return CodeMandatoryFieldMissing
	case errors.Is(err, payload.ErrSerialization):
		return CodeSerializationFailed
	default:
		return CodeInternal
	}
}

// decodeBody returns the response body as parsed JSON when possible,
// otherwise as the raw string.
func decodeBody(body string) any {
	if body == "" {
		return nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		return parsed
	}
	return body
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
