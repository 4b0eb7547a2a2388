package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relayforge/relayforge/internal/integration"
	"github.com/relayforge/relayforge/internal/model"
	"github.com/relayforge/relayforge/internal/report"
	"github.com/relayforge/relayforge/internal/response"
)

// Orchestrator is the delivery service surface the handler needs.
type Orchestrator interface {
	ProcessRequest(ctx context.Context, req integration.Request) integration.Result
	ProcessBatch(ctx context.Context, clientID string, recordIDs []string, requestedBy string) []integration.Result
	Validate(ctx context.Context, req integration.Request) integration.ValidationResult
}

// RetryManager exposes the retry queue's manual operations.
type RetryManager interface {
	TriggerNow(ctx context.Context, callID string) (bool, error)
	Cancel(ctx context.Context, callID string) (bool, error)
	Stats(ctx context.Context) (*model.RetryStats, error)
}

// AuditReader reads the audit trail for stats and reports.
type AuditReader interface {
	Stats(ctx context.Context, clientID string, from, to time.Time) (*model.AuditStats, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]model.AuditRecord, error)
	FindByClientAndRange(ctx context.Context, clientID string, from, to time.Time) ([]model.AuditRecord, error)
}

// RetryReader lists queued retries.
type RetryReader interface {
	ListPendingByClient(ctx context.Context, clientID string) ([]model.RetryEntry, error)
}

// IntegrationHandler serves the /v1/integration API.
type IntegrationHandler struct {
	Service Orchestrator
	Retries RetryManager
	Audits  AuditReader
	Queue   RetryReader
	Logger  zerolog.Logger
}

// NewIntegrationHandler wires the handler.
func NewIntegrationHandler(svc Orchestrator, retries RetryManager, audits AuditReader, queue RetryReader) *IntegrationHandler {
	return &IntegrationHandler{
		Service: svc,
		Retries: retries,
		Audits:  audits,
		Queue:   queue,
		Logger:  log.With().Str("component", "handler").Logger(),
	}
}

// Invoke processes one delivery request (POST /v1/integration/invoke).
// Delivery failures come back 502: the request was fine, the upstream
// endpoint was not.
func (h *IntegrationHandler) Invoke(c echo.Context) error {
	var req integration.Request
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	if req.ClientID == "" || req.SourceRecordID == "" {
		return response.BadRequest(c, "client_id and source_record_id are required", "")
	}

	result := h.Service.ProcessRequest(c.Request().Context(), req)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	return response.JSON(c, status, result, "")
}

// InvokeBatch processes many records for one client
// (POST /v1/integration/batch/:clientId).
func (h *IntegrationHandler) InvokeBatch(c echo.Context) error {
	clientID := c.Param("clientId")
	var recordIDs []string
	if err := c.Bind(&recordIDs); err != nil {
		return response.BadRequest(c, "expected a JSON array of record IDs", err.Error())
	}
	if len(recordIDs) == 0 {
		return response.BadRequest(c, "no record IDs given", "")
	}
	requestedBy := c.QueryParam("requested_by")
	if requestedBy == "" {
		requestedBy = "BATCH_API"
	}

	results := h.Service.ProcessBatch(c.Request().Context(), clientID, recordIDs, requestedBy)
	return response.OK(c, results, "")
}

// Validate dry-runs payload construction (POST /v1/integration/validate).
func (h *IntegrationHandler) Validate(c echo.Context) error {
	var req integration.Request
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	if req.ClientID == "" || req.SourceRecordID == "" {
		return response.BadRequest(c, "client_id and source_record_id are required", "")
	}
	return response.OK(c, h.Service.Validate(c.Request().Context(), req), "")
}

// AuditStats returns one day's delivery stats
// (GET /v1/integration/audit/:clientId?date=YYYY-MM-DD).
func (h *IntegrationHandler) AuditStats(c echo.Context) error {
	from, to, err := dayRange(c.QueryParam("date"))
	if err != nil {
		return response.BadRequest(c, "invalid date, expected YYYY-MM-DD", err.Error())
	}
	stats, err := h.Audits.Stats(c.Request().Context(), c.Param("clientId"), from, to)
	if err != nil {
		return response.InternalError(c, "audit stats failed", err.Error())
	}
	return response.OK(c, stats, "")
}

// AuditByCorrelation returns the audit trail of one business event
// (GET /v1/integration/audit/correlation/:correlationId).
func (h *IntegrationHandler) AuditByCorrelation(c echo.Context) error {
	records, err := h.Audits.FindByCorrelationID(c.Request().Context(), c.Param("correlationId"))
	if err != nil {
		return response.InternalError(c, "audit lookup failed", err.Error())
	}
	return response.OK(c, records, "")
}

// RetryStats returns queue counts (GET /v1/integration/retry/stats).
func (h *IntegrationHandler) RetryStats(c echo.Context) error {
	stats, err := h.Retries.Stats(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "retry stats failed", err.Error())
	}
	return response.OK(c, stats, "")
}

// PendingRetries lists a client's queued retries
// (GET /v1/integration/retry/:clientId).
func (h *IntegrationHandler) PendingRetries(c echo.Context) error {
	entries, err := h.Queue.ListPendingByClient(c.Request().Context(), c.Param("clientId"))
	if err != nil {
		return response.InternalError(c, "retry lookup failed", err.Error())
	}
	return response.OK(c, entries, "")
}

// TriggerRetry runs one queued retry immediately
// (POST /v1/integration/retry/:callId/trigger).
func (h *IntegrationHandler) TriggerRetry(c echo.Context) error {
	callID := c.Param("callId")
	triggered, err := h.Retries.TriggerNow(c.Request().Context(), callID)
	if err != nil {
		h.Logger.Warn().Err(err).Str("call_id", callID).Msg("manual retry trigger failed")
	}
	msg := "Retry initiated"
	if !triggered {
		msg = "Failed to trigger retry"
	}
	return response.OK(c, map[string]any{"call_id": callID, "triggered": triggered}, msg)
}

// CancelRetry forces a queued retry to EXHAUSTED
// (DELETE /v1/integration/retry/:callId).
func (h *IntegrationHandler) CancelRetry(c echo.Context) error {
	callID := c.Param("callId")
	cancelled, err := h.Retries.Cancel(c.Request().Context(), callID)
	if err != nil {
		return response.InternalError(c, "cancel retry failed", err.Error())
	}
	msg := "Retry cancelled"
	if !cancelled {
		msg = "Failed to cancel retry"
	}
	return response.OK(c, map[string]any{"call_id": callID, "cancelled": cancelled}, msg)
}

// Report streams one day's deliveries as CSV
// (GET /v1/integration/report/:clientId?date=YYYY-MM-DD).
func (h *IntegrationHandler) Report(c echo.Context) error {
	from, to, err := dayRange(c.QueryParam("date"))
	if err != nil {
		return response.BadRequest(c, "invalid date, expected YYYY-MM-DD", err.Error())
	}
	clientID := c.Param("clientId")
	records, err := h.Audits.FindByClientAndRange(c.Request().Context(), clientID, from, to)
	if err != nil {
		return response.InternalError(c, "report query failed", err.Error())
	}
	doc, err := report.CSV(records)
	if err != nil {
		return response.InternalError(c, "report generation failed", err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+report.FileName(clientID, from)+`"`)
	return c.Blob(http.StatusOK, "text/csv", doc)
}

// Health reports liveness plus the retry queue depth
// (GET /v1/integration/health).
func (h *IntegrationHandler) Health(c echo.Context) error {
	stats, err := h.Retries.Stats(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "health check failed", err.Error())
	}
	return response.OK(c, map[string]any{
		"status":           "UP",
		"timestamp":        time.Now().UTC(),
		"retry_queue_size": stats.PendingCount,
	}, "")
}

// dayRange resolves an optional YYYY-MM-DD parameter (default: today,
// UTC) to its [start, end) bounds.
func dayRange(date string) (time.Time, time.Time, error) {
	day := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24 * time.Hour), nil
}
