package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayforge/relayforge/internal/model"
)

// AuditRepository persists the delivery audit trail.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository returns an AuditRepository using the given pool.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Insert writes the pre-call audit row. The caller must not invoke the
// external endpoint unless this returns nil.
func (r *AuditRepository) Insert(ctx context.Context, rec *model.AuditRecord) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (audit_id, client_id, api_endpoint_url, http_method,
			request_timestamp, request_payload, request_headers,
			source_record_id, correlation_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.AuditID,
		rec.ClientID,
		rec.Endpoint,
		rec.HTTPMethod,
		rec.RequestTimestamp,
		rec.RequestPayload,
		rec.RequestHeaders,
		rec.SourceRecordID,
		rec.CorrelationID,
		rec.CreatedBy,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("audit insert affected %d rows", tag.RowsAffected())
	}
	return nil
}

// UpdateResponse records the outcome of the call on an existing audit row.
func (r *AuditRepository) UpdateResponse(ctx context.Context, auditID string, responsePayload *string,
	statusCode *int, responseHeaders *string, executionTimeMs int64, success bool, errorMessage *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE audit_log
		SET response_timestamp = $2, response_payload = $3, response_status_code = $4,
		    response_headers = $5, execution_time_ms = $6, success_flag = $7, error_message = $8
		WHERE audit_id = $1`,
		auditID,
		time.Now().UTC(),
		responsePayload,
		statusCode,
		responseHeaders,
		executionTimeMs,
		success,
		errorMessage,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("audit record %s not found for update", auditID)
	}
	return nil
}

// Stats aggregates delivery outcomes for a client and time range.
func (r *AuditRepository) Stats(ctx context.Context, clientID string, from, to time.Time) (*model.AuditStats, error) {
	stats := model.AuditStats{ClientID: clientID}
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE success_flag),
		       COALESCE(AVG(execution_time_ms), 0)::BIGINT
		FROM audit_log
		WHERE client_id = $1 AND request_timestamp >= $2 AND request_timestamp < $3`,
		clientID, from, to).Scan(&stats.TotalCalls, &stats.SuccessfulCalls, &stats.AvgExecutionMs)
	if err != nil {
		return nil, err
	}
	stats.FailedCalls = stats.TotalCalls - stats.SuccessfulCalls
	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(stats.SuccessfulCalls) * 100 / float64(stats.TotalCalls)
	}
	return &stats, nil
}

// FindByCorrelationID returns all audit rows for one logical business
// event, oldest first.
func (r *AuditRepository) FindByCorrelationID(ctx context.Context, correlationID string) ([]model.AuditRecord, error) {
	return r.list(ctx, `
		SELECT audit_id, client_id, api_endpoint_url, http_method, request_timestamp,
		       request_payload, request_headers, response_timestamp, response_payload,
		       response_status_code, response_headers, execution_time_ms, success_flag,
		       error_message, source_record_id, correlation_id, created_by
		FROM audit_log WHERE correlation_id = $1
		ORDER BY request_timestamp`, correlationID)
}

// FindByClientAndRange returns audit rows for a client in a time range.
func (r *AuditRepository) FindByClientAndRange(ctx context.Context, clientID string, from, to time.Time) ([]model.AuditRecord, error) {
	return r.list(ctx, `
		SELECT audit_id, client_id, api_endpoint_url, http_method, request_timestamp,
		       request_payload, request_headers, response_timestamp, response_payload,
		       response_status_code, response_headers, execution_time_ms, success_flag,
		       error_message, source_record_id, correlation_id, created_by
		FROM audit_log
		WHERE client_id = $1 AND request_timestamp >= $2 AND request_timestamp < $3
		ORDER BY request_timestamp`, clientID, from, to)
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]model.AuditRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.AuditRecord
	for rows.Next() {
		var rec model.AuditRecord
		if err := rows.Scan(
			&rec.AuditID,
			&rec.ClientID,
			&rec.Endpoint,
			&rec.HTTPMethod,
			&rec.RequestTimestamp,
			&rec.RequestPayload,
			&rec.RequestHeaders,
			&rec.ResponseTimestamp,
			&rec.ResponsePayload,
			&rec.ResponseStatusCode,
			&rec.ResponseHeaders,
			&rec.ExecutionTimeMs,
			&rec.Success,
			&rec.ErrorMessage,
			&rec.SourceRecordID,
			&rec.CorrelationID,
			&rec.CreatedBy,
		); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
