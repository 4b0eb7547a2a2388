package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayforge/relayforge/internal/model"
)

// ErrRetryNotFound means no retry entry exists for the call ID.
var ErrRetryNotFound = errors.New("retry entry not found")

// ErrRetryClaimed means a sweep already claimed the entry and its attempt
// is still in flight.
var ErrRetryClaimed = errors.New("retry attempt already in progress")

// claimTTL is how long a claim protects an entry from other sweeps.
// A worker that crashed mid-attempt releases its entries after this.
const claimTTL = 10 * time.Minute

// RetryRepository persists the durable retry queue. All mutations are
// single-row updates; the claim in ClaimDue is the only cross-row
// coordination two sweep cycles need.
type RetryRepository struct {
	pool *pgxpool.Pool
}

// NewRetryRepository returns a RetryRepository using the given pool.
func NewRetryRepository(pool *pgxpool.Pool) *RetryRepository {
	return &RetryRepository{pool: pool}
}

// Insert enqueues a new PENDING entry.
func (r *RetryRepository) Insert(ctx context.Context, e *model.RetryEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO retry_queue (call_id, client_id, request_payload, request_headers,
			api_endpoint_url, http_method, timeout_seconds, failure_timestamp,
			retry_count, max_retry_attempts, next_retry_time, last_status_code,
			last_error, final_status, source_record_id, correlation_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.CallID,
		e.ClientID,
		e.RequestPayload,
		e.RequestHeaders,
		e.Endpoint,
		e.HTTPMethod,
		e.TimeoutSeconds,
		e.FailureTimestamp,
		e.RetryCount,
		e.MaxAttempts,
		e.NextRetryTime,
		e.LastStatusCode,
		e.LastError,
		e.FinalStatus,
		e.SourceRecordID,
		e.CorrelationID,
		e.CreatedBy,
	)
	return err
}

const retryColumns = `call_id, client_id, request_payload, request_headers,
	api_endpoint_url, http_method, timeout_seconds, failure_timestamp,
	retry_count, max_retry_attempts, next_retry_time, last_status_code,
	last_error, final_status, source_record_id, correlation_id, created_by`

// ClaimDue atomically claims up to limit due PENDING entries and returns
// them. Claimed entries are invisible to other sweeps until the claim
// expires or the attempt resolves them, so two cycles never double-process
// one entry.
func (r *RetryRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.RetryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE retry_queue SET claimed_at = $1
		WHERE call_id IN (
			SELECT call_id FROM retry_queue
			WHERE final_status = 'PENDING'
			  AND next_retry_time <= $1
			  AND (claimed_at IS NULL OR claimed_at < $2)
			ORDER BY next_retry_time
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+retryColumns, now, now.Add(-claimTTL), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRetryEntries(rows)
}

// ClaimOne claims a single PENDING entry for an immediate manual attempt,
// regardless of its schedule. An entry a sweep already claimed is refused
// until that claim expires, so a manual trigger cannot double-invoke a call
// the sweep has in flight.
func (r *RetryRepository) ClaimOne(ctx context.Context, callID string, now time.Time) (*model.RetryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE retry_queue SET claimed_at = $1
		WHERE call_id = $2 AND final_status = 'PENDING'
		  AND (claimed_at IS NULL OR claimed_at < $3)
		RETURNING `+retryColumns, now, callID, now.Add(-claimTTL))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanRetryEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 1 {
		return &list[0], nil
	}

	entry, err := r.FindByCallID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if entry.FinalStatus != model.RetryPending {
		return nil, fmt.Errorf("cannot retry call in state %s", entry.FinalStatus)
	}
	return nil, ErrRetryClaimed
}

// UpdateAttempt records the outcome of one attempt and releases the claim.
// Terminal rows are never touched: the WHERE clause refuses to move an
// entry out of SUCCESS or EXHAUSTED.
func (r *RetryRepository) UpdateAttempt(ctx context.Context, callID string, retryCount int,
	nextRetryTime *time.Time, statusCode *int, lastError string, status model.RetryStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE retry_queue
		SET retry_count = $2, next_retry_time = $3, last_status_code = $4,
		    last_error = $5, final_status = $6, claimed_at = NULL, updated_at = now()
		WHERE call_id = $1 AND final_status = 'PENDING'`,
		callID, retryCount, nextRetryTime, statusCode, lastError, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrRetryNotFound
	}
	return nil
}

// MarkSuccess transitions a PENDING entry to its SUCCESS terminal state.
func (r *RetryRepository) MarkSuccess(ctx context.Context, callID string, retryCount int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE retry_queue
		SET retry_count = $2, final_status = 'SUCCESS', next_retry_time = NULL,
		    last_error = '', claimed_at = NULL, updated_at = now()
		WHERE call_id = $1 AND final_status = 'PENDING'`, callID, retryCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrRetryNotFound
	}
	return nil
}

// MarkExhausted forces a PENDING entry to EXHAUSTED with a reason, used
// both by the engine and by manual cancellation.
func (r *RetryRepository) MarkExhausted(ctx context.Context, callID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE retry_queue
		SET final_status = 'EXHAUSTED', next_retry_time = NULL, last_error = $2,
		    claimed_at = NULL, updated_at = now()
		WHERE call_id = $1 AND final_status = 'PENDING'`, callID, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FindByCallID returns one entry.
func (r *RetryRepository) FindByCallID(ctx context.Context, callID string) (*model.RetryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+retryColumns+` FROM retry_queue WHERE call_id = $1`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanRetryEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrRetryNotFound
	}
	return &list[0], nil
}

// ListPendingByClient returns a client's PENDING entries, soonest first.
func (r *RetryRepository) ListPendingByClient(ctx context.Context, clientID string) ([]model.RetryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+retryColumns+` FROM retry_queue
		WHERE client_id = $1 AND final_status = 'PENDING'
		ORDER BY next_retry_time`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRetryEntries(rows)
}

// Stats counts queue entries by status.
func (r *RetryRepository) Stats(ctx context.Context) (*model.RetryStats, error) {
	var stats model.RetryStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE final_status = 'PENDING'),
		       COUNT(*) FILTER (WHERE final_status = 'SUCCESS'),
		       COUNT(*) FILTER (WHERE final_status = 'EXHAUSTED')
		FROM retry_queue`).Scan(&stats.PendingCount, &stats.SuccessCount, &stats.ExhaustedCount)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// DeleteTerminalBefore purges SUCCESS and EXHAUSTED entries whose failure
// timestamp is older than the cutoff.
func (r *RetryRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM retry_queue
		WHERE final_status IN ('SUCCESS', 'EXHAUSTED') AND failure_timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRetryEntries(rows pgx.Rows) ([]model.RetryEntry, error) {
	var list []model.RetryEntry
	for rows.Next() {
		var e model.RetryEntry
		if err := rows.Scan(
			&e.CallID,
			&e.ClientID,
			&e.RequestPayload,
			&e.RequestHeaders,
			&e.Endpoint,
			&e.HTTPMethod,
			&e.TimeoutSeconds,
			&e.FailureTimestamp,
			&e.RetryCount,
			&e.MaxAttempts,
			&e.NextRetryTime,
			&e.LastStatusCode,
			&e.LastError,
			&e.FinalStatus,
			&e.SourceRecordID,
			&e.CorrelationID,
			&e.CreatedBy,
		); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
