package model

import "time"

// RetryStatus is the lifecycle state of a queued retry. SUCCESS and
// EXHAUSTED are terminal: a terminal entry is never mutated again.
type RetryStatus string

const (
	RetryPending   RetryStatus = "PENDING"
	RetrySuccess   RetryStatus = "SUCCESS"
	RetryExhausted RetryStatus = "EXHAUSTED"
)

// Terminal reports whether the status permits no further mutation.
func (s RetryStatus) Terminal() bool {
	return s == RetrySuccess || s == RetryExhausted
}

// RetryEntry is one failed delivery queued for re-attempt. The payload and
// headers captured at failure time are replayed verbatim on every attempt,
// so later mapping changes do not retroactively alter in-flight retries.
type RetryEntry struct {
	CallID           string      `db:"call_id"`
	ClientID         string      `db:"client_id"`
	RequestPayload   string      `db:"request_payload"`
	RequestHeaders   string      `db:"request_headers"`
	Endpoint         string      `db:"api_endpoint_url"`
	HTTPMethod       string      `db:"http_method"`
	TimeoutSeconds   int         `db:"timeout_seconds"`
	FailureTimestamp time.Time   `db:"failure_timestamp"`
	RetryCount       int         `db:"retry_count"`
	MaxAttempts      int         `db:"max_retry_attempts"`
	NextRetryTime    *time.Time  `db:"next_retry_time"`
	LastStatusCode   *int        `db:"last_status_code"`
	LastError        string      `db:"last_error"`
	FinalStatus      RetryStatus `db:"final_status"`
	SourceRecordID   string      `db:"source_record_id"`
	CorrelationID    string      `db:"correlation_id"`
	CreatedBy        string      `db:"created_by"`
}

// RetryStats is a snapshot of the retry queue grouped by status.
type RetryStats struct {
	PendingCount   int `json:"pending_count"`
	SuccessCount   int `json:"success_count"`
	ExhaustedCount int `json:"exhausted_count"`
}
