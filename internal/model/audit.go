package model

import "time"

// AuditRecord is one row of the delivery audit trail. It is inserted in a
// pre-call state before the external call and updated exactly once with the
// outcome. No external call may happen without a durable pre-call row.
type AuditRecord struct {
	AuditID            string     `db:"audit_id"`
	ClientID           string     `db:"client_id"`
	Endpoint           string     `db:"api_endpoint_url"`
	HTTPMethod         string     `db:"http_method"`
	RequestTimestamp   time.Time  `db:"request_timestamp"`
	RequestPayload     string     `db:"request_payload"`
	RequestHeaders     string     `db:"request_headers"`
	ResponseTimestamp  *time.Time `db:"response_timestamp"`
	ResponsePayload    *string    `db:"response_payload"`
	ResponseStatusCode *int       `db:"response_status_code"`
	ResponseHeaders    *string    `db:"response_headers"`
	ExecutionTimeMs    *int64     `db:"execution_time_ms"`
	Success            *bool      `db:"success_flag"`
	ErrorMessage       *string    `db:"error_message"`
	SourceRecordID     string     `db:"source_record_id"`
	CorrelationID      string     `db:"correlation_id"`
	CreatedBy          string     `db:"created_by"`
}

// AuditStats summarizes delivery outcomes for one client and time range.
type AuditStats struct {
	ClientID        string  `json:"client_id"`
	TotalCalls      int     `json:"total_calls"`
	SuccessfulCalls int     `json:"successful_calls"`
	FailedCalls     int     `json:"failed_calls"`
	AvgExecutionMs  int64   `json:"avg_execution_time_ms"`
	SuccessRate     float64 `json:"success_rate"`
}
