// Package report renders daily delivery reports from audit data.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/relayforge/relayforge/internal/model"
)

var csvHeaders = []string{
	"Client ID",
	"Request Timestamp",
	"API Endpoint",
	"HTTP Method",
	"Status Code",
	"Status",
	"Execution Time (ms)",
	"Error Message",
	"Source Record ID",
	"Correlation ID",
}

// CSV renders audit rows as a CSV document, one row per delivery attempt.
func CSV(records []model.AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeaders); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write(csvRow(rec)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func csvRow(rec model.AuditRecord) []string {
	status := "PENDING"
	if rec.Success != nil {
		if *rec.Success {
			status = "SUCCESS"
		} else {
			status = "FAILED"
		}
	}
	statusCode := ""
	if rec.ResponseStatusCode != nil {
		statusCode = strconv.Itoa(*rec.ResponseStatusCode)
	}
	executionMs := ""
	if rec.ExecutionTimeMs != nil {
		executionMs = strconv.FormatInt(*rec.ExecutionTimeMs, 10)
	}
	errMsg := ""
	if rec.ErrorMessage != nil {
		errMsg = *rec.ErrorMessage
	}
	return []string{
		rec.ClientID,
		rec.RequestTimestamp.UTC().Format(time.RFC3339),
		rec.Endpoint,
		rec.HTTPMethod,
		statusCode,
		status,
		executionMs,
		errMsg,
		rec.SourceRecordID,
		rec.CorrelationID,
	}
}

// FileName builds the canonical report file name for a client and day.
func FileName(clientID string, day time.Time) string {
	return fmt.Sprintf("Client_Audit_Report_%s_%s.csv", clientID, day.Format("20060102"))
}
