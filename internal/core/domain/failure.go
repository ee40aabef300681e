package domain

import "time"

// ImportFailure represents a record that could not be imported.
type ImportFailure struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Source      SourceName    `json:"source"`
	ExternalID  string        `json:"external_id"`
	OperationID string        `json:"operation_id"`
	Attempts    int           `json:"attempts"`
	FailureType FailureType   `json:"failure_type"`
	Error       string        `json:"error_msg"`
	RetryCount  int           `json:"retry_count"`
	Status      FailureStatus `json:"status"`
	LastAttempt time.Time     `json:"last_attempt"`
	CreatedAt   time.Time     `json:"created_at"`
}

type FailureStatus string

const (
	FailureStatusPending  FailureStatus = "pending"
	FailureStatusResolved FailureStatus = "resolved"
	FailureStatusIgnored  FailureStatus = "ignored"
)

// FailureType mirrors why the retry executor gave up, plus storage failures.
type FailureType string

const (
	FailureTypeInit          FailureType = "init"
	FailureTypeUnrecoverable FailureType = "unrecoverable"
	FailureTypeExhausted     FailureType = "exhausted"
	FailureTypeInterrupted   FailureType = "interrupted"
	FailureTypeStorage       FailureType = "storage"
	FailureTypeUnknown       FailureType = "unknown"
)
