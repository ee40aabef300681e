package domain

import "time"

// RecordStatus is the per-record outcome of an import run.
type RecordStatus string

const (
	RecordStatusImported RecordStatus = "imported"
	RecordStatusFailed   RecordStatus = "failed"
)

// RecordResult is one entry of an import report.
type RecordResult struct {
	ExternalID  string       `json:"external_id"`
	Status      RecordStatus `json:"status"`
	RecordID    string       `json:"record_id,omitempty"`
	OperationID string       `json:"operation_id,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Report summarises an import run.
type Report struct {
	RunID      string         `json:"run_id"`
	Source     SourceName     `json:"source"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []RecordResult `json:"results"`
	Imported   int            `json:"imported"`
	Failed     int            `json:"failed"`
}

// Append adds a result and updates the counters.
func (r *Report) Append(res RecordResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case RecordStatusImported:
		r.Imported++
	case RecordStatusFailed:
		r.Failed++
	}
}
