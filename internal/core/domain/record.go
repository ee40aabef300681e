package domain

import "time"

// SourceName identifies an external metadata provider (e.g. "scopus", "crossref").
type SourceName = string

// Record is a bibliographic record fetched from an external source.
type Record struct {
	ID         string              `json:"id"          db:"id"`
	Source     SourceName          `json:"source"      db:"source"`
	ExternalID string              `json:"external_id" db:"external_id"`
	DOI        string              `json:"doi"         db:"doi"`
	Title      string              `json:"title"       db:"title"`
	Authors    []string            `json:"authors"     db:"authors"`
	Published  string              `json:"published"   db:"published"`
	Metadata   map[string][]string `json:"metadata"`
	FetchedAt  time.Time           `json:"fetched_at"  db:"fetched_at"`
}

// Key returns the storage key of the record.
func (r *Record) Key() string {
	return r.Source + ":" + r.ExternalID
}

// Add appends values to a metadata field, skipping empty ones.
func (r *Record) Add(field string, values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		if r.Metadata == nil {
			r.Metadata = make(map[string][]string)
		}
		r.Metadata[field] = append(r.Metadata[field], v)
	}
}

// First returns the first value of a metadata field.
func (r *Record) First(field string) string {
	if vs := r.Metadata[field]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
