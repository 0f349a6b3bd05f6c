package models

import "time"

// DocType classifies an uploaded course document.
type DocType string

const (
	DocTypeSyllabus        DocType = "syllabus"
	DocTypeMidtermOverview DocType = "midterm_overview"
	DocTypeTextbook        DocType = "textbook"
)

// Valid reports whether t is one of the document types the pipeline reads.
func (t DocType) Valid() bool {
	switch t {
	case DocTypeSyllabus, DocTypeMidtermOverview, DocTypeTextbook:
		return true
	}
	return false
}

// Document is an uploaded file recorded in the catalog.
type Document struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Course    string    `json:"course"`
	DocType   DocType   `json:"doc_type"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
