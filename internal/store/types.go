// Package store archives provenance documents in SQLite.
//
// A document is stored as one row in documents, one row per session in
// sessions and one row per chained event in events. Saving a document
// replaces its sessions and events in a single transaction; verification
// re-reads the rows and re-runs full document validation.
package store

import (
	"errors"
	"time"

	"provenance/internal/format"
)

// ErrNotFound is returned when no document is stored under the requested id.
var ErrNotFound = errors.New("store: document not found")

// ErrEmptyID is returned when a document id is empty.
var ErrEmptyID = errors.New("store: empty document id")

// DocumentInfo summarizes an archived document.
type DocumentInfo struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
	ArchivedAt     time.Time `json:"archivedAt"`
	ContentHash    string    `json:"contentHash"`
	Sessions       int       `json:"sessions"`
	Events         int       `json:"events"`
}

// Verification is the outcome of verifying one archived document.
type Verification struct {
	DocumentID string    `json:"documentId"`
	VerifiedAt time.Time `json:"verifiedAt"`
	Valid      bool      `json:"valid"`
	Errors     int       `json:"errors"`
	Warnings   int       `json:"warnings"`

	// Result is the full validation result.
	Result format.ValidationResult `json:"result"`
}
