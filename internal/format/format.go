// Package format assembles, persists and validates provenance documents.
//
// A document is created empty, receives sessions as sittings complete, and
// is finalized by stamping its full content and that content's digest. A
// session is upserted by id: re-adding an id replaces the stored session so
// a sitting can be extended in place until the author leaves it.
//
// Validation never repairs anything. Broken chains and a stale content hash
// are reported as findings so the caller can surface them.
package format

import (
	"time"

	"provenance/internal/hasher"
	"provenance/internal/provenance"
)

// EditorVersion is stamped into new documents.
var EditorVersion = "provenance-go/1.0"

// DefaultTitle is used when a document is created without a title.
const DefaultTitle = "Untitled"

// Builder creates and mutates documents using its clock for metadata
// timestamps.
type Builder struct {
	Clock         func() time.Time
	EditorVersion string
}

// NewBuilder returns a Builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{Clock: time.Now, EditorVersion: EditorVersion}
}

var defaultBuilder = NewBuilder()

func (b *Builder) now() time.Time {
	return provenance.NormalizeTime(b.Clock())
}

// CreateDocument returns an empty document.
func (b *Builder) CreateDocument(title string) *provenance.Document {
	if title == "" {
		title = DefaultTitle
	}
	now := b.now()
	return &provenance.Document{
		Version: provenance.FormatVersion,
		Metadata: provenance.Metadata{
			Title:          title,
			CreatedAt:      now,
			LastModifiedAt: now,
			EditorVersion:  b.EditorVersion,
		},
		Sessions: make([]provenance.Session, 0),
	}
}

// AddSession appends a session, or replaces the session with the same id.
// Events are copied.
func (b *Builder) AddSession(doc *provenance.Document, sessionID string, startTime, endTime time.Time, events []provenance.Event, baseContent string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	s := provenance.Session{
		ID:          sessionID,
		StartTime:   provenance.NormalizeTime(startTime),
		EndTime:     provenance.NormalizeTime(endTime),
		BaseContent: baseContent,
		Events:      provenance.CloneEvents(events),
	}
	if existing, ok := doc.Session(sessionID); ok {
		*existing = s
	} else {
		doc.Sessions = append(doc.Sessions, s)
	}
	doc.Metadata.LastModifiedAt = b.now()
	return nil
}

// PutSession upserts a Session record, as produced by a recorder.
func (b *Builder) PutSession(doc *provenance.Document, s provenance.Session) error {
	return b.AddSession(doc, s.ID, s.StartTime, s.EndTime, s.Events, s.BaseContent)
}

// FinalizeDocument stamps finalContent and its digest.
func (b *Builder) FinalizeDocument(doc *provenance.Document, finalContent string) {
	doc.FinalContent = finalContent
	doc.ContentHash = hasher.Digest(finalContent)
	doc.Metadata.LastModifiedAt = b.now()
}

// CreateDocument returns an empty document using the wall clock.
func CreateDocument(title string) *provenance.Document {
	return defaultBuilder.CreateDocument(title)
}

// AddSession upserts a session using the wall clock.
func AddSession(doc *provenance.Document, sessionID string, startTime, endTime time.Time, events []provenance.Event, baseContent string) error {
	return defaultBuilder.AddSession(doc, sessionID, startTime, endTime, events, baseContent)
}

// PutSession upserts a Session record using the wall clock.
func PutSession(doc *provenance.Document, s provenance.Session) error {
	return defaultBuilder.PutSession(doc, s)
}

// FinalizeDocument stamps finalContent using the wall clock.
func FinalizeDocument(doc *provenance.Document, finalContent string) {
	defaultBuilder.FinalizeDocument(doc, finalContent)
}
