// Package provenance defines the data model of a captured writing process.
//
// A Document holds one or more Sessions. Each Session is one sitting of
// editing and carries its own hash chain of Events, starting from an empty
// previous hash. Events describe deltas against the session's BaseContent.
package provenance

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// FormatVersion is the document format version written by this package.
const FormatVersion = "1.0"

// FileExtension is the conventional extension for persisted documents.
const FileExtension = ".provenance"

// EventType discriminates the kinds of recorded events.
type EventType string

const (
	EventInsert       EventType = "insert"
	EventDelete       EventType = "delete"
	EventPaste        EventType = "paste"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventInsert, EventDelete, EventPaste, EventSessionStart, EventSessionEnd:
		return true
	}
	return false
}

// IsEdit reports whether t carries a position and content.
func (t EventType) IsEdit() bool {
	return t == EventInsert || t == EventDelete || t == EventPaste
}

// Event is one atomic editing action.
//
// Position and Content are nil for session markers. Hash binds the event to
// its predecessor in the same session.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Position  *int      `json:"position"`
	Content   *string   `json:"content"`
	Hash      string    `json:"hash"`
}

// NewEditEvent builds an unhashed insert, delete or paste event.
func NewEditEvent(t EventType, timestamp int64, position int, content string) Event {
	return Event{
		Type:      t,
		Timestamp: timestamp,
		Position:  &position,
		Content:   &content,
	}
}

// NewMarkerEvent builds an unhashed session_start or session_end event.
func NewMarkerEvent(t EventType, timestamp int64) Event {
	return Event{Type: t, Timestamp: timestamp}
}

// ContentString returns the event content, or "" for markers.
func (e Event) ContentString() string {
	if e.Content == nil {
		return ""
	}
	return *e.Content
}

// PositionValue returns the event position, or 0 for markers.
func (e Event) PositionValue() int {
	if e.Position == nil {
		return 0
	}
	return *e.Position
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	c := e
	if e.Position != nil {
		p := *e.Position
		c.Position = &p
	}
	if e.Content != nil {
		s := *e.Content
		c.Content = &s
	}
	return c
}

// Session is one contiguous recording interval.
type Session struct {
	ID          string    `json:"id"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	BaseContent string    `json:"baseContent"`
	Events      []Event   `json:"events"`
}

// Duration returns EndTime - StartTime, never negative.
func (s Session) Duration() time.Duration {
	d := s.EndTime.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	c := s
	c.Events = CloneEvents(s.Events)
	return c
}

// CloneEvents deep-copies an event slice. The result is never nil.
func CloneEvents(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

// Metadata describes the document as a whole.
type Metadata struct {
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
	EditorVersion  string    `json:"editorVersion"`
}

// Document is the persisted artifact.
type Document struct {
	Version      string    `json:"version"`
	Metadata     Metadata  `json:"metadata"`
	Sessions     []Session `json:"sessions"`
	FinalContent string    `json:"finalContent"`
	ContentHash  string    `json:"contentHash"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Sessions = make([]Session, len(d.Sessions))
	for i, s := range d.Sessions {
		c.Sessions[i] = s.Clone()
	}
	return &c
}

// Session returns the session with the given id, if present.
func (d *Document) Session(id string) (*Session, bool) {
	for i := range d.Sessions {
		if d.Sessions[i].ID == id {
			return &d.Sessions[i], true
		}
	}
	return nil, false
}

// NormalizeTime truncates t to millisecond precision in UTC, which is what
// survives an ISO-8601 round trip.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// TextLength returns the length of s in UTF-16 code units, the unit used by
// event positions.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// DeletePlaceholder is recorded as delete content when the removed text could
// not be recovered. It stands for n UTF-16 code units.
func DeletePlaceholder(n int) string {
	return "[" + strconv.Itoa(n) + " chars]"
}

// ParseDeletePlaceholder reports the length a delete placeholder stands for.
func ParseDeletePlaceholder(s string) (int, bool) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, " chars]") {
		return 0, false
	}
	n, err := strconv.Atoi(s[1 : len(s)-len(" chars]")])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// EditLength is the number of UTF-16 code units an edit event adds or
// removes. A delete placeholder counts for the length it stands for.
func EditLength(e Event) int {
	c := e.ContentString()
	if e.Type == EventDelete {
		if n, ok := ParseDeletePlaceholder(c); ok {
			return n
		}
	}
	return TextLength(c)
}
