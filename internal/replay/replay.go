// Package replay reconstructs document content from recorded events.
//
// Positions are UTF-16 code unit offsets, so content is spliced as UTF-16.
// A session_start resets the content to the session's base content; inserts
// and pastes splice their text in at the position; deletes remove as many
// units as the recorded content is long, without checking that the removed
// text matches it. A delete whose content is a "[N chars]" placeholder removes
// N units. Out-of-range positions are clamped to the content length.
package replay

import (
	"unicode/utf16"

	"provenance/internal/provenance"
)

type text []uint16

func encode(s string) text { return utf16.Encode([]rune(s)) }

func (t text) String() string { return string(utf16.Decode(t)) }

func clamp(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos > n {
		return n
	}
	return pos
}

func (t text) apply(e provenance.Event, base string) text {
	switch e.Type {
	case provenance.EventSessionStart:
		return encode(base)
	case provenance.EventInsert, provenance.EventPaste:
		ins := encode(e.ContentString())
		pos := clamp(e.PositionValue(), len(t))
		out := make(text, 0, len(t)+len(ins))
		out = append(out, t[:pos]...)
		out = append(out, ins...)
		return append(out, t[pos:]...)
	case provenance.EventDelete:
		pos := clamp(e.PositionValue(), len(t))
		end := clamp(pos+provenance.EditLength(e), len(t))
		out := make(text, 0, len(t)-(end-pos))
		out = append(out, t[:pos]...)
		return append(out, t[end:]...)
	default:
		return t
	}
}

// Apply returns content after applying one event. base is the base content
// of the session the event belongs to.
func Apply(content string, e provenance.Event, base string) string {
	return encode(content).apply(e, base).String()
}

// Reconstruct replays events from an empty string; the session_start event
// installs base.
func Reconstruct(base string, events []provenance.Event) string {
	return reconstruct("", base, events).String()
}

func reconstruct(start, base string, events []provenance.Event) text {
	t := encode(start)
	for _, e := range events {
		t = t.apply(e, base)
	}
	return t
}

// Continue replays events starting from content rather than "". Until the
// session_start event installs base, events apply to content.
func Continue(content, base string, events []provenance.Event) string {
	return reconstruct(content, base, events).String()
}

// ReconstructSession replays a stored session.
func ReconstructSession(s provenance.Session) string {
	return Reconstruct(s.BaseContent, s.Events)
}

// ReconstructDocument replays all sessions in document order. Each session
// continues from the previous session's end content; its session_start then
// installs its own base content.
func ReconstructDocument(doc *provenance.Document) string {
	content := ""
	for _, s := range doc.Sessions {
		content = Continue(content, s.BaseContent, s.Events)
	}
	return content
}

// Frame is one event of a document timeline.
type Frame struct {
	SessionIndex int
	SessionID    string
	EventIndex   int
	Event        provenance.Event
}

// Timeline is the flattened event stream of a document, in storage order.
type Timeline struct {
	frames    []Frame
	snapshots []string
}

// NewTimeline replays doc once and keeps the content after every frame.
func NewTimeline(doc *provenance.Document) *Timeline {
	tl := &Timeline{}
	content := text(nil)
	for si, s := range doc.Sessions {
		for ei, e := range s.Events {
			content = content.apply(e, s.BaseContent)
			tl.frames = append(tl.frames, Frame{
				SessionIndex: si,
				SessionID:    s.ID,
				EventIndex:   ei,
				Event:        e.Clone(),
			})
			tl.snapshots = append(tl.snapshots, content.String())
		}
	}
	return tl
}

// Len returns the number of frames.
func (tl *Timeline) Len() int { return len(tl.frames) }

// Frame returns frame i.
func (tl *Timeline) Frame(i int) (Frame, bool) {
	if i < 0 || i >= len(tl.frames) {
		return Frame{}, false
	}
	return tl.frames[i], true
}

// At returns the content after frame i. Negative i yields "" and i past the
// end yields the final content.
func (tl *Timeline) At(i int) string {
	if i < 0 || len(tl.snapshots) == 0 {
		return ""
	}
	if i >= len(tl.snapshots) {
		i = len(tl.snapshots) - 1
	}
	return tl.snapshots[i]
}

// Final returns the content after the last frame.
func (tl *Timeline) Final() string {
	return tl.At(len(tl.snapshots) - 1)
}

// Snapshots returns the content after every frame.
func (tl *Timeline) Snapshots() []string {
	out := make([]string, len(tl.snapshots))
	copy(out, tl.snapshots)
	return out
}
