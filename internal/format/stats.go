package format

import (
	"time"

	"provenance/internal/provenance"
)

// Stats summarizes the recorded activity of a document. Character counts are
// UTF-16 code units. TotalEvents counts insert, delete and paste events only;
// session_start and session_end markers are counted in SessionMarkers.
type Stats struct {
	Sessions          int           `json:"sessions"`
	TotalEvents       int           `json:"totalEvents"`
	InsertEvents      int           `json:"insertEvents"`
	DeleteEvents      int           `json:"deleteEvents"`
	PasteEvents       int           `json:"pasteEvents"`
	SessionMarkers    int           `json:"sessionMarkers"`
	TotalCharsTyped   int           `json:"totalCharsTyped"`
	TotalCharsDeleted int           `json:"totalCharsDeleted"`
	TotalCharsPasted  int           `json:"totalCharsPasted"`
	TotalWritingTime  time.Duration `json:"totalWritingTime"`
	PasteRatio        float64       `json:"pasteRatio"`
}

// GetStatistics computes Stats in a single pass over all sessions.
func GetStatistics(doc *provenance.Document) Stats {
	var st Stats
	if doc == nil {
		return st
	}
	st.Sessions = len(doc.Sessions)
	for _, s := range doc.Sessions {
		st.TotalWritingTime += s.Duration()
		for _, e := range s.Events {
			switch e.Type {
			case provenance.EventInsert:
				st.InsertEvents++
				st.TotalCharsTyped += provenance.EditLength(e)
			case provenance.EventDelete:
				st.DeleteEvents++
				st.TotalCharsDeleted += provenance.EditLength(e)
			case provenance.EventPaste:
				st.PasteEvents++
				st.TotalCharsPasted += provenance.EditLength(e)
			case provenance.EventSessionStart, provenance.EventSessionEnd:
				st.SessionMarkers++
			}
		}
	}
	st.TotalEvents = st.InsertEvents + st.DeleteEvents + st.PasteEvents
	if st.TotalEvents > 0 {
		st.PasteRatio = float64(st.PasteEvents) / float64(st.TotalEvents)
	}
	return st
}
