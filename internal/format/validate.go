package format

import (
	"fmt"

	"provenance/internal/hasher"
	"provenance/internal/provenance"
	"provenance/internal/replay"
)

// FindingKind classifies a validation finding.
type FindingKind string

const (
	FindingMissingField        FindingKind = "missing_field"
	FindingMalformedSession    FindingKind = "malformed_session"
	FindingDuplicateSession    FindingKind = "duplicate_session"
	FindingMalformedEvent      FindingKind = "malformed_event"
	FindingChainBroken         FindingKind = "chain_broken"
	FindingNotFinalized        FindingKind = "not_finalized"
	FindingContentHashMismatch FindingKind = "content_hash_mismatch"
	FindingReplayMismatch      FindingKind = "replay_mismatch"
	FindingOutOfOrder          FindingKind = "out_of_order"
	FindingBaseContentGap      FindingKind = "base_content_gap"
)

// Finding is one problem reported by Validate.
type Finding struct {
	Kind       FindingKind `json:"kind"`
	Message    string      `json:"message"`
	SessionID  string      `json:"sessionId,omitempty"`
	EventIndex *int        `json:"eventIndex,omitempty"`

	err error
}

func (f Finding) Error() string { return f.Message }

// Unwrap exposes the typed error behind chain and content hash findings.
func (f Finding) Unwrap() error { return f.err }

// ValidationResult is the outcome of Validate. Valid is true when there are
// no errors; warnings never affect it.
type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
	// Chains is the per-session hash chain verification.
	Chains hasher.DocumentResult `json:"chains"`
}

// Has reports whether an error of the given kind was found.
func (r ValidationResult) Has(kind FindingKind) bool {
	for _, f := range r.Errors {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

type validator struct {
	res ValidationResult
}

func (v *validator) fail(f Finding) { v.res.Errors = append(v.res.Errors, f) }

func (v *validator) warn(f Finding) { v.res.Warnings = append(v.res.Warnings, f) }

func index(i int) *int { return &i }

// Validate checks doc's structure, every session's hash chain and the final
// content hash. It does not modify doc.
//
// The replay check compares finalContent against the reconstruction of all
// sessions and only runs when every chain and the content hash are intact.
// A session whose base content differs from the previous session's replayed
// end content is a warning, since the file may legitimately have been edited
// outside the recorder between sittings.
func Validate(doc *provenance.Document) ValidationResult {
	v := &validator{res: ValidationResult{Errors: []Finding{}, Warnings: []Finding{}}}
	if doc == nil {
		v.fail(Finding{Kind: FindingMissingField, Message: "document is nil"})
		return v.result()
	}

	v.checkMetadata(doc)
	v.checkSessions(doc)

	v.res.Chains = hasher.VerifyDocument(doc)
	for _, s := range v.res.Chains.Broken() {
		cbe := &ChainBrokenError{SessionID: s.SessionID, Index: *s.BrokenAtIndex}
		v.fail(Finding{
			Kind:       FindingChainBroken,
			Message:    cbe.Error(),
			SessionID:  s.SessionID,
			EventIndex: index(cbe.Index),
			err:        cbe,
		})
	}

	hashOK := v.checkContentHash(doc)
	v.checkContinuity(doc, hashOK && v.res.Chains.Valid)

	return v.result()
}

func (v *validator) result() ValidationResult {
	v.res.Valid = len(v.res.Errors) == 0
	return v.res
}

func (v *validator) checkMetadata(doc *provenance.Document) {
	missing := func(field string) {
		v.fail(Finding{Kind: FindingMissingField, Message: fmt.Sprintf("missing required field %s", field)})
	}
	if doc.Version == "" {
		missing("version")
	}
	m := doc.Metadata
	if m.Title == "" {
		missing("metadata.title")
	}
	if m.CreatedAt.IsZero() {
		missing("metadata.createdAt")
	}
	if m.LastModifiedAt.IsZero() {
		missing("metadata.lastModifiedAt")
	}
	if m.EditorVersion == "" {
		missing("metadata.editorVersion")
	}
	if doc.Sessions == nil {
		missing("sessions")
	}
}

func (v *validator) checkSessions(doc *provenance.Document) {
	seen := make(map[string]bool, len(doc.Sessions))
	for si, s := range doc.Sessions {
		if s.ID == "" {
			v.fail(Finding{Kind: FindingMalformedSession, Message: fmt.Sprintf("session %d has no id", si)})
		} else if seen[s.ID] {
			v.fail(Finding{Kind: FindingDuplicateSession, SessionID: s.ID, Message: fmt.Sprintf("session id %s appears more than once", s.ID)})
		}
		seen[s.ID] = true

		if s.StartTime.IsZero() || s.EndTime.IsZero() {
			v.fail(Finding{Kind: FindingMalformedSession, SessionID: s.ID, Message: fmt.Sprintf("session %s is missing start or end time", s.ID)})
		} else if s.EndTime.Before(s.StartTime) {
			v.warn(Finding{Kind: FindingOutOfOrder, SessionID: s.ID, Message: fmt.Sprintf("session %s ends before it starts", s.ID)})
		}

		if len(s.Events) > 0 && s.Events[0].Type != provenance.EventSessionStart {
			v.warn(Finding{Kind: FindingMalformedSession, SessionID: s.ID, EventIndex: index(0), Message: fmt.Sprintf("session %s does not begin with session_start", s.ID)})
		}

		for ei, e := range s.Events {
			v.checkEvent(s.ID, ei, e)
			if ei > 0 && e.Timestamp < s.Events[ei-1].Timestamp {
				v.warn(Finding{Kind: FindingOutOfOrder, SessionID: s.ID, EventIndex: index(ei), Message: fmt.Sprintf("session %s event %d has a timestamp earlier than its predecessor", s.ID, ei)})
			}
		}
	}
}

func (v *validator) checkEvent(sessionID string, i int, e provenance.Event) {
	bad := func(msg string, args ...any) {
		v.fail(Finding{
			Kind:       FindingMalformedEvent,
			SessionID:  sessionID,
			EventIndex: index(i),
			Message:    fmt.Sprintf("session %s event %d: ", sessionID, i) + fmt.Sprintf(msg, args...),
		})
	}
	switch {
	case !e.Type.Valid():
		bad("unknown event type %q", e.Type)
	case e.Type.IsEdit():
		if e.Position == nil || e.Content == nil {
			bad("%s event requires position and content", e.Type)
		} else if *e.Position < 0 {
			bad("negative position %d", *e.Position)
		}
	default:
		if e.Position != nil || e.Content != nil {
			bad("%s event must not carry position or content", e.Type)
		}
	}
	if e.Hash == "" {
		bad("missing hash")
	}
}

func (v *validator) checkContentHash(doc *provenance.Document) bool {
	if doc.ContentHash == "" && doc.FinalContent == "" {
		v.fail(Finding{Kind: FindingNotFinalized, Message: "document has not been finalized"})
		return false
	}
	computed := hasher.Digest(doc.FinalContent)
	if computed != doc.ContentHash {
		mm := &ContentHashMismatch{Stored: doc.ContentHash, Computed: computed}
		v.fail(Finding{Kind: FindingContentHashMismatch, Message: mm.Error(), err: mm})
		return false
	}
	return true
}

func (v *validator) checkContinuity(doc *provenance.Document, checkFinal bool) {
	content := ""
	for i, s := range doc.Sessions {
		if i > 0 && s.BaseContent != content {
			v.warn(Finding{
				Kind:      FindingBaseContentGap,
				SessionID: s.ID,
				Message:   fmt.Sprintf("session %s base content differs from the end of the previous session", s.ID),
			})
		}
		content = replay.Continue(content, s.BaseContent, s.Events)
	}
	if checkFinal && len(doc.Sessions) > 0 && content != doc.FinalContent {
		v.fail(Finding{Kind: FindingReplayMismatch, Message: "final content does not match replay of recorded sessions"})
	}
}
