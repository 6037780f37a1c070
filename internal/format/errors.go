package format

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySessionID is returned when a session is added without an id.
var ErrEmptySessionID = errors.New("format: session id is empty")

// FormatError reports a persisted document that cannot be loaded.
type FormatError struct {
	// Missing lists required top-level fields that are absent.
	Missing []string
	Err     error
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("format: malformed document")
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing required field(s) %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FormatError) Unwrap() error { return e.Err }

// ChainBrokenError identifies the first event of a session whose stored hash
// does not match its recomputed chained digest.
type ChainBrokenError struct {
	SessionID string
	Index     int
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("hash chain broken in session %s at event %d", e.SessionID, e.Index)
}

// ContentHashMismatch reports that finalContent no longer matches contentHash.
type ContentHashMismatch struct {
	Stored   string
	Computed string
}

func (e *ContentHashMismatch) Error() string {
	return "final content hash mismatch"
}
