// Package recorder captures one writing session as a hash-chained event log.
//
// A Recorder owns the mutable state of a single active session: the ordered
// events, the hash of the last event, and whether a session is open. Every
// event is chained onto the previous event's hash before it is appended, and
// the compute-then-append step runs under a mutex so concurrent callers can
// never chain two events onto the same predecessor.
//
// Recording calls made while no session is active are ignored and return a
// nil event, so editor glue does not need to guard each call.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"provenance/internal/hasher"
	"provenance/internal/logging"
	"provenance/internal/metrics"
	"provenance/internal/provenance"
)

// Errors returned by LoadEvents.
var (
	ErrChainBroken    = errors.New("recorder: loaded events do not form a valid chain")
	ErrForeignSession = errors.New("recorder: loaded events span more than one session")
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Recorder) { r.logger = l.WithComponent("recorder") }
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithIDGenerator overrides how session ids are issued.
func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) { r.newID = gen }
}

// Recorder records the events of one session at a time.
type Recorder struct {
	mu sync.Mutex

	events       []provenance.Event
	lastHash     string
	active       bool
	sessionID    string
	sessionStart int64
	sessionEnd   int64
	lastStamp    int64

	clock   func() time.Time
	newID   func() string
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates an inactive recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		clock:  time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: logging.Default().WithComponent("recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reset()
	return r
}

func (r *Recorder) reset() {
	r.events = make([]provenance.Event, 0)
	r.lastHash = ""
	r.active = false
	r.sessionID = ""
	r.sessionStart = 0
	r.sessionEnd = 0
	r.lastStamp = 0
}

// now returns the current time in ms, never earlier than the previous event.
func (r *Recorder) now() int64 {
	ts := r.clock().UnixMilli()
	if ts < r.lastStamp {
		ts = r.lastStamp
	}
	r.lastStamp = ts
	return ts
}

// appendLocked chains e onto lastHash and appends it. Caller holds mu.
func (r *Recorder) appendLocked(e provenance.Event) provenance.Event {
	r.lastHash = hasher.Seal(&e, r.lastHash)
	r.events = append(r.events, e)
	r.metrics.ObserveEvent(string(e.Type), provenance.TextLength(e.ContentString()))
	return e.Clone()
}

// StartSession discards any previous state and opens a new session whose
// first event is a session_start chained onto "".
func (r *Recorder) StartSession() provenance.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		r.logger.Warn("session already active; discarding it", "session_id", r.sessionID, "events", len(r.events))
	}
	r.reset()

	r.active = true
	r.sessionID = r.newID()
	r.sessionStart = r.now()
	e := r.appendLocked(provenance.NewMarkerEvent(provenance.EventSessionStart, r.sessionStart))

	r.metrics.ObserveSessionStart()
	r.logger.Debug("session started", "session_id", r.sessionID)
	return e
}

// EndSession closes the active session and returns its end timestamp. It
// returns (0, false) when no session is active.
func (r *Recorder) EndSession() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return 0, false
	}
	ts := r.now()
	r.appendLocked(provenance.NewMarkerEvent(provenance.EventSessionEnd, ts))
	r.active = false
	r.sessionEnd = ts

	r.metrics.ObserveSessionEnd()
	r.logger.Debug("session ended", "session_id", r.sessionID, "events", len(r.events))
	return ts, true
}

// RecordInsert records typed text inserted at position.
func (r *Recorder) RecordInsert(position int, content string) *provenance.Event {
	return r.record(provenance.EventInsert, position, content)
}

// RecordDelete records text removed at position. Use DeletedText to derive
// content from the text as it was before the deletion.
func (r *Recorder) RecordDelete(position int, content string) *provenance.Event {
	return r.record(provenance.EventDelete, position, content)
}

// RecordPaste records clipboard text inserted at position. Pasted text must
// always be recorded here rather than through RecordInsert.
func (r *Recorder) RecordPaste(position int, content string) *provenance.Event {
	return r.record(provenance.EventPaste, position, content)
}

func (r *Recorder) record(t provenance.EventType, position int, content string) *provenance.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil
	}
	if position < 0 {
		r.logger.Warn("ignoring edit at negative position", "type", string(t), "position", position)
		return nil
	}
	e := r.appendLocked(provenance.NewEditEvent(t, r.now(), position, content))
	return &e
}

// Events returns a deep copy of the recorded events.
func (r *Recorder) Events() []provenance.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return provenance.CloneEvents(r.events)
}

// LoadEvents replaces the recorder state with a previously captured session
// so new events chain onto its tail. Only a single session may be resumed:
// the events must start with session_start, contain no other session_start,
// and verify from "". The loaded session gets a fresh id; use ResumeSession
// to keep the stored one. On error the recorder is left unchanged. An empty
// slice clears the recorder.
func (r *Recorder) LoadEvents(existing []provenance.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(existing)
}

func (r *Recorder) loadLocked(existing []provenance.Event) error {
	if len(existing) == 0 {
		r.reset()
		return nil
	}
	if existing[0].Type != provenance.EventSessionStart {
		return fmt.Errorf("%w: first event is %s", ErrForeignSession, existing[0].Type)
	}
	for i, e := range existing[1:] {
		if e.Type == provenance.EventSessionStart {
			return fmt.Errorf("%w: session_start at index %d", ErrForeignSession, i+1)
		}
	}
	res := hasher.VerifyChain(existing, "")
	if !res.Valid {
		return fmt.Errorf("%w: broken at index %d", ErrChainBroken, *res.BrokenAtIndex)
	}

	tail := existing[len(existing)-1]
	r.events = provenance.CloneEvents(existing)
	r.lastHash = res.LastHash
	r.sessionStart = existing[0].Timestamp
	r.lastStamp = tail.Timestamp
	r.active = tail.Type != provenance.EventSessionEnd
	r.sessionEnd = 0
	if !r.active {
		r.sessionEnd = tail.Timestamp
	}
	r.sessionID = r.newID()
	return nil
}

// ResumeSession loads a stored session and adopts its id, so that the
// resulting Session can be upserted over the stored one.
func (r *Recorder) ResumeSession(s provenance.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.loadLocked(s.Events); err != nil {
		return err
	}
	if len(s.Events) > 0 {
		r.sessionID = s.ID
	}
	r.logger.Debug("session resumed", "session_id", s.ID, "events", len(s.Events), "active", r.active)
	return nil
}

// Clear resets the recorder to a fresh, inactive state.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// Active reports whether a session is open.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SessionID returns the id of the current or last session, or "".
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// LastHash returns the hash of the last recorded event.
func (r *Recorder) LastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}

// Session snapshots the recording as a Session record. EndTime is the
// session_end timestamp once the session is closed, otherwise the time of
// the latest event.
func (r *Recorder) Session(baseContent string) provenance.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := r.sessionEnd
	if end == 0 {
		end = r.lastStamp
	}
	return provenance.Session{
		ID:          r.sessionID,
		StartTime:   provenance.NormalizeTime(time.UnixMilli(r.sessionStart)),
		EndTime:     provenance.NormalizeTime(time.UnixMilli(end)),
		BaseContent: baseContent,
		Events:      provenance.CloneEvents(r.events),
	}
}
