package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"provenance/internal/logging"
	"provenance/internal/metrics"
	"provenance/internal/provenance"
)

// Store is the SQLite document archive. It is safe for concurrent use;
// saves of the same document id are serialized.
type Store struct {
	db      *sql.DB
	locks   sync.Map // document id -> *sync.Mutex
	clock   func() time.Time
	logger  *logging.Logger
	metrics *metrics.Metrics

	busyTimeoutMs int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent("store") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock sets the clock used for archive and verification times.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithBusyTimeout sets the SQLite busy timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(s *Store) { s.busyTimeoutMs = ms }
}

// Open opens or creates the database at path and applies pending migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		clock:         time.Now,
		logger:        logging.Default().WithComponent("store"),
		busyTimeoutMs: 5000,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d", path, s.busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := MigrateDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s.db = db
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migrations and diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// NewDocumentID returns a fresh random document id.
func NewDocumentID() string { return uuid.NewString() }

func (s *Store) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// SaveDocument stores doc under id, replacing any previous version of it.
// Sessions and events are rewritten in one transaction.
func (s *Store) SaveDocument(ctx context.Context, id string, doc *provenance.Document) error {
	if id == "" {
		return ErrEmptyID
	}
	if doc == nil {
		return errors.New("store: nil document")
	}
	unlock := s.lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	m := doc.Metadata
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, version, title, created_at, last_modified_at, editor_version, final_content, content_hash, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			title = excluded.title,
			created_at = excluded.created_at,
			last_modified_at = excluded.last_modified_at,
			editor_version = excluded.editor_version,
			final_content = excluded.final_content,
			content_hash = excluded.content_hash,
			archived_at = excluded.archived_at`,
		id, doc.Version, m.Title, toMillis(m.CreatedAt), toMillis(m.LastModifiedAt), m.EditorVersion,
		doc.FinalContent, doc.ContentHash, toMillis(s.clock()),
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	sessStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (document_id, ordinal, session_id, start_ms, end_ms, base_content)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare session insert: %w", err)
	}
	defer sessStmt.Close()

	eventStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (document_id, session_ordinal, seq, type, timestamp_ms, position, content, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer eventStmt.Close()

	events := 0
	for si, sess := range doc.Sessions {
		if _, err := sessStmt.ExecContext(ctx, id, si, sess.ID, toMillis(sess.StartTime), toMillis(sess.EndTime), sess.BaseContent); err != nil {
			return fmt.Errorf("insert session %s: %w", sess.ID, err)
		}
		for ei, e := range sess.Events {
			var pos sql.NullInt64
			if e.Position != nil {
				pos = sql.NullInt64{Int64: int64(*e.Position), Valid: true}
			}
			var content sql.NullString
			if e.Content != nil {
				content = sql.NullString{String: *e.Content, Valid: true}
			}
			if _, err := eventStmt.ExecContext(ctx, id, si, ei, string(e.Type), e.Timestamp, pos, content, e.Hash); err != nil {
				return fmt.Errorf("insert event %d of session %s: %w", ei, sess.ID, err)
			}
			events++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.metrics.ObserveWrite()
	s.logger.Info("document archived",
		"document_id", id,
		"sessions", len(doc.Sessions),
		"events", events,
	)
	return nil
}

// LoadDocument reads the document stored under id. Sessions whose events
// were stored as null are returned with an empty event list.
func (s *Store) LoadDocument(ctx context.Context, id string) (*provenance.Document, error) {
	var (
		doc               provenance.Document
		created, modified int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT version, title, created_at, last_modified_at, editor_version, final_content, content_hash
		FROM documents WHERE id = ?`, id,
	).Scan(&doc.Version, &doc.Metadata.Title, &created, &modified, &doc.Metadata.EditorVersion, &doc.FinalContent, &doc.ContentHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc.Metadata.CreatedAt = fromMillis(created)
	doc.Metadata.LastModifiedAt = fromMillis(modified)

	sessions, err := s.loadSessions(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadEvents(ctx, id, sessions); err != nil {
		return nil, err
	}
	doc.Sessions = sessions
	return &doc, nil
}

func (s *Store) loadSessions(ctx context.Context, id string) ([]provenance.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, start_ms, end_ms, base_content
		FROM sessions WHERE document_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]provenance.Session, 0)
	for rows.Next() {
		var (
			sess       provenance.Session
			start, end int64
		)
		if err := rows.Scan(&sess.ID, &start, &end, &sess.BaseContent); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartTime = fromMillis(start)
		sess.EndTime = fromMillis(end)
		sess.Events = make([]provenance.Event, 0)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) loadEvents(ctx context.Context, id string, sessions []provenance.Session) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_ordinal, type, timestamp_ms, position, content, hash
		FROM events WHERE document_id = ? ORDER BY session_ordinal, seq`, id)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ordinal int
			typ     string
			e       provenance.Event
			pos     sql.NullInt64
			content sql.NullString
		)
		if err := rows.Scan(&ordinal, &typ, &e.Timestamp, &pos, &content, &e.Hash); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		if ordinal < 0 || ordinal >= len(sessions) {
			return fmt.Errorf("event references unknown session ordinal %d", ordinal)
		}
		e.Type = provenance.EventType(typ)
		if pos.Valid {
			p := int(pos.Int64)
			e.Position = &p
		}
		if content.Valid {
			c := content.String
			e.Content = &c
		}
		sessions[ordinal].Events = append(sessions[ordinal].Events, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate events: %w", err)
	}
	return nil
}

// ListDocuments summarizes every archived document, most recently modified
// first.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.created_at, d.last_modified_at, d.archived_at, d.content_hash,
			(SELECT COUNT(*) FROM sessions s WHERE s.document_id = d.id),
			(SELECT COUNT(*) FROM events e WHERE e.document_id = d.id)
		FROM documents d
		ORDER BY d.last_modified_at DESC, d.id`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	infos := make([]DocumentInfo, 0)
	for rows.Next() {
		var (
			info                        DocumentInfo
			created, modified, archived int64
		)
		if err := rows.Scan(&info.ID, &info.Title, &created, &modified, &archived, &info.ContentHash, &info.Sessions, &info.Events); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		info.CreatedAt = fromMillis(created)
		info.LastModifiedAt = fromMillis(modified)
		info.ArchivedAt = fromMillis(archived)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return infos, nil
}

// DeleteDocument removes a document with all of its sessions, events and
// verification history. Individual events are never deleted on their own.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Info("document deleted", "document_id", id)
	return nil
}
