package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provenance/internal/format"
	"provenance/internal/logging"
	"provenance/internal/metrics"
	"provenance/internal/provenance"
	"provenance/internal/recorder"
)

var epoch = time.UnixMilli(1_700_000_000_000).UTC()

func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{WithLogger(logging.Discard()), WithClock(stepClock(time.Second))}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "archive.db"), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recordedDocument captures two sittings: "Hello" then ", world" with a
// deletion and a paste.
func recordedDocument(t *testing.T) *provenance.Document {
	t.Helper()
	b := &format.Builder{Clock: stepClock(time.Minute), EditorVersion: "test/1.0"}
	doc := b.CreateDocument("Letter")

	ids := 0
	rec := recorder.New(
		recorder.WithClock(stepClock(10*time.Millisecond)),
		recorder.WithLogger(logging.Discard()),
		recorder.WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("s%d", ids)
		}),
	)

	rec.StartSession()
	rec.RecordInsert(0, "Hello")
	rec.RecordInsert(5, "!")
	rec.EndSession()
	require.NoError(t, b.PutSession(doc, rec.Session("")))

	rec.StartSession()
	rec.RecordDelete(5, "!")
	rec.RecordPaste(5, ", world")
	rec.EndSession()
	require.NoError(t, b.PutSession(doc, rec.Session("Hello!")))

	b.FinalizeDocument(doc, "Hello, world")
	require.True(t, format.Validate(doc).Valid)
	return doc
}

func serialized(t *testing.T, doc *provenance.Document) string {
	t.Helper()
	data, err := format.Serialize(doc)
	require.NoError(t, err)
	return string(data)
}

func TestOpenAndClose(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "dir", "archive.db"), WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, ValidateSchema(context.Background(), s.DB()))
	assert.NoError(t, s.Close())
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")
	doc := recordedDocument(t)

	s, err := Open(ctx, path, WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, s.SaveDocument(ctx, "doc-1", doc))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, serialized(t, doc), serialized(t, loaded))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	doc := recordedDocument(t)

	require.NoError(t, s.SaveDocument(ctx, "doc-1", doc))

	loaded, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, serialized(t, doc), serialized(t, loaded))

	res := format.Validate(loaded)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestSavePreservesNullFields(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	doc := recordedDocument(t)
	require.NoError(t, s.SaveDocument(ctx, "doc-1", doc))

	loaded, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)

	start := loaded.Sessions[0].Events[0]
	assert.Equal(t, provenance.EventSessionStart, start.Type)
	assert.Nil(t, start.Position)
	assert.Nil(t, start.Content)

	insert := loaded.Sessions[0].Events[1]
	require.NotNil(t, insert.Position)
	require.NotNil(t, insert.Content)
	assert.Equal(t, 0, *insert.Position)
	assert.Equal(t, "Hello", *insert.Content)
}

func TestSaveReplacesPreviousVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	doc := recordedDocument(t)
	require.NoError(t, s.SaveDocument(ctx, "doc-1", doc))

	trimmed := doc.Clone()
	trimmed.Sessions = trimmed.Sessions[:1]
	format.FinalizeDocument(trimmed, "Hello!")
	require.NoError(t, s.SaveDocument(ctx, "doc-1", trimmed))

	loaded, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, loaded.Sessions, 1)
	assert.Equal(t, "Hello!", loaded.FinalContent)

	infos, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].Sessions)
	assert.Equal(t, len(trimmed.Sessions[0].Events), infos[0].Events)
}

func TestSaveRejectsEmptyID(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveDocument(context.Background(), "", recordedDocument(t))
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestSaveEmptyDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	doc := format.CreateDocument("Empty")
	require.NoError(t, s.SaveDocument(ctx, "empty", doc))

	loaded, err := s.LoadDocument(ctx, "empty")
	require.NoError(t, err)
	assert.NotNil(t, loaded.Sessions)
	assert.Empty(t, loaded.Sessions)
	assert.Equal(t, "", loaded.ContentHash)
}

func TestLoadMissingDocument(t *testing.T) {
	_, err := openTestStore(t).LoadDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDocuments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	older := recordedDocument(t)
	newer := recordedDocument(t)
	newer.Metadata.LastModifiedAt = older.Metadata.LastModifiedAt.Add(time.Hour)

	require.NoError(t, s.SaveDocument(ctx, "older", older))
	require.NoError(t, s.SaveDocument(ctx, "newer", newer))

	infos, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "newer", infos[0].ID)
	assert.Equal(t, "older", infos[1].ID)
	assert.Equal(t, "Letter", infos[1].Title)
	assert.Equal(t, 2, infos[1].Sessions)
	assert.Equal(t, 8, infos[1].Events)
	assert.Equal(t, older.ContentHash, infos[1].ContentHash)
}

func TestListDocumentsEmpty(t *testing.T) {
	infos, err := openTestStore(t).ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveDocument(ctx, "doc-1", recordedDocument(t)))
	_, err := s.VerifyDocument(ctx, "doc-1")
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, "doc-1"))

	_, err = s.LoadDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)

	var orphans int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM events").Scan(&orphans))
	assert.Zero(t, orphans)
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM verifications").Scan(&orphans))
	assert.Zero(t, orphans)

	assert.ErrorIs(t, s.DeleteDocument(ctx, "doc-1"), ErrNotFound)
}

func TestVerifyDocumentValid(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	s := openTestStore(t, WithMetrics(m))
	require.NoError(t, s.SaveDocument(ctx, "doc-1", recordedDocument(t)))

	v, err := s.VerifyDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Zero(t, v.Errors)
	assert.True(t, v.Result.Chains.Valid)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Validations.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsWritten))
}

func TestVerifyDetectsTamperedRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveDocument(ctx, "doc-1", recordedDocument(t)))

	_, err := s.DB().Exec(`UPDATE events SET content = 'Jello' WHERE document_id = 'doc-1' AND session_ordinal = 0 AND seq = 1`)
	require.NoError(t, err)

	v, err := s.VerifyDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.True(t, v.Result.Has(format.FindingChainBroken))

	broken := v.Result.Chains.Broken()
	require.Len(t, broken, 1)
	assert.Equal(t, "s1", broken[0].SessionID)
	assert.Equal(t, 1, *broken[0].BrokenAtIndex)
}

func TestVerifyMissingDocument(t *testing.T) {
	_, err := openTestStore(t).VerifyDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.SaveDocument(ctx, fmt.Sprintf("doc-%d", i), recordedDocument(t)))
	}
	_, err := s.DB().Exec(`UPDATE documents SET content_hash = 'bogus' WHERE id = 'doc-3'`)
	require.NoError(t, err)

	results, err := s.VerifyAll(ctx, 3)
	require.NoError(t, err)
	require.Len(t, results, 6)

	for _, v := range results {
		if v.DocumentID == "doc-3" {
			assert.False(t, v.Valid)
			assert.True(t, v.Result.Has(format.FindingContentHashMismatch))
		} else {
			assert.True(t, v.Valid, v.DocumentID)
		}
	}
}

func TestVerifyAllCancelled(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveDocument(context.Background(), "doc-1", recordedDocument(t)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.VerifyAll(ctx, 2)
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveDocument(ctx, "doc-1", recordedDocument(t)))

	_, err := s.VerifyDocument(ctx, "doc-1")
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE documents SET final_content = 'tampered' WHERE id = 'doc-1'`)
	require.NoError(t, err)
	_, err = s.VerifyDocument(ctx, "doc-1")
	require.NoError(t, err)

	history, err := s.History(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Valid)
	assert.False(t, history[1].Valid)
	assert.True(t, history[1].Result.Has(format.FindingContentHashMismatch))
	assert.True(t, history[0].VerifiedAt.Before(history[1].VerifiedAt))
}

func TestConcurrentSavesSameDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	doc := recordedDocument(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.SaveDocument(ctx, "shared", doc)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := s.LoadDocument(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, serialized(t, doc), serialized(t, loaded))
}

func TestMigrationStatusAndRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	status, err := GetMigrationStatus(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentVersion)
	assert.Equal(t, 2, status.LatestVersion)
	assert.Empty(t, status.Pending)
	assert.Len(t, status.Applied, 2)

	require.NoError(t, RollbackMigration(ctx, s.DB()))
	assert.Error(t, ValidateSchema(ctx, s.DB()))

	status, err = GetMigrationStatus(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentVersion)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, 2, status.Pending[0].Version)

	require.NoError(t, MigrateDB(ctx, s.DB()))
	assert.NoError(t, ValidateSchema(ctx, s.DB()))
}

func TestNewDocumentID(t *testing.T) {
	a, b := NewDocumentID(), NewDocumentID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
