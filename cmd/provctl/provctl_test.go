package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provenance/internal/format"
	"provenance/internal/store"
)

type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.toml")
	body := strings.Join([]string{
		"version = 1",
		"[document]",
		`default_title = "Draft"`,
		`editor_version = "provctl-test"`,
		`dir = "` + filepath.ToSlash(filepath.Join(dir, "docs")) + `"`,
		"[storage]",
		`path = "` + filepath.ToSlash(filepath.Join(dir, "archive.db")) + `"`,
		"verify_concurrency = 2",
		"[logging]",
		`output = "discard"`,
	}, "\n")
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0600))
	return &env{dir: dir, config: cfg}
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func (e *env) path(name string) string { return filepath.Join(e.dir, name) }

const script = `{"op": "insert", "position": 0, "text": "Hello"}
{"op": "insert", "position": 5, "text": "!"}
{"op": "delete", "position": 5, "length": 1}
{"op": "paste", "position": 5, "text": ", world"}
`

func TestNewAndVerify(t *testing.T) {
	e := newEnv(t)
	doc := e.path("essay")

	out, _, err := e.run(t, "", "new", doc)
	require.NoError(t, err)
	assert.Equal(t, doc+".provenance\n", out)

	loaded, err := format.ReadFile(doc + ".provenance")
	require.NoError(t, err)
	assert.Equal(t, "Draft", loaded.Metadata.Title)
	assert.Equal(t, "provctl-test", loaded.Metadata.EditorVersion)

	out, _, err = e.run(t, "", "verify", doc+".provenance")
	require.NoError(t, err)
	assert.Contains(t, out, "Result:          VALID")
}

func TestNewUsesDocumentDir(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "", "new", "--title", "Notes", "notes")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.dir, "docs", "notes.provenance")+"\n", out)
	assert.FileExists(t, filepath.Join(e.dir, "docs", "notes.provenance"))
}

func TestNewRefusesOverwrite(t *testing.T) {
	e := newEnv(t)
	doc := e.path("a.provenance")
	_, _, err := e.run(t, "", "new", doc)
	require.NoError(t, err)

	_, _, err = e.run(t, "", "new", doc)
	assert.ErrorContains(t, err, "already exists")

	_, _, err = e.run(t, "", "new", "--force", doc)
	assert.NoError(t, err)
}

func TestRecordStatsReplay(t *testing.T) {
	e := newEnv(t)
	doc := e.path("letter.provenance")

	out, _, err := e.run(t, script, "record", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "(6 events)")

	out, _, err = e.run(t, "", "replay", doc)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", out)

	out, _, err = e.run(t, "", "replay", "--at", "2", doc)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)

	out, _, err = e.run(t, "", "replay", "--frames", doc)
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(out, "\n"))

	_, _, err = e.run(t, "", "replay", "--at", "6", doc)
	assert.ErrorContains(t, err, "out of range")

	out, _, err = e.run(t, "", "stats", "--json", doc)
	require.NoError(t, err)
	var st format.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 4, st.TotalEvents)
	assert.Equal(t, 2, st.InsertEvents)
	assert.Equal(t, 1, st.DeleteEvents)
	assert.Equal(t, 1, st.PasteEvents)
	assert.Equal(t, 6, st.TotalCharsTyped)
	assert.Equal(t, 1, st.TotalCharsDeleted)
	assert.Equal(t, 7, st.TotalCharsPasted)

	out, _, err = e.run(t, "", "stats", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "Edit events:     4")
}

func TestRecordSecondSessionContinuesContent(t *testing.T) {
	e := newEnv(t)
	doc := e.path("letter.provenance")

	_, _, err := e.run(t, script, "record", doc)
	require.NoError(t, err)
	_, _, err = e.run(t, `{"op": "insert", "position": 12, "text": "."}`, "record", doc)
	require.NoError(t, err)

	loaded, err := format.ReadFile(doc)
	require.NoError(t, err)
	require.Len(t, loaded.Sessions, 2)
	assert.Equal(t, "Hello, world", loaded.Sessions[1].BaseContent)
	assert.Equal(t, "Hello, world.", loaded.FinalContent)

	res := format.Validate(loaded)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestRecordFromScriptFile(t *testing.T) {
	e := newEnv(t)
	scriptPath := e.path("edits.jsonl")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0600))

	_, _, err := e.run(t, "", "record", "--script", scriptPath, e.path("x"))
	require.NoError(t, err)
	assert.FileExists(t, e.path("x.provenance"))
}

func TestRecordRejectsBadScript(t *testing.T) {
	e := newEnv(t)
	tests := map[string]string{
		"unknown op":        `{"op": "rewrite", "position": 0}`,
		"negative position": `{"op": "insert", "position": -1, "text": "x"}`,
		"malformed json":    `{"op": `,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			doc := e.path(strings.ReplaceAll(name, " ", "_") + ".provenance")
			_, _, err := e.run(t, in, "record", doc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "script operation 1")
			assert.NoFileExists(t, doc)
		})
	}
}

func TestVerifyFailsOnTamperedDocument(t *testing.T) {
	e := newEnv(t)
	doc := e.path("letter.provenance")
	_, _, err := e.run(t, script, "record", doc)
	require.NoError(t, err)

	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"content": "Hello"`, `"content": "Jello"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(doc, []byte(tampered), 0600))

	out, _, err := e.run(t, "", "verify", "--quiet", doc)
	assert.ErrorIs(t, err, errVerificationFailed)
	assert.Contains(t, out, "[INVALID]")
}

func TestVerifyUnreadableFile(t *testing.T) {
	e := newEnv(t)
	bad := e.path("bad.provenance")
	require.NoError(t, os.WriteFile(bad, []byte(`{"version": "1.0"}`), 0600))

	_, errOut, err := e.run(t, "", "verify", bad)
	assert.ErrorIs(t, err, errVerificationFailed)
	assert.Contains(t, errOut, "bad.provenance")
}

func TestVerifyJSONFormat(t *testing.T) {
	e := newEnv(t)
	doc := e.path("a.provenance")
	_, _, err := e.run(t, script, "record", doc)
	require.NoError(t, err)

	out, _, err := e.run(t, "", "verify", "--format", "json", doc)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["valid"])
}

func TestArchiveLifecycle(t *testing.T) {
	e := newEnv(t)
	doc := e.path("letter.provenance")
	_, _, err := e.run(t, script, "record", doc)
	require.NoError(t, err)

	out, _, err := e.run(t, "", "archive", "add", "--id", "letter", doc)
	require.NoError(t, err)
	assert.Equal(t, "letter\n", out)

	out, _, err = e.run(t, "", "archive", "add", doc)
	require.NoError(t, err)
	generated := strings.TrimSpace(out)
	assert.Len(t, generated, 36)

	out, _, err = e.run(t, "", "archive", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "letter")
	assert.Contains(t, out, generated)

	out, _, err = e.run(t, "", "archive", "verify", "letter")
	require.NoError(t, err)
	assert.Contains(t, out, "archive:letter")

	out, _, err = e.run(t, "", "archive", "verify", "--all")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "VALID "))

	exported := e.path("exported.provenance")
	_, _, err = e.run(t, "", "archive", "export", "letter", exported)
	require.NoError(t, err)
	original, err := format.ReadFile(doc)
	require.NoError(t, err)
	roundTrip, err := format.ReadFile(exported)
	require.NoError(t, err)
	assert.Equal(t, original.ContentHash, roundTrip.ContentHash)
	assert.True(t, format.Validate(roundTrip).Valid)

	out, _, err = e.run(t, "", "archive", "history", "letter")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "VALID "))

	_, _, err = e.run(t, "", "archive", "delete", "letter")
	require.NoError(t, err)
	_, _, err = e.run(t, "", "archive", "delete", "letter")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestArchiveVerifyArgs(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "", "archive", "verify")
	assert.Error(t, err)
	_, _, err = e.run(t, "", "archive", "verify", "--all", "extra")
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, script, "record", e.path("a.provenance"))
	require.NoError(t, err)
	_, _, err = e.run(t, "", "archive", "add", "--id", "a", e.path("a.provenance"))
	require.NoError(t, err)

	var out bytes.Buffer
	a := &app{configPath: e.config, out: &out, errOut: &out, clock: time.Now}
	require.NoError(t, a.setup())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.serve(ctx, "127.0.0.1:0", time.Hour))

	assert.Equal(t, 1, countValidations(t, a))
}

func countValidations(t *testing.T, a *app) int {
	t.Helper()
	families, err := a.metrics.Registry().Gather()
	require.NoError(t, err)
	n := 0
	for _, f := range families {
		if f.GetName() != "provenance_validations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			n += int(m.GetCounter().GetValue())
		}
	}
	return n
}

func TestServeRejectsBadInterval(t *testing.T) {
	e := newEnv(t)
	a := &app{configPath: e.config, out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, clock: time.Now}
	require.NoError(t, a.setup())
	assert.Error(t, a.serve(context.Background(), "127.0.0.1:0", 0))
}
