package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"provenance/internal/format"
	"provenance/internal/provenance"
	"provenance/internal/recorder"
	"provenance/internal/replay"
)

// editOp is one scripted edit. Insert and paste carry text; delete carries
// the number of UTF-16 code units removed.
type editOp struct {
	Op       string `json:"op"`
	Position int    `json:"position"`
	Text     string `json:"text"`
	Length   int    `json:"length"`
}

func (a *app) newRecordCmd() *cobra.Command {
	var script string
	cmd := &cobra.Command{
		Use:   "record <file.provenance>",
		Short: "Record a session of scripted edits into a document",
		Long: `Record reads a stream of JSON edit operations and appends them to the
document as a new session, then finalizes the document with the resulting
content. The document is created when it does not exist.

Each operation is a JSON object:

  {"op": "insert", "position": 0, "text": "Hello"}
  {"op": "paste",  "position": 5, "text": ", world"}
  {"op": "delete", "position": 0, "length": 5}

Positions and lengths are in UTF-16 code units.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := format.WithExtension(args[0])

			doc, err := format.ReadFile(path)
			switch {
			case errors.Is(err, os.ErrNotExist):
				doc = a.builder.CreateDocument(a.cfg.Document.DefaultTitle)
			case err != nil:
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if script != "" && script != "-" {
				f, err := os.Open(script)
				if err != nil {
					return fmt.Errorf("open script: %w", err)
				}
				defer f.Close()
				in = f
			}

			rec := recorder.New(
				recorder.WithClock(a.clock),
				recorder.WithLogger(a.logger),
				recorder.WithMetrics(a.metrics),
			)
			base := doc.FinalContent
			content, err := a.recordScript(rec, base, in)
			if err != nil {
				return err
			}

			sess := rec.Session(base)
			if err := a.builder.PutSession(doc, sess); err != nil {
				return err
			}
			a.builder.FinalizeDocument(doc, content)
			if err := format.WriteFile(path, doc); err != nil {
				return err
			}
			a.metrics.ObserveWrite()

			a.logger.Info("session recorded", "path", path, "session_id", sess.ID, "events", len(sess.Events))
			fmt.Fprintf(a.out, "%s: recorded session %s (%d events)\n", path, sess.ID, len(sess.Events))
			return nil
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "edit script to read (default: stdin)")
	return cmd
}

// recordScript plays the scripted edits through rec and returns the
// resulting content.
func (a *app) recordScript(rec *recorder.Recorder, base string, in io.Reader) (string, error) {
	rec.StartSession()
	content := base

	dec := json.NewDecoder(in)
	for n := 1; ; n++ {
		var op editOp
		if err := dec.Decode(&op); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("script operation %d: %w", n, err)
		}

		var ev *provenance.Event
		switch op.Op {
		case "insert":
			ev = rec.RecordInsert(op.Position, op.Text)
		case "paste":
			ev = rec.RecordPaste(op.Position, op.Text)
		case "delete":
			ev = rec.RecordDelete(op.Position, recorder.DeletedText(content, op.Position, op.Length))
		default:
			return "", fmt.Errorf("script operation %d: unknown op %q", n, op.Op)
		}
		if ev == nil {
			return "", fmt.Errorf("script operation %d: invalid position %d", n, op.Position)
		}
		content = replay.Apply(content, *ev, base)
	}

	rec.EndSession()
	return content, nil
}
