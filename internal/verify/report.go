// Package verify turns document validation results into human and machine
// readable reports.
package verify

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"provenance/internal/format"
	"provenance/internal/provenance"
)

// ReportFormat specifies the output format for verification reports.
type ReportFormat string

const (
	FormatJSON     ReportFormat = "json"
	FormatText     ReportFormat = "text"
	FormatMarkdown ReportFormat = "markdown"
)

// ParseFormat parses an output format name.
func ParseFormat(s string) (ReportFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown format: %s (use text, json, or markdown)", s)
	}
}

// SessionReport is the per-session part of a Report.
type SessionReport struct {
	ID            string        `json:"id"`
	Events        int           `json:"events"`
	Duration      time.Duration `json:"duration"`
	ChainValid    bool          `json:"chainValid"`
	BrokenAtIndex *int          `json:"brokenAtIndex,omitempty"`
	LastHash      string        `json:"lastHash"`
}

// Report is the outcome of verifying one document.
type Report struct {
	Source         string           `json:"source"`
	Valid          bool             `json:"valid"`
	Title          string           `json:"title"`
	Version        string           `json:"version"`
	EditorVersion  string           `json:"editorVersion"`
	CreatedAt      time.Time        `json:"createdAt"`
	LastModifiedAt time.Time        `json:"lastModifiedAt"`
	ContentHash    string           `json:"contentHash"`
	Sessions       []SessionReport  `json:"sessions"`
	Errors         []format.Finding `json:"errors"`
	Warnings       []format.Finding `json:"warnings"`
	Stats          format.Stats     `json:"stats"`
	VerifiedAt     time.Time        `json:"verifiedAt"`
}

// NewReport assembles a report for doc from its validation result.
func NewReport(source string, doc *provenance.Document, res format.ValidationResult, verifiedAt time.Time) *Report {
	r := &Report{
		Source:     source,
		Valid:      res.Valid,
		Errors:     res.Errors,
		Warnings:   res.Warnings,
		Stats:      format.GetStatistics(doc),
		VerifiedAt: verifiedAt,
		Sessions:   make([]SessionReport, 0),
	}
	if doc == nil {
		return r
	}
	r.Title = doc.Metadata.Title
	r.Version = doc.Version
	r.EditorVersion = doc.Metadata.EditorVersion
	r.CreatedAt = doc.Metadata.CreatedAt
	r.LastModifiedAt = doc.Metadata.LastModifiedAt
	r.ContentHash = doc.ContentHash

	for i, s := range doc.Sessions {
		sr := SessionReport{ID: s.ID, Events: len(s.Events), Duration: s.Duration(), ChainValid: true}
		if i < len(res.Chains.Sessions) {
			c := res.Chains.Sessions[i]
			sr.ChainValid = c.Valid
			sr.BrokenAtIndex = c.BrokenAtIndex
			sr.LastHash = c.LastHash
		}
		r.Sessions = append(r.Sessions, sr)
	}
	return r
}

// Summary returns a one-line summary of the report.
func (r *Report) Summary() string {
	var sb strings.Builder
	if r.Valid {
		sb.WriteString("[VALID]")
	} else {
		sb.WriteString("[INVALID]")
	}
	fmt.Fprintf(&sb, " %s", r.Source)
	fmt.Fprintf(&sb, " - %d sessions, %d events", len(r.Sessions), r.Stats.TotalEvents)
	fmt.Fprintf(&sb, ", %d errors, %d warnings", len(r.Errors), len(r.Warnings))
	return sb.String()
}

// ReportGenerator renders reports in a fixed format.
type ReportGenerator struct {
	format  ReportFormat
	verbose bool
}

// NewReportGenerator creates a new report generator.
func NewReportGenerator(f ReportFormat) *ReportGenerator {
	return &ReportGenerator{format: f}
}

// WithVerbose prints full hashes and per-finding locations.
func (g *ReportGenerator) WithVerbose(verbose bool) *ReportGenerator {
	g.verbose = verbose
	return g
}

// Generate writes report to w.
func (g *ReportGenerator) Generate(report *Report, w io.Writer) error {
	switch g.format {
	case FormatJSON:
		return g.generateJSON(report, w)
	case FormatText:
		return g.generateText(report, w)
	case FormatMarkdown:
		return g.generateMarkdown(report, w)
	default:
		return fmt.Errorf("unknown format: %s", g.format)
	}
}

func (g *ReportGenerator) generateJSON(report *Report, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

const rule = "================================================================================"

func (g *ReportGenerator) generateText(report *Report, w io.Writer) error {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "                     PROVENANCE DOCUMENT VERIFICATION REPORT")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Result:          %s\n", resultString(report.Valid))
	fmt.Fprintf(w, "Source:          %s\n", report.Source)
	fmt.Fprintf(w, "Verified:        %s\n", report.VerifiedAt.Format(time.RFC3339))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Document Information ---")
	fmt.Fprintf(w, "Title:           %s\n", report.Title)
	fmt.Fprintf(w, "Format Version:  %s\n", report.Version)
	fmt.Fprintf(w, "Editor:          %s\n", report.EditorVersion)
	fmt.Fprintf(w, "Created:         %s\n", formatTime(report.CreatedAt))
	fmt.Fprintf(w, "Last Modified:   %s\n", formatTime(report.LastModifiedAt))
	fmt.Fprintf(w, "Content Hash:    %s\n", g.truncateHash(report.ContentHash))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Sessions ---")
	for _, s := range report.Sessions {
		status := "OK"
		detail := fmt.Sprintf("%d events, %v", s.Events, s.Duration.Round(time.Second))
		if !s.ChainValid {
			status = "!!"
			detail = fmt.Sprintf("chain broken at event %d", *s.BrokenAtIndex)
		}
		fmt.Fprintf(w, "[%s] %-36s %s\n", status, s.ID, detail)
		if g.verbose && s.LastHash != "" {
			fmt.Fprintf(w, "    Last hash: %s\n", s.LastHash)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "--- Statistics ---")
	st := report.Stats
	fmt.Fprintf(w, "Edit events:     %d (%d insert, %d delete, %d paste)\n", st.TotalEvents, st.InsertEvents, st.DeleteEvents, st.PasteEvents)
	fmt.Fprintf(w, "Characters:      %d typed, %d deleted, %d pasted\n", st.TotalCharsTyped, st.TotalCharsDeleted, st.TotalCharsPasted)
	fmt.Fprintf(w, "Paste ratio:     %.1f%%\n", st.PasteRatio*100)
	fmt.Fprintf(w, "Writing time:    %v\n", st.TotalWritingTime.Round(time.Second))
	fmt.Fprintln(w)

	g.writeFindings(w, "Errors", report.Errors)
	g.writeFindings(w, "Warnings", report.Warnings)

	fmt.Fprintln(w, rule)
	return nil
}

func (g *ReportGenerator) writeFindings(w io.Writer, title string, findings []format.Finding) {
	if len(findings) == 0 {
		return
	}
	fmt.Fprintf(w, "--- %s ---\n", title)
	for _, f := range findings {
		fmt.Fprintf(w, "  * %s\n", f.Message)
		if g.verbose {
			fmt.Fprintf(w, "    Kind: %s\n", f.Kind)
		}
	}
	fmt.Fprintln(w)
}

const markdownTemplate = `# Provenance Verification Report

## Summary

| Property | Value |
|----------|-------|
| **Result** | {{result .Valid}} |
| **Source** | {{.Source}} |
| **Title** | {{.Title}} |
| **Format Version** | {{.Version}} |
| **Editor** | {{.EditorVersion}} |
| **Content Hash** | ` + "`{{.ContentHash}}`" + ` |

## Sessions

| Session | Events | Chain |
|---------|--------|-------|
{{range .Sessions}}| {{.ID}} | {{.Events}} | {{if .ChainValid}}PASS{{else}}FAIL at {{deref .BrokenAtIndex}}{{end}} |
{{end}}
## Statistics

- **Edit events:** {{.Stats.TotalEvents}} ({{.Stats.InsertEvents}} insert, {{.Stats.DeleteEvents}} delete, {{.Stats.PasteEvents}} paste)
- **Characters:** {{.Stats.TotalCharsTyped}} typed, {{.Stats.TotalCharsDeleted}} deleted, {{.Stats.TotalCharsPasted}} pasted
- **Paste ratio:** {{percent .Stats.PasteRatio}}
{{if .Errors}}
## Errors

{{range .Errors}}- {{.Message}}
{{end}}{{end}}{{if .Warnings}}
## Warnings

{{range .Warnings}}- {{.Message}}
{{end}}{{end}}
---
*Report generated at {{.VerifiedAt.Format "2006-01-02T15:04:05Z07:00"}}*
`

var markdownFuncs = template.FuncMap{
	"result":  resultString,
	"percent": func(f float64) string { return fmt.Sprintf("%.1f%%", f*100) },
	"deref": func(p *int) int {
		if p == nil {
			return -1
		}
		return *p
	},
}

var markdownReport = template.Must(template.New("report").Funcs(markdownFuncs).Parse(markdownTemplate))

func (g *ReportGenerator) generateMarkdown(report *Report, w io.Writer) error {
	return markdownReport.Execute(w, report)
}

func resultString(valid bool) string {
	if valid {
		return "VALID"
	}
	return "INVALID"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func (g *ReportGenerator) truncateHash(hash string) string {
	if hash == "" {
		return "(not finalized)"
	}
	if len(hash) <= 16 || g.verbose {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-8:]
}
