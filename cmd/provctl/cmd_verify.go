package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"provenance/internal/format"
	"provenance/internal/verify"
)

func (a *app) newVerifyCmd() *cobra.Command {
	var (
		formatName string
		verbose    bool
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "verify <file.provenance>...",
		Short: "Verify hash chains, content hash and replay of documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := verify.ParseFormat(formatName)
			if err != nil {
				return err
			}
			gen := verify.NewReportGenerator(rf).WithVerbose(verbose)

			failed := 0
			for _, path := range args {
				doc, err := format.ReadFile(path)
				if err != nil {
					a.logger.Error("document unreadable", "path", path, "error", err)
					fmt.Fprintf(a.errOut, "%s: %v\n", path, err)
					a.metrics.ObserveValidation(false)
					failed++
					continue
				}

				res := format.Validate(doc)
				a.metrics.ObserveValidation(res.Valid)
				report := verify.NewReport(path, doc, res, a.clock().UTC())
				if !res.Valid {
					failed++
				}
				a.logger.Debug("document verified", "path", path, "valid", res.Valid, "errors", len(res.Errors))

				if quiet {
					fmt.Fprintln(a.out, report.Summary())
					continue
				}
				if err := gen.Generate(report, a.out); err != nil {
					return fmt.Errorf("generate report: %w", err)
				}
			}

			if failed > 0 {
				return errVerificationFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", "text", "output format: text, json, markdown")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show full hashes and finding kinds")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print a one-line summary per document")
	return cmd
}
