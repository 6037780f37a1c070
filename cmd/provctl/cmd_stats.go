package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"provenance/internal/format"
)

func (a *app) newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <file.provenance>",
		Short: "Print writing statistics for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := format.ReadFile(args[0])
			if err != nil {
				return err
			}
			st := format.GetStatistics(doc)

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			fmt.Fprintf(a.out, "Sessions:        %d\n", st.Sessions)
			fmt.Fprintf(a.out, "Edit events:     %d\n", st.TotalEvents)
			fmt.Fprintf(a.out, "  insert:        %d\n", st.InsertEvents)
			fmt.Fprintf(a.out, "  delete:        %d\n", st.DeleteEvents)
			fmt.Fprintf(a.out, "  paste:         %d\n", st.PasteEvents)
			fmt.Fprintf(a.out, "Chars typed:     %d\n", st.TotalCharsTyped)
			fmt.Fprintf(a.out, "Chars deleted:   %d\n", st.TotalCharsDeleted)
			fmt.Fprintf(a.out, "Chars pasted:    %d\n", st.TotalCharsPasted)
			fmt.Fprintf(a.out, "Paste ratio:     %.2f\n", st.PasteRatio)
			fmt.Fprintf(a.out, "Writing time:    %v\n", st.TotalWritingTime.Round(time.Second))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	return cmd
}
