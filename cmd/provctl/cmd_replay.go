package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"provenance/internal/format"
	"provenance/internal/replay"
)

func (a *app) newReplayCmd() *cobra.Command {
	var (
		at     int
		frames bool
	)
	cmd := &cobra.Command{
		Use:   "replay <file.provenance>",
		Short: "Reconstruct document content from its recorded events",
		Long: `Replay rebuilds the document from its sessions. Without flags it prints
the final reconstructed content. --at N prints the content after event frame N
(frames count every event of every session in order, starting at 0).
--frames lists every frame with its session and event type.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := format.ReadFile(args[0])
			if err != nil {
				return err
			}
			tl := replay.NewTimeline(doc)

			if frames {
				for i := 0; i < tl.Len(); i++ {
					f, _ := tl.Frame(i)
					fmt.Fprintf(a.out, "%5d  %-36s %4d  %-13s %q\n",
						i, f.SessionID, f.EventIndex, f.Event.Type, f.Event.ContentString())
				}
				return nil
			}

			if cmd.Flags().Changed("at") {
				if at >= tl.Len() {
					return fmt.Errorf("frame %d out of range (document has %d frames)", at, tl.Len())
				}
				fmt.Fprint(a.out, tl.At(at))
				return nil
			}

			fmt.Fprint(a.out, tl.Final())
			return nil
		},
	}
	cmd.Flags().IntVar(&at, "at", 0, "print content after this frame")
	cmd.Flags().BoolVar(&frames, "frames", false, "list frames instead of printing content")
	return cmd
}
