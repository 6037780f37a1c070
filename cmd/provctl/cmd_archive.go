package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"provenance/internal/format"
	"provenance/internal/store"
	"provenance/internal/verify"
)

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, a.cfg.Storage.Path,
		store.WithLogger(a.logger),
		store.WithMetrics(a.metrics),
		store.WithClock(a.clock),
		store.WithBusyTimeout(a.cfg.Storage.BusyTimeoutMs),
	)
}

// withStore runs fn against the configured archive and closes it afterwards.
func (a *app) withStore(cmd *cobra.Command, fn func(context.Context, *store.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func (a *app) newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Store and verify documents in the SQLite archive",
	}
	cmd.AddCommand(
		a.newArchiveAddCmd(),
		a.newArchiveListCmd(),
		a.newArchiveExportCmd(),
		a.newArchiveVerifyCmd(),
		a.newArchiveHistoryCmd(),
		a.newArchiveDeleteCmd(),
	)
	return cmd
}

func (a *app) newArchiveAddCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "add <file.provenance>",
		Short: "Archive a document, replacing any earlier version with the same id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := format.ReadFile(args[0])
			if err != nil {
				return err
			}
			if id == "" {
				id = store.NewDocumentID()
			}
			return a.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				if err := s.SaveDocument(ctx, id, doc); err != nil {
					return err
				}
				fmt.Fprintln(a.out, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id (default: a new UUID)")
	return cmd
}

func (a *app) newArchiveListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				infos, err := s.ListDocuments(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(a.out)
					enc.SetIndent("", "  ")
					return enc.Encode(infos)
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tSESSIONS\tEVENTS\tMODIFIED")
				for _, info := range infos {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
						info.ID, info.Title, info.Sessions, info.Events, info.LastModifiedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func (a *app) newArchiveExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <id> [file.provenance]",
		Short: "Write an archived document to a file, or to stdout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				doc, err := s.LoadDocument(ctx, args[0])
				if err != nil {
					return err
				}
				if len(args) == 2 {
					return format.WriteFile(format.WithExtension(args[1]), doc)
				}
				data, err := format.Serialize(doc)
				if err != nil {
					return err
				}
				_, err = a.out.Write(data)
				return err
			})
		},
	}
	return cmd
}

func (a *app) newArchiveVerifyCmd() *cobra.Command {
	var (
		all        bool
		formatName string
	)
	cmd := &cobra.Command{
		Use:   "verify [id]",
		Short: "Re-verify archived documents from their stored rows",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := verify.ParseFormat(formatName)
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				var results []store.Verification
				if all {
					results, err = s.VerifyAll(ctx, a.cfg.Storage.VerifyConcurrency)
					if err != nil {
						return err
					}
				} else {
					v, err := s.VerifyDocument(ctx, args[0])
					if err != nil {
						return err
					}
					results = append(results, *v)
				}

				failed := false
				gen := verify.NewReportGenerator(rf)
				for _, v := range results {
					if !v.Valid {
						failed = true
					}
					if all && rf == verify.FormatText {
						status := "VALID"
						if !v.Valid {
							status = "INVALID"
						}
						fmt.Fprintf(a.out, "%-8s %s (%d errors, %d warnings)\n", status, v.DocumentID, v.Errors, v.Warnings)
						continue
					}
					doc, err := s.LoadDocument(ctx, v.DocumentID)
					if err != nil {
						return err
					}
					report := verify.NewReport("archive:"+v.DocumentID, doc, v.Result, v.VerifiedAt)
					if err := gen.Generate(report, a.out); err != nil {
						return err
					}
				}
				if failed {
					return errVerificationFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "verify every archived document")
	cmd.Flags().StringVarP(&formatName, "format", "f", "text", "output format: text, json, markdown")
	return cmd
}

func (a *app) newArchiveHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the verification history of an archived document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				history, err := s.History(ctx, args[0])
				if err != nil {
					return err
				}
				for _, v := range history {
					status := "VALID"
					if !v.Valid {
						status = "INVALID"
					}
					fmt.Fprintf(a.out, "%s  %-8s %d errors, %d warnings\n",
						v.VerifiedAt.Format(time.RFC3339), status, v.Errors, v.Warnings)
				}
				return nil
			})
		},
	}
}

func (a *app) newArchiveDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an archived document with all of its sessions and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, s *store.Store) error {
				return s.DeleteDocument(ctx, args[0])
			})
		},
	}
}
