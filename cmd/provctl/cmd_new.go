package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"provenance/internal/format"
)

func (a *app) newNewCmd() *cobra.Command {
	var (
		title       string
		contentFile string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create an empty, finalized provenance document",
		Long: `New writes a document with no sessions. A bare name is placed in the
configured documents directory; the .provenance extension is added when
missing. --content-file stamps existing text as the document's starting
content.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := format.WithExtension(args[0])
			if filepath.Base(path) == path {
				path = filepath.Join(a.cfg.Document.Dir, path)
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}

			content := ""
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return fmt.Errorf("read content: %w", err)
				}
				content = string(data)
			}

			if title == "" {
				title = a.cfg.Document.DefaultTitle
			}
			doc := a.builder.CreateDocument(title)
			a.builder.FinalizeDocument(doc, content)

			if err := format.WriteFile(path, doc); err != nil {
				return err
			}
			a.metrics.ObserveWrite()
			a.logger.Info("document created", "path", path, "title", doc.Metadata.Title)
			fmt.Fprintln(a.out, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "document title (default from config)")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "file whose text becomes the starting content")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
