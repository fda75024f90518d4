package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/inspector"
)

var inspectBatch string

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:         "inspect",
	Short:       "Check the extracted documents of a batch are readable PDFs",
	Long:        `Opens every extracted document of a prepared batch (the latest by default) and prints page counts, sizes and any file that is not a readable PDF.`,
	Annotations: map[string]string{skipLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()
		logger := getLogger()
		cfg := getConfig()

		ws, err := openBatch(cfg, inspectBatch)
		if err != nil {
			return err
		}
		docs, err := collectDocuments(ws.ExtractDir(), cfg.Archive.PayloadExt)
		if err != nil {
			return err
		}

		summary, err := inspector.Inspect(ctx, docs, logger)
		if summary != nil {
			inspector.Print(os.Stdout, summary)
		}
		if err != nil {
			return fmt.Errorf("inspection found unreadable documents: %w", err)
		}
		return nil
	},
}

// collectDocuments lists the payload files under root.
func collectDocuments(root, ext string) ([]extractor.Document, error) {
	var docs []extractor.Document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), strings.ToLower(ext)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		docs = append(docs, extractor.Document{Path: path, OriginalName: d.Name(), SizeBytes: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return docs, nil
}

func init() {
	inspectCmd.Flags().StringVar(&inspectBatch, "batch", "", "Batch id to inspect (default: latest prepared batch)")
}
