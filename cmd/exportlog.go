package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brensch/zipmailer/internal/ledger"
	"github.com/brensch/zipmailer/internal/report"
	"github.com/brensch/zipmailer/internal/saver"
)

var (
	exportFormats []string
	exportOut     string
	exportBatch   string
	exportRaw     bool
)

var exportLogCmd = &cobra.Command{
	Use:   "export-log",
	Short: "Export the send log as CSV, PDF or Parquet",
	Long: `Writes the send log (optionally one batch) to the output directory in every requested
format. With --raw and the DuckDB ledger, the ledger tables are also copied verbatim to
Parquet with DuckDB's COPY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		logger := getLogger()
		cfg := getConfig()

		formats, err := report.ParseFormats(exportFormats)
		if err != nil {
			return err
		}
		entries, err := getLedger().History(ctx, ledger.Filter{BatchID: exportBatch})
		if err != nil {
			return err
		}
		// History is newest first; exports read oldest first.
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}

		ds := report.SendLog(entries)
		var errs error
		for _, f := range formats {
			path, err := report.Write(ds, f, exportOut)
			if err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			fmt.Printf("Wrote %s (%d rows)\n", path, len(entries))
		}

		if exportRaw {
			if cfg.Ledger.Driver != string(ledger.DuckDB) {
				return errors.Join(errs, fmt.Errorf("--raw needs the duckdb ledger, not %s", cfg.Ledger.Driver))
			}
			paths, err := saver.SaveTablesToParquet(ctx, getDB(), filepath.Join(exportOut, "raw"), logger)
			errs = errors.Join(errs, err)
			for _, p := range paths {
				fmt.Printf("Wrote %s\n", p)
			}
		}
		return errs
	},
}

func init() {
	exportLogCmd.Flags().StringSliceVarP(&exportFormats, "format", "f", []string{"csv"}, "Formats to write (csv, pdf, parquet)")
	exportLogCmd.Flags().StringVarP(&exportOut, "out", "o", "./zipmailer_export", "Output directory")
	exportLogCmd.Flags().StringVar(&exportBatch, "batch", "", "Only rows of this batch")
	exportLogCmd.Flags().BoolVar(&exportRaw, "raw", false, "Also copy the ledger tables to Parquet with DuckDB")
}
