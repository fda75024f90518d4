package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/index"
	"github.com/brensch/zipmailer/internal/inspector"
	"github.com/brensch/zipmailer/internal/packer"
	"github.com/brensch/zipmailer/internal/report"
	"github.com/brensch/zipmailer/internal/sheet"
	"github.com/brensch/zipmailer/internal/workspace"
)

// Settings configures every prepare stage.
type Settings struct {
	Extract    extractor.Options
	Index      index.Options
	Sheet      sheet.Options
	Packer     packer.Packer // OutDir and Logger are set per run
	Formats    []report.Format
	PageCounts bool
	HTTPClient *http.Client
}

// Prepare runs extraction, indexing, grouping and packing for one batch, then
// writes the manifest and the audit reports into the workspace.
func Prepare(ctx context.Context, ws *workspace.Workspace, sheetPath, archive string, s Settings, logger *slog.Logger) (*State, error) {
	logger = logger.With(slog.String("batch", ws.BatchID))
	logger.Info("--- Starting batch preparation ---", slog.String("sheet", sheetPath), slog.String("archive", archive))
	start := time.Now()

	if err := ws.ResetExtract(); err != nil {
		return nil, err
	}
	st := NewState(ws, sheetPath, archive)

	var err error
	if st, err = LoadSheet(st, s.Sheet, logger); err != nil {
		return st, err
	}
	if st, err = Extract(ctx, st, s.HTTPClient, s.Extract, logger); err != nil {
		return st, err
	}
	st = BuildIndex(st, s.Index, logger)
	st = Group(st, logger)
	if st, err = Pack(ctx, st, s.Packer, logger); err != nil {
		return st, err
	}
	if err := SaveManifest(ws.ManifestPath(), BuildManifest(st, time.Now())); err != nil {
		return st, err
	}
	if s.PageCounts {
		st = CountPages(ctx, st, logger)
	}
	if st, err = WriteReports(st, s.Formats, logger); err != nil {
		return st, err
	}

	logger.Info("--- Batch preparation finished ---",
		slog.Int("groups", len(st.Packed)),
		slog.Int("parts", st.PartCount()),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return st, nil
}

// CountPages records page counts of matched documents. Unreadable documents
// are logged and left out.
func CountPages(ctx context.Context, st *State, logger *slog.Logger) *State {
	var docs []extractor.Document
	for _, pg := range st.Packed {
		docs = append(docs, pg.Group.Documents...)
	}
	summary, err := inspector.Inspect(ctx, docs, logger)
	if err != nil {
		logger.Warn("Some matched documents could not be read as PDF.", "error", err)
	}
	if summary != nil {
		st.Pages = summary.Pages
	}
	return st
}

// WriteReports renders the audit datasets in every format. All formats are
// attempted; failures are joined.
func WriteReports(st *State, formats []report.Format, logger *slog.Logger) (*State, error) {
	datasets := []report.Dataset{
		report.MatchReport(st.Grouping.Report, st.Pages),
		report.GroupSummary(st.Grouping.Groups),
		report.PartsSummary(partRows(st.Packed)),
	}
	if st.Extraction != nil && len(st.Extraction.Skipped()) > 0 {
		datasets = append(datasets, report.Extraction(st.Extraction.Outcomes))
	}

	var errs error
	for _, f := range formats {
		for _, ds := range datasets {
			path, err := report.Write(ds, f, st.Workspace.ReportsDir())
			if err != nil {
				errs = errors.Join(errs, fmt.Errorf("%s report %s: %w", f, ds.Name, err))
				continue
			}
			st.Reports = append(st.Reports, path)
			logger.Debug("Wrote report.", slog.String("path", path))
		}
	}
	return st, errs
}

func partRows(packed []PackedGroup) []report.PartRow {
	var rows []report.PartRow
	for _, pg := range packed {
		for _, p := range pg.Parts {
			rows = append(rows, report.PartRow{
				Destination: pg.Group.Key.Destination,
				Recipients:  pg.Group.Recipients(),
				Ordinal:     p.Ordinal,
				Total:       p.Total,
				FileName:    p.FileName,
				SizeBytes:   p.ArchiveBytes,
				Documents:   len(p.Documents),
				Oversized:   p.Oversized,
			})
		}
	}
	return rows
}
