package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrArchiveUnreadable is returned when the top-level bytes are not a readable archive.
var ErrArchiveUnreadable = errors.New("archive unreadable")

// Skip reasons recorded on Outcome.Reason.
const (
	ReasonEntryUnreadable  = "entry_unreadable"
	ReasonNestedUnreadable = "nested_unreadable"
	ReasonWriteFailed      = "write_failed"
	ReasonDepthExceeded    = "depth_exceeded"
)

// Status of a single archive entry.
type Status string

const (
	StatusExtracted Status = "extracted"
	StatusSkipped   Status = "skipped"
)

// Document is one payload file written into the workspace.
type Document struct {
	Path         string // Absolute, unique within the run
	OriginalName string // Entry name as stored in the archive
	SizeBytes    int64
}

// Name returns the base file name of the extracted document.
func (d Document) Name() string { return filepath.Base(d.Path) }

// Outcome records what happened to one container or payload entry.
type Outcome struct {
	Entry    string // Entry name, prefixed with its nesting chain ("outer.zip/inner.zip/a.pdf")
	Status   Status
	Reason   string // Set when Status is StatusSkipped
	Err      error
	Document *Document
}

// Result is everything one extraction run produced.
type Result struct {
	Root      string // Directory created for this run
	Documents []Document
	Outcomes  []Outcome
}

// Skipped returns only the skipped outcomes.
func (r *Result) Skipped() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusSkipped {
			out = append(out, o)
		}
	}
	return out
}

// Options controls which entries are descended into and which are collected.
type Options struct {
	ContainerExt string // Nested archive extension, default ".zip"
	PayloadExt   string // Collected document extension, default ".pdf"
	MaxDepth     int    // 0 means unbounded
}

func (o Options) withDefaults() Options {
	if o.ContainerExt == "" {
		o.ContainerExt = ".zip"
	}
	if o.PayloadExt == "" {
		o.PayloadExt = ".pdf"
	}
	if !strings.HasPrefix(o.ContainerExt, ".") {
		o.ContainerExt = "." + o.ContainerExt
	}
	if !strings.HasPrefix(o.PayloadExt, ".") {
		o.PayloadExt = "." + o.PayloadExt
	}
	return o
}

// extraction holds the per-run state threaded through the recursive walk.
type extraction struct {
	opts      Options
	logger    *slog.Logger
	result    *Result
	lastStamp int64 // Last collision suffix handed out, strictly increasing
	now       func() time.Time
}

// Extract opens archiveData, descends into nested archives and writes every payload
// document under a fresh directory inside destRoot.
// Only a top-level open failure is fatal; bad entries are recorded as skipped outcomes.
// On context cancellation the partial result is returned with ctx.Err().
func Extract(ctx context.Context, archiveData []byte, destRoot string, opts Options, logger *slog.Logger) (*Result, error) {
	opts = opts.withDefaults()
	l := logger.With(slog.String("component", "extractor"))
	l.Info("Starting archive extraction.", slog.Int("archive_bytes", len(archiveData)))
	start := time.Now()

	zr, err := zip.NewReader(bytes.NewReader(archiveData), int64(len(archiveData)))
	if err != nil {
		l.Error("Top-level archive could not be opened.", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}

	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction root %s: %w", destRoot, err)
	}
	runDir, err := os.MkdirTemp(destRoot, "unzip_")
	if err != nil {
		return nil, fmt.Errorf("create run directory in %s: %w", destRoot, err)
	}
	absRunDir, err := filepath.Abs(runDir)
	if err != nil {
		return nil, fmt.Errorf("abs path %s: %w", runDir, err)
	}

	ex := &extraction{
		opts:   opts,
		logger: l,
		result: &Result{Root: absRunDir},
		now:    time.Now,
	}
	walkErr := ex.walk(ctx, zr, absRunDir, "", 1)

	l.Info("Finished archive extraction.",
		slog.Int("documents", len(ex.result.Documents)),
		slog.Int("skipped", len(ex.result.Skipped())),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return ex.result, walkErr
}

// walk processes every entry of zr, writing payloads into dir.
func (ex *extraction) walk(ctx context.Context, zr *zip.Reader, dir, chain string, depth int) error {
	for _, f := range zr.File {
		select {
		case <-ctx.Done():
			ex.logger.Warn("Extraction cancelled by context.", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		lower := strings.ToLower(f.Name)
		isContainer := strings.HasSuffix(lower, ex.opts.ContainerExt)
		isPayload := strings.HasSuffix(lower, ex.opts.PayloadExt)
		if !isContainer && !isPayload {
			continue // Other file types are ignored silently
		}

		entry := chain + f.Name
		data, err := readEntry(f)
		if err != nil {
			ex.logger.Warn("Skipping unreadable entry.", slog.String("entry", entry), "error", err)
			ex.skip(entry, ReasonEntryUnreadable, err)
			continue
		}

		if isContainer {
			if err := ex.descend(ctx, entry, f.Name, data, dir, depth); err != nil {
				return err // Only cancellation propagates out of a subtree
			}
			continue
		}

		doc, err := ex.writePayload(dir, f.Name, data)
		if err != nil {
			ex.logger.Warn("Failed writing extracted document.", slog.String("entry", entry), "error", err)
			ex.skip(entry, ReasonWriteFailed, err)
			continue
		}
		ex.logger.Debug("Extracted document.", slog.String("entry", entry), slog.String("path", doc.Path))
		ex.result.Documents = append(ex.result.Documents, doc)
		ex.result.Outcomes = append(ex.result.Outcomes, Outcome{Entry: entry, Status: StatusExtracted, Document: &doc})
	}
	return nil
}

// descend opens a nested archive and walks it inside its own subdirectory.
// A malformed nested archive abandons only that subtree.
func (ex *extraction) descend(ctx context.Context, entry, name string, data []byte, dir string, depth int) error {
	if ex.opts.MaxDepth > 0 && depth >= ex.opts.MaxDepth {
		ex.skip(entry, ReasonDepthExceeded, fmt.Errorf("nesting depth %d reached", ex.opts.MaxDepth))
		return nil
	}
	nested, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		ex.logger.Warn("Skipping unreadable nested archive.", slog.String("entry", entry), "error", err)
		ex.skip(entry, ReasonNestedUnreadable, err)
		return nil
	}

	base := filepath.Base(name)
	subdir := ex.uniquePath(dir, strings.TrimSuffix(base, filepath.Ext(base)), "")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		ex.skip(entry, ReasonWriteFailed, fmt.Errorf("create nested dir %s: %w", subdir, err))
		return nil
	}
	ex.result.Outcomes = append(ex.result.Outcomes, Outcome{Entry: entry, Status: StatusExtracted})
	return ex.walk(ctx, nested, subdir, entry+"/", depth+1)
}

// writePayload writes data under dir using the entry's base name, renaming on collision.
func (ex *extraction) writePayload(dir, name string, data []byte) (Document, error) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	target := ex.uniquePath(dir, strings.TrimSuffix(base, ext), ext)

	if err := os.WriteFile(target, data, 0o644); err != nil {
		os.Remove(target)
		return Document{}, fmt.Errorf("write %s: %w", target, err)
	}
	return Document{Path: target, OriginalName: name, SizeBytes: int64(len(data))}, nil
}

// uniquePath returns dir/stem+ext, or dir/stem_<stamp>+ext when that already exists.
// Stamps are milliseconds, bumped so they never repeat within one run.
func (ex *extraction) uniquePath(dir, stem, ext string) string {
	target := filepath.Join(dir, stem+ext)
	for {
		if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
			return target
		}
		stamp := ex.now().UnixMilli()
		if stamp <= ex.lastStamp {
			stamp = ex.lastStamp + 1
		}
		ex.lastStamp = stamp
		target = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, stamp, ext))
	}
}

func (ex *extraction) skip(entry, reason string, err error) {
	ex.result.Outcomes = append(ex.result.Outcomes, Outcome{Entry: entry, Status: StatusSkipped, Reason: reason, Err: err})
}

// readEntry reads the whole payload; checksum failures surface here.
func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	data, readErr := io.ReadAll(rc)
	closeErr := rc.Close()
	if err := errors.Join(readErr, closeErr); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}
