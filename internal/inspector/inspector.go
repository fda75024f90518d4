package inspector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/util"
)

// Invalid is a document the PDF reader could not open.
type Invalid struct {
	Path string
	Err  error
}

// Summary describes a set of extracted documents.
type Summary struct {
	Documents  int
	TotalBytes int64
	TotalPages int
	Pages      map[string]int // Path -> page count, valid documents only
	Invalid    []Invalid
	Largest    []extractor.Document // Up to five, largest first
}

// PageCount opens path and returns its page count. The reader can panic on
// malformed input, which is reported as an error.
func PageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse %s: %v", path, r)
		}
	}()
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer file.Close()
	return reader.NumPage(), nil
}

// Inspect counts pages for every document. Unreadable documents are listed in
// Summary.Invalid; the returned error joins their failures.
func Inspect(ctx context.Context, docs []extractor.Document, logger *slog.Logger) (*Summary, error) {
	logger.Info("--- Starting document inspection ---", slog.Int("documents", len(docs)))
	start := time.Now()

	s := &Summary{Pages: make(map[string]int, len(docs))}
	var errs error
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		s.Documents++
		s.TotalBytes += d.SizeBytes

		n, err := PageCount(d.Path)
		if err != nil {
			logger.Warn("Document is not a readable PDF.", slog.String("path", d.Path), "error", err)
			s.Invalid = append(s.Invalid, Invalid{Path: d.Path, Err: err})
			errs = errors.Join(errs, err)
			continue
		}
		s.Pages[d.Path] = n
		s.TotalPages += n
	}

	s.Largest = append([]extractor.Document(nil), docs...)
	sort.SliceStable(s.Largest, func(i, j int) bool { return s.Largest[i].SizeBytes > s.Largest[j].SizeBytes })
	if len(s.Largest) > 5 {
		s.Largest = s.Largest[:5]
	}

	logger.Info("--- Document inspection finished ---",
		slog.Int("pages", s.TotalPages),
		slog.Int("invalid", len(s.Invalid)),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return s, errs
}

// Print writes a human-readable summary.
func Print(w io.Writer, s *Summary) {
	fmt.Fprintf(w, "--- Document Summary ---\n")
	fmt.Fprintf(w, "%-20s %d\n", "Documents:", s.Documents)
	fmt.Fprintf(w, "%-20s %s\n", "Total size:", util.HumanBytes(s.TotalBytes))
	fmt.Fprintf(w, "%-20s %d\n", "Total pages:", s.TotalPages)
	fmt.Fprintf(w, "%-20s %d\n", "Unreadable:", len(s.Invalid))

	if len(s.Largest) > 0 {
		fmt.Fprintf(w, "\n%-60s | %10s | %5s\n", "Largest documents", "Size", "Pages")
		fmt.Fprintln(w, strings.Repeat("-", 82))
		for _, d := range s.Largest {
			pages := "-"
			if n, ok := s.Pages[d.Path]; ok {
				pages = fmt.Sprint(n)
			}
			fmt.Fprintf(w, "%-60s | %10s | %5s\n", truncate(d.Name(), 60), util.HumanBytes(d.SizeBytes), pages)
		}
	}
	if len(s.Invalid) > 0 {
		fmt.Fprintf(w, "\nUnreadable documents:\n")
		for _, inv := range s.Invalid {
			fmt.Fprintf(w, "  %s: %v\n", inv.Path, inv.Err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
