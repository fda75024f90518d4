package packer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/brensch/zipmailer/internal/extractor"
)

// Compression selects the zip method for written parts.
type Compression string

const (
	Deflate Compression = "deflate"
	Store   Compression = "store"
)

const maxLabelLen = 100

var unsafeLabelChars = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)

// Part is one archive built from a contiguous slice of a group's documents.
type Part struct {
	Ordinal      int // 1-based
	Total        int
	FileName     string
	Path         string
	ContentBytes int64 // Sum of document sizes
	ArchiveBytes int64 // Size of the written zip
	Documents    []extractor.Document
	Oversized    bool // Single document that alone exceeds the ceiling
}

// Label renders the part identifier stored in the ledger, e.g. "2/5".
func (p Part) Label() string { return fmt.Sprintf("%d/%d", p.Ordinal, p.Total) }

// Plan splits docs greedily into consecutive slices whose summed size stays within ceiling.
// A document larger than the ceiling is placed alone.
func Plan(docs []extractor.Document, ceiling int64) [][]extractor.Document {
	return plan(docs, ceiling, func(batch []extractor.Document) (int64, error) {
		return contentBytes(batch), nil
	})
}

// plan is the shared greedy loop; size reports the measured size of a candidate slice.
func plan(docs []extractor.Document, ceiling int64, size func([]extractor.Document) (int64, error)) [][]extractor.Document {
	var (
		parts [][]extractor.Document
		acc   []extractor.Document
	)
	for _, d := range docs {
		if len(acc) > 0 {
			candidate := append(append([]extractor.Document(nil), acc...), d)
			n, err := size(candidate)
			if err != nil || n > ceiling {
				parts = append(parts, acc)
				acc = []extractor.Document{d}
				continue
			}
		}
		acc = append(acc, d)
	}
	if len(acc) > 0 {
		parts = append(parts, acc)
	}
	return parts
}

func contentBytes(docs []extractor.Document) int64 {
	var n int64
	for _, d := range docs {
		n += d.SizeBytes
	}
	return n
}

// Packer plans parts and writes them as zip archives under OutDir.
type Packer struct {
	CeilingBytes   int64
	OutDir         string
	Compression    Compression
	MeasureArchive bool // Check the ceiling against the realized zip size instead of the payload sum
	Logger         *slog.Logger
}

// Pack plans docs and writes every part for the group named by label.
func (p *Packer) Pack(ctx context.Context, label string, docs []extractor.Document) ([]Part, error) {
	if p.CeilingBytes <= 0 {
		return nil, fmt.Errorf("ceiling must be positive, got %d", p.CeilingBytes)
	}
	logger := p.logger().With(slog.String("group", label))
	if err := os.MkdirAll(p.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create parts dir %s: %w", p.OutDir, err)
	}

	var slices [][]extractor.Document
	if p.MeasureArchive {
		slices = plan(docs, p.CeilingBytes, p.measure)
	} else {
		slices = Plan(docs, p.CeilingBytes)
	}

	safe := SafeLabel(label)
	parts := make([]Part, 0, len(slices))
	for i, batch := range slices {
		if err := ctx.Err(); err != nil {
			return parts, err
		}
		part := Part{
			Ordinal:      i + 1,
			Total:        len(slices),
			FileName:     fmt.Sprintf("%s_%dof%d.zip", safe, i+1, len(slices)),
			ContentBytes: contentBytes(batch),
			Documents:    batch,
		}
		part.Path = filepath.Join(p.OutDir, part.FileName)

		n, err := p.writeFile(part.Path, batch)
		if err != nil {
			return parts, fmt.Errorf("write part %s: %w", part.FileName, err)
		}
		part.ArchiveBytes = n
		measured := part.ContentBytes
		if p.MeasureArchive {
			measured = part.ArchiveBytes
		}
		part.Oversized = len(batch) == 1 && measured > p.CeilingBytes
		if part.Oversized {
			logger.Warn("Document exceeds the attachment ceiling and is shipped alone.",
				slog.String("document", batch[0].Name()),
				slog.Int64("bytes", measured),
				slog.Int64("ceiling", p.CeilingBytes))
		}
		logger.Debug("Wrote part.",
			slog.String("file", part.FileName),
			slog.Int("documents", len(batch)),
			slog.Int64("archive_bytes", part.ArchiveBytes))
		parts = append(parts, part)
	}
	return parts, nil
}

func (p *Packer) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Packer) method() uint16 {
	if p.Compression == Store {
		return zip.Store
	}
	return zip.Deflate
}

// measure builds a trial archive into a counting writer.
func (p *Packer) measure(docs []extractor.Document) (int64, error) {
	cw := &countingWriter{}
	if err := writeArchive(cw, docs, p.method()); err != nil {
		return 0, err
	}
	return cw.n, nil
}

func (p *Packer) writeFile(path string, docs []extractor.Document) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	cw := &countingWriter{w: f}
	writeErr := writeArchive(cw, docs, p.method())
	if err := errors.Join(writeErr, f.Close()); err != nil {
		os.Remove(path)
		return 0, err
	}
	return cw.n, nil
}

// writeArchive streams docs into a zip on w. Repeated base names get "_<n>" suffixes.
func writeArchive(w io.Writer, docs []extractor.Document, method uint16) error {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(docs))
	for _, d := range docs {
		name := entryName(d.Name(), used)
		hw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
		if err := copyFile(hw, d.Path); err != nil {
			return err
		}
	}
	return zw.Close()
}

func entryName(base string, used map[string]int) string {
	used[base]++
	if used[base] == 1 {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for {
		candidate := fmt.Sprintf("%s_%d%s", stem, used[base], ext)
		if _, taken := used[candidate]; !taken {
			used[candidate] = 1
			return candidate
		}
		used[base]++
	}
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	return nil
}

// SafeLabel keeps [A-Za-z0-9_-], collapses other runs to "_" and truncates.
func SafeLabel(label string) string {
	s := unsafeLabelChars.ReplaceAllString(strings.TrimSpace(label), "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	if s == "" || strings.Trim(s, "_") == "" {
		return "group"
	}
	return s
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	if c.w == nil {
		c.n += int64(len(b))
		return len(b), nil
	}
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
