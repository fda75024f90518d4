package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Format of an exported dataset.
type Format string

const (
	CSV     Format = "csv"
	PDF     Format = "pdf"
	Parquet Format = "parquet"
)

// ParseFormats accepts a list like ["csv", "PDF"]; unknown names are an error.
func ParseFormats(names []string) ([]Format, error) {
	var out []Format
	for _, n := range names {
		switch f := Format(strings.ToLower(strings.TrimSpace(n))); f {
		case CSV, PDF, Parquet:
			out = append(out, f)
		case "":
		default:
			return nil, fmt.Errorf("unknown report format %q (want csv, pdf or parquet)", n)
		}
	}
	return out, nil
}

// Dataset defines tabular export content.
type Dataset struct {
	Name    string // File stem, e.g. "match_report"
	Title   string
	Headers []string
	Rows    []map[string]string
}

// Write renders ds in format into dir and returns the file path.
func Write(ds Dataset, format Format, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, ds.Name+"."+string(format))
	switch format {
	case CSV:
		data, err := NewCSVExporter().Render(ds)
		if err != nil {
			return "", err
		}
		return path, os.WriteFile(path, data, 0o644)
	case PDF:
		data, err := NewPDFExporter().Render(ds, ds.Title)
		if err != nil {
			return "", err
		}
		return path, os.WriteFile(path, data, 0o644)
	case Parquet:
		return path, NewParquetExporter().WriteFile(ds, path)
	}
	return "", fmt.Errorf("unknown report format %q", format)
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// PDFExporter renders datasets into a landscape table.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

const pdfMaxCellRunes = 40

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	colWidth := 277.0 / float64(len(data.Headers))
	header := func() {
		pdf.SetFont("Arial", "B", 8)
		for _, h := range data.Headers {
			pdf.CellFormat(colWidth, 7, h, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 7)
	}
	header()
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, row := range data.Rows {
		if pdf.GetY()+6 > pageHeight-bottom {
			pdf.AddPage()
			header()
		}
		for _, h := range data.Headers {
			pdf.CellFormat(colWidth, 6, clip(row[h]), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= pdfMaxCellRunes {
		return s
	}
	return string(r[:pdfMaxCellRunes-3]) + "..."
}

// ParquetExporter writes datasets as all-string Parquet columns.
type ParquetExporter struct{}

// NewParquetExporter constructs a Parquet exporter.
func NewParquetExporter() *ParquetExporter {
	return &ParquetExporter{}
}

var nonIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)

// ColumnName turns a display header into a Parquet column name, "Match Key" -> "match_key".
func ColumnName(header string) string {
	name := strings.Trim(nonIdentChars.ReplaceAllString(strings.ToLower(header), "_"), "_")
	if name == "" {
		return "col"
	}
	return name
}

// WriteFile writes data to path with one OPTIONAL BYTE_ARRAY column per header.
func (e *ParquetExporter) WriteFile(data Dataset, path string) (err error) {
	if len(data.Headers) == 0 {
		return fmt.Errorf("parquet requires at least one header")
	}
	meta := make([]string, len(data.Headers))
	for i, h := range data.Headers {
		meta[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", ColumnName(h))
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create parquet file %s: %w", path, err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close parquet file %s: %w", path, closeErr)
		}
	}()

	pw, err := writer.NewCSVWriter(meta, fw, 1)
	if err != nil {
		return fmt.Errorf("create parquet writer for %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range data.Rows {
		rec := make([]*string, len(data.Headers))
		for i, h := range data.Headers {
			v := row[h]
			rec[i] = &v
		}
		if err := pw.WriteString(rec); err != nil {
			return fmt.Errorf("write parquet row to %s: %w", path, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet file %s: %w", path, err)
	}
	return nil
}
