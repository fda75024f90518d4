package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brensch/zipmailer/internal/grouper"
)

// ErrNoRows is returned for a sheet without a header row.
var ErrNoRows = errors.New("spreadsheet has no header row")

// Columns names the header of each field. Empty fields are detected from the headers.
type Columns struct {
	Key         string
	Recipients  string
	Destination string
}

// Options controls loading.
type Options struct {
	Columns Columns
	Sheet   string // XLSX sheet name, first sheet when empty
}

// Table is a header row plus data rows, all cells as text.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Load reads a .csv or .xlsx file and returns its records and the columns used.
func Load(path string, opts Options) ([]grouper.Record, Columns, error) {
	var (
		t   *Table
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, Columns{}, fmt.Errorf("open %s: %w", path, openErr)
		}
		defer f.Close()
		t, err = ReadCSV(f)
	case ".xlsx", ".xlsm":
		t, err = ReadXLSX(path, opts.Sheet)
	default:
		return nil, Columns{}, fmt.Errorf("unsupported spreadsheet type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
	if err != nil {
		return nil, Columns{}, fmt.Errorf("read %s: %w", path, err)
	}

	cols, err := DetectColumns(t.Headers, opts.Columns)
	if err != nil {
		return nil, Columns{}, err
	}
	records, err := t.Records(cols)
	return records, cols, err
}

// ReadCSV reads every row; rows may have differing lengths.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return newTable(rows)
}

// ReadXLSX reads one sheet of a workbook as text.
func ReadXLSX(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoRows
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("sheet %q: %w", sheet, err)
	}
	return newTable(rows)
}

func newTable(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return &Table{Headers: headers, Rows: rows[1:]}, nil
}

// DetectColumns picks the key, recipients and destination headers. Overrides win;
// otherwise the first header containing "hall"/"ticket", "email"/"mail" and
// "loc"/"center"/"city" respectively, falling back to the first, second and third column.
func DetectColumns(headers []string, override Columns) (Columns, error) {
	if len(headers) == 0 {
		return Columns{}, ErrNoRows
	}
	pick := func(name string, hints []string, fallback int) (string, error) {
		if name != "" {
			if indexOf(headers, name) < 0 {
				return "", fmt.Errorf("column %q not found in %v", name, headers)
			}
			return name, nil
		}
		for _, h := range headers {
			lower := strings.ToLower(h)
			for _, hint := range hints {
				if strings.Contains(lower, hint) {
					return h, nil
				}
			}
		}
		if fallback >= len(headers) {
			fallback = 0
		}
		return headers[fallback], nil
	}

	var cols Columns
	var err error
	if cols.Key, err = pick(override.Key, []string{"hall", "ticket"}, 0); err != nil {
		return Columns{}, err
	}
	if cols.Recipients, err = pick(override.Recipients, []string{"email", "mail"}, 1); err != nil {
		return Columns{}, err
	}
	if cols.Destination, err = pick(override.Destination, []string{"loc", "center", "centre", "city"}, 2); err != nil {
		return Columns{}, err
	}
	return cols, nil
}

// Records converts data rows to records. Blank rows are skipped but still counted in Row.
func (t *Table) Records(cols Columns) ([]grouper.Record, error) {
	ki, ri, di := indexOf(t.Headers, cols.Key), indexOf(t.Headers, cols.Recipients), indexOf(t.Headers, cols.Destination)
	if ki < 0 || ri < 0 || di < 0 {
		return nil, fmt.Errorf("columns %+v not all present in %v", cols, t.Headers)
	}

	records := make([]grouper.Record, 0, len(t.Rows))
	for i, row := range t.Rows {
		if blank(row) {
			continue
		}
		records = append(records, grouper.Record{
			Row:           i + 1,
			MatchKey:      normalizeKey(cell(row, ki)),
			RawRecipients: cell(row, ri),
			Destination:   strings.TrimSpace(cell(row, di)),
		})
	}
	return records, nil
}

// normalizeKey trims and drops the ".0" spreadsheets add to numeric ids.
func normalizeKey(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ".0") && strings.Trim(strings.TrimSuffix(s, ".0"), "0123456789") == "" {
		return strings.TrimSuffix(s, ".0")
	}
	return s
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func indexOf(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	for i, h := range headers {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}
