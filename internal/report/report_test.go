package report

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/grouper"
	"github.com/brensch/zipmailer/internal/index"
	"github.com/brensch/zipmailer/internal/ledger"
)

func delhiResult() *grouper.Result {
	ix := index.Build([]extractor.Document{
		{Path: "/w/111.pdf", SizeBytes: 1 << 20},
		{Path: "/w/222.pdf", SizeBytes: 1 << 20},
	}, index.Options{})
	return grouper.Build([]grouper.Record{
		{Row: 1, MatchKey: "111", RawRecipients: "a@x.com;B@X.com", Destination: "Delhi"},
		{Row: 2, MatchKey: "222", RawRecipients: "oops", Destination: "Delhi"},
		{Row: 3, MatchKey: "999", RawRecipients: "a@x.com", Destination: "Delhi"},
	}, ix)
}

func TestMatchReportCSV(t *testing.T) {
	res := delhiResult()
	ds := MatchReport(res.Report, map[string]int{"/w/111.pdf": 2})
	data, err := NewCSVExporter().Render(ds)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "Row,Match Key,Matched,Match Kind,Document,Pages,Recipients,Rejected,Destination,Reason", lines[0])
	require.Equal(t, "1,111,yes,name,111.pdf,2,a@x.com; b@x.com,,Delhi,", lines[1])
	require.Equal(t, "2,222,yes,name,222.pdf,,,oops,Delhi,no valid recipients", lines[2])
	require.Equal(t, "3,999,no,,,,a@x.com,,Delhi,no document for key", lines[3])
}

func TestGroupSummary(t *testing.T) {
	ds := GroupSummary(delhiResult().Groups)
	require.Len(t, ds.Rows, 2)
	require.Equal(t, "ready", ds.Rows[0]["Status"])
	require.Equal(t, "1.0 MB", ds.Rows[0]["Total Size"])
	require.Equal(t, "blocked", ds.Rows[1]["Status"])
	require.Equal(t, grouper.ProblemNoRecipients, ds.Rows[1]["Problem"])
}

func TestExtractionListsOnlySkips(t *testing.T) {
	ds := Extraction([]extractor.Outcome{
		{Entry: "a.pdf", Status: extractor.StatusExtracted},
		{Entry: "b.zip", Status: extractor.StatusSkipped, Reason: extractor.ReasonNestedUnreadable, Err: errors.New("zip: not a valid zip file")},
	})
	require.Len(t, ds.Rows, 1)
	require.Equal(t, "b.zip", ds.Rows[0]["Entry"])
}

func sendLog() Dataset {
	return SendLog([]ledger.Entry{
		{ID: 1, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), BatchID: "b1", Destination: "Delhi",
			Recipients: []string{"a@x.com"}, SendTo: []string{"qa@x.com"}, Part: "1/2", FileName: "Delhi_1of2.zip",
			DocCount: 3, Status: ledger.StatusPending},
		{ID: 2, CreatedAt: time.Date(2026, 1, 2, 3, 4, 7, 0, time.UTC), BatchID: "b1", Destination: "Delhi",
			Recipients: []string{"a@x.com"}, SendTo: []string{"qa@x.com"}, Part: "1/2", FileName: "Delhi_1of2.zip",
			DocCount: 3, Status: ledger.StatusSent, ResolvesID: 1},
	})
}

func TestSendLogDataset(t *testing.T) {
	ds := sendLog()
	require.Equal(t, "2026-01-02T03:04:05Z", ds.Rows[0]["Time"])
	require.Equal(t, "", ds.Rows[0]["Resolves"])
	require.Equal(t, "1", ds.Rows[1]["Resolves"])
	require.Equal(t, "qa@x.com", ds.Rows[1]["Sent To"])
}

func TestPDFRender(t *testing.T) {
	data, err := NewPDFExporter().Render(sendLog(), "Send log")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Dataset{}, "")
	require.Error(t, err)
}

func TestWriteParquet(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(sendLog(), Parquet, dir)
	require.NoError(t, err)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, nil, 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())
}

func TestWriteCSVAndPDFFiles(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []Format{CSV, PDF} {
		path, err := Write(PartsSummary([]PartRow{{Destination: "Delhi", Ordinal: 1, Total: 1, FileName: "Delhi_1of1.zip", SizeBytes: 2048, Documents: 2}}), f, dir)
		require.NoError(t, err)
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Positive(t, info.Size())
	}
}

func TestParseFormatsAndColumnName(t *testing.T) {
	fs, err := ParseFormats([]string{"CSV", " parquet", ""})
	require.NoError(t, err)
	require.Equal(t, []Format{CSV, Parquet}, fs)
	_, err = ParseFormats([]string{"xml"})
	require.Error(t, err)

	require.Equal(t, "match_key", ColumnName("Match Key"))
	require.Equal(t, "sent_to", ColumnName("Sent To"))
	require.Equal(t, "col", ColumnName("%%"))
}
