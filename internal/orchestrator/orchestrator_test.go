package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zipmailer/internal/packer"
	"github.com/brensch/zipmailer/internal/report"
	"github.com/brensch/zipmailer/internal/workspace"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func pdfBytes(t *testing.T, pages int) []byte {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetFont("Arial", "", 12)
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.Cell(40, 10, "Hall ticket")
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

// writeFixtures creates an archive holding 111.pdf at the top level and
// 222.pdf inside a nested zip, plus the Delhi spreadsheet.
func writeFixtures(t *testing.T) (sheetPath, archivePath string) {
	t.Helper()
	dir := t.TempDir()

	var inner bytes.Buffer
	iw := zip.NewWriter(&inner)
	f, err := iw.Create("222.pdf")
	require.NoError(t, err)
	_, err = f.Write(pdfBytes(t, 2))
	require.NoError(t, err)
	require.NoError(t, iw.Close())

	var outer bytes.Buffer
	ow := zip.NewWriter(&outer)
	for name, data := range map[string][]byte{"111.pdf": pdfBytes(t, 1), "nested.zip": inner.Bytes(), "readme.txt": []byte("x")} {
		f, err := ow.Create(name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, ow.Close())

	archivePath = filepath.Join(dir, "tickets.zip")
	require.NoError(t, os.WriteFile(archivePath, outer.Bytes(), 0o644))

	sheetPath = filepath.Join(dir, "students.csv")
	require.NoError(t, os.WriteFile(sheetPath, []byte(
		"Hall Ticket,Email,Location\n"+
			"111,a@x.com;B@X.com,Delhi\n"+
			"111,\"a@x.com,b@x.com\",Delhi\n"+
			"222,,Delhi\n"), 0o644))
	return sheetPath, archivePath
}

func settings() Settings {
	return Settings{
		Packer:     packer.Packer{CeilingBytes: 3 << 20, Compression: packer.Deflate},
		Formats:    []report.Format{report.CSV},
		PageCounts: true,
	}
}

func TestPrepareDelhiScenario(t *testing.T) {
	sheetPath, archivePath := writeFixtures(t)
	ws, err := workspace.Acquire(t.TempDir(), "batch1")
	require.NoError(t, err)

	st, err := Prepare(context.Background(), ws, sheetPath, archivePath, settings(), quietLogger())
	require.NoError(t, err)

	require.Len(t, st.Records, 3)
	require.Len(t, st.Extraction.Documents, 2)
	require.Len(t, st.Grouping.Groups, 2)
	require.Empty(t, st.Grouping.Unmatched)

	require.Len(t, st.Packed, 2)
	require.Equal(t, "Delhi", st.Packed[0].Label)
	require.Equal(t, "Delhi_2", st.Packed[1].Label)
	require.Equal(t, "Delhi_1of1.zip", st.Packed[0].Parts[0].FileName)
	require.Equal(t, "Delhi_2_1of1.zip", st.Packed[1].Parts[0].FileName)
	require.Len(t, st.Packed[0].Parts[0].Documents, 1)

	require.Len(t, st.Pages, 2)
	require.Len(t, st.Reports, 3)
	for _, p := range st.Reports {
		_, err := os.Stat(p)
		require.NoError(t, err)
	}

	m, err := LoadManifest(ws.ManifestPath())
	require.NoError(t, err)
	require.Equal(t, "batch1", m.BatchID)
	require.Equal(t, []string{"a@x.com", "b@x.com"}, m.Groups[0].Recipients)
	require.True(t, m.Groups[0].Dispatchable)
	require.False(t, m.Groups[1].Dispatchable)
	require.NotEmpty(t, m.Groups[1].Problem)

	jobs := m.Jobs(ws.PartsDir())
	require.Len(t, jobs, 2)
	require.Equal(t, "1/1", jobs[0].Part())
	require.Equal(t, []string{"111"}, jobs[0].MatchKeys)
	require.True(t, jobs[0].Dispatchable)
	require.False(t, jobs[1].Dispatchable)

	lookup := m.PartLookup(ws.PartsDir())
	path, ok := lookup("Delhi_1of1.zip")
	require.True(t, ok)
	require.Equal(t, jobs[0].Path, path)
	_, ok = lookup("Other_1of1.zip")
	require.False(t, ok)

	require.NoError(t, os.Remove(path))
	_, ok = lookup("Delhi_1of1.zip")
	require.False(t, ok)
}

func TestPrepareIsRepeatable(t *testing.T) {
	sheetPath, archivePath := writeFixtures(t)
	ws, err := workspace.Acquire(t.TempDir(), "batch1")
	require.NoError(t, err)

	_, err = Prepare(context.Background(), ws, sheetPath, archivePath, settings(), quietLogger())
	require.NoError(t, err)
	st, err := Prepare(context.Background(), ws, sheetPath, archivePath, settings(), quietLogger())
	require.NoError(t, err)
	require.Len(t, st.Extraction.Documents, 2)

	entries, err := os.ReadDir(ws.PartsDir())
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestPrepareUnreadableArchive(t *testing.T) {
	sheetPath, _ := writeFixtures(t)
	bad := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))
	ws, err := workspace.Acquire(t.TempDir(), "")
	require.NoError(t, err)

	_, err = Prepare(context.Background(), ws, sheetPath, bad, settings(), quietLogger())
	require.Error(t, err)
	_, err = LoadManifest(ws.ManifestPath())
	require.ErrorIs(t, err, ErrNoManifest)
}

func TestUniqueLabel(t *testing.T) {
	seen := map[string]int{}
	require.Equal(t, "Delhi_2", uniqueLabel("Delhi_2", seen))
	require.Equal(t, "Delhi", uniqueLabel("Delhi", seen))
	require.Equal(t, "Delhi_3", uniqueLabel("Delhi", seen))
	require.Equal(t, "Delhi_4", uniqueLabel("Delhi", seen))
}
