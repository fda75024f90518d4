package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	extractDir   = "extract"
	partsDir     = "parts"
	reportsDir   = "reports"
	manifestFile = "manifest.yaml"
	latestFile   = "LATEST"
)

// ErrNotFound is returned when a batch directory does not exist.
var ErrNotFound = errors.New("workspace not found")

// Workspace is the directory tree of one batch:
//
//	<base>/<batch>/extract   extracted documents
//	<base>/<batch>/parts     packed archives
//	<base>/<batch>/reports   audit exports
//	<base>/<batch>/manifest.yaml
type Workspace struct {
	Base    string
	BatchID string
	Root    string
}

// NewBatchID returns a sortable id such as "20260102-150405-1a2b3c4d".
func NewBatchID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + strings.Split(uuid.NewString(), "-")[0]
}

// Acquire creates the tree for batchID under base and marks it as the latest
// batch. An empty batchID gets a fresh one.
func Acquire(base, batchID string) (*Workspace, error) {
	if batchID == "" {
		batchID = NewBatchID(time.Now())
	}
	if err := validID(batchID); err != nil {
		return nil, err
	}
	ws := newWorkspace(base, batchID)
	for _, d := range []string{ws.ExtractDir(), ws.PartsDir(), ws.ReportsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, latestFile), []byte(batchID+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("record latest batch: %w", err)
	}
	return ws, nil
}

// Open returns an existing batch workspace.
func Open(base, batchID string) (*Workspace, error) {
	if err := validID(batchID); err != nil {
		return nil, err
	}
	ws := newWorkspace(base, batchID)
	info, err := os.Stat(ws.Root)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", ws.Root, err)
	}
	return ws, nil
}

// Latest opens the most recently acquired batch.
func Latest(base string) (*Workspace, error) {
	data, err := os.ReadFile(filepath.Join(base, latestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no prepared batch in %s: %w", base, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read latest batch: %w", err)
	}
	return Open(base, strings.TrimSpace(string(data)))
}

// List returns the batch ids under base, oldest first.
func List(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", base, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Release deletes the batch tree. The latest marker is removed when it points here.
func (w *Workspace) Release() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("remove %s: %w", w.Root, err)
	}
	marker := filepath.Join(w.Base, latestFile)
	if data, err := os.ReadFile(marker); err == nil && strings.TrimSpace(string(data)) == w.BatchID {
		if err := os.Remove(marker); err != nil {
			return fmt.Errorf("remove latest marker: %w", err)
		}
	}
	return nil
}

// ResetExtract empties the extraction directory so a re-prepare starts clean.
func (w *Workspace) ResetExtract() error {
	for _, d := range []string{w.ExtractDir(), w.PartsDir()} {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("clear %s: %w", d, err)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

func (w *Workspace) ExtractDir() string   { return filepath.Join(w.Root, extractDir) }
func (w *Workspace) PartsDir() string     { return filepath.Join(w.Root, partsDir) }
func (w *Workspace) ReportsDir() string   { return filepath.Join(w.Root, reportsDir) }
func (w *Workspace) ManifestPath() string { return filepath.Join(w.Root, manifestFile) }

func newWorkspace(base, batchID string) *Workspace {
	return &Workspace{Base: base, BatchID: batchID, Root: filepath.Join(base, batchID)}
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid batch id %q", id)
	}
	return nil
}
