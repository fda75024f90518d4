package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brensch/zipmailer/internal/dispatch"
)

// ErrNoManifest is returned when a batch has not been prepared.
var ErrNoManifest = errors.New("batch has no manifest; run prepare first")

// Manifest is the prepared-parts index persisted with a batch. Sending and
// resuming read it instead of re-running preparation.
type Manifest struct {
	BatchID   string          `yaml:"batch_id"`
	CreatedAt time.Time       `yaml:"created_at"`
	Sheet     string          `yaml:"sheet"`
	Archive   string          `yaml:"archive"`
	Groups    []ManifestGroup `yaml:"groups"`
}

type ManifestGroup struct {
	Label        string         `yaml:"label"`
	Destination  string         `yaml:"destination"`
	Recipients   []string       `yaml:"recipients"`
	MatchKeys    []string       `yaml:"match_keys"`
	Dispatchable bool           `yaml:"dispatchable"`
	Problem      string         `yaml:"problem,omitempty"`
	Parts        []ManifestPart `yaml:"parts"`
}

type ManifestPart struct {
	Ordinal   int    `yaml:"ordinal"`
	Total     int    `yaml:"total"`
	FileName  string `yaml:"file_name"`
	SizeBytes int64  `yaml:"size_bytes"`
	Documents int    `yaml:"documents"`
	Oversized bool   `yaml:"oversized,omitempty"`
}

// BuildManifest describes the packed state. Part paths are stored relative
// to the parts directory.
func BuildManifest(st *State, now time.Time) *Manifest {
	m := &Manifest{BatchID: st.BatchID, CreatedAt: now.UTC(), Sheet: st.Sheet, Archive: st.Archive}
	for _, pg := range st.Packed {
		mg := ManifestGroup{
			Label:        pg.Label,
			Destination:  pg.Group.Key.Destination,
			Recipients:   pg.Group.Recipients(),
			MatchKeys:    pg.Group.MatchKeys,
			Dispatchable: pg.Group.Dispatchable(),
			Problem:      pg.Group.Problem(),
		}
		for _, p := range pg.Parts {
			mg.Parts = append(mg.Parts, ManifestPart{
				Ordinal:   p.Ordinal,
				Total:     p.Total,
				FileName:  p.FileName,
				SizeBytes: p.ArchiveBytes,
				Documents: len(p.Documents),
				Oversized: p.Oversized,
			})
		}
		m.Groups = append(m.Groups, mg)
	}
	return m
}

// SaveManifest writes m as YAML.
func SaveManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// LoadManifest reads a manifest written by SaveManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}

// Jobs lists one dispatch job per part in group then part order. partsDir is
// the directory the part files live in.
func (m *Manifest) Jobs(partsDir string) []dispatch.Job {
	var jobs []dispatch.Job
	for gi, g := range m.Groups {
		for _, p := range g.Parts {
			jobs = append(jobs, dispatch.Job{
				GroupIndex:   gi,
				Destination:  g.Destination,
				Recipients:   g.Recipients,
				MatchKeys:    g.MatchKeys,
				PartOrdinal:  p.Ordinal,
				PartTotal:    p.Total,
				FileName:     p.FileName,
				Path:         filepath.Join(partsDir, p.FileName),
				DocCount:     p.Documents,
				Dispatchable: g.Dispatchable,
				Problem:      g.Problem,
			})
		}
	}
	return jobs
}

// PartLookup resolves a stored part file name to its path, only when the file
// is still on disk.
func (m *Manifest) PartLookup(partsDir string) func(fileName string) (string, bool) {
	known := make(map[string]struct{})
	for _, g := range m.Groups {
		for _, p := range g.Parts {
			known[p.FileName] = struct{}{}
		}
	}
	return func(fileName string) (string, bool) {
		if _, ok := known[fileName]; !ok {
			return "", false
		}
		path := filepath.Join(partsDir, fileName)
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return "", false
		}
		return path, true
	}
}
