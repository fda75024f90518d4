package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brensch/zipmailer/internal/extractor"
	"github.com/brensch/zipmailer/internal/grouper"
	"github.com/brensch/zipmailer/internal/index"
	"github.com/brensch/zipmailer/internal/packer"
	"github.com/brensch/zipmailer/internal/sheet"
	"github.com/brensch/zipmailer/internal/util"
	"github.com/brensch/zipmailer/internal/workspace"
)

// PackedGroup is one group with the parts written for it.
type PackedGroup struct {
	Index int
	Label string // File-safe, unique within the batch
	Group *grouper.Group
	Parts []packer.Part
}

// State carries everything one prepare run has produced so far. Each stage
// takes the state and returns it with its own field filled in.
type State struct {
	BatchID   string
	Workspace *workspace.Workspace
	Sheet     string
	Archive   string

	Records    []grouper.Record
	Columns    sheet.Columns
	Extraction *extractor.Result
	Index      *index.Index
	Grouping   *grouper.Result
	Packed     []PackedGroup
	Pages      map[string]int // Page counts of matched documents, when requested
	Reports    []string       // Written report files
}

// NewState starts a run in ws.
func NewState(ws *workspace.Workspace, sheetPath, archive string) *State {
	return &State{BatchID: ws.BatchID, Workspace: ws, Sheet: sheetPath, Archive: archive}
}

// LoadSheet reads the spreadsheet records.
func LoadSheet(st *State, opts sheet.Options, logger *slog.Logger) (*State, error) {
	records, cols, err := sheet.Load(st.Sheet, opts)
	if err != nil {
		return st, fmt.Errorf("load spreadsheet: %w", err)
	}
	st.Records, st.Columns = records, cols
	logger.Info("Loaded spreadsheet.",
		slog.Int("records", len(records)),
		slog.String("key_column", cols.Key),
		slog.String("recipients_column", cols.Recipients),
		slog.String("destination_column", cols.Destination))
	return st, nil
}

// Extract reads the archive from a path or URL and unpacks it into the workspace.
func Extract(ctx context.Context, st *State, client *http.Client, opts extractor.Options, logger *slog.Logger) (*State, error) {
	data, err := util.ReadSource(ctx, client, st.Archive)
	if err != nil {
		return st, fmt.Errorf("read archive: %w", err)
	}
	res, err := extractor.Extract(ctx, data, st.Workspace.ExtractDir(), opts, logger)
	st.Extraction = res
	if err != nil {
		return st, fmt.Errorf("extract archive: %w", err)
	}
	return st, nil
}

// BuildIndex indexes the extracted documents.
func BuildIndex(st *State, opts index.Options, logger *slog.Logger) *State {
	st.Index = index.Build(st.Extraction.Documents, opts)
	for _, c := range st.Index.Collisions {
		logger.Warn("Two documents share a key; keeping the later one.",
			slog.String("key", c.Key),
			slog.String("replaced", c.Replaced.Name()),
			slog.String("kept", c.Winner.Name()))
	}
	logger.Info("Indexed documents.",
		slog.Int("documents", len(st.Extraction.Documents)),
		slog.Int("keys", st.Index.Keys()),
		slog.Int("unindexable", len(st.Index.Unindexable)))
	return st
}

// Group resolves the records and partitions the matches.
func Group(st *State, logger *slog.Logger) *State {
	st.Grouping = grouper.Build(st.Records, st.Index)
	for _, g := range st.Grouping.Blocked() {
		logger.Warn("Group needs attention and will not be sent.",
			slog.String("group", g.Key.Label()),
			slog.String("problem", g.Problem()),
			slog.Int("documents", len(g.Documents)))
	}
	logger.Info("Grouped records.",
		slog.Int("groups", len(st.Grouping.Groups)),
		slog.Int("blocked", len(st.Grouping.Blocked())),
		slog.Int("unmatched_records", len(st.Grouping.Unmatched)),
		slog.Int("unmatched_documents", len(st.Grouping.UnmatchedDocuments)))
	return st
}

// Pack writes every group's parts into the workspace. Groups whose labels
// collide get a numeric suffix so part file names stay unique.
func Pack(ctx context.Context, st *State, p packer.Packer, logger *slog.Logger) (*State, error) {
	p.OutDir = st.Workspace.PartsDir()
	p.Logger = logger
	start := time.Now()

	labels := make(map[string]int)
	st.Packed = st.Packed[:0]
	for i, g := range st.Grouping.Groups {
		label := uniqueLabel(packer.SafeLabel(g.Key.Label()), labels)
		parts, err := p.Pack(ctx, label, g.Documents)
		if err != nil {
			return st, fmt.Errorf("pack group %s: %w", label, err)
		}
		st.Packed = append(st.Packed, PackedGroup{Index: i, Label: label, Group: g, Parts: parts})
	}
	logger.Info("Packed groups.",
		slog.Int("groups", len(st.Packed)),
		slog.Int("parts", st.PartCount()),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return st, nil
}

// PartCount is the number of parts across all groups.
func (st *State) PartCount() int {
	n := 0
	for _, pg := range st.Packed {
		n += len(pg.Parts)
	}
	return n
}

func uniqueLabel(label string, seen map[string]int) string {
	seen[label]++
	if seen[label] == 1 {
		return label
	}
	for {
		candidate := label + "_" + strconv.Itoa(seen[label])
		if _, taken := seen[candidate]; !taken {
			seen[candidate] = 1
			return candidate
		}
		seen[label]++
	}
}
