package index

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/zipmailer/internal/extractor"
)

// MatchKind says which rule resolved a match key.
type MatchKind string

const (
	MatchName  MatchKind = "name"  // Exact file name, with or without extension
	MatchKey   MatchKind = "key"   // Exact derived key
	MatchFuzzy MatchKind = "fuzzy" // Substring of the file name
)

// DefaultMinFuzzyLen is the shortest match key the substring fallback accepts.
const DefaultMinFuzzyLen = 4

// Options controls resolution.
type Options struct {
	Fuzzy       bool
	MinFuzzyLen int
	PayloadExt  string // Used to accept keys given as bare names, default ".pdf"
}

// Match is a resolved document.
type Match struct {
	Document extractor.Document
	Kind     MatchKind
}

// Collision records a document displaced from the key map by a later one.
type Collision struct {
	Key      string
	Replaced extractor.Document
	Winner   extractor.Document
}

// Index maps derived keys and file names to extracted documents.
type Index struct {
	opts        Options
	docs        []extractor.Document
	byKey       map[string]extractor.Document
	byName      map[string]extractor.Document
	sorted      []extractor.Document
	Collisions  []Collision
	Unindexable []extractor.Document
}

// DeriveKey returns the last contiguous run of ASCII digits in the base name without extension.
func DeriveKey(name string) (string, bool) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	end := -1
	for i := len(stem) - 1; i >= 0; i-- {
		if isDigit(stem[i]) {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return "", false
	}
	start := end - 1
	for start > 0 && isDigit(stem[start-1]) {
		start--
	}
	return stem[start:end], true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Build indexes docs in order. Later documents win key and name collisions.
func Build(docs []extractor.Document, opts Options) *Index {
	if opts.MinFuzzyLen <= 0 {
		opts.MinFuzzyLen = DefaultMinFuzzyLen
	}
	if opts.PayloadExt == "" {
		opts.PayloadExt = ".pdf"
	}
	if !strings.HasPrefix(opts.PayloadExt, ".") {
		opts.PayloadExt = "." + opts.PayloadExt
	}
	opts.PayloadExt = strings.ToLower(opts.PayloadExt)

	ix := &Index{
		opts:   opts,
		docs:   append([]extractor.Document(nil), docs...),
		byKey:  make(map[string]extractor.Document, len(docs)),
		byName: make(map[string]extractor.Document, len(docs)),
	}
	for _, d := range docs {
		ix.byName[strings.ToLower(d.Name())] = d

		key, ok := DeriveKey(d.Name())
		if !ok {
			ix.Unindexable = append(ix.Unindexable, d)
			continue
		}
		if prev, exists := ix.byKey[key]; exists && prev.Path != d.Path {
			ix.Collisions = append(ix.Collisions, Collision{Key: key, Replaced: prev, Winner: d})
		}
		ix.byKey[key] = d
	}

	ix.sorted = append([]extractor.Document(nil), docs...)
	sort.SliceStable(ix.sorted, func(i, j int) bool {
		return strings.ToLower(ix.sorted[i].Name()) < strings.ToLower(ix.sorted[j].Name())
	})
	return ix
}

// Documents returns every document given to Build, in input order.
func (ix *Index) Documents() []extractor.Document { return ix.docs }

// Keys returns the number of distinct derived keys.
func (ix *Index) Keys() int { return len(ix.byKey) }

// Resolve finds the document for matchKey: exact name, then derived key, then
// (when enabled) the shortest file name containing the key.
func (ix *Index) Resolve(matchKey string) (Match, bool) {
	key := strings.TrimSpace(matchKey)
	if key == "" {
		return Match{}, false
	}
	lower := strings.ToLower(key)

	if d, ok := ix.byName[lower]; ok {
		return Match{Document: d, Kind: MatchName}, true
	}
	if !strings.HasSuffix(lower, ix.opts.PayloadExt) {
		if d, ok := ix.byName[lower+ix.opts.PayloadExt]; ok {
			return Match{Document: d, Kind: MatchName}, true
		}
	}

	if d, ok := ix.byKey[key]; ok {
		return Match{Document: d, Kind: MatchKey}, true
	}
	if derived, ok := DeriveKey(key); ok && derived != key {
		if d, ok := ix.byKey[derived]; ok {
			return Match{Document: d, Kind: MatchKey}, true
		}
	}

	if !ix.opts.Fuzzy || len(key) < ix.opts.MinFuzzyLen {
		return Match{}, false
	}
	return ix.fuzzy(lower)
}

// fuzzy is a linear scan; sorted order makes the first shortest candidate the lexicographic winner.
func (ix *Index) fuzzy(lower string) (Match, bool) {
	var best *extractor.Document
	for i := range ix.sorted {
		name := strings.ToLower(ix.sorted[i].Name())
		if !strings.Contains(name, lower) {
			continue
		}
		if best == nil || len(name) < len(best.Name()) {
			best = &ix.sorted[i]
		}
	}
	if best == nil {
		return Match{}, false
	}
	return Match{Document: *best, Kind: MatchFuzzy}, true
}
