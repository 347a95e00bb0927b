// Package sparse builds TF-weighted sparse vectors over the collection
// vocabulary. The writer path grows the vocabulary; the reader path works
// from an immutable snapshot and ignores unknown terms.
package sparse

import (
	"math"
	"sort"
	"strings"

	"github.com/repovec/repovec/internal/tokenize"
	"github.com/repovec/repovec/internal/vocab"
)

// Builder converts text into sparse (index, weight) pairs.
type Builder struct {
	tokCfg tokenize.Config
	boost  float32
}

// New creates a Builder. filenameBoost multiplies the query-side weight of
// filename-shaped terms; values ≤ 1 disable the boost.
func New(tokCfg tokenize.Config, filenameBoost float32) *Builder {
	return &Builder{tokCfg: tokCfg, boost: filenameBoost}
}

// BuildIndex produces the sparse vector for a chunk during sync, adding
// unknown terms to the vocabulary. Indices are sorted and unique; weights
// are log-normalized term frequencies (1 + ln f), never negative, and
// zero-weight terms are omitted.
func (b *Builder) BuildIndex(text string, v *vocab.Vocabulary) ([]uint32, []float32) {
	freqs := b.termFrequencies(text)
	pairs := make([]pair, 0, len(freqs))
	for term, f := range freqs {
		pairs = append(pairs, pair{id: v.AddToken(term), weight: tfWeight(f)})
	}
	return finish(pairs)
}

// BuildQuery produces the sparse vector for a query from a read-only
// vocabulary snapshot. Terms absent from the snapshot are dropped; the
// result may be empty, in which case the caller falls back to dense-only.
func (b *Builder) BuildQuery(text string, snap *vocab.Snapshot) ([]uint32, []float32) {
	freqs := b.termFrequencies(text)
	pairs := make([]pair, 0, len(freqs))
	for term, f := range freqs {
		id, ok := snap.GetID(term)
		if !ok {
			continue
		}
		w := tfWeight(f)
		if b.boost > 1 && isFilenameShaped(term) {
			w *= b.boost
		}
		pairs = append(pairs, pair{id: id, weight: w})
	}
	return finish(pairs)
}

func (b *Builder) termFrequencies(text string) map[string]int {
	freqs := make(map[string]int)
	for _, tok := range tokenize.Tokenize(text, b.tokCfg) {
		freqs[tok.Text]++
	}
	return freqs
}

func tfWeight(freq int) float32 {
	return float32(1 + math.Log(float64(freq)))
}

type pair struct {
	id     uint32
	weight float32
}

func finish(pairs []pair) ([]uint32, []float32) {
	if len(pairs) == 0 {
		return nil, nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
	indices := make([]uint32, len(pairs))
	values := make([]float32, len(pairs))
	for i, p := range pairs {
		indices[i] = p.id
		values[i] = p.weight
	}
	return indices, values
}

// codeExtensions recognizes extension suffixes of filename-shaped terms.
var codeExtensions = map[string]bool{
	"go": true, "rs": true, "py": true, "js": true, "jsx": true, "ts": true,
	"tsx": true, "java": true, "kt": true, "cs": true, "c": true, "h": true,
	"cc": true, "cpp": true, "hpp": true, "rb": true, "php": true, "sh": true,
	"md": true, "yaml": true, "yml": true, "json": true, "toml": true,
	"sql": true, "proto": true,
}

// filenameRoleWords is a small closed set of terms that usually refer to
// files rather than concepts.
var filenameRoleWords = map[string]bool{
	"readme": true, "makefile": true, "dockerfile": true, "license": true,
	"changelog": true, "gitignore": true,
}

// isFilenameShaped reports whether a query term likely names a file: it has
// a known code extension, looks like a multi-part identifier, or is a
// well-known filename word.
func isFilenameShaped(term string) bool {
	if filenameRoleWords[term] {
		return true
	}
	if i := strings.LastIndexByte(term, '.'); i > 0 && i < len(term)-1 {
		if codeExtensions[term[i+1:]] {
			return true
		}
	}
	if strings.ContainsAny(term, "_-") && strings.IndexFunc(term, func(r rune) bool {
		return r >= 'a' && r <= 'z'
	}) >= 0 {
		return true
	}
	return false
}
