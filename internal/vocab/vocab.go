// Package vocab maintains the persistent token↔id mapping backing the
// sparse vector space of a collection. Ids are dense, assigned monotonically
// on first insertion, and never reused or renumbered.
package vocab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Vocabulary is the mutable writer-side token map. It is safe for concurrent
// use, but during a sync only one writer mutates it; query paths should work
// from an immutable Snapshot instead.
type Vocabulary struct {
	mu   sync.RWMutex
	ids  map[string]uint32
	next uint32
}

// New returns an empty vocabulary.
func New() *Vocabulary {
	return &Vocabulary{ids: make(map[string]uint32)}
}

// GetID returns the id of token, if present.
func (v *Vocabulary) GetID(token string) (uint32, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.ids[token]
	return id, ok
}

// AddToken returns the id of token, inserting it with the next free id if it
// is not yet known. Repeated calls with the same token return the same id.
func (v *Vocabulary) AddToken(token string) uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.ids[token]; ok {
		return id
	}
	id := v.next
	v.ids[token] = id
	v.next++
	return id
}

// Len returns the number of known tokens.
func (v *Vocabulary) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.ids)
}

// Snapshot returns an immutable copy for concurrent readers.
func (v *Vocabulary) Snapshot() *Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make(map[string]uint32, len(v.ids))
	for t, id := range v.ids {
		ids[t] = id
	}
	return &Snapshot{ids: ids}
}

// fileFormat is the on-disk serialization. Unknown trailing fields are
// ignored on load so older readers tolerate newer files.
type fileFormat struct {
	Tokens map[string]uint32 `json:"tokens"`
	NextID uint32            `json:"next_id"`
}

// Save writes the vocabulary to path atomically (temp file, then rename).
// After a successful save the in-memory and on-disk forms agree.
func (v *Vocabulary) Save(path string) error {
	v.mu.RLock()
	ff := fileFormat{Tokens: make(map[string]uint32, len(v.ids)), NextID: v.next}
	for t, id := range v.ids {
		ff.Tokens[t] = id
	}
	v.mu.RUnlock()

	data, err := json.Marshal(&ff)
	if err != nil {
		return fmt.Errorf("marshal vocabulary: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vocab-*")
	if err != nil {
		return fmt.Errorf("create temp vocabulary file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write vocabulary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close vocabulary file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename vocabulary file: %w", err)
	}
	return nil
}

// Load reads a vocabulary from path. A missing or corrupt file yields an
// empty vocabulary and no error: queries then degrade to dense-only until
// the next sync rebuilds the file.
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return New(), nil
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return New(), nil
	}
	v := New()
	next := ff.NextID
	for t, id := range ff.Tokens {
		v.ids[t] = id
		if id >= next {
			next = id + 1
		}
	}
	v.next = next
	return v, nil
}

// Snapshot is a read-only view of a vocabulary at a point in time.
type Snapshot struct {
	ids map[string]uint32
}

// EmptySnapshot returns a snapshot with no tokens.
func EmptySnapshot() *Snapshot {
	return &Snapshot{ids: map[string]uint32{}}
}

// GetID returns the id of token, if present.
func (s *Snapshot) GetID(token string) (uint32, bool) {
	id, ok := s.ids[token]
	return id, ok
}

// Len returns the number of tokens in the snapshot.
func (s *Snapshot) Len() int { return len(s.ids) }
