package vecstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests and offline runs. It
// mirrors the server-side behavior closely enough to exercise the indexing
// and search paths: cosine scoring for the dense vector, dot product for the
// sparse one, and RRF or DBSF fusion over the two candidate lists.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	denseDim int
	points   map[uint64]Point
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (m *MemoryStore) EnsureCollection(_ context.Context, collection string, denseDim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.collections[collection]; ok {
		if existing.denseDim != denseDim {
			return fmt.Errorf("%w: collection %q dense dimension is %d, want %d",
				ErrSchemaMismatch, collection, existing.denseDim, denseDim)
		}
		return nil
	}
	m.collections[collection] = &memCollection{
		denseDim: denseDim,
		points:   make(map[uint64]Point),
	}
	return nil
}

func (m *MemoryStore) DeleteCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q does not exist", collection)
	}
	for _, p := range points {
		coll.points[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) DeleteByFile(_ context.Context, collection, filePath, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q does not exist", collection)
	}
	for id, p := range coll.points {
		if p.Payload.FilePath == filePath && p.Payload.Branch == branch {
			delete(coll.points, id)
		}
	}
	return nil
}

func (m *MemoryStore) Count(_ context.Context, collection string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return 0, fmt.Errorf("collection %q does not exist", collection)
	}
	return uint64(len(coll.points)), nil
}

func (m *MemoryStore) Query(_ context.Context, collection string, plan QueryPlan) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}

	denseList := m.rank(coll, plan, func(p Point) (float32, bool) {
		return cosine(plan.Dense, p.Dense), true
	}, plan.DensePrefetchLimit)

	if len(plan.SparseIndices) == 0 {
		out := denseList
		if plan.Limit > 0 && len(out) > plan.Limit {
			out = out[:plan.Limit]
		}
		return applyThreshold(out, plan.ScoreThreshold), nil
	}

	sparseList := m.rank(coll, plan, func(p Point) (float32, bool) {
		if len(p.SparseIndices) == 0 {
			return 0, false
		}
		s := sparseDot(plan.SparseIndices, plan.SparseValues, p.SparseIndices, p.SparseValues)
		return s, s > 0
	}, plan.SparsePrefetchLimit)

	var fused []ScoredPoint
	if plan.Fusion == FusionDBSF {
		fused = fuseDBSF(denseList, sparseList)
	} else {
		fused = fuseRRF(denseList, sparseList)
	}
	fused = attachPayloads(coll, fused)
	if plan.Limit > 0 && len(fused) > plan.Limit {
		fused = fused[:plan.Limit]
	}
	return applyThreshold(fused, plan.ScoreThreshold), nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) rank(coll *memCollection, plan QueryPlan, score func(Point) (float32, bool), limit int) []ScoredPoint {
	var out []ScoredPoint
	for _, p := range coll.points {
		if !matchFilter(plan.Filter, p.Payload) {
			continue
		}
		s, ok := score(p)
		if !ok {
			continue
		}
		out = append(out, ScoredPoint{ID: p.ID, Score: s, Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchFilter(f *Filter, p Payload) bool {
	if f == nil {
		return true
	}
	if f.FilePath != "" && f.FilePath != p.FilePath {
		return false
	}
	if f.Branch != "" && f.Branch != p.Branch {
		return false
	}
	if f.Language != "" && f.Language != p.Language {
		return false
	}
	if f.ElementType != "" && f.ElementType != p.ElementType {
		return false
	}
	return true
}

func applyThreshold(points []ScoredPoint, threshold float32) []ScoredPoint {
	if threshold <= 0 {
		return points
	}
	out := points[:0:0]
	for _, p := range points {
		if p.Score >= threshold {
			out = append(out, p)
		}
	}
	return out
}

// fuseRRF combines ranked lists by reciprocal rank, the same scheme the
// server applies: score = sum over lists of 1/(60+rank).
func fuseRRF(lists ...[]ScoredPoint) []ScoredPoint {
	const k = 60
	scores := make(map[uint64]float32)
	for _, list := range lists {
		for rank, p := range list {
			scores[p.ID] += 1 / float32(k+rank+1)
		}
	}
	return sortFused(scores)
}

// fuseDBSF normalizes each list's scores by mean and three standard
// deviations before summing.
func fuseDBSF(lists ...[]ScoredPoint) []ScoredPoint {
	scores := make(map[uint64]float32)
	for _, list := range lists {
		if len(list) == 0 {
			continue
		}
		var mean, variance float64
		for _, p := range list {
			mean += float64(p.Score)
		}
		mean /= float64(len(list))
		for _, p := range list {
			d := float64(p.Score) - mean
			variance += d * d
		}
		stddev := math.Sqrt(variance / float64(len(list)))
		if stddev == 0 {
			stddev = 1
		}
		for _, p := range list {
			scores[p.ID] += float32((float64(p.Score) - mean) / (3 * stddev))
		}
	}
	return sortFused(scores)
}

func sortFused(scores map[uint64]float32) []ScoredPoint {
	out := make([]ScoredPoint, 0, len(scores))
	for id, s := range scores {
		out = append(out, ScoredPoint{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func attachPayloads(coll *memCollection, points []ScoredPoint) []ScoredPoint {
	for i := range points {
		if p, ok := coll.points[points[i].ID]; ok {
			points[i].Payload = p.Payload
		}
	}
	return points
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// sparseDot walks two index-sorted sparse vectors in lockstep.
func sparseDot(ai []uint32, av []float32, bi []uint32, bv []float32) float32 {
	var sum float32
	i, j := 0, 0
	for i < len(ai) && j < len(bi) {
		switch {
		case ai[i] == bi[j]:
			sum += av[i] * bv[j]
			i++
			j++
		case ai[i] < bi[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

var _ Store = (*MemoryStore)(nil)
