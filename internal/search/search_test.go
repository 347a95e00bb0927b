package search

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repovec/repovec/internal/config"
	"github.com/repovec/repovec/internal/embed"
	"github.com/repovec/repovec/internal/sparse"
	"github.com/repovec/repovec/internal/tokenize"
	"github.com/repovec/repovec/internal/vecstore"
	"github.com/repovec/repovec/internal/vocab"
)

const testDim = 16

// countingStore counts Query calls to observe cache behavior.
type countingStore struct {
	*vecstore.MemoryStore
	queries atomic.Int32
}

func (c *countingStore) Query(ctx context.Context, collection string, plan vecstore.QueryPlan) ([]vecstore.ScoredPoint, error) {
	c.queries.Add(1)
	return c.MemoryStore.Query(ctx, collection, plan)
}

type searchFixture struct {
	cfg      *config.Config
	store    *countingStore
	provider *embed.LocalProvider
	builder  *sparse.Builder
	searcher *Searcher
	voc      *vocab.Vocabulary
}

func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	cfg := config.Default()
	cfg.VocabularyBasePath = t.TempDir()
	cfg.Performance.VectorDimension = testDim

	store := &countingStore{MemoryStore: vecstore.NewMemoryStore()}
	provider := embed.NewLocalProvider(testDim)
	builder := sparse.New(tokenize.DefaultConfig(), cfg.Search.FilenameBoost)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	searcher, err := New(cfg, store, provider, builder, logger)
	require.NoError(t, err)

	return &searchFixture{
		cfg:      cfg,
		store:    store,
		provider: provider,
		builder:  builder,
		searcher: searcher,
		voc:      vocab.New(),
	}
}

// seed indexes one chunk the same way a sync would: dense from the provider,
// sparse from the shared builder and vocabulary.
func (f *searchFixture) seed(t *testing.T, collection, file string, startLine int, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.EnsureCollection(ctx, collection, testDim))

	vectors, err := f.provider.Embed(ctx, []string{content})
	require.NoError(t, err)
	indices, values := f.builder.BuildIndex(content, f.voc)

	endLine := startLine + 2
	point := vecstore.Point{
		ID:            vecstore.PointID(file, startLine, endLine, "text", "main"),
		Dense:         vectors[0],
		SparseIndices: indices,
		SparseValues:  values,
		Payload: vecstore.Payload{
			FilePath:    file,
			StartLine:   startLine,
			EndLine:     endLine,
			Language:    "text",
			ElementType: "text",
			Branch:      "main",
			Content:     content,
		},
	}
	require.NoError(t, f.store.Upsert(ctx, collection, []vecstore.Point{point}))
}

func (f *searchFixture) saveVocab(t *testing.T, collection string) {
	t.Helper()
	path, err := f.cfg.VocabPath(collection)
	require.NoError(t, err)
	require.NoError(t, f.voc.Save(path))
}

func TestSearch_HybridRanksBothTermsFirst(t *testing.T) {
	f := newSearchFixture(t)
	const coll = "repovec_proj"

	f.seed(t, coll, "a.txt", 1, "hello world together")
	f.seed(t, coll, "b.txt", 1, "hello alone in this chunk")
	f.seed(t, coll, "c.txt", 1, "nothing relevant whatsoever")
	f.saveVocab(t, coll)

	results, err := f.searcher.Search(context.Background(), Request{
		Collection: coll,
		Query:      "hello world",
		Limit:      5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a.txt", results[0].Payload.FilePath,
		"chunk containing both query terms must rank first")
	assert.LessOrEqual(t, len(results), 5)
	for _, r := range results {
		assert.Equal(t, "main", r.Payload.Branch)
	}
}

func TestSearch_DenseOnlyFallbackWithoutVocabulary(t *testing.T) {
	f := newSearchFixture(t)
	const coll = "repovec_proj"

	f.seed(t, coll, "a.txt", 1, "hello world together")
	// Vocabulary deliberately not saved: the snapshot loads empty.

	results, err := f.searcher.Search(context.Background(), Request{
		Collection: coll,
		Query:      "hello world",
		Limit:      5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 5)
}

func TestPlan_PrefetchSizing(t *testing.T) {
	f := newSearchFixture(t)
	dense := make([]float32, testDim)

	// With sparse terms: expanded limit is L*8.
	plan := f.searcher.plan(Request{Limit: 5}, dense, []uint32{1}, []float32{1})
	assert.Equal(t, 40, plan.Limit)
	assert.Equal(t, 40*f.cfg.Search.DensePrefetchMul, plan.DensePrefetchLimit)
	assert.Equal(t, 40*f.cfg.Search.SparsePrefetchMul, plan.SparsePrefetchLimit)
	assert.Equal(t, vecstore.FusionRRF, plan.Fusion)

	// Dense-only: expanded limit is L*4.
	plan = f.searcher.plan(Request{Limit: 5}, dense, nil, nil)
	assert.Equal(t, 20, plan.Limit)
	assert.Empty(t, plan.SparseIndices)
}

func TestPlan_FilterOnlyWhenRequested(t *testing.T) {
	f := newSearchFixture(t)
	dense := make([]float32, testDim)

	plan := f.searcher.plan(Request{Limit: 5}, dense, nil, nil)
	assert.Nil(t, plan.Filter)

	plan = f.searcher.plan(Request{Limit: 5, Branch: "dev", Language: "go"}, dense, nil, nil)
	require.NotNil(t, plan.Filter)
	assert.Equal(t, "dev", plan.Filter.Branch)
	assert.Equal(t, "go", plan.Filter.Language)
}

func TestPlan_DBSFConfigured(t *testing.T) {
	f := newSearchFixture(t)
	f.cfg.Search.Fusion = "dbsf"
	plan := f.searcher.plan(Request{Limit: 5}, make([]float32, testDim), []uint32{1}, []float32{1})
	assert.Equal(t, vecstore.FusionDBSF, plan.Fusion)
}

func TestDedupe_KeepsHighestScoringOccurrence(t *testing.T) {
	dup := vecstore.Payload{FilePath: "a.go", StartLine: 1, EndLine: 10, ElementType: "function"}
	other := vecstore.Payload{FilePath: "b.go", StartLine: 1, EndLine: 10, ElementType: "function"}

	results := dedupe([]vecstore.ScoredPoint{
		{ID: 1, Score: 0.9, Payload: dup},
		{ID: 2, Score: 0.8, Payload: other},
		{ID: 3, Score: 0.7, Payload: dup},
	})
	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].ID, "highest-scoring duplicate wins")
	assert.Equal(t, uint64(2), results[1].ID)
}

func TestDedupe_MissingPayloadFallsBackToID(t *testing.T) {
	results := dedupe([]vecstore.ScoredPoint{
		{ID: 1, Score: 0.9},
		{ID: 2, Score: 0.8},
		{ID: 1, Score: 0.7},
	})
	assert.Len(t, results, 2)
}

func TestSearch_CacheShortCircuits(t *testing.T) {
	f := newSearchFixture(t)
	const coll = "repovec_proj"
	f.seed(t, coll, "a.txt", 1, "hello world together")
	f.saveVocab(t, coll)

	req := Request{Collection: coll, Query: "hello", Limit: 3}
	first, err := f.searcher.Search(context.Background(), req)
	require.NoError(t, err)
	second, err := f.searcher.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.store.queries.Load(), "second query must be served from cache")

	// A different limit is a different cache key.
	_, err = f.searcher.Search(context.Background(), Request{Collection: coll, Query: "hello", Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.store.queries.Load())
}

func TestSearch_DefaultLimit(t *testing.T) {
	f := newSearchFixture(t)
	const coll = "repovec_proj"
	f.seed(t, coll, "a.txt", 1, "hello world")
	f.saveVocab(t, coll)

	results, err := f.searcher.Search(context.Background(), Request{Collection: coll, Query: "hello"})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 10)
}
