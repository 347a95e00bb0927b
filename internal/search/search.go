package search

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/repovec/repovec/internal/config"
	"github.com/repovec/repovec/internal/embed"
	"github.com/repovec/repovec/internal/sparse"
	"github.com/repovec/repovec/internal/vecstore"
	"github.com/repovec/repovec/internal/vocab"
)

// Request is one search over an indexed repository collection.
type Request struct {
	Collection string
	Query      string
	Limit      int

	// Optional payload filters.
	Branch      string
	Language    string
	ElementType string
}

// Searcher plans and executes hybrid queries. Results are cached briefly so
// repeated identical queries skip embedding and the store round trip.
type Searcher struct {
	cfg      *config.Config
	store    vecstore.Store
	provider embed.Provider
	builder  *sparse.Builder
	logger   *slog.Logger
	tracer   trace.Tracer

	cache    *lru.Cache[[32]byte, cacheEntry]
	cacheTTL time.Duration
}

type cacheEntry struct {
	results []vecstore.ScoredPoint
	expires time.Time
}

func New(cfg *config.Config, store vecstore.Store, provider embed.Provider, builder *sparse.Builder, logger *slog.Logger) (*Searcher, error) {
	size := cfg.Search.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[[32]byte, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &Searcher{
		cfg:      cfg,
		store:    store,
		provider: provider,
		builder:  builder,
		logger:   logger,
		tracer:   otel.Tracer("github.com/repovec/repovec"),
		cache:    cache,
		cacheTTL: time.Duration(cfg.Search.CacheTTLSeconds) * time.Second,
	}, nil
}

// Search runs the hybrid query pipeline: embed the query, build a sparse
// vector from the collection's vocabulary snapshot, prefetch dense and
// sparse candidate lists, fuse, deduplicate, truncate. An empty or missing
// vocabulary degrades to dense-only retrieval.
func (s *Searcher) Search(ctx context.Context, req Request) ([]vecstore.ScoredPoint, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}

	key := s.cacheKey(req)
	if entry, ok := s.cache.Get(key); ok && time.Now().Before(entry.expires) {
		return append([]vecstore.ScoredPoint(nil), entry.results...), nil
	}

	ctx, span := s.tracer.Start(ctx, "search",
		trace.WithAttributes(
			attribute.String("collection", req.Collection),
			attribute.Int("limit", req.Limit),
		))
	defer span.End()

	vectors, err := s.provider.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	snap, err := s.loadSnapshot(req.Collection)
	if err != nil {
		return nil, err
	}
	indices, values := s.builder.BuildQuery(req.Query, snap)
	hasSparse := len(indices) > 0
	if !hasSparse {
		s.logger.Warn("sparse retrieval unavailable, falling back to dense-only",
			"collection", req.Collection, "vocab_size", snap.Len())
	}

	plan := s.plan(req, vectors[0], indices, values)
	results, err := s.store.Query(ctx, req.Collection, plan)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", req.Collection, err)
	}

	results = dedupe(results)
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	if s.cacheTTL > 0 {
		s.cache.Add(key, cacheEntry{
			results: append([]vecstore.ScoredPoint(nil), results...),
			expires: time.Now().Add(s.cacheTTL),
		})
	}
	return results, nil
}

// plan expands the caller's limit so dedup has headroom, then sizes the two
// prefetch lists from the configured multipliers.
func (s *Searcher) plan(req Request, dense []float32, indices []uint32, values []float32) vecstore.QueryPlan {
	mult := 4
	if len(indices) > 0 {
		mult = 8
	}
	expanded := req.Limit * mult

	fusion := vecstore.FusionRRF
	if s.cfg.Search.Fusion == "dbsf" {
		fusion = vecstore.FusionDBSF
	}

	var filter *vecstore.Filter
	if req.Branch != "" || req.Language != "" || req.ElementType != "" {
		filter = &vecstore.Filter{
			Branch:      req.Branch,
			Language:    req.Language,
			ElementType: req.ElementType,
		}
	}

	return vecstore.QueryPlan{
		Dense:               dense,
		SparseIndices:       indices,
		SparseValues:        values,
		Limit:               expanded,
		DensePrefetchLimit:  expanded * s.cfg.Search.DensePrefetchMul,
		SparsePrefetchLimit: expanded * s.cfg.Search.SparsePrefetchMul,
		Fusion:              fusion,
		Filter:              filter,
		ScoreThreshold:      s.cfg.Search.ScoreThreshold,
	}
}

func (s *Searcher) loadSnapshot(collection string) (*vocab.Snapshot, error) {
	path, err := s.cfg.VocabPath(collection)
	if err != nil {
		return nil, fmt.Errorf("resolve vocabulary path: %w", err)
	}
	voc, err := vocab.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	return voc.Snapshot(), nil
}

func (s *Searcher) cacheKey(req Request) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s",
		req.Collection, req.Query, req.Limit,
		req.Branch, req.Language, req.ElementType,
		s.cfg.Search.Fusion)))
}

// dedupe keeps one result per source location. Results arrive sorted by
// descending score, so the first occurrence is the one to keep. Results
// without a payload are keyed by point id.
func dedupe(results []vecstore.ScoredPoint) []vecstore.ScoredPoint {
	seen := make(map[string]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		key := fmt.Sprintf("%s|%d|%d|%s", r.Payload.FilePath, r.Payload.StartLine, r.Payload.EndLine, r.Payload.ElementType)
		if r.Payload.FilePath == "" {
			key = fmt.Sprintf("id|%d", r.ID)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
