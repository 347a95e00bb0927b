package vecstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
)

// Named vectors carried by every point. Dense is the embedding model output,
// sparse is the term-frequency vector over the per-collection vocabulary.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse_tf"
)

// FusionMethod selects how dense and sparse result lists are merged
// server-side.
type FusionMethod string

const (
	FusionRRF  FusionMethod = "rrf"
	FusionDBSF FusionMethod = "dbsf"
)

// ErrSchemaMismatch reports an existing collection whose vector schema does
// not match what this version writes. The collection has to be rebuilt with a
// forced sync before indexing can continue.
var ErrSchemaMismatch = errors.New("collection schema mismatch, re-sync with --force to rebuild")

// Payload is the metadata stored with every indexed chunk.
type Payload struct {
	FilePath      string
	StartLine     int
	EndLine       int
	Language      string
	FileExtension string
	ElementType   string
	Branch        string
	CommitHash    string
	Content       string
}

// Point is one indexed chunk with both vector representations.
type Point struct {
	ID            uint64
	Dense         []float32
	SparseIndices []uint32
	SparseValues  []float32
	Payload       Payload
}

// ScoredPoint is a query match.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Payload Payload
}

// Filter restricts queries and deletes to points whose payload matches every
// non-empty field.
type Filter struct {
	FilePath    string
	Branch      string
	Language    string
	ElementType string
}

// QueryPlan is a fully resolved hybrid query: both vector representations,
// per-branch prefetch limits, and the fusion method. A plan without sparse
// indices runs dense-only.
type QueryPlan struct {
	Dense         []float32
	SparseIndices []uint32
	SparseValues  []float32

	// Limit is the final fused result count. Prefetch limits control how
	// many candidates each vector branch contributes before fusion.
	Limit               int
	DensePrefetchLimit  int
	SparsePrefetchLimit int

	Fusion         FusionMethod
	Filter         *Filter
	ScoreThreshold float32
}

// Store provides vector persistence and hybrid search over named-vector
// collections.
type Store interface {
	// EnsureCollection creates the collection if missing and verifies the
	// vector schema if it exists. Returns ErrSchemaMismatch when the
	// existing schema is incompatible.
	EnsureCollection(ctx context.Context, collection string, denseDim int) error
	// DeleteCollection drops the collection. Missing collections are not
	// an error.
	DeleteCollection(ctx context.Context, collection string) error
	// Upsert writes points, replacing any with the same ID.
	Upsert(ctx context.Context, collection string, points []Point) error
	// DeleteByFile removes every point for one file on one branch.
	DeleteByFile(ctx context.Context, collection, filePath, branch string) error
	// Count returns the exact number of points in the collection.
	Count(ctx context.Context, collection string) (uint64, error)
	// Query runs the plan and returns matches ordered by descending score.
	Query(ctx context.Context, collection string, plan QueryPlan) ([]ScoredPoint, error)
	// Close releases resources.
	Close() error
}

// PointID derives the stable point identity for a chunk. Re-indexing the
// same chunk always produces the same ID, which is what makes upserts
// idempotent across syncs.
func PointID(filePath string, startLine, endLine int, elementType, branch string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s", filePath, startLine, endLine, elementType, branch)
	return h.Sum64()
}
