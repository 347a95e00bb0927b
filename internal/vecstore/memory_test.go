package vecstore

import (
	"context"
	"errors"
	"testing"
)

func testPoint(id uint64, file, branch string, dense []float32, si []uint32, sv []float32) Point {
	return Point{
		ID:            id,
		Dense:         dense,
		SparseIndices: si,
		SparseValues:  sv,
		Payload: Payload{
			FilePath:    file,
			StartLine:   1,
			EndLine:     10,
			Branch:      branch,
			Language:    "go",
			ElementType: "function",
		},
	}
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("internal/server.go", 10, 42, "function", "main")
	b := PointID("internal/server.go", 10, 42, "function", "main")
	if a != b {
		t.Fatal("same inputs must produce the same ID")
	}
	variants := []uint64{
		PointID("internal/server.go", 10, 42, "function", "dev"),
		PointID("internal/server.go", 10, 43, "function", "main"),
		PointID("internal/server.go", 11, 42, "function", "main"),
		PointID("internal/server.go", 10, 42, "method", "main"),
		PointID("internal/client.go", 10, 42, "function", "main"),
	}
	for i, v := range variants {
		if v == a {
			t.Errorf("variant %d collided with the base ID", i)
		}
	}
}

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.EnsureCollection(ctx, "c", 2); err != nil {
		t.Fatal(err)
	}

	p := testPoint(1, "a.go", "main", []float32{1, 0}, nil, nil)
	for i := 0; i < 3; i++ {
		if err := s.Upsert(ctx, "c", []Point{p}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 after repeated upserts", n)
	}
}

func TestMemoryStore_SchemaMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.EnsureCollection(ctx, "c", 4); err != nil {
		t.Fatal(err)
	}
	err := s.EnsureCollection(ctx, "c", 8)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("got %v, want ErrSchemaMismatch", err)
	}
}

func TestMemoryStore_DeleteByFile(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.EnsureCollection(ctx, "c", 2); err != nil {
		t.Fatal(err)
	}
	points := []Point{
		testPoint(1, "a.go", "main", []float32{1, 0}, nil, nil),
		testPoint(2, "a.go", "main", []float32{0, 1}, nil, nil),
		testPoint(3, "a.go", "dev", []float32{1, 1}, nil, nil),
		testPoint(4, "b.go", "main", []float32{1, 1}, nil, nil),
	}
	if err := s.Upsert(ctx, "c", points); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteByFile(ctx, "c", "a.go", "main"); err != nil {
		t.Fatal(err)
	}
	n, _ := s.Count(ctx, "c")
	if n != 2 {
		t.Errorf("count = %d, want 2 (other branch and other file survive)", n)
	}
}

func TestMemoryStore_DenseOnlyQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.EnsureCollection(ctx, "c", 2); err != nil {
		t.Fatal(err)
	}
	points := []Point{
		testPoint(1, "a.go", "main", []float32{1, 0}, nil, nil),
		testPoint(2, "b.go", "main", []float32{0, 1}, nil, nil),
		testPoint(3, "c.go", "main", []float32{0.9, 0.1}, nil, nil),
	}
	if err := s.Upsert(ctx, "c", points); err != nil {
		t.Fatal(err)
	}

	results, err := s.Query(ctx, "c", QueryPlan{
		Dense: []float32{1, 0},
		Limit: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != 1 {
		t.Errorf("best match ID = %d, want 1 (exact direction)", results[0].ID)
	}
	if results[1].ID != 3 {
		t.Errorf("second match ID = %d, want 3", results[1].ID)
	}
	if results[0].Payload.FilePath != "a.go" {
		t.Errorf("payload not attached: %+v", results[0].Payload)
	}
}

func TestMemoryStore_HybridQueryFusesLists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.EnsureCollection(ctx, "c", 2); err != nil {
		t.Fatal(err)
	}
	// Point 1 wins dense, point 3 wins sparse and ranks second dense, so
	// fusion must put point 3 first.
	points := []Point{
		testPoint(1, "a.go", "main", []float32{1, 0}, []uint32{5}, []float32{0.1}),
		testPoint(2, "b.go", "main", []float32{0, 1}, []uint32{1, 2}, []float32{2, 2}),
		testPoint(3, "c.go", "main", []float32{0.8, 0.2}, []uint32{1}, []float32{5}),
	}
	if err := s.Upsert(ctx, "c", points); err != nil {
		t.Fatal(err)
	}

	results, err := s.Query(ctx, "c", QueryPlan{
		Dense:               []float32{1, 0},
		SparseIndices:       []uint32{1, 2},
		SparseValues:        []float32{1, 1},
		Limit:               3,
		DensePrefetchLimit:  10,
		SparsePrefetchLimit: 10,
		Fusion:              FusionRRF,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// Point 3 appears high in both lists so fusion must rank it first.
	if results[0].ID != 3 {
		t.Errorf("fused best = %d, want 3", results[0].ID)
	}
}

func TestMemoryStore_FilterRestrictsBranch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.EnsureCollection(ctx, "c", 2); err != nil {
		t.Fatal(err)
	}
	points := []Point{
		testPoint(1, "a.go", "main", []float32{1, 0}, nil, nil),
		testPoint(2, "a.go", "dev", []float32{1, 0}, nil, nil),
	}
	if err := s.Upsert(ctx, "c", points); err != nil {
		t.Fatal(err)
	}

	results, err := s.Query(ctx, "c", QueryPlan{
		Dense:  []float32{1, 0},
		Limit:  10,
		Filter: &Filter{Branch: "dev"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != 2 {
		t.Errorf("filtered results = %+v, want only point 2", results)
	}
}

func TestMemoryStore_ScoreThreshold(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.EnsureCollection(ctx, "c", 2); err != nil {
		t.Fatal(err)
	}
	points := []Point{
		testPoint(1, "a.go", "main", []float32{1, 0}, nil, nil),
		testPoint(2, "b.go", "main", []float32{-1, 0}, nil, nil),
	}
	if err := s.Upsert(ctx, "c", points); err != nil {
		t.Fatal(err)
	}

	results, err := s.Query(ctx, "c", QueryPlan{
		Dense:          []float32{1, 0},
		Limit:          10,
		ScoreThreshold: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != 1 {
		t.Errorf("threshold should drop the opposite-direction point, got %+v", results)
	}
}

func TestSparseDot(t *testing.T) {
	got := sparseDot(
		[]uint32{1, 3, 5}, []float32{1, 2, 3},
		[]uint32{3, 5, 9}, []float32{4, 5, 6},
	)
	// 2*4 + 3*5
	if got != 23 {
		t.Errorf("sparseDot = %v, want 23", got)
	}
}

func TestMemoryStore_QueryMissingCollection(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Query(context.Background(), "nope", QueryPlan{Dense: []float32{1}}); err == nil {
		t.Fatal("expected error for missing collection")
	}
}
