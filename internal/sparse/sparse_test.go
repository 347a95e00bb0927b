package sparse

import (
	"math"
	"testing"

	"github.com/repovec/repovec/internal/tokenize"
	"github.com/repovec/repovec/internal/vocab"
)

func newBuilder(boost float32) *Builder {
	return New(tokenize.DefaultConfig(), boost)
}

func TestBuildIndex_GrowsVocabulary(t *testing.T) {
	b := newBuilder(0)
	v := vocab.New()
	indices, values := b.BuildIndex("hello world", v)

	if v.Len() != 2 {
		t.Fatalf("vocabulary should have 2 tokens, got %d", v.Len())
	}
	if len(indices) != 2 || len(values) != 2 {
		t.Fatalf("got %d indices, %d values, want 2 each", len(indices), len(values))
	}
	// Single occurrences weigh 1 + ln(1) = 1.
	for i, w := range values {
		if w != 1 {
			t.Errorf("values[%d] = %f, want 1", i, w)
		}
	}
}

func TestBuildIndex_LogNormalizedTF(t *testing.T) {
	b := newBuilder(0)
	v := vocab.New()
	_, values := b.BuildIndex("cache cache cache", v)
	if len(values) != 1 {
		t.Fatalf("expected 1 term, got %d", len(values))
	}
	want := float32(1 + math.Log(3))
	if math.Abs(float64(values[0]-want)) > 1e-6 {
		t.Errorf("weight = %f, want %f", values[0], want)
	}
}

func TestBuildIndex_SortedUniqueIndices(t *testing.T) {
	b := newBuilder(0)
	v := vocab.New()
	indices, _ := b.BuildIndex("zeta alpha zeta beta alpha gamma", v)
	for i := 1; i < len(indices); i++ {
		if indices[i] <= indices[i-1] {
			t.Fatalf("indices not strictly increasing: %v", indices)
		}
	}
}

func TestBuildQuery_IgnoresUnknownTerms(t *testing.T) {
	b := newBuilder(0)
	v := vocab.New()
	b.BuildIndex("hello world", v)

	indices, values := b.BuildQuery("hello there", v.Snapshot())
	if len(indices) != 1 {
		t.Fatalf("expected 1 known term, got %d", len(indices))
	}
	helloID, _ := v.GetID("hello")
	if indices[0] != helloID {
		t.Errorf("indices[0] = %d, want id of hello %d", indices[0], helloID)
	}
	if values[0] != 1 {
		t.Errorf("values[0] = %f, want 1", values[0])
	}
}

func TestBuildQuery_EmptyVocab(t *testing.T) {
	b := newBuilder(0)
	indices, values := b.BuildQuery("hello world", vocab.EmptySnapshot())
	if indices != nil || values != nil {
		t.Errorf("empty vocabulary should yield no terms, got %v %v", indices, values)
	}
}

func TestBuildQuery_FilenameBoost(t *testing.T) {
	b := newBuilder(3)
	v := vocab.New()
	b.BuildIndex("see main.rs and hello", v)

	snap := v.Snapshot()
	indices, values := b.BuildQuery("main.rs hello", snap)
	if len(indices) != 2 {
		t.Fatalf("expected 2 terms, got %d", len(indices))
	}

	fileID, _ := v.GetID("main.rs")
	var fileWeight, plainWeight float32
	for i, id := range indices {
		if id == fileID {
			fileWeight = values[i]
		} else {
			plainWeight = values[i]
		}
	}
	if fileWeight != 3*plainWeight {
		t.Errorf("filename weight = %f, want 3x plain weight %f", fileWeight, plainWeight)
	}
}

func TestBuildQuery_NoNegativeOrZeroWeights(t *testing.T) {
	b := newBuilder(2)
	v := vocab.New()
	b.BuildIndex("alpha beta gamma delta", v)
	_, values := b.BuildQuery("alpha beta beta gamma", v.Snapshot())
	for i, w := range values {
		if w <= 0 {
			t.Errorf("values[%d] = %f, must be positive", i, w)
		}
	}
}

func TestIsFilenameShaped(t *testing.T) {
	tests := []struct {
		term string
		want bool
	}{
		{"main.rs", true},
		{"sync_orchestrator", true},
		{"vector-store", true},
		{"readme", true},
		{"hello", false},
		{"foo.unknownext", false},
	}
	for _, tt := range tests {
		if got := isFilenameShaped(tt.term); got != tt.want {
			t.Errorf("isFilenameShaped(%q) = %v, want %v", tt.term, got, tt.want)
		}
	}
}
