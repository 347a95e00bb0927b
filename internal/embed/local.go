package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"
)

// LocalProvider produces deterministic embeddings without any model I/O by
// hashing word and trigram features into a fixed-size vector and normalizing
// it. Quality is far below a real model, but results are stable across runs
// and machines, which makes it usable offline and in tests.
//
// TODO: drive the configured ONNX model natively instead of approximating.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a hash-feature embedder of the given dimension.
func NewLocalProvider(dimension int) *LocalProvider {
	return &LocalProvider{dimension: dimension}
}

// NewLocalProviderFromONNX validates that the configured model files exist
// and returns a local provider of the given dimension.
func NewLocalProviderFromONNX(modelPath, tokenizerPath string, dimension int) (*LocalProvider, error) {
	for _, p := range []string{modelPath, tokenizerPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("onnx path: %w", err)
		}
	}
	return NewLocalProvider(dimension), nil
}

func (p *LocalProvider) Dimension() int { return p.dimension }

func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	lower := strings.ToLower(text)

	for _, word := range strings.Fields(lower) {
		addFeature(vec, word, 1.0)
		for j := 0; j+3 <= len(word); j++ {
			addFeature(vec, word[j:j+3], 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	// The second hash bit decides the sign, spreading features across the
	// vector instead of accumulating only positive mass.
	if (sum>>63)&1 == 1 {
		vec[idx] -= weight
	} else {
		vec[idx] += weight
	}
}

var _ Provider = (*LocalProvider)(nil)
