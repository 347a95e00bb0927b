// Package embed turns text batches into fixed-dimension dense vectors. All
// engine code depends on the Provider interface; concrete providers cover a
// remote OpenAI-compatible API and a deterministic local fallback.
package embed

import (
	"context"
	"errors"
)

// Provider produces dense embeddings for batches of text.
type Provider interface {
	// Embed returns one vector per input text, each of Dimension() length.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is stable for the life of the provider. If it ever changes,
	// the owning collection must be rebuilt.
	Dimension() int
}

// ErrDimensionMismatch is returned when a provider yields vectors that do
// not match its declared dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Closer is implemented by providers holding reclaimable resources.
type Closer interface {
	Close() error
}
