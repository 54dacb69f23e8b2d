// Package hash provides a deterministic pseudo-embedding derived from the
// SHA-256 digest of the input. It carries no semantic meaning: identical
// text maps to identical vectors and nothing else is guaranteed. It keeps
// the pipeline usable offline and in tests.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"docrag/internal/domain"
	"docrag/internal/embedding"
)

// DefaultDimension is used when no dimension is configured.
const DefaultDimension = 64

// Embedder implements domain.Embedder with hash-derived vectors.
type Embedder struct {
	dimension int
}

func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension}
}

func (e *Embedder) Name() string { return "hash" }

func (e *Embedder) Dimension() int { return e.dimension }

// Resize returns an embedder of the same kind producing dimension values.
func (e *Embedder) Resize(dimension int) domain.Embedder { return NewEmbedder(dimension) }

// Embed expands SHA-256(counter || text) blocks into dimension values in
// [-1, 1] and L2-normalises the result.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dimension)
	var digest [sha256.Size]byte
	var counter [4]byte
	for i := range vec {
		if i%sha256.Size == 0 {
			binary.BigEndian.PutUint32(counter[:], uint32(i/sha256.Size))
			h := sha256.New()
			h.Write(counter[:])
			h.Write([]byte(text))
			h.Sum(digest[:0])
		}
		vec[i] = float64(digest[i%sha256.Size])/127.5 - 1
	}
	embedding.Normalize(vec)
	return vec, nil
}
