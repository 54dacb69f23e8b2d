// Package vectorstore holds what every storage backend shares: cosine
// ranking, embedding attachment and dedup checks. Backends live in the
// subpackages and all satisfy domain.VectorStore.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"docrag/internal/domain"
)

// DefaultK is used when a search asks for a non-positive number of results.
const DefaultK = 3

// Cosine returns dot(a,b)/(|a||b|), or 0 when either norm is zero.
// Callers must ensure equal lengths.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank scores every record against query and returns the top k by
// descending score. Ties keep insertion order. A record whose dimension
// differs from the query fails the whole search with ErrDimensionMismatch.
func Rank(query []float64, records []domain.StoredRecord, k int) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		k = DefaultK
	}
	results := make([]domain.RetrievalResult, 0, len(records))
	for _, rec := range records {
		if len(rec.Embedding) != len(query) {
			return nil, fmt.Errorf("record %s has %d dimensions, query has %d: %w",
				rec.ID, len(rec.Embedding), len(query), domain.ErrDimensionMismatch)
		}
		results = append(results, domain.RetrievalResult{Record: rec, Score: Cosine(query, rec.Embedding)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// AttachEmbeddings returns copies of chunks with an embedding on each,
// computing the missing ones. All vectors must share one dimension.
func AttachEmbeddings(ctx context.Context, embedder domain.Embedder, chunks []domain.Chunk) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, len(chunks))
	dim := 0
	for i, ch := range chunks {
		if len(ch.Embedding) == 0 {
			if embedder == nil {
				return nil, fmt.Errorf("chunk %s has no embedding and no embedder is configured: %w", ch.ID, domain.ErrInvalidInput)
			}
			vec, err := embedder.Embed(ctx, ch.Text)
			if err != nil {
				return nil, fmt.Errorf("embed chunk %s: %w", ch.ID, err)
			}
			ch.Embedding = vec
		}
		if dim == 0 {
			dim = len(ch.Embedding)
		} else if len(ch.Embedding) != dim {
			return nil, fmt.Errorf("chunk %s has %d dimensions, batch has %d: %w",
				ch.ID, len(ch.Embedding), dim, domain.ErrDimensionMismatch)
		}
		out[i] = ch
	}
	return out, nil
}

// CheckDuplicates fails with ErrDuplicateDocument when any chunk carries a
// hash for which indexed reports true.
func CheckDuplicates(chunks []domain.Chunk, indexed func(hash string) bool) error {
	seen := make(map[string]struct{})
	for _, ch := range chunks {
		h := ch.Metadata.Hash
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if indexed(h) {
			return fmt.Errorf("hash %s from %s: %w", h, ch.Metadata.Source, domain.ErrDuplicateDocument)
		}
	}
	return nil
}
