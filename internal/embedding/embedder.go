// Package embedding selects between a remote embedding provider and the
// deterministic local fallback behind a single domain.Embedder.
package embedding

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"docrag/internal/domain"
	"docrag/internal/metrics"
)

// Resizer is implemented by local embedders that can produce vectors of any
// dimension.
type Resizer interface {
	Resize(dimension int) domain.Embedder
}

// Fallback serves embeddings from primary and switches to fallback for any
// call the primary cannot complete. With a nil primary the fallback is the
// only path. Callers cannot tell which one produced a vector.
//
// Once the primary has returned a vector, a fallback implementing Resizer is
// rebuilt at the primary's dimension so both feed the same corpus.
type Fallback struct {
	primary domain.Embedder
	logger  *slog.Logger

	mu       sync.RWMutex
	fallback domain.Embedder
}

func NewFallback(primary, fallback domain.Embedder, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, fallback: fallback, logger: logger}
}

// Name returns the identifier of the active primary provider.
func (f *Fallback) Name() string {
	if f.primary == nil {
		return f.local().Name()
	}
	return f.primary.Name()
}

// Dimension returns the dimension of the provider that is expected to answer.
func (f *Fallback) Dimension() int {
	if f.primary != nil && f.primary.Dimension() > 0 {
		return f.primary.Dimension()
	}
	return f.local().Dimension()
}

func (f *Fallback) local() domain.Embedder {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fallback
}

func (f *Fallback) Embed(ctx context.Context, text string) ([]float64, error) {
	if f.primary == nil {
		return f.local().Embed(ctx, text)
	}
	vec, err := f.primary.Embed(ctx, text)
	if err == nil {
		f.align(len(vec))
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	fb := f.local()
	f.logger.Warn("embedding provider failed, using local fallback",
		"provider", f.primary.Name(), "fallback", fb.Name(), "dimension", fb.Dimension(), "error", err)
	metrics.EmbedderFallbacks.WithLabelValues(f.primary.Name()).Inc()
	return fb.Embed(ctx, text)
}

// align resizes the fallback to dim when it can.
func (f *Fallback) align(dim int) {
	if dim == 0 || f.local().Dimension() == dim {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.fallback.(Resizer)
	if !ok || f.fallback.Dimension() == dim {
		return
	}
	f.logger.Info("resizing local fallback to provider dimension",
		"fallback", f.fallback.Name(), "from", f.fallback.Dimension(), "to", dim)
	f.fallback = r.Resize(dim)
}

// Normalize scales vec to unit length in place. Zero vectors are left as is.
func Normalize(vec []float64) {
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
}
