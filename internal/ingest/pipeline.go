// Package ingest runs the ingestion flow: load, chunk, embed, store. Each
// document is persisted as one unit, and calls on one Pipeline are
// serialised so the whole-corpus stores never interleave writes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"docrag/internal/domain"
	"docrag/internal/loader"
	"docrag/internal/metrics"
	"docrag/internal/vectorstore"
)

// Result summarises one ingestion call.
type Result struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped,omitempty"` // sources already indexed
}

func (r *Result) add(o Result) {
	r.Documents += o.Documents
	r.Chunks += o.Chunks
	r.Skipped = append(r.Skipped, o.Skipped...)
}

type Pipeline struct {
	loader   *loader.Loader
	chunker  domain.Chunker
	embedder domain.Embedder
	store    domain.VectorStore
	logger   *slog.Logger

	mu sync.Mutex
}

func NewPipeline(l *loader.Loader, chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{loader: l, chunker: chunker, embedder: embedder, store: store, logger: logger}
}

// Expand resolves globs and directories into the supported files they name.
// A pattern matching nothing is kept verbatim so that loading reports it.
func (p *Pipeline) Expand(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, _ := filepath.Glob(pattern)
		if matches == nil {
			matches = []string{pattern}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.IsDir() {
				files = append(files, m)
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					if path != m && strings.HasPrefix(d.Name(), ".") {
						return filepath.SkipDir
					}
					return nil
				}
				if !strings.HasPrefix(d.Name(), ".") && p.loader.Supports(path) {
					files = append(files, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walk %s: %w", m, err)
			}
		}
	}
	return files, nil
}

// IngestPaths ingests every file named by patterns. Already indexed
// documents are skipped. The first failure aborts the call; documents
// stored before it stay stored.
func (p *Pipeline) IngestPaths(ctx context.Context, patterns []string) (Result, error) {
	files, err := p.Expand(patterns)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, fmt.Errorf("no documents found in %s: %w", strings.Join(patterns, ", "), domain.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var total Result
	for _, f := range files {
		res, err := p.ingestLocked(ctx, loader.Input{Path: f})
		if errors.Is(err, domain.ErrDuplicateDocument) {
			total.Skipped = append(total.Skipped, f)
			continue
		}
		if err != nil {
			return total, err
		}
		total.add(res)
	}
	p.logger.Info("ingestion finished", "documents", total.Documents, "chunks", total.Chunks, "skipped", len(total.Skipped))
	return total, nil
}

// IngestFile ingests one file. Unlike IngestPaths it reports an already
// indexed document as ErrDuplicateDocument.
func (p *Pipeline) IngestFile(ctx context.Context, in loader.Input) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ingestLocked(ctx, in)
}

func (p *Pipeline) ingestLocked(ctx context.Context, in loader.Input) (Result, error) {
	ctx, span := metrics.StartSpan(ctx, "ingest.document", attribute.String("source", in.Path))
	defer span.End()

	res, err := p.ingestDocument(ctx, in)
	switch {
	case errors.Is(err, domain.ErrDuplicateDocument):
		metrics.DocumentsIngested.WithLabelValues("duplicate").Inc()
		p.logger.Info("document already indexed", "source", in.Path)
	case err != nil:
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		metrics.DocumentsIngested.WithLabelValues("indexed").Inc()
		metrics.ChunksStored.Add(float64(res.Chunks))
		span.SetAttributes(attribute.Int("chunks", res.Chunks))
	}
	return res, err
}

func (p *Pipeline) ingestDocument(ctx context.Context, in loader.Input) (Result, error) {
	doc, err := p.loader.LoadFile(ctx, in)
	if err != nil {
		return Result{}, err
	}
	exists, err := p.store.HasDocument(ctx, doc.Metadata.Source, doc.Metadata.Hash)
	if err != nil {
		return Result{}, fmt.Errorf("check %s: %w", doc.Metadata.Source, err)
	}
	if exists {
		return Result{}, fmt.Errorf("%s: %w", doc.Metadata.Source, domain.ErrDuplicateDocument)
	}

	chunks, err := p.chunker.Chunk(doc)
	if err != nil {
		return Result{}, fmt.Errorf("chunk %s: %w", doc.Metadata.Source, err)
	}
	if len(chunks) == 0 {
		p.logger.Warn("document has no text", "source", doc.Metadata.Source)
		return Result{Documents: 1}, nil
	}
	// all vectors are computed before anything is written
	chunks, err = vectorstore.AttachEmbeddings(ctx, p.embedder, chunks)
	if err != nil {
		return Result{}, err
	}
	if err := p.store.AddDocuments(ctx, chunks); err != nil {
		return Result{}, fmt.Errorf("store %s: %w", doc.Metadata.Source, err)
	}
	p.logger.Debug("document ingested", "source", doc.Metadata.Source, "chunks", len(chunks), "embedder", p.embedder.Name())
	return Result{Documents: 1, Chunks: len(chunks)}, nil
}
