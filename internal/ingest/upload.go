package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docrag/internal/domain"
	"docrag/internal/loader"
	"docrag/internal/metrics"
)

// Upload stores r under dir, hashing the raw bytes while writing, and
// ingests it. Already indexed content is discarded without touching the
// files in dir. The saved file is removed again when ingestion fails.
func (p *Pipeline) Upload(ctx context.Context, dir, filename string, r io.Reader) (Result, string, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return Result{}, "", fmt.Errorf("missing file name: %w", domain.ErrInvalidInput)
	}
	if !p.loader.Supports(name) {
		return Result{}, "", fmt.Errorf("%s: %w", name, domain.ErrUnsupportedFormat)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, "", fmt.Errorf("create upload directory: %w", err)
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".part")
	hash, err := writeHashed(tmp, r)
	if err != nil {
		_ = os.Remove(tmp)
		return Result{}, "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// duplicates are rejected before anything in dir is touched
	exists, err := p.store.HasDocument(ctx, name, hash)
	if err != nil {
		_ = os.Remove(tmp)
		return Result{}, hash, fmt.Errorf("check %s: %w", name, err)
	}
	if exists {
		_ = os.Remove(tmp)
		metrics.DocumentsIngested.WithLabelValues("duplicate").Inc()
		p.logger.Info("upload already indexed", "name", name, "hash", hash)
		return Result{}, hash, fmt.Errorf("%s: %w", name, domain.ErrDuplicateDocument)
	}

	final := freeName(dir, name, hash)
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return Result{}, "", fmt.Errorf("save upload: %w", err)
	}

	res, err := p.ingestLocked(ctx, loader.Input{Path: final, Hash: hash})
	if err != nil {
		if rmErr := os.Remove(final); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.logger.Warn("failed to remove upload", "path", final, "error", rmErr)
		}
		return res, hash, err
	}
	p.logger.Info("upload ingested", "path", final, "hash", hash, "chunks", res.Chunks)
	return res, hash, nil
}

// freeName returns name inside dir, or a hash-prefixed variant when name is
// taken. It never returns the path of an existing file.
func freeName(dir, name, hash string) string {
	candidates := []string{name, hash[:8] + "-" + name}
	for _, c := range candidates {
		path := filepath.Join(dir, c)
		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
	}
	for i := 1; ; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d-%s", hash[:8], i, name))
		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
	}
}

func writeHashed(path string, r io.Reader) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		f.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
