package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"docrag/internal/domain"
)

// DefaultSettle is how long a file must stay quiet before it is ingested.
const DefaultSettle = 500 * time.Millisecond

// Watch ingests supported files as they are created or rewritten in dir
// (not recursive). Each file is ingested once its events have been quiet for
// settle. Watch blocks until ctx is done.
func (p *Pipeline) Watch(ctx context.Context, dir string, settle time.Duration) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	p.logger.Info("watching for documents", "dir", dir)

	pending := map[string]time.Time{}
	ticker := time.NewTicker(settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if path, ok := p.handleEvent(ev); ok {
				pending[path] = time.Now()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("watcher error", "error", err)
		case now := <-ticker.C:
			for path, seen := range pending {
				if now.Sub(seen) < settle {
					continue
				}
				delete(pending, path)
				p.ingestWatched(ctx, path)
			}
		}
	}
}

// handleEvent reports whether ev names a supported file worth ingesting.
func (p *Pipeline) handleEvent(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || !p.loader.Supports(ev.Name) {
		return "", false
	}
	info, err := os.Stat(ev.Name)
	if err != nil || info.IsDir() {
		return "", false
	}
	return ev.Name, true
}

func (p *Pipeline) ingestWatched(ctx context.Context, path string) {
	res, err := p.IngestPaths(ctx, []string{path})
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat), errors.Is(err, domain.ErrParse):
		p.logger.Warn("skipping unreadable document", "source", path, "error", err)
	case err != nil:
		p.logger.Error("ingest failed", "source", path, "error", err)
	case len(res.Skipped) > 0:
		p.logger.Debug("document unchanged", "source", path)
	default:
		p.logger.Info("document ingested", "source", path, "chunks", res.Chunks)
	}
}
