package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/chunker"
	"docrag/internal/domain"
	"docrag/internal/embedding/hash"
	"docrag/internal/loader"
	"docrag/internal/vectorstore/local"
)

type fixture struct {
	pipeline *Pipeline
	store    *local.Storage
	dir      string
}

func newFixture(t *testing.T, embedder domain.Embedder) fixture {
	t.Helper()
	dir := t.TempDir()
	if embedder == nil {
		embedder = hash.NewEmbedder(32)
	}
	store := local.NewStorage(local.Config{File: filepath.Join(dir, "data", "vectorstore.json")}, embedder, nil)
	p := NewPipeline(loader.New(), chunker.NewWindowChunker(), embedder, store, nil)
	return fixture{pipeline: p, store: store, dir: dir}
}

func (f fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, "docs", rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestIngestPaths_Directory(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "a.txt", "The sky is blue.")
	f.write(t, "nested/b.md", "# Grass\nGrass is green.")
	f.write(t, "image.png", "binary")
	f.write(t, ".hidden.txt", "secret")
	f.write(t, ".git/config.txt", "ignored")

	res, err := f.pipeline.IngestPaths(context.Background(), []string{filepath.Join(f.dir, "docs")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, 2, res.Chunks)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 2, f.count(t))
}

func TestIngestPaths_Glob(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "a.txt", "alpha")
	f.write(t, "b.txt", "beta")
	f.write(t, "c.md", "gamma")

	res, err := f.pipeline.IngestPaths(context.Background(), []string{filepath.Join(f.dir, "docs", "*.txt")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
}

func TestIngestPaths_ReingestIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	a := f.write(t, "a.txt", strings.Repeat("Long document text. ", 120))

	first, err := f.pipeline.IngestPaths(context.Background(), []string{a})
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 1)
	stored := f.count(t)

	second, err := f.pipeline.IngestPaths(context.Background(), []string{a})
	require.NoError(t, err)
	assert.Zero(t, second.Documents)
	assert.Equal(t, []string{a}, second.Skipped)

	// same bytes under another name are the same document
	copyPath := f.write(t, "copy.txt", strings.Repeat("Long document text. ", 120))
	third, err := f.pipeline.IngestPaths(context.Background(), []string{copyPath})
	require.NoError(t, err)
	assert.Equal(t, []string{copyPath}, third.Skipped)
	assert.Equal(t, stored, f.count(t))
}

func TestIngestPaths_NothingFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.pipeline.IngestPaths(context.Background(), []string{filepath.Join(f.dir, "empty-dir-*")})
	assert.Error(t, err)
}

func TestIngestPaths_UnsupportedAborts(t *testing.T) {
	f := newFixture(t, nil)
	good := f.write(t, "a.txt", "alpha")
	bad := f.write(t, "b.xyz", "beta")

	res, err := f.pipeline.IngestPaths(context.Background(), []string{good, bad})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, 1, f.count(t))
}

// flakyEmbedder fails on the nth call.
type flakyEmbedder struct {
	mu    sync.Mutex
	inner domain.Embedder
	calls int
	failN int
}

func (e *flakyEmbedder) Name() string   { return "flaky" }
func (e *flakyEmbedder) Dimension() int { return e.inner.Dimension() }
func (e *flakyEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.mu.Unlock()
	if n == e.failN {
		return nil, &domain.ProviderError{Provider: "flaky", Err: errors.New("timeout")}
	}
	return e.inner.Embed(ctx, text)
}

func TestIngestFile_PartialEmbeddingStoresNothing(t *testing.T) {
	f := newFixture(t, &flakyEmbedder{inner: hash.NewEmbedder(32), failN: 2})
	path := f.write(t, "long.txt", strings.Repeat("x", 2500))

	_, err := f.pipeline.IngestFile(context.Background(), loader.Input{Path: path})
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Zero(t, f.count(t))
}

func TestIngestFile_Duplicate(t *testing.T) {
	f := newFixture(t, nil)
	path := f.write(t, "a.txt", "alpha")
	_, err := f.pipeline.IngestFile(context.Background(), loader.Input{Path: path})
	require.NoError(t, err)

	_, err = f.pipeline.IngestFile(context.Background(), loader.Input{Path: path})
	assert.ErrorIs(t, err, domain.ErrDuplicateDocument)
}

func TestIngestFile_EmptyDocument(t *testing.T) {
	f := newFixture(t, nil)
	path := f.write(t, "blank.txt", "   \n\t ")
	res, err := f.pipeline.IngestFile(context.Background(), loader.Input{Path: path})
	require.NoError(t, err)
	assert.Equal(t, Result{Documents: 1}, res)
	assert.Zero(t, f.count(t))
}

func TestIngestPaths_ConcurrentCallsAreSerialised(t *testing.T) {
	f := newFixture(t, nil)
	var paths []string
	for i := 0; i < 8; i++ {
		paths = append(paths, f.write(t, fmt.Sprintf("doc%d.txt", i), fmt.Sprintf("document number %d", i)))
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			_, err := f.pipeline.IngestPaths(context.Background(), []string{path})
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()
	assert.Equal(t, 8, f.count(t))

	reopened := local.NewStorage(local.Config{File: filepath.Join(f.dir, "data", "vectorstore.json")}, hash.NewEmbedder(32), nil)
	n, err := reopened.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestUpload(t *testing.T) {
	f := newFixture(t, nil)
	uploads := filepath.Join(f.dir, "uploads")
	ctx := context.Background()

	res, sum, err := f.pipeline.Upload(ctx, uploads, "notes.txt", bytes.NewBufferString("The sky is blue."))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Documents)
	assert.Equal(t, loader.HashBytes([]byte("The sky is blue.")), sum)
	assert.FileExists(t, filepath.Join(uploads, "notes.txt"))

	// same bytes, different name
	_, _, err = f.pipeline.Upload(ctx, uploads, "again.txt", bytes.NewBufferString("The sky is blue."))
	assert.ErrorIs(t, err, domain.ErrDuplicateDocument)
	assert.NoFileExists(t, filepath.Join(uploads, "again.txt"))

	// same name, different bytes
	_, _, err = f.pipeline.Upload(ctx, uploads, "notes.txt", bytes.NewBufferString("Grass is green."))
	require.NoError(t, err)
	entries, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, f.count(t))
}

func TestUpload_RepeatedRenamedUploadKeepsIndexedFile(t *testing.T) {
	f := newFixture(t, nil)
	uploads := filepath.Join(f.dir, "uploads")
	ctx := context.Background()

	_, _, err := f.pipeline.Upload(ctx, uploads, "doc.txt", bytes.NewBufferString("version one"))
	require.NoError(t, err)
	_, sum, err := f.pipeline.Upload(ctx, uploads, "doc.txt", bytes.NewBufferString("version two"))
	require.NoError(t, err)
	renamed := filepath.Join(uploads, sum[:8]+"-doc.txt")
	assert.FileExists(t, renamed)

	_, _, err = f.pipeline.Upload(ctx, uploads, "doc.txt", bytes.NewBufferString("version two"))
	assert.ErrorIs(t, err, domain.ErrDuplicateDocument)
	assert.FileExists(t, renamed)
	assert.FileExists(t, filepath.Join(uploads, "doc.txt"))

	entries, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, f.count(t))
}

func TestUpload_NeverOverwrites(t *testing.T) {
	f := newFixture(t, nil)
	uploads := filepath.Join(f.dir, "uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	sum := loader.HashBytes([]byte("fresh content"))
	// both candidate names are taken by files the store does not know
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "doc.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, sum[:8]+"-doc.txt"), []byte("b"), 0o644))

	_, _, err := f.pipeline.Upload(context.Background(), uploads, "doc.txt", bytes.NewBufferString("fresh content"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(uploads, sum[:8]+"-doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
	assert.FileExists(t, filepath.Join(uploads, sum[:8]+"-1-doc.txt"))
}

func TestUpload_Rejected(t *testing.T) {
	f := newFixture(t, nil)
	uploads := filepath.Join(f.dir, "uploads")

	_, _, err := f.pipeline.Upload(context.Background(), uploads, "photo.png", bytes.NewBufferString("x"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, _, err = f.pipeline.Upload(context.Background(), uploads, "", bytes.NewBufferString("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = f.pipeline.Upload(context.Background(), uploads, "broken.docx", bytes.NewBufferString("not a zip"))
	assert.ErrorIs(t, err, domain.ErrParse)
	assert.NoFileExists(t, filepath.Join(uploads, "broken.docx"))
}

func TestHandleEvent(t *testing.T) {
	f := newFixture(t, nil)
	file := f.write(t, "a.txt", "alpha")
	hidden := f.write(t, ".a.txt", "alpha")
	image := f.write(t, "a.png", "alpha")
	dir := filepath.Join(f.dir, "docs", "sub.txt")
	require.NoError(t, os.Mkdir(dir, 0o755))

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create", fsnotify.Event{Name: file, Op: fsnotify.Create}, true},
		{"write", fsnotify.Event{Name: file, Op: fsnotify.Write}, true},
		{"chmod", fsnotify.Event{Name: file, Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: filepath.Join(f.dir, "gone.txt"), Op: fsnotify.Remove}, false},
		{"hidden", fsnotify.Event{Name: hidden, Op: fsnotify.Create}, false},
		{"unsupported", fsnotify.Event{Name: image, Op: fsnotify.Create}, false},
		{"directory", fsnotify.Event{Name: dir, Op: fsnotify.Create}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := f.pipeline.handleEvent(tc.ev)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestWatch(t *testing.T) {
	f := newFixture(t, nil)
	watched := filepath.Join(f.dir, "inbox")
	require.NoError(t, os.MkdirAll(watched, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pipeline.Watch(ctx, watched, 50*time.Millisecond) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(watched, "new.txt"), []byte("fresh document"), 0o644))

	assert.Eventually(t, func() bool {
		n, err := f.store.Count(context.Background())
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
