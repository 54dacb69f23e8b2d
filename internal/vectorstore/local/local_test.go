package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/embedding/hash"
)

var _ domain.VectorStore = (*Storage)(nil)

func newTestStorage(t *testing.T, dim int) (*Storage, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		File: filepath.Join(dir, "vectorstore.json"),
		Dir:  filepath.Join(dir, "vectorstore"),
	}
	return NewStorage(cfg, hash.NewEmbedder(dim), nil), cfg
}

func chunk(id, text, source, h string, idx int) domain.Chunk {
	return domain.Chunk{
		ID:       id,
		Text:     text,
		Metadata: domain.Metadata{Source: source, Hash: h, ChunkIndex: idx},
	}
}

func TestSimilaritySearch_EmptyCorpus(t *testing.T) {
	s, _ := newTestStorage(t, 32)
	_, err := s.SimilaritySearch(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimilaritySearch_ExactChunkTextIsTop(t *testing.T) {
	s, _ := newTestStorage(t, 64)
	ctx := context.Background()
	texts := []string{
		"Invoices are due within thirty days.",
		"The warehouse opens at seven in the morning.",
		"Refunds require the original receipt.",
		"Support is available on weekdays only.",
	}
	var chunks []domain.Chunk
	for i, txt := range texts {
		chunks = append(chunks, chunk("policy-chunk-"+string(rune('0'+i)), txt, "policy.txt", "h1", i))
	}
	require.NoError(t, s.AddDocuments(ctx, chunks))

	for _, txt := range texts {
		res, err := s.SimilaritySearch(ctx, txt, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, txt, res[0].Record.Text)
		assert.GreaterOrEqual(t, res[0].Score, 0.999)
	}
}

func TestSimilaritySearch_SingleRecordScenario(t *testing.T) {
	s, _ := newTestStorage(t, 32)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{chunk("sky-chunk-0", "The sky is blue", "sky.txt", "sky", 0)}))

	res, err := s.SimilaritySearch(ctx, "sky color", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "The sky is blue", res[0].Record.Text)
}

func TestSimilaritySearch_TopKSortedDescending(t *testing.T) {
	s, _ := newTestStorage(t, 32)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{
		chunk("a", "Bananas are yellow", "a.txt", "ha", 0),
		chunk("b", "Trains run on rails", "b.txt", "hb", 0),
		chunk("c", "Owls hunt at night", "c.txt", "hc", 0),
	}))

	res, err := s.SimilaritySearch(ctx, "fruit", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
}

func TestSimilaritySearch_TiesKeepInsertionOrder(t *testing.T) {
	s, _ := newTestStorage(t, 4)
	ctx := context.Background()
	same := []float64{1, 0, 0, 0}
	chunks := []domain.Chunk{
		{ID: "first", Text: "first", Embedding: same, Metadata: domain.Metadata{Source: "t.txt", Hash: "t"}},
		{ID: "second", Text: "second", Embedding: same, Metadata: domain.Metadata{Source: "t.txt", Hash: "t", ChunkIndex: 1}},
		{ID: "third", Text: "third", Embedding: same, Metadata: domain.Metadata{Source: "t.txt", Hash: "t", ChunkIndex: 2}},
	}
	require.NoError(t, s.AddDocuments(ctx, chunks))

	// orthogonal query: every record scores 0
	s.embedder = constEmbedder{vec: []float64{0, 1, 0, 0}}
	res, err := s.SimilaritySearch(ctx, "q", 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "first", res[0].Record.Text)
	assert.Equal(t, "second", res[1].Record.Text)
	assert.Equal(t, "third", res[2].Record.Text)
	assert.Zero(t, res[0].Score)
}

type constEmbedder struct{ vec []float64 }

func (c constEmbedder) Name() string   { return "const" }
func (c constEmbedder) Dimension() int { return len(c.vec) }
func (c constEmbedder) Embed(context.Context, string) ([]float64, error) {
	return c.vec, nil
}

func TestSimilaritySearch_DimensionMismatch(t *testing.T) {
	s, cfg := newTestStorage(t, 16)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{chunk("a", "alpha", "a.txt", "ha", 0)}))

	reopened := NewStorage(cfg, hash.NewEmbedder(32), nil)
	_, err := reopened.SimilaritySearch(ctx, "alpha", 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	err = reopened.AddDocuments(ctx, []domain.Chunk{chunk("b", "beta", "b.txt", "hb", 0)})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	n, _ := reopened.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestAddDocuments_PersistsAcrossInstances(t *testing.T) {
	s, cfg := newTestStorage(t, 32)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{
		chunk("doc-chunk-0", "one", "doc.txt", "h", 0),
		chunk("doc-chunk-1", "two", "doc.txt", "h", 1),
	}))

	_, err := os.Stat(cfg.File)
	require.NoError(t, err)

	reopened := NewStorage(cfg, hash.NewEmbedder(32), nil)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := reopened.SimilaritySearch(ctx, "two", 1)
	require.NoError(t, err)
	assert.Equal(t, "two", res[0].Record.Text)
	assert.Equal(t, 1, res[0].Record.Metadata.ChunkIndex)
	assert.Len(t, res[0].Record.Embedding, 32)
	assert.NotEmpty(t, res[0].Record.ID)
}

func TestAddDocuments_RejectsDuplicateHash(t *testing.T) {
	s, _ := newTestStorage(t, 32)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{chunk("a", "content", "a.txt", "same-hash", 0)}))

	err := s.AddDocuments(ctx, []domain.Chunk{chunk("a2", "content", "renamed.txt", "same-hash", 0)})
	assert.ErrorIs(t, err, domain.ErrDuplicateDocument)

	n, _ := s.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestAddDocuments_RejectsMixedDimensions(t *testing.T) {
	s, _ := newTestStorage(t, 32)
	err := s.AddDocuments(context.Background(), []domain.Chunk{
		{ID: "a", Text: "a", Embedding: []float64{1, 0}},
		{ID: "b", Text: "b", Embedding: []float64{1, 0, 0}},
	})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestHasDocument(t *testing.T) {
	s, _ := newTestStorage(t, 32)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{chunk("a", "content", "data/uploads/report.pdf", "abc123", 0)}))

	tests := []struct {
		name   string
		source string
		hash   string
		want   bool
	}{
		{"hash match", "other.pdf", "abc123", true},
		{"hash miss wins over source match", "data/uploads/report.pdf", "zzz", false},
		{"source exact", "data/uploads/report.pdf", "", true},
		{"source base name", "report.pdf", "", true},
		{"source miss", "unknown.pdf", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.HasDocument(ctx, tc.source, tc.hash)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoad_DirectoryForm(t *testing.T) {
	_, cfg := newTestStorage(t, 3)
	require.NoError(t, os.MkdirAll(cfg.Dir, 0o755))
	docs := `[
	  {"pageContent": "from adapter", "vector": [1, 0, 0], "metadata": {"id": "m-1", "source": "x.txt", "hash": "hx"}},
	  {"id": "r-2", "text": "plain", "embedding": [0, 1, 0], "metadata": {"source": "y.txt"}}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, DocsFile), []byte(docs), 0o644))

	s := NewStorage(cfg, constEmbedder{vec: []float64{1, 0, 0}}, nil)
	ctx := context.Background()
	res, err := s.SimilaritySearch(ctx, "q", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "m-1", res[0].Record.ID)
	assert.Equal(t, "from adapter", res[0].Record.Text)
	assert.InDelta(t, 1.0, res[0].Score, 1e-12)
	assert.Equal(t, "r-2", res[1].Record.ID)

	ok, err := s.HasDocument(ctx, "", "hx")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoad_FlatFormPreferred(t *testing.T) {
	_, cfg := newTestStorage(t, 3)
	require.NoError(t, os.MkdirAll(cfg.Dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, DocsFile),
		[]byte(`[{"id":"dir","text":"dir","embedding":[1,0,0]}]`), 0o644))
	require.NoError(t, os.WriteFile(cfg.File,
		[]byte(`[{"id":"flat","text":"flat","embedding":[1,0,0],"metadata":{"source":"f.txt"}}]`), 0o644))

	s := NewStorage(cfg, constEmbedder{vec: []float64{1, 0, 0}}, nil)
	res, err := s.SimilaritySearch(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "flat", res[0].Record.ID)
}

func TestLoad_EmptyFlatFallsBackToDirectory(t *testing.T) {
	_, cfg := newTestStorage(t, 3)
	require.NoError(t, os.MkdirAll(cfg.Dir, 0o755))
	require.NoError(t, os.WriteFile(cfg.File, []byte(`[]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, DocsFile),
		[]byte(`[{"id":"dir","text":"from dir","embedding":[1,0,0],"metadata":{"source":"d.txt","hash":"hd"}}]`), 0o644))

	s := NewStorage(cfg, constEmbedder{vec: []float64{1, 0, 0}}, nil)
	ctx := context.Background()
	res, err := s.SimilaritySearch(ctx, "q", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "dir", res[0].Record.ID)

	// the next write lands in the flat file and keeps the loaded records
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{
		{ID: "new", Text: "new", Embedding: []float64{0, 1, 0}, Metadata: domain.Metadata{Source: "n.txt", Hash: "hn"}},
	}))
	reopened := NewStorage(cfg, constEmbedder{vec: []float64{1, 0, 0}}, nil)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoad_CorruptCorpus(t *testing.T) {
	_, cfg := newTestStorage(t, 3)
	require.NoError(t, os.WriteFile(cfg.File, []byte(`{not json`), 0o644))

	s := NewStorage(cfg, hash.NewEmbedder(3), nil)
	_, err := s.Count(context.Background())
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	s, cfg := newTestStorage(t, 32)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{chunk("a", "content", "a.txt", "h", 0)}))

	require.NoError(t, s.Clear(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(cfg.File)
	assert.True(t, os.IsNotExist(err))

	// hash is free again after clearing
	require.NoError(t, s.AddDocuments(ctx, []domain.Chunk{chunk("a", "content", "a.txt", "h", 0)}))
}
