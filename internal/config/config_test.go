package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"VECTOR_STORE_PROVIDER", "QDRANT_URL", "OPENAI_MODEL", "PORT", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 1000, cfg.Chunker.Size)
	assert.Equal(t, 200, cfg.Chunker.OverlapChars())
	assert.Equal(t, "openai", cfg.Embedder.Type)
	assert.Equal(t, 1536, cfg.Embedder.Dimension)
	assert.Equal(t, "hash", cfg.Embedder.Fallback)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAI.Model)
	assert.Equal(t, 800, cfg.LLM.MaxTokens)
	assert.Zero(t, cfg.LLM.Temperature)
	assert.Equal(t, "local", cfg.VectorStore.Type)
	assert.Equal(t, 3, cfg.Answer.TopK)
	assert.Equal(t, 200, cfg.Answer.SnippetLength)
	assert.Equal(t, ":3001", cfg.Server.Addr)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
data_dir: /var/lib/docrag
chunker:
  size: 500
  overlap: 50
embedder:
  type: lexical
  dimension: 128
llm:
  type: extractive
  max_sentences: 2
vector_store:
  type: sqlite
  sqlite:
    path: corpus.db
answer:
  top_k: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Chunker.Size)
	assert.Equal(t, 50, cfg.Chunker.OverlapChars())
	assert.Equal(t, "lexical", cfg.Embedder.Type)
	assert.Equal(t, 128, cfg.Embedder.Dimension)
	assert.Nil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "extractive", cfg.LLM.Type)
	assert.Equal(t, 2, cfg.LLM.MaxSentences)
	assert.Equal(t, "sqlite", cfg.VectorStore.Type)
	assert.Equal(t, "/var/lib/docrag/corpus.db", cfg.ResolvePath(cfg.VectorStore.SQLite.Path))
	assert.Equal(t, "/abs/x.json", cfg.ResolvePath("/abs/x.json"))
	assert.Equal(t, 5, cfg.Answer.TopK)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yml  string
	}{
		{"bad embedder", "embedder:\n  type: word2vec\n"},
		{"bad store", "vector_store:\n  type: milvus\n"},
		{"qdrant without url", "vector_store:\n  type: qdrant\n"},
		{"overlap too large", "chunker:\n  size: 100\n  overlap: 100\n"},
		{"negative overlap", "chunker:\n  overlap: -1\n"},
		{"not yaml", "embedder: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yml), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ZeroOverlapKept(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunker:\n  size: 300\n  overlap: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Chunker.Overlap)
	assert.Equal(t, 0, cfg.Chunker.OverlapChars())
}

func TestLoad_EmbedderDimensionFollowsModel(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yml  string
		want int
	}{
		{"default model", "", 1536},
		{"large model", "embedder:\n  openai:\n    model: text-embedding-3-large\n", 3072},
		{"ollama model", "embedder:\n  openai:\n    model: nomic-embed-text\n", 768},
		{"explicit wins", "embedder:\n  dimension: 64\n", 64},
		{"local embedder", "embedder:\n  type: hash\n", 256},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yml), 0o644))
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.Embedder.Dimension)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VECTOR_STORE_PROVIDER", "QDRANT")
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("OPENAI_MODEL", "gpt-4.1")
	t.Setenv("PORT", "8080")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "qdrant", cfg.VectorStore.Type)
	require.NotNil(t, cfg.VectorStore.Qdrant)
	assert.Equal(t, "http://qdrant:6333", cfg.VectorStore.Qdrant.URL)
	assert.Equal(t, "docrag", cfg.VectorStore.Qdrant.Collection)
	assert.Equal(t, "gpt-4.1", cfg.LLM.OpenAI.Model)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "http://collector:4318", cfg.Tracing.Endpoint)
	assert.Equal(t, "docrag", cfg.Tracing.ServiceName)
}

func TestAPIKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("EMBED_KEY", "sk-embed")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-default", cfg.LLMAPIKey())
	assert.Equal(t, "sk-default", cfg.EmbedderAPIKey())

	cfg.Embedder.OpenAI.APIKeyEnv = "EMBED_KEY"
	assert.Equal(t, "sk-embed", cfg.EmbedderAPIKey())
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Answer.TopK = 7
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
