// Package service assembles the configured components into the ingestion
// pipeline and the answerer shared by the CLI, the HTTP API and the TUI.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docrag/internal/chunker"
	"docrag/internal/config"
	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/embedding/hash"
	"docrag/internal/embedding/lexical"
	embopenai "docrag/internal/embedding/openai"
	"docrag/internal/ingest"
	"docrag/internal/llm/extractive"
	llmopenai "docrag/internal/llm/openai"
	"docrag/internal/loader"
	"docrag/internal/rag"
	"docrag/internal/vectorstore/local"
	"docrag/internal/vectorstore/qdrant"
	"docrag/internal/vectorstore/sqlite"
)

// Service owns every long-lived component. Close releases the store.
type Service struct {
	cfg      *config.AppConfig
	logger   *slog.Logger
	Embedder domain.Embedder
	Store    domain.VectorStore
	Model    domain.Model
	Pipeline *ingest.Pipeline
	Answerer *rag.Answerer
}

func New(cfg *config.AppConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	emb, err := NewEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(cfg, emb, logger)
	if err != nil {
		return nil, err
	}
	model, err := NewModel(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	l := loader.New(loader.WithPDFTool(cfg.Loader.PDFTool), loader.WithLogger(logger))
	if err := l.CheckTools(); err != nil {
		logger.Warn("document format unavailable until its tool is installed", "error", err)
	}
	ch := chunker.NewWindowChunker(chunker.WithChunkSize(cfg.Chunker.Size), chunker.WithOverlap(cfg.Chunker.OverlapChars()))
	return &Service{
		cfg:      cfg,
		logger:   logger,
		Embedder: emb,
		Store:    store,
		Model:    model,
		Pipeline: ingest.NewPipeline(l, ch, emb, store, logger),
		Answerer: rag.New(store, model, rag.WithLogger(logger), rag.WithSnippetLength(cfg.Answer.SnippetLength)),
	}, nil
}

// TopK is the configured number of contexts per question.
func (s *Service) TopK() int { return s.cfg.Answer.TopK }

// UploadDir is where uploaded files are kept.
func (s *Service) UploadDir() string { return s.cfg.ResolvePath(s.cfg.Server.UploadDir) }

// Addr is the HTTP listen address.
func (s *Service) Addr() string { return s.cfg.Server.Addr }

func (s *Service) Close() error { return s.Store.Close() }

func localEmbedder(kind string, dimension int) (domain.Embedder, error) {
	switch kind {
	case "hash":
		return hash.NewEmbedder(dimension), nil
	case "lexical":
		return lexical.NewEmbedder(dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", kind)
	}
}

// NewEmbedder builds the configured embedder. The openai provider is wrapped
// with the local fallback; without an API key the fallback serves alone.
func NewEmbedder(cfg *config.AppConfig, logger *slog.Logger) (domain.Embedder, error) {
	if cfg.Embedder.Type != "openai" {
		return localEmbedder(cfg.Embedder.Type, cfg.Embedder.Dimension)
	}
	fallback, err := localEmbedder(cfg.Embedder.Fallback, cfg.Embedder.Dimension)
	if err != nil {
		return nil, err
	}
	o := cfg.Embedder.OpenAI
	client, err := embopenai.NewClient(embopenai.Config{
		BaseURL:           o.BaseURL,
		APIKey:            cfg.EmbedderAPIKey(),
		Model:             o.Model,
		Timeout:           time.Duration(o.TimeoutSecs) * time.Second,
		RequestsPerSecond: o.RequestsPerSecond,
		MaxRetries:        o.MaxRetries,
	})
	if errors.Is(err, domain.ErrMissingCredential) {
		logger.Warn("no embedding API key, using local embedder", "env", o.APIKeyEnv, "embedder", fallback.Name())
		return embedding.NewFallback(nil, fallback, logger), nil
	}
	if err != nil {
		return nil, err
	}
	return embedding.NewFallback(client, fallback, logger), nil
}

// NewStore opens the configured vector store.
func NewStore(cfg *config.AppConfig, emb domain.Embedder, logger *slog.Logger) (domain.VectorStore, error) {
	switch cfg.VectorStore.Type {
	case "local":
		return local.NewStorage(local.Config{
			File: cfg.ResolvePath(cfg.VectorStore.Local.File),
			Dir:  cfg.ResolvePath(cfg.VectorStore.Local.Dir),
		}, emb, logger), nil
	case "sqlite":
		return sqlite.NewStorage(cfg.ResolvePath(cfg.VectorStore.SQLite.Path), emb, logger)
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		if q == nil {
			return nil, fmt.Errorf("qdrant config missing: %w", domain.ErrInvalidInput)
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     q.APIKey,
			Collection: q.Collection,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		}, emb, logger)
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}

// NewModel builds the generation model. A missing OpenAI key downgrades to
// the extractive model so questions still get grounded answers.
func NewModel(cfg *config.AppConfig, logger *slog.Logger) (domain.Model, error) {
	switch cfg.LLM.Type {
	case "extractive":
		return extractive.New(cfg.LLM.MaxSentences), nil
	case "openai":
		o := cfg.LLM.OpenAI
		m, err := llmopenai.New(llmopenai.Config{
			APIKey:      cfg.LLMAPIKey(),
			BaseURL:     o.BaseURL,
			Model:       o.Model,
			Timeout:     time.Duration(o.TimeoutSecs) * time.Second,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
		if errors.Is(err, domain.ErrMissingCredential) {
			logger.Warn("no model API key, using extractive answers", "env", o.APIKeyEnv)
			return extractive.New(cfg.LLM.MaxSentences), nil
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown llm: %s", cfg.LLM.Type)
	}
}
