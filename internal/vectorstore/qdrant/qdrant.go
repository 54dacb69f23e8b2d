package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

// DefaultCollection is used when no collection name is configured.
const DefaultCollection = "docrag"

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection on first write.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	embedder   domain.Embedder
	logger     *slog.Logger

	mu        sync.Mutex
	dimension int // 0 until the collection is known to exist
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config, embedder domain.Embedder, logger *slog.Logger) (*Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required: %w", domain.ErrInvalidInput)
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		embedder:   embedder,
		logger:     logger,
	}, nil
}

// errCollectionMissing is returned internally when Qdrant answers 404.
var errCollectionMissing = errors.New("collection does not exist")

// collectionDimension returns the configured vector size of the collection,
// or errCollectionMissing.
func (s *Storage) collectionDimension(ctx context.Context) (int, error) {
	s.mu.Lock()
	dim := s.dimension
	s.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.call(ctx, http.MethodGet, s.collectionPath(""), nil, &resp); err != nil {
		return 0, err
	}
	dim = resp.Result.Config.Params.Vectors.Size
	s.mu.Lock()
	s.dimension = dim
	s.mu.Unlock()
	return dim, nil
}

// ensureCollection creates the collection with the given size if missing,
// and fails with ErrDimensionMismatch when it exists with another size.
func (s *Storage) ensureCollection(ctx context.Context, dimension int) error {
	existing, err := s.collectionDimension(ctx)
	if err == nil {
		if existing != dimension {
			return fmt.Errorf("collection %s has %d dimensions, new chunks have %d: %w",
				s.collection, existing, dimension, domain.ErrDimensionMismatch)
		}
		return nil
	}
	if !errors.Is(err, errCollectionMissing) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.call(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	for _, field := range []string{"hash", "source", "source_base"} {
		index := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := s.call(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), index, nil); err != nil {
			s.logger.Warn("qdrant payload index not created", "field", field, "error", err)
		}
	}
	s.mu.Lock()
	s.dimension = dimension
	s.mu.Unlock()
	s.logger.Info("qdrant collection created", "collection", s.collection, "dimension", dimension)
	return nil
}

// AddDocuments upserts chunks as points with random UUIDs. Duplicate hashes
// are rejected before anything is written.
func (s *Storage) AddDocuments(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	embedded, err := vectorstore.AttachEmbeddings(ctx, s.embedder, chunks)
	if err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, len(embedded[0].Embedding)); err != nil {
		return err
	}

	var lookupErr error
	err = vectorstore.CheckDuplicates(embedded, func(hash string) bool {
		found, err := s.scrollAny(ctx, matchFilter("hash", hash))
		if err != nil {
			lookupErr = err
		}
		return found
	})
	if lookupErr != nil {
		return fmt.Errorf("lookup hash: %w", lookupErr)
	}
	if err != nil {
		return err
	}

	points := make([]map[string]any, len(embedded))
	for i, ch := range embedded {
		points[i] = map[string]any{
			"id":      uuid.NewString(),
			"vector":  ch.Embedding,
			"payload": payloadOf(ch),
		}
	}
	body := map[string]any{"points": points}
	if err := s.call(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	s.logger.Debug("qdrant points upserted", "collection", s.collection, "added", len(points))
	return nil
}

func payloadOf(ch domain.Chunk) map[string]any {
	m := ch.Metadata
	return map[string]any{
		"text":        ch.Text,
		"source":      m.Source,
		"source_base": baseName(m.Source),
		"hash":        m.Hash,
		"title":       m.Title,
		"format":      m.Format,
		"chunk_index": m.ChunkIndex,
	}
}

// SimilaritySearch returns ErrNotFound when the collection is missing or empty.
func (s *Storage) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		k = vectorstore.DefaultK
	}
	dim, err := s.collectionDimension(ctx)
	if errors.Is(err, errCollectionMissing) {
		return nil, fmt.Errorf("qdrant collection %s: %w", s.collection, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("qdrant collection %s: %w", s.collection, domain.ErrNotFound)
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("collection %s has %d dimensions, query has %d: %w",
			s.collection, dim, len(vec), domain.ErrDimensionMismatch)
	}

	req := map[string]any{
		"vector":       vec,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []struct {
			ID      any       `json:"id"`
			Score   float64   `json:"score"`
			Vector  []float64 `json:"vector"`
			Payload payload   `json:"payload"`
		} `json:"result"`
	}
	if err := s.call(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	results := make([]domain.RetrievalResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.RetrievalResult{
			Record: domain.StoredRecord{
				ID:        fmt.Sprint(r.ID),
				Embedding: r.Vector,
				Text:      r.Payload.Text,
				Metadata: domain.Metadata{
					Source:     r.Payload.Source,
					Hash:       r.Payload.Hash,
					Title:      r.Payload.Title,
					Format:     r.Payload.Format,
					ChunkIndex: r.Payload.ChunkIndex,
				},
			},
			Score: r.Score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

type payload struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Hash       string `json:"hash"`
	Title      string `json:"title"`
	Format     string `json:"format"`
	ChunkIndex int    `json:"chunk_index"`
}

// HasDocument checks hashes first; without a hash it matches the source by
// exact path or by base name.
func (s *Storage) HasDocument(ctx context.Context, source, hash string) (bool, error) {
	var filter map[string]any
	switch {
	case hash != "":
		filter = matchFilter("hash", hash)
	case source != "":
		filter = map[string]any{"should": []any{
			matchCondition("source", source),
			matchCondition("source_base", baseName(source)),
		}}
	default:
		return false, nil
	}
	found, err := s.scrollAny(ctx, filter)
	if errors.Is(err, errCollectionMissing) {
		return false, nil
	}
	return found, err
}

func (s *Storage) scrollAny(ctx context.Context, filter map[string]any) (bool, error) {
	body := map[string]any{
		"filter":       filter,
		"limit":        1,
		"with_payload": false,
		"with_vector":  false,
	}
	var resp struct {
		Result struct {
			Points []json.RawMessage `json:"points"`
		} `json:"result"`
	}
	if err := s.call(ctx, http.MethodPost, s.collectionPath("/points/scroll"), body, &resp); err != nil {
		return false, err
	}
	return len(resp.Result.Points) > 0, nil
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"value": value}}
}

func matchFilter(key, value string) map[string]any {
	return map[string]any{"must": []any{matchCondition(key, value)}}
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := s.call(ctx, http.MethodPost, s.collectionPath("/points/count"), map[string]any{"exact": true}, &resp)
	if errors.Is(err, errCollectionMissing) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return resp.Result.Count, nil
}

// Clear drops the collection. It is recreated on the next write.
func (s *Storage) Clear(ctx context.Context) error {
	err := s.call(ctx, http.MethodDelete, s.collectionPath(""), nil, nil)
	if err != nil && !errors.Is(err, errCollectionMissing) {
		return fmt.Errorf("drop collection: %w", err)
	}
	s.mu.Lock()
	s.dimension = 0
	s.mu.Unlock()
	return nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) collectionPath(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// call sends body as JSON and decodes the response into out when non-nil.
// 404 maps to errCollectionMissing; other failures become ProviderErrors.
func (s *Storage) call(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.ProviderError{Provider: "qdrant", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errCollectionMissing
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &domain.ProviderError{
			Provider: "qdrant",
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%s %s: %s", method, url, strings.TrimSpace(string(b))),
		}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func baseName(source string) string {
	if source == "" {
		return ""
	}
	return filepath.Base(source)
}
