package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

// DocsFile is the corpus file name inside the directory form.
const DocsFile = "docs.json"

// Config locates the persisted corpus.
type Config struct {
	// File is the flat corpus, a JSON array of records. New writes go here.
	File string
	// Dir is the directory form, holding DocsFile. Read only when File is absent.
	Dir string
}

// Storage keeps all records in memory and rewrites the whole corpus file on
// every AddDocuments call. The write is O(n) in corpus size.
//
// The in-process lock serialises writers of one instance only. Two processes
// ingesting into the same file race on read-modify-write; callers must
// serialise ingestion themselves.
type Storage struct {
	cfg      Config
	embedder domain.Embedder
	logger   *slog.Logger

	mu      sync.RWMutex
	loaded  bool
	records []domain.StoredRecord
}

func NewStorage(cfg Config, embedder domain.Embedder, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{cfg: cfg, embedder: embedder, logger: logger}
}

// load reads the corpus once. Callers hold s.mu for writing.
func (s *Storage) load() error {
	if s.loaded {
		return nil
	}
	records, err := readFlat(s.cfg.File)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	// a missing or empty flat corpus defers to the directory form
	if len(records) == 0 {
		s.logger.Debug("flat corpus empty, trying directory form", "file", s.cfg.File, "dir", s.cfg.Dir)
		dirRecords, err := readDir(s.cfg.Dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if len(dirRecords) > 0 {
			records = dirRecords
		}
	}
	s.records = records
	s.loaded = true
	s.logger.Debug("corpus loaded", "records", len(records))
	return nil
}

func (s *Storage) ensureLoaded() error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func readFlat(path string) ([]domain.StoredRecord, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []domain.StoredRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode corpus %s: %w", path, err)
	}
	return records, nil
}

// dirRecord accepts the looser shapes written by document-loader adapters.
type dirRecord struct {
	ID          string    `json:"id"`
	Embedding   []float64 `json:"embedding"`
	Vector      []float64 `json:"vector"`
	Text        string    `json:"text"`
	PageContent string    `json:"pageContent"`
	Metadata    struct {
		domain.Metadata
		ID string `json:"id"`
	} `json:"metadata"`
}

func readDir(dir string) ([]domain.StoredRecord, error) {
	if dir == "" {
		return nil, os.ErrNotExist
	}
	path := filepath.Join(dir, DocsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []dirRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode corpus %s: %w", path, err)
	}
	records := make([]domain.StoredRecord, 0, len(raw))
	for _, r := range raw {
		rec := domain.StoredRecord{
			ID:        r.ID,
			Embedding: r.Embedding,
			Text:      r.Text,
			Metadata:  r.Metadata.Metadata,
		}
		if rec.ID == "" {
			rec.ID = r.Metadata.ID
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if len(rec.Embedding) == 0 {
			rec.Embedding = r.Vector
		}
		if rec.Text == "" {
			rec.Text = r.PageContent
		}
		records = append(records, rec)
	}
	return records, nil
}

// AddDocuments embeds chunks lacking a vector, appends them and rewrites the
// corpus. Nothing is kept when any step fails.
func (s *Storage) AddDocuments(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	embedded, err := vectorstore.AttachEmbeddings(ctx, s.embedder, chunks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > 0 && len(s.records[0].Embedding) != len(embedded[0].Embedding) {
		return fmt.Errorf("corpus has %d dimensions, new chunks have %d: %w",
			len(s.records[0].Embedding), len(embedded[0].Embedding), domain.ErrDimensionMismatch)
	}
	if err := vectorstore.CheckDuplicates(embedded, s.hasHashLocked); err != nil {
		return err
	}

	next := make([]domain.StoredRecord, len(s.records), len(s.records)+len(embedded))
	copy(next, s.records)
	for _, ch := range embedded {
		next = append(next, domain.StoredRecord{
			ID:        uuid.NewString(),
			Embedding: ch.Embedding,
			Text:      ch.Text,
			Metadata:  ch.Metadata,
		})
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.records = next
	s.logger.Debug("corpus persisted", "file", s.cfg.File, "added", len(embedded), "records", len(next))
	return nil
}

// persist writes records to a temp file and renames it over the corpus.
func (s *Storage) persist(records []domain.StoredRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.File), 0o755); err != nil {
		return fmt.Errorf("create corpus directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode corpus: %w", err)
	}
	tmp := s.cfg.File + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	if err := os.Rename(tmp, s.cfg.File); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace corpus: %w", err)
	}
	return nil
}

// SimilaritySearch embeds query and ranks every record by cosine similarity.
// It returns ErrNotFound while the corpus is empty.
func (s *Storage) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	empty := len(s.records) == 0
	s.mu.RUnlock()
	if empty {
		return nil, fmt.Errorf("local corpus %s: %w", s.cfg.File, domain.ErrNotFound)
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return vectorstore.Rank(vec, s.records, k)
}

// HasDocument checks hashes first; source names are compared only when no
// hash is given, by exact path or by base name.
func (s *Storage) HasDocument(_ context.Context, source, hash string) (bool, error) {
	if err := s.ensureLoaded(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if hash != "" {
		return s.hasHashLocked(hash), nil
	}
	for _, rec := range s.records {
		if sameSource(rec.Metadata.Source, source) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Storage) hasHashLocked(hash string) bool {
	for _, rec := range s.records {
		if rec.Metadata.Hash == hash {
			return true
		}
	}
	return false
}

func sameSource(stored, source string) bool {
	if stored == "" || source == "" {
		return false
	}
	return stored == source || filepath.Base(stored) == filepath.Base(source)
}

func (s *Storage) Count(_ context.Context) (int, error) {
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Clear drops every record and removes both corpus forms from disk.
func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range []string{s.cfg.File, filepath.Join(s.cfg.Dir, DocsFile)} {
		if path == "" || path == DocsFile {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove corpus: %w", err)
		}
	}
	s.records = nil
	s.loaded = true
	return nil
}

func (s *Storage) Close() error { return nil }
