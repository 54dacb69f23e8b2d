// Package sqlite stores chunks in a single SQLite table. Embeddings are kept
// as float32 blobs and ranked in process, so search cost is linear in corpus
// size like the local JSON store, but ingestion is an append in one
// transaction instead of a full rewrite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"docrag/internal/domain"
	"docrag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT PRIMARY KEY,
    text        TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    source_base TEXT NOT NULL DEFAULT '',
    hash        TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    format      TEXT NOT NULL DEFAULT '',
    chunk_index INTEGER NOT NULL DEFAULT 0,
    embedding   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(hash);
CREATE INDEX IF NOT EXISTS idx_chunks_source_base ON chunks(source_base);
`

// Storage is a domain.VectorStore over a SQLite database file.
type Storage struct {
	db       *sql.DB
	path     string
	embedder domain.Embedder
	logger   *slog.Logger
}

// NewStorage opens (creating if needed) the database at path.
func NewStorage(path string, embedder domain.Embedder, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty database path: %w", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL lets searches proceed while an ingest transaction is open.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Storage{db: db, path: path, embedder: embedder, logger: logger}, nil
}

// Path returns the database file path.
func (s *Storage) Path() string { return s.path }

func (s *Storage) Close() error { return s.db.Close() }

// AddDocuments inserts chunks in one transaction. A duplicate hash or a
// dimension mismatch rolls the whole batch back.
func (s *Storage) AddDocuments(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	embedded, err := vectorstore.AttachEmbeddings(ctx, s.embedder, chunks)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dim, err := corpusDimension(ctx, tx)
	if err != nil {
		return err
	}
	if dim > 0 && dim != len(embedded[0].Embedding) {
		return fmt.Errorf("corpus has %d dimensions, new chunks have %d: %w",
			dim, len(embedded[0].Embedding), domain.ErrDimensionMismatch)
	}

	var lookupErr error
	err = vectorstore.CheckDuplicates(embedded, func(hash string) bool {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE hash = ? LIMIT 1`, hash).Scan(&one)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			lookupErr = err
		}
		return err == nil
	})
	if lookupErr != nil {
		return fmt.Errorf("lookup hash: %w", lookupErr)
	}
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
		(id, text, source, source_base, hash, title, format, chunk_index, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range embedded {
		m := ch.Metadata
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), ch.Text, m.Source, baseName(m.Source),
			m.Hash, m.Title, m.Format, m.ChunkIndex, encodeEmbedding(ch.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", ch.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("chunks inserted", "db", s.path, "added", len(embedded))
	return nil
}

func corpusDimension(ctx context.Context, tx *sql.Tx) (int, error) {
	var n sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT length(embedding) FROM chunks ORDER BY rowid LIMIT 1`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read corpus dimension: %w", err)
	}
	return int(n.Int64) / 4, nil
}

// SimilaritySearch loads every row in insertion order and ranks it against
// the embedded query. It returns ErrNotFound while the table is empty.
func (s *Storage) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("sqlite corpus %s: %w", s.path, domain.ErrNotFound)
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, source, hash, title, format, chunk_index, embedding
		FROM chunks ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StoredRecord, 0, n)
	for rows.Next() {
		var rec domain.StoredRecord
		var blob []byte
		m := &rec.Metadata
		if err := rows.Scan(&rec.ID, &rec.Text, &m.Source, &m.Hash, &m.Title, &m.Format, &m.ChunkIndex, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if rec.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vectorstore.Rank(vec, records, k)
}

// HasDocument checks hashes first; without a hash it matches the source by
// exact path or by base name.
func (s *Storage) HasDocument(ctx context.Context, source, hash string) (bool, error) {
	var row *sql.Row
	switch {
	case hash != "":
		row = s.db.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE hash = ? LIMIT 1`, hash)
	case source != "":
		row = s.db.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE source = ? OR source_base = ? LIMIT 1`,
			source, baseName(source))
	default:
		return false, nil
	}
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup document: %w", err)
	}
	return true, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *Storage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	return nil
}

func baseName(source string) string {
	if source == "" {
		return ""
	}
	return filepath.Base(source)
}
