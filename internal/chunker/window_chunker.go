package chunker

import (
	"strconv"
	"strings"

	"docrag/internal/domain"
)

const (
	// DefaultChunkSize is the default number of characters per chunk.
	DefaultChunkSize = 1000
	// DefaultOverlap is the default number of characters shared by adjacent chunks.
	DefaultOverlap = 200
)

// WindowChunker splits text into fixed-size character windows with overlap.
// Sizes are counted in runes so multi-byte text is never cut mid-character.
type WindowChunker struct {
	chunkSize int
	overlap   int
}

// Option configures a WindowChunker.
type Option func(*WindowChunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *WindowChunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *WindowChunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func NewWindowChunker(opts ...Option) *WindowChunker {
	c := &WindowChunker{chunkSize: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	// the window must always advance
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

func (c *WindowChunker) ChunkSize() int { return c.chunkSize }
func (c *WindowChunker) Overlap() int   { return c.overlap }

func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := []rune(document.Text)
	if len(text) == 0 {
		return nil, nil
	}
	step := c.chunkSize - c.overlap
	var chunks []domain.Chunk
	idx := 0
	for start := 0; start < len(text); start += step {
		end := start + c.chunkSize
		if end > len(text) {
			end = len(text)
		}
		trimmed := strings.TrimSpace(string(text[start:end]))
		if trimmed != "" {
			meta := document.Metadata
			meta.ChunkIndex = idx
			chunks = append(chunks, domain.Chunk{
				ID:       document.ID + "-chunk-" + strconv.Itoa(idx),
				Text:     trimmed,
				Metadata: meta,
			})
			idx++
		}
		if end == len(text) {
			break
		}
	}
	return chunks, nil
}
