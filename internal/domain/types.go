package domain

// Metadata travels with documents, chunks and stored records.
// Hash is the canonical dedup key; Source is the file it came from.
type Metadata struct {
	Source     string `json:"source"`
	Hash       string `json:"hash,omitempty"`
	Title      string `json:"title,omitempty"`
	Format     string `json:"format,omitempty"`
	ChunkIndex int    `json:"chunkIndex"`
}

// Document represents a single file loaded into the system.
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// Chunk is a bounded part of a document used for indexing.
// Embedding is attached by the ingestion pipeline before persistence.
type Chunk struct {
	ID        string
	Text      string
	Metadata  Metadata
	Embedding []float64
}

// StoredRecord is the persisted unit of a vector store.
type StoredRecord struct {
	ID        string    `json:"id"`
	Embedding []float64 `json:"embedding"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"metadata"`
}

// RetrievalResult represents a matching record with a relevance score.
type RetrievalResult struct {
	Record StoredRecord
	Score  float64
}

// Source is one citation attached to an answer. Ref is the marker number
// the model used, starting at 1.
type Source struct {
	Ref     int    `json:"ref"`
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet"`
}

// Answer is the result of a retrieval-augmented query.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Failed  bool     `json:"failed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// EventType identifies a streamed answer event.
type EventType string

const (
	EventToken   EventType = "token"
	EventSources EventType = "sources"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// StreamEvent is one element of a streamed answer.
type StreamEvent struct {
	Type    EventType
	Token   string
	Sources []Source
	Err     error
}
