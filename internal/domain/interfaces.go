package domain

import "context"

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	// Dimension is zero until a remote provider has returned its first vector.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Retriever is the read side of a vector store.
type Retriever interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]RetrievalResult, error)
}

// VectorStore persists chunks with their vectors and supports similarity search.
type VectorStore interface {
	Retriever
	AddDocuments(ctx context.Context, chunks []Chunk) error
	// HasDocument reports whether a document is already indexed. A non-empty
	// hash is authoritative; source is only consulted when hash is empty.
	HasDocument(ctx context.Context, source, hash string) (bool, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// Model is a text generation backend.
type Model interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) (TokenStream, error)
}

// TokenStream yields incremental text fragments. Recv returns io.EOF once
// the model signals completion.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}
