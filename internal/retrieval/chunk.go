package retrieval

import (
	"context"
	"errors"
)

// ErrNoQueryVector is returned by searchers asked for vector similarity
// without a query embedding.
var ErrNoQueryVector = errors.New("query vector is required")

type Mode string

const (
	ModeHybrid Mode = "hybrid"
	ModeVector Mode = "vector"
)

// Chunk is a retrieved piece of a source document. It lives only for the
// duration of one query.
type Chunk struct {
	DocumentID     string  `json:"document_id"`
	ChunkID        string  `json:"chunk_id"`
	Text           string  `json:"text"`
	RelevanceScore float64 `json:"relevance_score"`
	AdjustedScore  float64 `json:"adjusted_score"`
}

// SearchRequest is one search call. Vector is nil when the query could not
// be embedded; hybrid searchers then match on Text alone.
type SearchRequest struct {
	Text   string
	Vector []float32
	K      int
	Mode   Mode
}

type Hit struct {
	DocumentID string
	ChunkID    string
	Text       string
	Score      float64
}

// Searcher runs a vector or hybrid query against a document index.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]Hit, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexedChunk is a document chunk with its embedding, ready to be written
// to a search backend.
type IndexedChunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Embedding  []float32
}

type Indexer interface {
	Index(ctx context.Context, chunks []IndexedChunk) error
}
