// Package retrieval fetches context chunks for a query from a vector or
// hybrid search index and re-ranks them.
package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

type Config struct {
	Mode         Mode
	MaxResults   int
	TopK       int
	Timeout    time.Duration
}

type Engine struct {
	searcher Searcher
	embedder Embedder
	cfg      Config
}

func NewEngine(searcher Searcher, embedder Embedder, cfg Config) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Engine{
		searcher: searcher,
		embedder: embedder,
		cfg:      cfg,
	}
}

// Retrieve returns up to maxResults chunks sorted by search score. A failed
// search yields an empty result rather than an error so that generation can
// proceed without context.
func (e *Engine) Retrieve(ctx context.Context, query string, maxResults int) []Chunk {
	if maxResults <= 0 {
		maxResults = e.cfg.MaxResults
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	vector := e.embed(ctx, query)

	hits, err := e.searcher.Search(ctx, SearchRequest{
		Text:   query,
		Vector: vector,
		K:      maxResults,
		Mode:   e.cfg.Mode,
	})
	if err != nil {
		logger.Warn("Search failed, continuing without context",
			zap.String("mode", string(e.cfg.Mode)),
			zap.Error(err),
		)
		return []Chunk{}
	}

	chunks := make([]Chunk, 0, len(hits))
	for _, h := range hits {
		text := CleanText(h.Text)
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			DocumentID:     h.DocumentID,
			ChunkID:        h.ChunkID,
			Text:           text,
			RelevanceScore: h.Score,
			AdjustedScore:  h.Score,
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].RelevanceScore > chunks[j].RelevanceScore
	})
	if len(chunks) > maxResults {
		chunks = chunks[:maxResults]
	}

	logger.Debug("Retrieval completed",
		zap.String("mode", string(e.cfg.Mode)),
		zap.Int("hits", len(hits)),
		zap.Int("chunks", len(chunks)),
	)

	return chunks
}

// RetrieveAndRerank runs Retrieve followed by Rerank with the configured top_k.
func (e *Engine) RetrieveAndRerank(ctx context.Context, query string) []Chunk {
	chunks := e.Retrieve(ctx, query, e.cfg.MaxResults)
	return Rerank(query, chunks, e.cfg.TopK)
}

// embed returns nil when no embedding is available. A zero vector has no
// cosine similarity, so hybrid search drops its vector clause instead.
func (e *Engine) embed(ctx context.Context, text string) []float32 {
	if e.embedder == nil {
		return nil
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil || len(vector) == 0 {
		logger.Warn("Embedding failed, searching without a query vector",
			zap.String("mode", string(e.cfg.Mode)),
			zap.Error(err),
		)
		return nil
	}
	return vector
}
