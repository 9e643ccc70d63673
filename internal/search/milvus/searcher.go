// Package milvus is the vector-only search backend.
package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
	"github.com/aws-agent/knowledge-assistant/pkg/circuitbreaker"
	"github.com/aws-agent/knowledge-assistant/pkg/config"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

const embeddingField = "embedding"

var outputFields = []string{"document_id", "chunk_id", "text"}

// vectorClient is the part of client.Client the searcher uses.
type vectorClient interface {
	Search(ctx context.Context, collName string, partitions []string, expr string,
		outputFields []string, vectors []entity.Vector, vectorField string,
		metricType entity.MetricType, topK int, sp entity.SearchParam,
		opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	Insert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Close() error
}

type Searcher struct {
	client         vectorClient
	collectionName string
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
}

func NewSearcher(ctx context.Context, cfg config.MilvusConfig, timeout time.Duration) (*Searcher, error) {
	c, err := client.NewGrpcClient(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus searcher initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("collection", cfg.CollectionName),
	)

	return newSearcher(c, cfg.CollectionName, timeout), nil
}

func newSearcher(c vectorClient, collection string, timeout time.Duration) *Searcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Searcher{
		client:         c,
		collectionName: collection,
		timeout:        timeout,
		cb: circuitbreaker.NewCircuitBreaker("milvus", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OnStateChange: func(name string, _, to circuitbreaker.State) {
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			},
			Logger: logger.GetLogger(),
		}),
	}
}

func (s *Searcher) Close() error {
	return s.client.Close()
}

// Search runs a kNN query over the embedding field. Milvus has no keyword
// scoring, so hybrid requests are served as vector requests.
func (s *Searcher) Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Hit, error) {
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("milvus search: %w", retrieval.ErrNoQueryVector)
	}
	if req.Mode == retrieval.ModeHybrid {
		logger.Debug("Milvus does not support hybrid search, using vector mode")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	var results []client.SearchResult
	err = s.cb.Execute(ctx, func() error {
		var err error
		results, err = s.client.Search(
			ctx,
			s.collectionName,
			[]string{},
			"",
			outputFields,
			[]entity.Vector{entity.FloatVector(req.Vector)},
			embeddingField,
			entity.IP,
			req.K,
			sp,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits, err := decodeResults(results)
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector search completed",
		zap.Int("k", req.K),
		zap.Int("results", len(hits)),
	)

	return hits, nil
}

// Index inserts chunks into the collection. All embeddings must share one
// dimension.
func (s *Searcher) Index(ctx context.Context, chunks []retrieval.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	dim := len(chunks[0].Embedding)
	docIDs := make([]string, 0, len(chunks))
	chunkIDs := make([]string, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	embeddings := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != dim || dim == 0 {
			return fmt.Errorf("chunk %s has embedding dimension %d, want %d", c.ChunkID, len(c.Embedding), dim)
		}
		docIDs = append(docIDs, c.DocumentID)
		chunkIDs = append(chunkIDs, c.ChunkID)
		texts = append(texts, c.Text)
		embeddings = append(embeddings, c.Embedding)
	}

	err := s.cb.Execute(ctx, func() error {
		_, err := s.client.Insert(
			ctx,
			s.collectionName,
			"",
			entity.NewColumnVarChar("document_id", docIDs),
			entity.NewColumnVarChar("chunk_id", chunkIDs),
			entity.NewColumnVarChar("text", texts),
			entity.NewColumnFloatVector(embeddingField, dim, embeddings),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	logger.Info("Chunks inserted into Milvus",
		zap.String("collection", s.collectionName),
		zap.Int("count", len(chunks)),
	)
	return nil
}

// decodeResults flattens the per-vector result sets. Embeddings are unit
// length, so inner product is cosine similarity; negatives clamp to 0.
func decodeResults(results []client.SearchResult) ([]retrieval.Hit, error) {
	hits := make([]retrieval.Hit, 0)
	for _, sr := range results {
		docCol := sr.Fields.GetColumn("document_id")
		chunkCol := sr.Fields.GetColumn("chunk_id")
		textCol := sr.Fields.GetColumn("text")
		if docCol == nil || chunkCol == nil || textCol == nil {
			return nil, fmt.Errorf("search result is missing output fields")
		}

		for i := 0; i < sr.ResultCount; i++ {
			docID, err := stringAt(docCol, i)
			if err != nil {
				return nil, err
			}
			chunkID, err := stringAt(chunkCol, i)
			if err != nil {
				return nil, err
			}
			text, err := stringAt(textCol, i)
			if err != nil {
				return nil, err
			}

			hits = append(hits, retrieval.Hit{
				DocumentID: docID,
				ChunkID:    chunkID,
				Text:       text,
				Score:      min(max(float64(sr.Scores[i]), 0), 1),
			})
		}
	}
	return hits, nil
}

func stringAt(col entity.Column, i int) (string, error) {
	v, err := col.Get(i)
	if err != nil {
		return "", fmt.Errorf("failed to read column %s: %w", col.Name(), err)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column %s is not a string column", col.Name())
	}
	return str, nil
}
