// Package elastic runs hybrid and vector searches over the document chunk
// index in Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
	"github.com/aws-agent/knowledge-assistant/pkg/circuitbreaker"
	"github.com/aws-agent/knowledge-assistant/pkg/config"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
	"github.com/aws-agent/knowledge-assistant/pkg/retry"
)

const (
	vectorBoost  = 0.7
	keywordBoost = 0.3
)

var sourceFields = []string{"document_id", "chunk_id", "text"}

type Searcher struct {
	client      *elasticsearch.Client
	index       string
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewSearcher(cfg config.ElasticsearchConfig) (*Searcher, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger.Info("Elasticsearch searcher initialized",
		zap.Strings("addresses", cfg.Addresses),
		zap.String("index", cfg.Index),
	)

	return &Searcher{
		client:  client,
		index:   cfg.Index,
		timeout: timeout,
		cb: circuitbreaker.NewCircuitBreaker("elasticsearch", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OnStateChange:    recordBreakerState,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			MaxAttempts:    2,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}, nil
}

func recordBreakerState(name string, _, to circuitbreaker.State) {
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
}

// EnsureIndex creates the chunk index with a cosine dense_vector mapping if
// it does not exist yet.
func (s *Searcher) EnsureIndex(ctx context.Context, dims int) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(indexMapping(dims))
	if err != nil {
		return err
	}

	res, err = s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to create index: %s", res.String())
	}

	logger.Info("Elasticsearch index created", zap.String("index", s.index), zap.Int("dims", dims))
	return nil
}

func (s *Searcher) Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Hit, error) {
	query, err := buildQuery(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var hits []retrieval.Hit
	err = s.cb.Execute(ctx, func() error {
		return retry.Do(ctx, s.retryConfig, func() error {
			res, err := s.client.Search(
				s.client.Search.WithContext(ctx),
				s.client.Search.WithIndex(s.index),
				s.client.Search.WithBody(bytes.NewReader(body)),
			)
			if err != nil {
				return fmt.Errorf("search request failed: %w", err)
			}
			defer res.Body.Close()

			if res.IsError() {
				msg, _ := io.ReadAll(res.Body)
				return fmt.Errorf("search failed with status %d: %s", res.StatusCode, msg)
			}

			hits, err = decodeHits(res.Body, req.Mode)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Elasticsearch search completed",
		zap.String("mode", string(req.Mode)),
		zap.Int("k", req.K),
		zap.Int("results", len(hits)),
	)

	return hits, nil
}

// Index writes chunks with the bulk API, keyed by chunk id so re-indexing a
// document replaces its chunks.
func (s *Searcher) Index(ctx context.Context, chunks []retrieval.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	body, err := bulkBody(s.index, chunks)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.cb.Execute(ctx, func() error {
		res, err := s.client.Bulk(
			bytes.NewReader(body),
			s.client.Bulk.WithContext(ctx),
			s.client.Bulk.WithRefresh("wait_for"),
		)
		if err != nil {
			return fmt.Errorf("bulk request failed: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			msg, _ := io.ReadAll(res.Body)
			return fmt.Errorf("bulk failed with status %d: %s", res.StatusCode, msg)
		}

		var out struct {
			Errors bool `json:"errors"`
		}
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode bulk response: %w", err)
		}
		if out.Errors {
			return fmt.Errorf("bulk request had item failures")
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Chunks indexed in Elasticsearch",
		zap.String("index", s.index),
		zap.Int("count", len(chunks)),
	)
	return nil
}

func bulkBody(index string, chunks []retrieval.IndexedChunk) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		action := map[string]any{"index": map[string]any{"_index": index, "_id": c.ChunkID}}
		doc := map[string]any{
			"document_id": c.DocumentID,
			"chunk_id":    c.ChunkID,
			"text":        c.Text,
			"embedding":   c.Embedding,
		}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode chunk %s: %w", c.ChunkID, err)
		}
	}
	return buf.Bytes(), nil
}

// buildQuery renders the request body. Hybrid mode blends cosine vector
// similarity (boost 0.7) with a keyword match (boost 0.3) where either may
// match, and keeps only the keyword clause without a query vector. Vector
// mode is a plain kNN query and needs the vector.
func buildQuery(req retrieval.SearchRequest) (map[string]any, error) {
	if req.Mode == retrieval.ModeVector {
		if len(req.Vector) == 0 {
			return nil, fmt.Errorf("elasticsearch knn search: %w", retrieval.ErrNoQueryVector)
		}
		return map[string]any{
			"size":    req.K,
			"_source": sourceFields,
			"knn": map[string]any{
				"field":          "embedding",
				"query_vector":   req.Vector,
				"k":              req.K,
				"num_candidates": max(req.K*10, 100),
			},
		}, nil
	}

	var should []any
	if len(req.Vector) > 0 {
		should = append(should, map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"match_all": map[string]any{}},
				"script": map[string]any{
					"source": "cosineSimilarity(params.query_vector, 'embedding') + 1.0",
					"params": map[string]any{"query_vector": req.Vector},
				},
				"boost": vectorBoost,
			},
		})
	}
	should = append(should, map[string]any{
		"multi_match": map[string]any{
			"query":  req.Text,
			"fields": []string{"text^2", "document_id"},
			"type":   "best_fields",
			"boost":  keywordBoost,
		},
	})

	return map[string]any{
		"size":    req.K,
		"_source": sourceFields,
		"query": map[string]any{
			"bool": map[string]any{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	}, nil
}

func indexMapping(dims int) map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"document_id": map[string]any{"type": "keyword"},
				"chunk_id":    map[string]any{"type": "keyword"},
				"text":        map[string]any{"type": "text"},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
}

type searchResponse struct {
	Hits struct {
		MaxScore float64 `json:"max_score"`
		Hits     []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				DocumentID string `json:"document_id"`
				ChunkID    string `json:"chunk_id"`
				Text       string `json:"text"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// decodeHits maps the response to hits. Hybrid scores are unbounded, so
// they are divided by the top score to land in [0,1].
func decodeHits(r io.Reader, mode retrieval.Mode) ([]retrieval.Hit, error) {
	var resp searchResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	maxScore := resp.Hits.MaxScore
	for _, h := range resp.Hits.Hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}

	hits := make([]retrieval.Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		score := h.Score
		if mode != retrieval.ModeVector && maxScore > 0 {
			score /= maxScore
		}
		chunkID := h.Source.ChunkID
		if chunkID == "" {
			chunkID = h.ID
		}
		hits = append(hits, retrieval.Hit{
			DocumentID: h.Source.DocumentID,
			ChunkID:    chunkID,
			Text:       h.Source.Text,
			Score:      min(max(score, 0), 1),
		})
	}
	return hits, nil
}
