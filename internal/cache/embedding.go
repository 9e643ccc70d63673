package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
	"github.com/aws-agent/knowledge-assistant/pkg/utils"
)

// EmbeddingCache memoises query embeddings in a Store.
type EmbeddingCache struct {
	next  retrieval.Embedder
	store Store
	ttl   time.Duration
}

func NewEmbeddingCache(next retrieval.Embedder, store Store, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EmbeddingCache{next: next, store: store, ttl: ttl}
}

func (e *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.HashString(text)

	if data, found, err := e.store.Get(ctx, key); err == nil && found {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return vec, nil
		}
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vec); err == nil {
		if err := e.store.Set(ctx, key, data, e.ttl); err != nil {
			logger.Debug("Embedding cache write failed", zap.Error(err))
		}
	}
	return vec, nil
}
