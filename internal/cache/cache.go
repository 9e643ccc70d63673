// Package cache stores finished responses keyed by normalized query text.
// Entries are served only while younger than their TTL; expired entries are
// left for the backing store to reclaim.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
	"github.com/aws-agent/knowledge-assistant/pkg/utils"
)

const DefaultTTL = time.Hour

// Store is a key-value backend. ttl is a reclamation hint for the backend,
// not the freshness rule.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Entry struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	CachedAt   time.Time       `json:"cached_at"`
	TTLSeconds int             `json:"ttl_seconds"`
}

type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(store Store, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key is the cache key of a query. It ignores the conversation, so the same
// question asked in different conversations shares an entry.
func Key(query string) string {
	return utils.QueryKey(query)
}

// Get returns the payload cached for query when it is still fresh. Store
// errors and undecodable entries are misses.
func (c *Cache) Get(ctx context.Context, query string) (json.RawMessage, bool) {
	key := Key(query)

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.WithLabelValues("query").Inc()
		return nil, false
	}
	if !found {
		metrics.CacheMisses.WithLabelValues("query").Inc()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.WithLabelValues("query").Inc()
		return nil, false
	}

	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if c.now().Sub(entry.CachedAt) >= ttl {
		metrics.CacheMisses.WithLabelValues("query").Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues("query").Inc()
	logger.Debug("Query cache hit", zap.String("key", key))
	return entry.Payload, true
}

// Put stores payload for query with the cache TTL. Failures are logged and
// otherwise ignored.
func (c *Cache) Put(ctx context.Context, query string, payload any) {
	key := Key(query)

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("Failed to encode cache payload", zap.String("key", key), zap.Error(err))
		return
	}

	data, err := json.Marshal(Entry{
		Key:        key,
		Payload:    raw,
		CachedAt:   c.now().UTC(),
		TTLSeconds: int(c.ttl / time.Second),
	})
	if err != nil {
		logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// MemoryStore is an in-process Store. Expired values are dropped lazily on
// read.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]memoryItem{}, now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !item.expires.IsZero() && !m.now().Before(item.expires) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return item.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Invalidate(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	m.items = map[string]memoryItem{}
	return n, nil
}
