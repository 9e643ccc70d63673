package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Answer string `json:"answer"`
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestPutThenGetReturnsPayload(t *testing.T) {
	c := New(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	c.Put(ctx, "How do I create an S3 bucket?", payload{Answer: "Use the console."})

	raw, ok := c.Get(ctx, "  how do i create an s3 bucket?  ")
	require.True(t, ok)

	var got payload
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "Use the console.", got.Answer)
}

func TestGetAfterTTLIsMiss(t *testing.T) {
	clk := &clock{now: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)}
	c := New(NewMemoryStore(), time.Hour, WithClock(clk.Now))
	ctx := context.Background()

	c.Put(ctx, "q", payload{Answer: "a"})

	clk.now = clk.now.Add(59 * time.Minute)
	_, ok := c.Get(ctx, "q")
	assert.True(t, ok)

	clk.now = clk.now.Add(time.Minute)
	_, ok = c.Get(ctx, "q")
	assert.False(t, ok)
}

func TestStoreFailuresAreMisses(t *testing.T) {
	c := New(failingStore{}, time.Hour)
	c.Put(context.Background(), "q", payload{Answer: "a"})

	_, ok := c.Get(context.Background(), "q")
	assert.False(t, ok)
}

func TestUndecodableEntryIsMiss(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), Key("q"), []byte("not json"), time.Hour))

	_, ok := New(store, time.Hour).Get(context.Background(), "q")
	assert.False(t, ok)
}

func TestKeyIgnoresCaseAndSurroundingSpace(t *testing.T) {
	assert.Equal(t, Key("What is IAM?"), Key(" what is iam? "))
	assert.NotEqual(t, Key("What is IAM?"), Key("What is S3?"))
}

func TestMemoryStoreExpires(t *testing.T) {
	clk := &clock{now: time.Now()}
	store := NewMemoryStore()
	store.now = clk.Now

	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), time.Second))
	_, ok, _ := store.Get(context.Background(), "k")
	assert.True(t, ok)

	clk.now = clk.now.Add(time.Second)
	_, ok, _ = store.Get(context.Background(), "k")
	assert.False(t, ok)
}

type countingEmbedder struct{ calls int }

func (e *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return []float32{0.1, 0.2}, nil
}

func TestEmbeddingCache(t *testing.T) {
	next := &countingEmbedder{}
	ec := NewEmbeddingCache(next, NewMemoryStore(), time.Hour)

	first, err := ec.Embed(context.Background(), "vpc peering")
	require.NoError(t, err)
	second, err := ec.Embed(context.Background(), "vpc peering")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)
}
