package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func unreachable() *Client {
	return NewFromRedis(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func TestNamespaceKeys(t *testing.T) {
	s := unreachable().Namespace("query")
	assert.Equal(t, "query:abc", s.key("abc"))
}

func TestStoreSurfacesConnectionErrors(t *testing.T) {
	c := unreachable()
	defer c.Close()
	s := c.Namespace("query")

	_, found, err := s.Get(context.Background(), "abc")
	assert.False(t, found)
	assert.Error(t, err)

	assert.Error(t, s.Set(context.Background(), "abc", []byte("{}"), time.Minute))
}
