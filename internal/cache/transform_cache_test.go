package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabfabric/engine/internal/ot"
)

func newTestCache(t *testing.T) (*TransformCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTransformCache(&RedisClient{client: client}, time.Minute), mr
}

func TestTransformCacheMissThenHit(t *testing.T) {
	c, mr := newTestCache(t)
	defer mr.Close()

	a := ot.Operation{ID: "op-a", Seq: 1}
	b := ot.Operation{ID: "op-b", Seq: 2}

	_, ok := c.Get(context.Background(), 5, a, b)
	assert.False(t, ok)

	result := ot.Operation{ID: "op-a", Seq: 1, Position: 3}
	c.Put(context.Background(), 5, a, b, result)

	got, ok := c.Get(context.Background(), 5, a, b)
	require.True(t, ok)
	assert.Equal(t, result.Position, got.Position)
}

func TestTransformCacheNilClientIsNoop(t *testing.T) {
	var c *TransformCache
	_, ok := c.Get(context.Background(), 1, ot.Operation{}, ot.Operation{})
	assert.False(t, ok)
	c.Put(context.Background(), 1, ot.Operation{}, ot.Operation{}, ot.Operation{})
}
