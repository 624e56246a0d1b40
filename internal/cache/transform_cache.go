package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabfabric/engine/internal/metrics"
	"github.com/collabfabric/engine/internal/ot"
)

// TransformCache memoizes the result of transforming one operation against
// another, keyed by the pair that produced it. Concurrent editors
// frequently resubmit the same (op, prior) pair after a reconnect replay,
// so this turns repeat transforms into a Redis round trip instead of
// re-running the OT core.
type TransformCache struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewTransformCache wraps an existing RedisClient. A nil client disables
// caching — callers fall through to computing the transform directly.
func NewTransformCache(redis *RedisClient, ttl time.Duration) *TransformCache {
	return &TransformCache{redis: redis, ttl: ttl}
}

func transformCacheKey(documentVersion uint64, a, b ot.Operation) string {
	return fmt.Sprintf("transform:%d:%s:%s", documentVersion, a.ID, b.ID)
}

// Get returns the cached result of Transform(a, b) at documentVersion, if
// present.
func (c *TransformCache) Get(ctx context.Context, documentVersion uint64, a, b ot.Operation) (ot.Operation, bool) {
	if c == nil || c.redis == nil {
		return ot.Operation{}, false
	}
	raw, err := c.redis.Get(ctx, transformCacheKey(documentVersion, a, b))
	if err != nil {
		metrics.Get().TransformCacheMisses.WithLabelValues().Inc()
		return ot.Operation{}, false
	}
	var out ot.Operation
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		metrics.Get().TransformCacheMisses.WithLabelValues().Inc()
		return ot.Operation{}, false
	}
	metrics.Get().TransformCacheHits.WithLabelValues().Inc()
	return out, true
}

// Put stores the result of Transform(a, b) at documentVersion.
func (c *TransformCache) Put(ctx context.Context, documentVersion uint64, a, b, result ot.Operation) {
	if c == nil || c.redis == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.redis.SetEx(ctx, transformCacheKey(documentVersion, a, b), string(payload), c.ttl)
}
