package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFabric(t *testing.T, instanceID string, ackRequired bool) (*Fabric, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, instanceID, time.Minute, 1<<20, ackRequired), mr
}

func TestPublishRejectsOversizedPayload(t *testing.T) {
	f, mr := newTestFabric(t, "instance-a", false)
	defer mr.Close()
	f.maxMessageSize = 4

	err := f.Publish(context.Background(), "doc:1", []byte(`"too big"`))
	assert.Error(t, err)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2, MaxRetries: 5}
	wait := b.Initial
	for i := 0; i < 4; i++ {
		wait = time.Duration(float64(wait) * b.Multiplier)
		if wait > b.Max {
			wait = b.Max
		}
	}
	assert.Equal(t, b.Max, wait)
}

func TestHandleAckUnblocksWaiter(t *testing.T) {
	f, mr := newTestFabric(t, "instance-a", true)
	defer mr.Close()

	ch := make(chan struct{})
	f.mu.Lock()
	f.acks["msg-1"] = ch
	f.mu.Unlock()

	f.handleAck("msg-1")

	select {
	case <-ch:
	default:
		t.Fatal("expected ack channel to be closed")
	}
}
