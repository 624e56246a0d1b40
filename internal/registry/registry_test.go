package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatRegistersNewInstance(t *testing.T) {
	r := New(time.Second, StrategyLeastConnections)
	now := time.Unix(0, 0)
	r.Heartbeat("inst-1", "10.0.0.1:9000", 2, 5, now)

	instances := r.Instances()
	require.Len(t, instances, 1)
	assert.True(t, instances[0].Healthy)
	assert.Equal(t, 5, instances[0].ActiveSessions)
}

func TestSweepStaleMarksUnhealthy(t *testing.T) {
	r := New(time.Second, StrategyLeastConnections)
	t0 := time.Unix(0, 0)
	r.Heartbeat("inst-1", "addr", 0, 0, t0)

	stale := r.SweepStale(t0.Add(2 * time.Second))
	assert.Equal(t, []string{"inst-1"}, stale)

	instances := r.Instances()
	require.Len(t, instances, 1)
	assert.False(t, instances[0].Healthy)
}

func TestSelectPicksLeastConnections(t *testing.T) {
	r := New(time.Minute, StrategyLeastConnections)
	now := time.Unix(0, 0)
	r.Heartbeat("busy", "a", 0, 10, now)
	r.Heartbeat("idle", "b", 0, 1, now)

	inst, ok := r.Select()
	require.True(t, ok)
	assert.Equal(t, "idle", inst.ID)
}

func TestSelectSkipsOpenCircuit(t *testing.T) {
	r := New(time.Minute, StrategyLeastConnections)
	now := time.Unix(0, 0)
	r.Heartbeat("only", "a", 0, 0, now)

	cb := r.Breaker("only")
	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	}
	assert.Equal(t, StateOpen, cb.State())

	_, ok := r.Select()
	assert.False(t, ok)
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("peer", CircuitBreakerConfig{
		FailureThreshold: 3, ResetTimeout: time.Minute, SuccessThreshold: 1, MaxRequestsHalfOpen: 1,
	})
	fail := func(context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	assert.Error(t, err) // still open, reset timeout hasn't elapsed
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("peer", CircuitBreakerConfig{
		FailureThreshold: 1, ResetTimeout: time.Millisecond, SuccessThreshold: 1, MaxRequestsHalfOpen: 1,
	})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(2 * time.Millisecond)
	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}
