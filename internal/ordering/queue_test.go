package ordering

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabfabric/engine/internal/ot"
)

func TestPushInOrderYieldsImmediately(t *testing.T) {
	q := New(time.Second)
	now := time.Unix(0, 0)

	ready := q.Push(ot.Operation{AuthorID: "alice", Seq: 1}, now)
	require.Len(t, ready, 1)
	assert.Equal(t, uint64(1), ready[0].Seq)
}

func TestPushOutOfOrderBuffersThenReleasesFIFO(t *testing.T) {
	q := New(time.Second)
	now := time.Unix(0, 0)

	ready := q.Push(ot.Operation{AuthorID: "alice", Seq: 2}, now)
	assert.Empty(t, ready)
	assert.Equal(t, 1, q.PendingCount("alice"))

	ready = q.Push(ot.Operation{AuthorID: "alice", Seq: 3}, now)
	assert.Empty(t, ready)

	ready = q.Push(ot.Operation{AuthorID: "alice", Seq: 1}, now)
	require.Len(t, ready, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{ready[0].Seq, ready[1].Seq, ready[2].Seq})
	assert.Equal(t, 0, q.PendingCount("alice"))
}

func TestDifferentAuthorsAreIndependent(t *testing.T) {
	q := New(time.Second)
	now := time.Unix(0, 0)

	readyAlice := q.Push(ot.Operation{AuthorID: "alice", Seq: 1}, now)
	readyBob := q.Push(ot.Operation{AuthorID: "bob", Seq: 1}, now)
	assert.Len(t, readyAlice, 1)
	assert.Len(t, readyBob, 1)
}

func TestCheckGapsEscalatesAfterTimeout(t *testing.T) {
	q := New(5 * time.Second)
	t0 := time.Unix(0, 0)

	q.Push(ot.Operation{AuthorID: "alice", Seq: 2}, t0)
	assert.Empty(t, q.CheckGaps(t0.Add(2*time.Second)))

	resyncs := q.CheckGaps(t0.Add(6 * time.Second))
	require.Len(t, resyncs, 1)
	assert.Equal(t, "alice", resyncs[0].AuthorID)
	assert.Equal(t, uint64(1), resyncs[0].ExpectedSeq)
	assert.Equal(t, 0, q.PendingCount("alice"))
}
