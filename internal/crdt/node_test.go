package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabfabric/engine/internal/position"
)

func TestInsertBetweenMaterializesInOrder(t *testing.T) {
	doc := NewDoc()
	doc.InsertBetween(-1, 'A', "alice")
	doc.InsertBetween(0, 'C', "alice")
	doc.InsertBetween(0, 'B', "alice")
	assert.Equal(t, "ABC", doc.Materialize())
}

func TestDeleteAtTombstonesVisibleNode(t *testing.T) {
	doc := NewDoc()
	doc.InsertBetween(-1, 'A', "alice")
	doc.InsertBetween(0, 'B', "alice")
	doc.InsertBetween(1, 'C', "alice")
	n, ok := doc.DeleteAt(1, "bob")
	require.True(t, ok)
	assert.Equal(t, 'B', n.Value)
	assert.Equal(t, "AC", doc.Materialize())
	assert.Equal(t, 2, doc.Len())
}

func TestApplyRemoteBuffersUntilDependenciesReady(t *testing.T) {
	doc := NewDoc()
	a := doc.InsertBetween(-1, 'A', "alice")

	// bob's insert depends on having seen alice's op, simulated via a
	// vector clock requiring alice:1.
	bobOp := RemoteOp{
		ID:        "bob-1",
		Kind:      RemoteInsert,
		Pos:       position.Between(a.Pos, position.Max(), "bob"),
		Value:     'B',
		AuthorID:  "bob",
		DependsOn: position.VectorClock{"alice": 1},
	}

	// carol's op arrives first but depends on bob's, which hasn't landed.
	carolOp := RemoteOp{
		ID:        "carol-1",
		Kind:      RemoteInsert,
		Pos:       position.Between(bobOp.Pos, position.Max(), "carol"),
		Value:     'C',
		AuthorID:  "carol",
		DependsOn: position.VectorClock{"alice": 1, "bob": 1},
	}

	doc.ApplyRemote(carolOp)
	assert.Equal(t, 1, doc.PendingCount())
	assert.Equal(t, "A", doc.Materialize())

	doc.ApplyRemote(bobOp)
	// bob's integration should have unblocked carol's buffered op too.
	assert.Equal(t, 0, doc.PendingCount())
	assert.Equal(t, "ABC", doc.Materialize())
}

func TestApplyRemoteDuplicateIsIgnored(t *testing.T) {
	doc := NewDoc()
	op := RemoteOp{ID: "op-1", Kind: RemoteInsert, Pos: position.Between(position.Min(), position.Max(), "alice"), Value: 'A', AuthorID: "alice"}
	doc.ApplyRemote(op)
	doc.ApplyRemote(op)
	assert.Equal(t, "A", doc.Materialize())
}

func TestConvergenceUnderPermutedDelivery(t *testing.T) {
	base := NewDoc()
	posA := base.InsertBetween(-1, 'A', "alice")
	opB := RemoteOp{ID: "b", Kind: RemoteInsert, Pos: position.Between(posA.Pos, position.Max(), "bob"), Value: 'B', AuthorID: "bob"}
	opC := RemoteOp{ID: "c", Kind: RemoteInsert, Pos: position.Between(opB.Pos, position.Max(), "carol"), Value: 'C', AuthorID: "carol"}

	orderings := [][]RemoteOp{
		{opB, opC},
		{opC, opB},
	}

	results := make([]string, 0, len(orderings))
	for _, ordering := range orderings {
		d := NewDoc()
		d.InsertBetween(-1, 'A', "alice")
		for _, op := range ordering {
			d.ApplyRemote(op)
		}
		results = append(results, d.Materialize())
	}
	assert.Equal(t, results[0], results[1])
}
