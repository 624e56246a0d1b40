package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabfabric/engine/internal/ot"
)

func TestRestoreReplaysOpsOnTopOfCheckpoint(t *testing.T) {
	cp := Checkpoint{Version: 2, Content: "AB"}
	ops := []ot.Operation{
		{ID: "op-3", Kind: ot.KindInsert, Position: 2, Text: "C", Seq: 3, AuthorID: "alice"},
		{ID: "op-4", Kind: ot.KindInsert, Position: 3, Text: "D", Seq: 4, AuthorID: "alice"},
	}

	d, err := Restore("doc-1", cp, ops, 5000, 200)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", d.Content())
	assert.Equal(t, uint64(4), d.Version())
}

func TestRestoreThenCommitContinuesFromRestoredVersion(t *testing.T) {
	cp := Checkpoint{Version: 1, Content: "X"}
	d, err := Restore("doc-1", cp, nil, 5000, 200)
	require.NoError(t, err)
	d.Join("alice", RoleEditor)

	committed, err := d.Commit(ot.Operation{ID: "op-2", Kind: ot.KindInsert, Position: 1, Text: "Y", Seq: 2, AuthorID: "alice"}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), committed.Seq)
	assert.Equal(t, "XY", d.Content())
}
