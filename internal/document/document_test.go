package document

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabfabric/engine/internal/cache"
	"github.com/collabfabric/engine/internal/ot"
)

func TestCommitAppliesAndAdvancesVersion(t *testing.T) {
	doc := New("doc-1", "ABCDE", 0, 0)
	doc.Join("alice", RoleEditor)

	committed, err := doc.Commit(ot.Operation{AuthorID: "alice", Kind: ot.KindInsert, Position: 2, Text: "X", Seq: 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ABXCDE", doc.Content())
	assert.Equal(t, uint64(1), doc.Version())
	assert.Equal(t, uint64(1), committed.Seq)
}

func TestCommitTransformsAgainstConcurrentOps(t *testing.T) {
	doc := New("doc-1", "ABCDE", 0, 0)
	doc.Join("alice", RoleEditor)
	doc.Join("bob", RoleEditor)

	_, err := doc.Commit(ot.Operation{AuthorID: "alice", Kind: ot.KindInsert, Position: 2, Text: "X", Seq: 1}, 0)
	require.NoError(t, err)

	// Bob's op was authored against version 0 but commits second; it must
	// be transformed against alice's already-committed insert.
	committed, err := doc.Commit(ot.Operation{AuthorID: "bob", Kind: ot.KindInsert, Position: 4, Text: "Y", Seq: 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ABXCDYE", doc.Content())
	assert.Equal(t, 5, committed.Position)
}

func TestCommitUsesTransformCacheWhenWired(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	redisClient, err := cache.NewRedisClient(mr.Host(), mr.Port(), "")
	require.NoError(t, err)
	transformCache := cache.NewTransformCache(redisClient, time.Minute)

	doc := New("doc-1", "ABCDE", 0, 0)
	doc.SetTransformCache(transformCache)
	doc.Join("alice", RoleEditor)
	doc.Join("bob", RoleEditor)

	_, err = doc.Commit(ot.Operation{ID: "op-alice", AuthorID: "alice", Kind: ot.KindInsert, Position: 2, Text: "X", Seq: 1}, 0)
	require.NoError(t, err)

	committed, err := doc.Commit(ot.Operation{ID: "op-bob", AuthorID: "bob", Kind: ot.KindInsert, Position: 4, Text: "Y", Seq: 1}, 0)
	require.NoError(t, err)
	assert.Equal(t, "ABXCDYE", doc.Content())
	assert.Equal(t, 5, committed.Position)
}

func TestCommitRejectsViewerRole(t *testing.T) {
	doc := New("doc-1", "ABCDE", 0, 0)
	doc.Join("eve", RoleViewer)

	_, err := doc.Commit(ot.Operation{AuthorID: "eve", Kind: ot.KindInsert, Position: 0, Text: "X", Seq: 1}, 0)
	assert.Error(t, err)
}

func TestRollbackReplaysFromCheckpoint(t *testing.T) {
	doc := New("doc-1", "A", 0, 1) // checkpoint every commit
	doc.Join("alice", RoleEditor)

	_, err := doc.Commit(ot.Operation{AuthorID: "alice", Kind: ot.KindInsert, Position: 1, Text: "B", Seq: 1}, 0)
	require.NoError(t, err)
	_, err = doc.Commit(ot.Operation{AuthorID: "alice", Kind: ot.KindInsert, Position: 2, Text: "C", Seq: 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, "ABC", doc.Content())

	require.NoError(t, doc.Rollback(1))
	assert.Equal(t, "AB", doc.Content())
	assert.Equal(t, uint64(1), doc.Version())
}

func TestRollbackUnreachableVersion(t *testing.T) {
	doc := New("doc-1", "A", 0, 0)
	err := doc.Rollback(5)
	assert.Error(t, err)
}

func TestJoinDoesNotDowngradeRole(t *testing.T) {
	doc := New("doc-1", "A", 0, 0)
	doc.Join("alice", RoleOwner)
	doc.Join("alice", RoleViewer)

	_, err := doc.Commit(ot.Operation{AuthorID: "alice", Kind: ot.KindInsert, Position: 0, Text: "X", Seq: 1}, 0)
	assert.NoError(t, err)
}
