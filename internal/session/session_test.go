package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabfabric/engine/internal/config"
	"github.com/collabfabric/engine/internal/document"
	"github.com/collabfabric/engine/internal/ordering"
	"github.com/collabfabric/engine/internal/ot"
)

type recordingSender struct {
	mu       sync.Mutex
	remote   []ot.Operation
	resyncs  []ordering.ResyncRequest
}

func (r *recordingSender) SendRemoteOp(op ot.Operation, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = append(r.remote, op)
}

func (r *recordingSender) SendParticipant(string, bool) {}

func (r *recordingSender) SendResync(req ordering.ResyncRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncs = append(r.resyncs, req)
}

func testConfig() *config.EngineConfig {
	return &config.EngineConfig{
		MaxOpsInMemory:      5000,
		CheckpointInterval:  200,
		SequenceGapTimeout:  50 * time.Millisecond,
		InactiveDocumentTTL: time.Millisecond,
		PersistenceEnabled:  false,
	}
}

func TestJoinReturnsCurrentDocumentState(t *testing.T) {
	m := New(testConfig(), nil, nil, nil, "instance-a")
	sender := &recordingSender{}

	s, result, err := m.Join(context.Background(), "doc-1", "alice", document.RoleOwner, sender)
	require.NoError(t, err)
	assert.Equal(t, "", result.Content)
	assert.Equal(t, uint64(0), result.Version)
	assert.Equal(t, "alice", s.AuthorID)
}

func TestSubmitRejectsAuthorMismatch(t *testing.T) {
	m := New(testConfig(), nil, nil, nil, "instance-a")
	sender := &recordingSender{}
	s, _, err := m.Join(context.Background(), "doc-1", "alice", document.RoleEditor, sender)
	require.NoError(t, err)

	_, err = s.Submit(ot.Operation{AuthorID: "bob", Kind: ot.KindInsert, Position: 0, Text: "x", Seq: 1})
	assert.Error(t, err)
}

func TestSubmitRejectsViewerRole(t *testing.T) {
	m := New(testConfig(), nil, nil, nil, "instance-a")
	sender := &recordingSender{}
	s, _, err := m.Join(context.Background(), "doc-1", "alice", document.RoleViewer, sender)
	require.NoError(t, err)

	_, err = s.Submit(ot.Operation{AuthorID: "alice", Kind: ot.KindInsert, Position: 0, Text: "x", Seq: 1})
	assert.Error(t, err)
}

func TestSubmitCommitsAndBroadcastsToOtherSessions(t *testing.T) {
	m := New(testConfig(), nil, nil, nil, "instance-a")
	aliceSender := &recordingSender{}
	bobSender := &recordingSender{}

	alice, _, err := m.Join(context.Background(), "doc-1", "alice", document.RoleEditor, aliceSender)
	require.NoError(t, err)
	_, _, err = m.Join(context.Background(), "doc-1", "bob", document.RoleEditor, bobSender)
	require.NoError(t, err)

	committed, err := alice.Submit(ot.Operation{
		ID: "op-1", AuthorID: "alice", Kind: ot.KindInsert, Position: 0, Text: "hi", Seq: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), committed.Seq)

	bobSender.mu.Lock()
	defer bobSender.mu.Unlock()
	require.Len(t, bobSender.remote, 1)
	assert.Equal(t, "hi", bobSender.remote[0].Text)

	aliceSender.mu.Lock()
	defer aliceSender.mu.Unlock()
	assert.Empty(t, aliceSender.remote) // author doesn't get its own op echoed back as a RemoteOp
}

func TestSubmitBuffersOutOfOrderSeqUntilGapFills(t *testing.T) {
	m := New(testConfig(), nil, nil, nil, "instance-a")
	sender := &recordingSender{}
	s, _, err := m.Join(context.Background(), "doc-1", "alice", document.RoleEditor, sender)
	require.NoError(t, err)

	_, err = s.Submit(ot.Operation{ID: "op-2", AuthorID: "alice", Kind: ot.KindInsert, Position: 0, Text: "b", Seq: 2})
	require.NoError(t, err) // buffered, not yet committed — Submit doesn't error on buffering
	assert.Equal(t, uint64(0), seqVersion(t, m, "doc-1"))

	_, err = s.Submit(ot.Operation{ID: "op-1", AuthorID: "alice", Kind: ot.KindInsert, Position: 0, Text: "a", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seqVersion(t, m, "doc-1"))
}

func seqVersion(t *testing.T, m *Manager, documentID string) uint64 {
	t.Helper()
	m.mu.RLock()
	ds, ok := m.documents[documentID]
	m.mu.RUnlock()
	require.True(t, ok)
	return ds.doc.Version()
}

func TestLeaveRemovesSessionFromRoster(t *testing.T) {
	m := New(testConfig(), nil, nil, nil, "instance-a")
	sender := &recordingSender{}
	s, _, err := m.Join(context.Background(), "doc-1", "alice", document.RoleEditor, sender)
	require.NoError(t, err)

	s.Leave()

	m.mu.RLock()
	ds := m.documents["doc-1"]
	m.mu.RUnlock()
	ds.mu.Lock()
	defer ds.mu.Unlock()
	assert.Empty(t, ds.sessions)
}
