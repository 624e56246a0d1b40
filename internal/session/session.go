// Package session is the only component aware of the external identity
// layer: it binds a transport connection to a document and a role, checks
// permissions before anything reaches the OT core, and fans committed ops
// back out to every other session on the document. The OT and CRDT engines
// underneath never see a user, only an author id.
//
// Grounded on the register/unregister/broadcast shape of
// internal/websocket's Hub, generalized from "all clients" to "clients of
// one document" and from raw broadcast to a permission-checked
// join/submit/leave surface over internal/document's serialization point.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/collabfabric/engine/internal/cache"
	"github.com/collabfabric/engine/internal/config"
	"github.com/collabfabric/engine/internal/database"
	"github.com/collabfabric/engine/internal/document"
	"github.com/collabfabric/engine/internal/errors"
	"github.com/collabfabric/engine/internal/fabric"
	"github.com/collabfabric/engine/internal/logger"
	"github.com/collabfabric/engine/internal/metrics"
	"github.com/collabfabric/engine/internal/ordering"
	"github.com/collabfabric/engine/internal/ot"
)

// Sender is how a Manager pushes server-initiated events to one session's
// transport. Implementations are expected to be non-blocking (buffer or
// drop) the way internal/websocket's Client.send channel is.
type Sender interface {
	SendRemoteOp(op ot.Operation, newVersion uint64)
	SendParticipant(authorID string, joined bool)
	SendResync(req ordering.ResyncRequest)
}

// JoinResult is returned to a newly joined session so it can paint the
// current document state before processing further events.
type JoinResult struct {
	Content      string
	Version      uint64
	Participants int
}

// Session is a transient binding of (transport connection, author,
// document, role). It never outlives its transport and holds no state the
// document doesn't already track in its Participant record.
type Session struct {
	ID         string
	DocumentID string
	AuthorID   string
	Role       document.Role

	manager *Manager
	sender  Sender
}

// Submit hands op to the document's ordering queue, returning the
// committed (possibly transformed) operation once it reaches the
// serialization point, or an error if it's rejected outright.
func (s *Session) Submit(op ot.Operation) (ot.Operation, error) {
	if op.AuthorID != s.AuthorID {
		metrics.GetManager().Application.PermissionDeniedTotal.WithLabelValues(s.DocumentID, "submit").Inc()
		return ot.Operation{}, errors.PermissionDenied("operation author does not match session")
	}
	if s.Role < document.RoleEditor {
		metrics.GetManager().Application.PermissionDeniedTotal.WithLabelValues(s.DocumentID, "submit").Inc()
		return ot.Operation{}, errors.PermissionDenied("session role does not permit edits")
	}
	metrics.GetManager().Application.OpsSubmittedTotal.WithLabelValues(s.DocumentID, op.Kind.String()).Inc()
	return s.manager.submit(s, op)
}

// Leave tears down the session. The document's participant record is left
// in place; inactivity timeout (not this call) is what eventually discards
// it, since a brief disconnect/reconnect should not lose editor/owner role.
func (s *Session) Leave() {
	s.manager.leave(s)
}

// documentSession is the serialization point's session-manager-side
// neighbor: one per actively-joined document, holding every local session
// and the ordering queue that feeds that document's Commit calls.
type documentSession struct {
	mu       sync.Mutex
	doc      *document.Document
	queue    *ordering.Queue
	sessions map[string]*Session

	remoteCancel context.CancelFunc
}

// Manager owns every document this instance currently has at least one
// session for. It is the process-wide entry point for join/submit/leave.
type Manager struct {
	mu        sync.RWMutex
	documents map[string]*documentSession

	cfg          *config.EngineConfig
	store        *database.CheckpointStore
	fab          *fabric.Fabric
	transformCache *cache.TransformCache

	instanceID string
	nextID     int64
	idMu       sync.Mutex
}

// New constructs a Manager. store and fab may both be nil (persistence and
// cross-instance fan-out disabled respectively, e.g. in tests or a
// single-instance deployment); transformCache may also be nil.
func New(cfg *config.EngineConfig, store *database.CheckpointStore, fab *fabric.Fabric, transformCache *cache.TransformCache, instanceID string) *Manager {
	return &Manager{
		documents:      make(map[string]*documentSession),
		cfg:            cfg,
		store:          store,
		fab:            fab,
		transformCache: transformCache,
		instanceID:     instanceID,
	}
}

// Join enrolls a new session in the document's participant roster with the
// role the caller passes; it performs no permission check and does not
// reject any author. If this is the first session for documentID on this
// instance, the document is loaded from its latest persisted checkpoint
// (or created fresh at version 0) and a fabric subscription is started so
// remote commits from other instances reach this instance's sessions too.
func (m *Manager) Join(ctx context.Context, documentID, authorID string, role document.Role, sender Sender) (*Session, JoinResult, error) {
	ds, err := m.documentSessionFor(ctx, documentID)
	if err != nil {
		return nil, JoinResult{}, err
	}

	ds.mu.Lock()
	ds.doc.Join(authorID, role)
	content := ds.doc.Content()
	version := ds.doc.Version()
	participants := ds.doc.ParticipantCount()

	s := &Session{
		ID:         m.newSessionID(),
		DocumentID: documentID,
		AuthorID:   authorID,
		Role:       role,
		manager:    m,
		sender:     sender,
	}
	ds.sessions[s.ID] = s
	ds.mu.Unlock()

	metrics.Get().ActiveSessions.WithLabelValues(documentID).Set(float64(len(ds.sessions)))
	metrics.GetManager().Application.SessionsJoinedTotal.WithLabelValues(documentID, role.String()).Inc()
	m.broadcastParticipant(ds, authorID, true, s.ID)

	return s, JoinResult{Content: content, Version: version, Participants: participants}, nil
}

func (m *Manager) documentSessionFor(ctx context.Context, documentID string) (*documentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ds, ok := m.documents[documentID]; ok {
		return ds, nil
	}

	doc, err := m.loadOrCreateDocument(documentID)
	if err != nil {
		return nil, err
	}

	ds := &documentSession{
		doc:      doc,
		queue:    ordering.New(m.cfg.SequenceGapTimeout),
		sessions: make(map[string]*Session),
	}
	m.documents[documentID] = ds
	metrics.Get().ActiveDocuments.WithLabelValues().Set(float64(len(m.documents)))

	if m.fab != nil {
		remoteCtx, cancel := context.WithCancel(context.Background())
		ds.remoteCancel = cancel
		if err := m.subscribeRemote(remoteCtx, documentID, ds); err != nil {
			logger.Log.Warn("session: failed to subscribe to fabric channel",
				zap.String("document_id", documentID), zap.Error(err))
		}
	}

	return ds, nil
}

func (m *Manager) loadOrCreateDocument(documentID string) (*document.Document, error) {
	if m.store == nil || !m.cfg.PersistenceEnabled {
		doc := document.New(documentID, "", m.cfg.MaxOpsInMemory, m.cfg.CheckpointInterval)
		doc.SetTransformCache(m.transformCache)
		return doc, nil
	}

	cp, ok, err := m.store.LoadLatestCheckpoint(documentID)
	if err != nil {
		return nil, errors.Inconsistency(documentID, "failed to load checkpoint: "+err.Error())
	}
	if !ok {
		doc := document.New(documentID, "", m.cfg.MaxOpsInMemory, m.cfg.CheckpointInterval)
		doc.SetTransformCache(m.transformCache)
		return doc, nil
	}

	ops, err := m.store.LoadOpsSince(documentID, cp.Version)
	if err != nil {
		return nil, errors.Inconsistency(documentID, "failed to load op log: "+err.Error())
	}
	doc, err := document.Restore(documentID, cp, ops, m.cfg.MaxOpsInMemory, m.cfg.CheckpointInterval)
	if err != nil {
		return nil, err
	}
	doc.SetTransformCache(m.transformCache)
	return doc, nil
}

// submit pushes op through the ordering queue and commits every op that
// becomes ready as a result, broadcasting each to local sessions and the
// fabric. Returns the commit corresponding to op itself.
func (m *Manager) submit(s *Session, op ot.Operation) (ot.Operation, error) {
	m.mu.RLock()
	ds, ok := m.documents[s.DocumentID]
	m.mu.RUnlock()
	if !ok {
		return ot.Operation{}, errors.UnknownDocument(s.DocumentID)
	}

	ds.mu.Lock()
	ready := ds.queue.Push(op, time.Now())
	metrics.Get().OrderingQueueDepth.WithLabelValues(s.DocumentID).Set(float64(ds.queue.PendingCount(op.AuthorID)))

	var committed ot.Operation
	var commitErr error
	var toBroadcast []ot.Operation
	for _, readyOp := range ready {
		committed, commitErr = ds.doc.Commit(readyOp, readyOp.BaseVersion)
		if commitErr != nil {
			break
		}
		toBroadcast = append(toBroadcast, committed)
	}
	ds.mu.Unlock()

	for _, op := range toBroadcast {
		m.persistAndBroadcast(s.DocumentID, ds, op)
	}

	if commitErr != nil {
		metrics.GetManager().Application.OpsRejectedTotal.WithLabelValues(s.DocumentID, "commit_error").Inc()
		return ot.Operation{}, commitErr
	}
	return committed, nil
}

// persistAndBroadcast pushes a freshly committed op to every local session
// (other than its author, who already has the committed result as this
// call's return value) and publishes it to the fabric for other instances.
func (m *Manager) persistAndBroadcast(documentID string, ds *documentSession, op ot.Operation) {
	if m.store != nil && m.cfg.PersistenceEnabled {
		if err := m.store.AppendOp(documentID, op); err != nil {
			logger.Log.Warn("session: failed to persist op", zap.String("document_id", documentID), zap.Error(err))
		}
	}

	ds.mu.Lock()
	version := ds.doc.Version()
	recipients := make([]*Session, 0, len(ds.sessions))
	for _, sess := range ds.sessions {
		if sess.AuthorID != op.AuthorID {
			recipients = append(recipients, sess)
		}
	}
	ds.mu.Unlock()

	for _, sess := range recipients {
		sess.sender.SendRemoteOp(op, version)
	}

	if m.fab != nil {
		m.publishRemote(documentID, op)
	}
}

func (m *Manager) publishRemote(documentID string, op ot.Operation) {
	payload, err := json.Marshal(op)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.fab.Publish(ctx, opsChannel(documentID), payload); err != nil {
		logger.Log.Warn("session: fabric publish failed", zap.String("document_id", documentID), zap.Error(err))
	}
}

// subscribeRemote relays committed ops published by other instances into
// this instance's copy of the document and on to its local sessions.
func (m *Manager) subscribeRemote(ctx context.Context, documentID string, ds *documentSession) error {
	msgs, err := m.fab.Subscribe(ctx, opsChannel(documentID))
	if err != nil {
		return err
	}
	go func() {
		for msg := range msgs {
			var op ot.Operation
			if err := json.Unmarshal(msg.Payload, &op); err != nil {
				continue
			}
			m.applyRemote(documentID, ds, op)
		}
	}()
	return nil
}

// applyRemote integrates an op committed by a peer instance's serialization
// point. It is applied directly (not re-transformed) because the
// publishing instance already performed the single-direction transform
// against its own committed tail; every instance applies ops in the same
// total commit order so no further reconciliation is needed here.
func (m *Manager) applyRemote(documentID string, ds *documentSession, op ot.Operation) {
	ds.mu.Lock()
	if op.Seq <= ds.doc.Version() {
		ds.mu.Unlock()
		return // already applied, e.g. duplicate delivery
	}
	ds.doc.Join(op.AuthorID, document.RoleEditor)
	_, err := ds.doc.Commit(op, op.Seq-1)
	recipients := make([]*Session, 0, len(ds.sessions))
	for _, sess := range ds.sessions {
		recipients = append(recipients, sess)
	}
	version := ds.doc.Version()
	ds.mu.Unlock()

	if err != nil {
		logger.Log.Warn("session: failed to apply remote op", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	metrics.GetManager().Application.RemoteOpsIntegratedTotal.WithLabelValues(documentID).Inc()
	for _, sess := range recipients {
		sess.sender.SendRemoteOp(op, version)
	}
}

// leave removes a session from its document's roster. The participant
// record in document.Document survives until inactivity timeout.
func (m *Manager) leave(s *Session) {
	m.mu.RLock()
	ds, ok := m.documents[s.DocumentID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	ds.mu.Lock()
	delete(ds.sessions, s.ID)
	empty := len(ds.sessions) == 0
	ds.mu.Unlock()

	metrics.Get().ActiveSessions.WithLabelValues(s.DocumentID).Set(float64(len(ds.sessions)))
	metrics.GetManager().Application.SessionsLeftTotal.WithLabelValues(s.DocumentID, "client_leave").Inc()
	m.broadcastParticipant(ds, s.AuthorID, false, s.ID)

	if empty {
		m.evictIfIdle(s.DocumentID, ds)
	}
}

// evictIfIdle drops a document from memory once it has no sessions left,
// after giving InactiveDocumentTTL a chance to let a quick reconnect land
// first. Checkpoint persistence (if enabled) means nothing is lost.
func (m *Manager) evictIfIdle(documentID string, ds *documentSession) {
	time.AfterFunc(m.cfg.InactiveDocumentTTL, func() {
		ds.mu.Lock()
		stillEmpty := len(ds.sessions) == 0
		ds.mu.Unlock()
		if !stillEmpty {
			return
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.documents[documentID]; ok && current == ds {
			if ds.remoteCancel != nil {
				ds.remoteCancel()
			}
			delete(m.documents, documentID)
			metrics.Get().ActiveDocuments.WithLabelValues().Set(float64(len(m.documents)))
		}
	})
}

func (m *Manager) broadcastParticipant(ds *documentSession, authorID string, joined bool, exceptSessionID string) {
	ds.mu.Lock()
	recipients := make([]*Session, 0, len(ds.sessions))
	for id, sess := range ds.sessions {
		if id != exceptSessionID {
			recipients = append(recipients, sess)
		}
	}
	ds.mu.Unlock()
	for _, sess := range recipients {
		sess.sender.SendParticipant(authorID, joined)
	}
}

func (m *Manager) newSessionID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.nextID++
	return fmt.Sprintf("%s-%d", m.instanceID, m.nextID)
}

func opsChannel(documentID string) string {
	return "collab:ops:" + documentID
}

// sweepGaps checks every active document's ordering queue for expired
// sequence gaps and relays the resulting ResyncRequests to the stalled
// author's local sessions. Intended to be run on a ticker by cmd/server.
func (m *Manager) sweepGaps(now time.Time) {
	m.mu.RLock()
	snapshot := make([]*documentSession, 0, len(m.documents))
	for _, ds := range m.documents {
		snapshot = append(snapshot, ds)
	}
	m.mu.RUnlock()

	for _, ds := range snapshot {
		ds.mu.Lock()
		resyncs := ds.queue.CheckGaps(now)
		var recipients []*Session
		if len(resyncs) > 0 {
			for _, sess := range ds.sessions {
				recipients = append(recipients, sess)
			}
		}
		ds.mu.Unlock()

		for _, req := range resyncs {
			metrics.Get().OrderingGapTimeouts.WithLabelValues(req.AuthorID).Inc()
			metrics.GetManager().Application.ResyncRequestsTotal.WithLabelValues(ds.doc.ID).Inc()
			for _, sess := range recipients {
				if sess.AuthorID == req.AuthorID {
					sess.sender.SendResync(req)
				}
			}
		}
	}
}

// SweepGaps is the exported form of sweepGaps for callers driving their own
// ticker (cmd/server runs one at SequenceGapTimeout/2 cadence).
func (m *Manager) SweepGaps(now time.Time) {
	m.sweepGaps(now)
}

// activeDocumentIDs is exposed for diagnostics/health endpoints.
func (m *Manager) activeDocumentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.documents))
	for id := range m.documents {
		ids = append(ids, id)
	}
	return ids
}

// ActiveDocuments returns every document this instance currently has at
// least one local session for.
func (m *Manager) ActiveDocuments() []string {
	return m.activeDocumentIDs()
}
