// Package document owns a single document's authoritative state: content,
// version, the operation log since it was last trimmed, and the checkpoint
// chain itself. It is the serialization point — every op that reaches
// Commit is transformed against the committed tail and applied in one
// total order, which is what lets internal/ot's single-direction transform
// be enough without full bidirectional reconciliation.
package document

import (
	"context"
	"sync"

	"github.com/collabfabric/engine/internal/cache"
	"github.com/collabfabric/engine/internal/errors"
	"github.com/collabfabric/engine/internal/metrics"
	"github.com/collabfabric/engine/internal/ot"
)

// Checkpoint is a full content snapshot at a given version, used to bound
// how far the op-log must be replayed on rollback or cold start.
type Checkpoint struct {
	Version uint64
	Content string
}

// Participant tracks a connected author's last-seen sequence number, for
// server-side gap detection independent of the per-session ordering queue.
type Participant struct {
	AuthorID   string
	LastSeq    uint64
	Role       Role
}

// Role gates what an author may submit.
type Role int

const (
	RoleViewer Role = iota
	RoleEditor
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleEditor:
		return "editor"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Document is one collaboratively-edited document's server-side state.
type Document struct {
	mu sync.RWMutex

	ID      string
	content string
	version uint64

	opLog       []ot.Operation // ops committed since the log was last trimmed
	checkpoints []Checkpoint

	participants map[string]*Participant

	maxOpsInMemory     int
	checkpointInterval int

	transformCache *cache.TransformCache
}

// SetTransformCache wires an optional transform-result cache into the
// document's commit path. A nil cache (the zero value of this field) leaves
// Commit behaving exactly as it did before caching existed.
func (d *Document) SetTransformCache(c *cache.TransformCache) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transformCache = c
}

// New initializes a document at version 0 with the given starting content
// (typically empty for a brand new document, or a checkpoint's content
// when the instance is recovering one already in progress).
func New(id, content string, maxOpsInMemory, checkpointInterval int) *Document {
	return &Document{
		ID:                 id,
		content:            content,
		participants:       make(map[string]*Participant),
		maxOpsInMemory:     maxOpsInMemory,
		checkpointInterval: checkpointInterval,
		checkpoints:        []Checkpoint{{Version: 0, Content: content}},
	}
}

// Restore rebuilds a document from a persisted checkpoint plus every op
// committed after it, the recovery path for an instance that did not keep
// this document resident in memory.
func Restore(id string, cp Checkpoint, opsSinceCheckpoint []ot.Operation, maxOpsInMemory, checkpointInterval int) (*Document, error) {
	d := &Document{
		ID:                 id,
		content:            cp.Content,
		version:            cp.Version,
		participants:       make(map[string]*Participant),
		maxOpsInMemory:     maxOpsInMemory,
		checkpointInterval: checkpointInterval,
		checkpoints:        []Checkpoint{cp},
		opLog:              opsSinceCheckpoint,
	}
	content := cp.Content
	for _, op := range opsSinceCheckpoint {
		var err error
		content, err = ot.Apply(op, content)
		if err != nil {
			return nil, errors.Inconsistency(id, "replay from checkpoint failed: "+err.Error())
		}
	}
	d.content = content
	d.version = cp.Version + uint64(len(opsSinceCheckpoint))
	return d, nil
}

// Version returns the document's current committed version.
func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Content returns the document's current materialized content.
func (d *Document) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// Join registers a participant at the given role, rejecting a duplicate
// join at a lower role than already held (a reconnect should not be able
// to downgrade an owner to a viewer).
func (d *Document) Join(authorID string, role Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.participants[authorID]; ok {
		if role > existing.Role {
			existing.Role = role
		}
		return
	}
	d.participants[authorID] = &Participant{AuthorID: authorID, Role: role}
}

// Leave removes a participant from the document's roster. It does not
// affect the op-log or content.
func (d *Document) Leave(authorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.participants, authorID)
}

// Commit transforms op against every op committed after op's base version,
// applies the result, advances the version, and appends it to the op-log.
// It returns the committed (possibly transformed) operation.
func (d *Document) Commit(op ot.Operation, baseVersion uint64) (ot.Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.participants[op.AuthorID]
	if !ok || p.Role < RoleEditor {
		return ot.Operation{}, errors.PermissionDenied("author lacks edit role on this document")
	}

	if baseVersion > d.version {
		return ot.Operation{}, errors.InvalidOperation("op base version is ahead of document version")
	}

	committed := op
	for _, prior := range d.opsSinceLocked(baseVersion) {
		committed = d.transformLocked(committed, prior)
	}

	newContent, err := ot.Apply(committed, d.content)
	if err != nil {
		return ot.Operation{}, err
	}

	d.content = newContent
	d.version++
	committed.Seq = d.version
	d.opLog = append(d.opLog, committed)
	p.LastSeq = op.Seq

	app := metrics.GetManager().Application
	app.OpsAppliedTotal.WithLabelValues(d.ID, committed.Kind.String()).Inc()

	if d.checkpointInterval > 0 && d.version%uint64(d.checkpointInterval) == 0 {
		d.checkpointLocked()
		app.CheckpointsCreatedTotal.WithLabelValues(d.ID).Inc()
	}
	d.trimLocked()

	return committed, nil
}

// transformLocked consults the transform cache, if any, before falling back
// to ot.Transform. Caller holds mu.
func (d *Document) transformLocked(a, b ot.Operation) ot.Operation {
	if d.transformCache == nil {
		return ot.Transform(a, b)
	}
	ctx := context.Background()
	if cached, ok := d.transformCache.Get(ctx, d.version, a, b); ok {
		return cached
	}
	result := ot.Transform(a, b)
	d.transformCache.Put(ctx, d.version, a, b, result)
	return result
}

// opsSinceLocked returns the ops committed strictly after baseVersion.
// Caller holds mu.
func (d *Document) opsSinceLocked(baseVersion uint64) []ot.Operation {
	// version - len(opLog) is the version the in-memory log starts at,
	// since opLog only holds ops since the last trim/checkpoint.
	logStart := d.version - uint64(len(d.opLog))
	if baseVersion < logStart {
		// The caller's base predates what we still hold in memory; every
		// retained op must be applied. Checkpoints exist precisely so this
		// never needs to reach further back than a full document replay.
		return d.opLog
	}
	offset := baseVersion - logStart
	if offset >= uint64(len(d.opLog)) {
		return nil
	}
	return d.opLog[offset:]
}

// checkpointLocked snapshots current content at the current version.
// Caller holds mu.
func (d *Document) checkpointLocked() {
	d.checkpoints = append(d.checkpoints, Checkpoint{Version: d.version, Content: d.content})
}

// trimLocked drops log entries once more than maxOpsInMemory have
// accumulated, provided a checkpoint exists at or after the trim point.
// Caller holds mu.
func (d *Document) trimLocked() {
	if d.maxOpsInMemory <= 0 || len(d.opLog) <= d.maxOpsInMemory {
		return
	}
	latestCheckpoint := d.checkpoints[len(d.checkpoints)-1]
	logStart := d.version - uint64(len(d.opLog))
	if latestCheckpoint.Version <= logStart {
		return // nothing safe to trim yet
	}
	drop := latestCheckpoint.Version - logStart
	if drop > uint64(len(d.opLog)) {
		drop = uint64(len(d.opLog))
	}
	d.opLog = d.opLog[drop:]
}

// Rollback restores the document to targetVersion by replaying from the
// nearest checkpoint at or before it. Returns UnreachableVersion if no
// checkpoint covers it (it was trimmed away without being superseded by a
// still-available earlier one).
func (d *Document) Rollback(targetVersion uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	app := metrics.GetManager().Application

	if targetVersion > d.version {
		app.RollbackFailuresTotal.WithLabelValues(d.ID).Inc()
		return errors.UnreachableVersion(targetVersion)
	}

	var base Checkpoint
	found := false
	for _, cp := range d.checkpoints {
		if cp.Version <= targetVersion && (!found || cp.Version > base.Version) {
			base = cp
			found = true
		}
	}
	if !found {
		app.RollbackFailuresTotal.WithLabelValues(d.ID).Inc()
		return errors.UnreachableVersion(targetVersion)
	}

	logStart := d.version - uint64(len(d.opLog))
	if base.Version < logStart {
		app.RollbackFailuresTotal.WithLabelValues(d.ID).Inc()
		return errors.UnreachableVersion(targetVersion)
	}

	content := base.Content
	replayFrom := base.Version - logStart
	replayTo := targetVersion - logStart
	for i := replayFrom; i < replayTo; i++ {
		var err error
		content, err = ot.Apply(d.opLog[i], content)
		if err != nil {
			return errors.Inconsistency(d.ID, "checkpoint replay failed: "+err.Error())
		}
	}

	d.content = content
	d.version = targetVersion
	d.opLog = d.opLog[:replayTo]
	app.RollbacksTotal.WithLabelValues(d.ID).Inc()
	return nil
}

// ParticipantCount returns the number of currently joined participants.
func (d *Document) ParticipantCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.participants)
}
