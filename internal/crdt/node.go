// Package crdt implements the replicated node set that backs a document's
// content: a set of logically-positioned, possibly-tombstoned characters
// that every replica converges on regardless of delivery order, as long as
// each remote op is integrated only once its causal dependencies are
// satisfied.
package crdt

import (
	"sort"
	"sync"

	"github.com/collabfabric/engine/internal/position"
)

// Node is a single inserted character (or short run, for Insert ops wider
// than one rune — kept as one Node per rune to keep Between minting simple).
type Node struct {
	Pos       position.Position
	Value     rune
	AuthorID  string
	Tombstone bool
}

// Doc is the CRDT-backed node set for one document. All mutation happens
// through InsertBetween/DeleteAt/ApplyRemote; Materialize is the only read
// path into a normal string.
type Doc struct {
	mu    sync.RWMutex
	nodes []Node // kept sorted by Pos at all times
	clock position.VectorClock

	// pending holds remote ops whose causal dependencies are not yet
	// satisfied, keyed by the op id so duplicates are easy to drop.
	pending map[string]RemoteOp
}

// RemoteOp is an insert or delete arriving from another replica, carrying
// the vector-clock snapshot it depended on at mint time.
type RemoteOp struct {
	ID       string
	Kind     RemoteKind
	Pos      position.Position
	Value    rune
	AuthorID string
	DependsOn position.VectorClock
}

type RemoteKind int

const (
	RemoteInsert RemoteKind = iota
	RemoteDelete
)

// NewDoc returns an empty document bounded by the sentinel Min/Max
// positions so every insert has somewhere to be minted Between.
func NewDoc() *Doc {
	return &Doc{
		clock:   position.NewVectorClock(),
		pending: make(map[string]RemoteOp),
	}
}

// InsertBetween mints a new position strictly between the nodes at index
// left and left+1 (using the document's virtual Min/Max bounds at the
// edges) and inserts value there, authored by authorID. It returns the
// minted Node so the caller can broadcast it as a RemoteOp.
func (d *Doc) InsertBetween(left int, value rune, authorID string) Node {
	d.mu.Lock()
	defer d.mu.Unlock()

	lo := position.Min()
	hi := position.Max()
	if left >= 0 && left < len(d.nodes) {
		lo = d.nodes[left].Pos
	}
	if left+1 >= 0 && left+1 < len(d.nodes) {
		hi = d.nodes[left+1].Pos
	}

	p := position.Between(lo, hi, authorID)
	n := Node{Pos: p, Value: value, AuthorID: authorID}
	d.insertSorted(n)
	d.clock.Inc(authorID)
	return n
}

// DeleteAt tombstones the visible (non-tombstoned) node at visibleIndex.
// Tombstones are kept rather than removed so concurrent positions minted
// relative to a deleted node remain well-defined.
func (d *Doc) DeleteAt(visibleIndex int, authorID string) (Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := -1
	for i := range d.nodes {
		if d.nodes[i].Tombstone {
			continue
		}
		seen++
		if seen == visibleIndex {
			d.nodes[i].Tombstone = true
			d.clock.Inc(authorID)
			return d.nodes[i], true
		}
	}
	return Node{}, false
}

// ApplyRemote integrates a remote op once its dependencies are satisfied.
// If the op's DependsOn clock is not yet dominated by the local clock, the
// op is buffered in pending and retried every time the local clock
// advances (via integrateReady). This is the real causality gate: unlike
// an "accept everything immediately" engine, out-of-order delivery never
// corrupts convergence.
func (d *Doc) ApplyRemote(op RemoteOp) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.pending[op.ID]; dup {
		return
	}
	if op.Kind == RemoteInsert {
		for i := range d.nodes {
			if position.Equal(d.nodes[i].Pos, op.Pos) {
				return // already integrated
			}
		}
	}
	if !position.Ready(d.clock, op.DependsOn) {
		d.pending[op.ID] = op
		return
	}
	d.integrate(op)
	d.drainPendingLocked()
}

// integrate applies an already-ready op to the node set. Caller holds mu.
func (d *Doc) integrate(op RemoteOp) {
	switch op.Kind {
	case RemoteInsert:
		d.insertSorted(Node{Pos: op.Pos, Value: op.Value, AuthorID: op.AuthorID})
	case RemoteDelete:
		for i := range d.nodes {
			if position.Equal(d.nodes[i].Pos, op.Pos) {
				d.nodes[i].Tombstone = true
				break
			}
		}
	}
	d.clock.Inc(op.AuthorID)
}

// drainPendingLocked repeatedly scans pending for ops that have become
// ready after the clock advanced, integrating them to a fixed point.
// Caller holds mu.
func (d *Doc) drainPendingLocked() {
	for {
		progressed := false
		for id, op := range d.pending {
			if position.Ready(d.clock, op.DependsOn) {
				delete(d.pending, id)
				d.integrate(op)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// PendingCount reports how many remote ops are buffered behind unmet
// causal dependencies. Exposed for tests and health diagnostics.
func (d *Doc) PendingCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}

// Clock returns a copy of the document's current vector clock.
func (d *Doc) Clock() position.VectorClock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clock.Clone()
}

func (d *Doc) insertSorted(n Node) {
	i := sort.Search(len(d.nodes), func(i int) bool {
		return position.Cmp(d.nodes[i].Pos, n.Pos) >= 0
	})
	d.nodes = append(d.nodes, Node{})
	copy(d.nodes[i+1:], d.nodes[i:])
	d.nodes[i] = n
}

// Materialize renders the document's current visible content as a string,
// skipping tombstones.
func (d *Doc) Materialize() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]rune, 0, len(d.nodes))
	for _, n := range d.nodes {
		if !n.Tombstone {
			out = append(out, n.Value)
		}
	}
	return string(out)
}

// Len returns the number of visible (non-tombstoned) nodes.
func (d *Doc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, node := range d.nodes {
		if !node.Tombstone {
			n++
		}
	}
	return n
}
