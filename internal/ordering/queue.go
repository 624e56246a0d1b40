// Package ordering buffers operations that arrive out of sequence and
// releases them in strict per-author FIFO order once every earlier op in
// that author's stream has landed. A gap that outlives its timeout
// escalates to a ResyncRequest instead of stalling the document forever.
package ordering

import (
	"container/heap"
	"time"

	"github.com/collabfabric/engine/internal/ot"
)

// ResyncRequest signals that an author's sequence gap was never filled and
// the client must re-synchronize from a fresh snapshot.
type ResyncRequest struct {
	AuthorID   string
	ExpectedSeq uint64
	WaitedSince time.Time
}

type pendingOp struct {
	op        ot.Operation
	arrivedAt time.Time
}

type authorQueue struct {
	nextSeq uint64
	items   pendingHeap
	waiting time.Time // zero if not currently gapped
}

// Queue buffers concurrent authors' ops independently and yields a total
// order of ready-to-commit operations via Push, with CheckGaps escalating
// gaps that outlive the timeout.
type Queue struct {
	gapTimeout time.Duration
	authors    map[string]*authorQueue
}

// New returns an empty Queue with the given gap timeout.
func New(gapTimeout time.Duration) *Queue {
	return &Queue{
		gapTimeout: gapTimeout,
		authors:    make(map[string]*authorQueue),
	}
}

// Push buffers op and returns the ops of op's author that are now ready to
// commit, in sequence order. Each author's stream starts at sequence 1;
// other authors' buffers are not touched, since per-author sequences are
// independent.
func (q *Queue) Push(op ot.Operation, now time.Time) []ot.Operation {
	aq, ok := q.authors[op.AuthorID]
	if !ok {
		aq = &authorQueue{nextSeq: 1}
		q.authors[op.AuthorID] = aq
	}
	heap.Push(&aq.items, pendingOp{op: op, arrivedAt: now})

	var ready []ot.Operation
	for aq.items.Len() > 0 && aq.items[0].op.Seq == aq.nextSeq {
		next := heap.Pop(&aq.items).(pendingOp)
		ready = append(ready, next.op)
		aq.nextSeq = next.op.Seq + 1
		aq.waiting = time.Time{}
	}
	if aq.items.Len() > 0 && aq.waiting.IsZero() {
		aq.waiting = now
	}
	return ready
}

// CheckGaps scans every author with a buffered gap and returns a
// ResyncRequest for each gap that has outlived the configured timeout. The
// corresponding buffered ops are dropped — the client is expected to
// resubmit after resynchronizing.
func (q *Queue) CheckGaps(now time.Time) []ResyncRequest {
	var resyncs []ResyncRequest
	for authorID, aq := range q.authors {
		if aq.waiting.IsZero() {
			continue
		}
		if now.Sub(aq.waiting) >= q.gapTimeout {
			resyncs = append(resyncs, ResyncRequest{
				AuthorID:    authorID,
				ExpectedSeq: aq.nextSeq,
				WaitedSince: aq.waiting,
			})
			aq.items = pendingHeap{}
			aq.waiting = time.Time{}
		}
	}
	return resyncs
}

// PendingCount returns how many ops are buffered for authorID.
func (q *Queue) PendingCount(authorID string) int {
	aq, ok := q.authors[authorID]
	if !ok {
		return 0
	}
	return aq.items.Len()
}

type pendingHeap []pendingOp

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].op.Seq < h[j].op.Seq }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(pendingOp)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
