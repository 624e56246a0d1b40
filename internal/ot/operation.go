// Package ot implements the pure, stateless operational-transformation
// core: transform, apply, and inverse over single-document linear text.
//
// Built around the classic Insert/Delete/Retain/Format op set, with
// (sequence_number, author_id) as the sole transform tie-break — never
// wall-clock time, which is never available with the precision a
// deterministic tie-break needs.
package ot

import (
	"github.com/collabfabric/engine/internal/errors"
)

// Kind identifies the shape of an Operation's payload.
type Kind int

const (
	KindInsert Kind = iota
	KindDelete
	KindRetain
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindRetain:
		return "retain"
	case KindFormat:
		return "format"
	default:
		return "unknown"
	}
}

// Operation is the unit of change the OT engine transforms and applies.
type Operation struct {
	ID         string
	DocumentID string
	AuthorID   string
	ClientID   string
	Kind       Kind
	Position   int
	Text       string         // Insert payload
	Length     int            // Delete/Retain/Format span
	Attrs      map[string]any // Format attribute deltas
	PrevAttrs  map[string]any // Format: attribute values immediately before this op, for exact Inverse
	Seq        uint64         // monotonic per (document, author)
	BaseVersion uint64        // document version the author observed when creating this op
	Timestamp  int64          // advisory only, never a tie-break
	Deps       []string       // optional explicit op-id dependencies
}

// span returns the half-open [start, end) character range this op touches
// in the content it is about to be applied to. Insert has a zero-width
// span at Position.
func (op Operation) span() (start, end int) {
	if op.Kind == KindInsert {
		return op.Position, op.Position
	}
	return op.Position, op.Position + op.Length
}

// Apply deterministically applies op to content, returning the result.
// Fails with InvalidOperation if position/length exceeds content bounds.
func Apply(op Operation, content string) (string, error) {
	runes := []rune(content)
	n := len(runes)

	switch op.Kind {
	case KindInsert:
		if op.Position < 0 || op.Position > n {
			return "", errors.InvalidOperation("insert position out of bounds")
		}
		out := make([]rune, 0, n+len([]rune(op.Text)))
		out = append(out, runes[:op.Position]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, runes[op.Position:]...)
		return string(out), nil

	case KindDelete:
		start, end := op.span()
		if start < 0 || end > n || start > end {
			return "", errors.InvalidOperation("delete range out of bounds")
		}
		out := make([]rune, 0, n-(end-start))
		out = append(out, runes[:start]...)
		out = append(out, runes[end:]...)
		return string(out), nil

	case KindRetain, KindFormat:
		start, end := op.span()
		if start < 0 || end > n || start > end {
			return "", errors.InvalidOperation("retain/format range out of bounds")
		}
		// Retain and format never change content length or bytes; they
		// only annotate a range. Content is returned unchanged.
		return content, nil

	default:
		return "", errors.InvalidOperation("unknown operation kind")
	}
}

// Inverse produces an operation that, applied to apply(op, contentBefore),
// restores contentBefore exactly. Delete's inverse captures the deleted
// substring at apply time so the restore is byte-exact regardless of what
// else has happened to the document since.
func Inverse(op Operation, contentBefore string) (Operation, error) {
	runes := []rune(contentBefore)
	n := len(runes)

	switch op.Kind {
	case KindInsert:
		return Operation{
			ID:         op.ID + ":inv",
			DocumentID: op.DocumentID,
			AuthorID:   op.AuthorID,
			ClientID:   op.ClientID,
			Kind:       KindDelete,
			Position:   op.Position,
			Length:     len([]rune(op.Text)),
			Seq:        op.Seq,
		}, nil

	case KindDelete:
		start, end := op.span()
		if start < 0 || end > n || start > end {
			return Operation{}, errors.InvalidOperation("delete range out of bounds")
		}
		return Operation{
			ID:         op.ID + ":inv",
			DocumentID: op.DocumentID,
			AuthorID:   op.AuthorID,
			ClientID:   op.ClientID,
			Kind:       KindInsert,
			Position:   start,
			Text:       string(runes[start:end]),
			Seq:        op.Seq,
		}, nil

	case KindRetain:
		return op, nil

	case KindFormat:
		// Exact inverse needs the attribute values this op overwrote.
		// Callers that mint Format ops are expected to snapshot those into
		// PrevAttrs before applying; without them the only safe inverse is
		// identity, which round-trips the range but not the values.
		inv := op
		inv.ID = op.ID + ":inv"
		if op.PrevAttrs != nil {
			inv.Attrs = op.PrevAttrs
			inv.PrevAttrs = op.Attrs
		}
		return inv, nil

	default:
		return Operation{}, errors.InvalidOperation("unknown operation kind")
	}
}

// precedes implements the canonical linearization tie-break: (sequence
// number, author id). Wall-clock timestamps are advisory only and MUST
// NOT participate here — sequence+author is the only total order the
// system trusts across hosts.
func precedes(a, b Operation) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.AuthorID < b.AuthorID
}
