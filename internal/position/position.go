// Package position implements the logical position and vector clock
// primitives the CRDT and OT engines order operations by.
package position

import (
	"fmt"
	"strings"
)

// Position is a totally ordered, densely-mintable identifier for a CRDT
// node. Comparison is lexicographic over the path: major, then minor, then
// author. The path is allowed to grow (path-based identifiers) so that a
// new position can always be minted strictly between two existing ones
// without the precision loss a float-based minor field would suffer.
type Position struct {
	segments []segment
}

type segment struct {
	major  int64
	minor  int64
	author string
}

// negInf and posInf are the major values of the Min and Max sentinels that
// bound every document: before the first character and after the last.
var (
	negInf = int64(-1 << 62)
	posInf = int64(1 << 62)
)

// Min returns the sentinel position preceding every mintable position.
func Min() Position {
	return Position{segments: []segment{{major: negInf, minor: 0, author: ""}}}
}

// Max returns the sentinel position following every mintable position.
func Max() Position {
	return Position{segments: []segment{{major: posInf, minor: 0, author: ""}}}
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func Cmp(a, b Position) int {
	n := len(a.segments)
	if len(b.segments) < n {
		n = len(b.segments)
	}
	for i := 0; i < n; i++ {
		if c := cmpSegment(a.segments[i], b.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.segments) < len(b.segments):
		return -1
	case len(a.segments) > len(b.segments):
		return 1
	default:
		return 0
	}
}

func cmpSegment(a, b segment) int {
	switch {
	case a.major != b.major:
		if a.major < b.major {
			return -1
		}
		return 1
	case a.minor != b.minor:
		if a.minor < b.minor {
			return -1
		}
		return 1
	case a.author != b.author:
		return strings.Compare(a.author, b.author)
	default:
		return 0
	}
}

// Equal reports whether a and b denote the same position.
func Equal(a, b Position) bool { return Cmp(a, b) == 0 }

// Between mints a position strictly greater than a and strictly less than
// b, attributed to author. If a and b's leading segments cannot be
// subdivided without precision loss (they are adjacent integers), the
// result grows the path by one more segment instead of failing — this is
// what keeps the representation dense without unbounded precision growth
// in any single field.
func Between(a, b Position, author string) Position {
	if Cmp(a, b) >= 0 {
		panic("position: Between requires a < b")
	}
	out := make([]segment, 0, maxLen(a, b)+1)
	i := 0
	for {
		sa, hasA := segAt(a, i)
		sb, hasB := segAt(b, i)

		switch {
		case !hasA && !hasB:
			// Paths identical so far but a < b was asserted; this branch
			// is unreachable given the Cmp check above, but terminate
			// safely rather than loop forever.
			out = append(out, segment{major: 0, minor: 1, author: author})
			return Position{segments: out}

		case !hasA:
			// a ran out first: mint something below b's next segment.
			mid, ok := midpoint(minSegment(), sb)
			if ok {
				out = append(out, withAuthor(mid, author))
				return Position{segments: out}
			}
			out = append(out, minSegment())

		case !hasB:
			mid, ok := midpoint(sa, maxSegment())
			if ok {
				out = append(out, withAuthor(mid, author))
				return Position{segments: out}
			}
			out = append(out, sa)

		default:
			if cmpSegment(sa, sb) < 0 {
				mid, ok := midpoint(sa, sb)
				if ok {
					out = append(out, withAuthor(mid, author))
					return Position{segments: out}
				}
				// Adjacent segments: keep sa verbatim in the path and
				// descend another level so the new position still sorts
				// strictly above a.
				out = append(out, sa)
			} else {
				// Equal leading segments so far; keep walking the shared
				// prefix.
				out = append(out, sa)
			}
		}
		i++
	}
}

func maxLen(a, b Position) int {
	if len(a.segments) > len(b.segments) {
		return len(a.segments)
	}
	return len(b.segments)
}

func segAt(p Position, i int) (segment, bool) {
	if i < len(p.segments) {
		return p.segments[i], true
	}
	return segment{}, false
}

func minSegment() segment { return segment{major: negInf, minor: 0, author: ""} }
func maxSegment() segment { return segment{major: posInf, minor: 0, author: ""} }

func withAuthor(s segment, author string) segment {
	s.author = author
	return s
}

// midpoint returns a segment strictly between a and b on the major axis
// when there is an integer gap, otherwise on the minor axis. ok is false
// when no single segment can be wedged between them (they are adjacent on
// both axes), signalling the caller to extend the path instead.
func midpoint(a, b segment) (segment, bool) {
	if b.major-a.major >= 2 {
		return segment{major: a.major + (b.major-a.major)/2, minor: 0}, true
	}
	if b.major-a.major == 1 {
		// No room between majors; subdivide the minor axis below b's
		// major by taking the space (a.minor, +inf) vs (-inf, b.minor
		// projected onto a.major).
		if a.minor < posInf-1 {
			return segment{major: a.major, minor: a.minor + 1}, true
		}
		return segment{}, false
	}
	if b.minor-a.minor >= 2 {
		return segment{major: a.major, minor: a.minor + (b.minor-a.minor)/2}, true
	}
	return segment{}, false
}

// String renders the position as a dotted path, useful for logging and
// cache keys.
func (p Position) String() string {
	parts := make([]string, len(p.segments))
	for i, s := range p.segments {
		parts[i] = fmt.Sprintf("%d:%d:%s", s.major, s.minor, s.author)
	}
	return strings.Join(parts, "/")
}

// VectorClock maps author id to a monotonically non-decreasing counter.
// The zero value is a valid empty clock.
type VectorClock map[string]uint64

// NewVectorClock returns an empty clock.
func NewVectorClock() VectorClock {
	return make(VectorClock)
}

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Inc increments author's counter in place and returns the new value.
func (vc VectorClock) Inc(author string) uint64 {
	vc[author]++
	return vc[author]
}

// Merge returns the elementwise maximum of a and b.
func Merge(a, b VectorClock) VectorClock {
	out := a.Clone()
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Dominates reports whether every component of a is >= the matching
// component of b, with at least one strictly greater (or a carrying an
// author b has never seen).
func Dominates(a, b VectorClock) bool {
	strictlyGreater := false
	for k, bv := range b {
		av := a[k]
		if av < bv {
			return false
		}
		if av > bv {
			strictlyGreater = true
		}
	}
	for k, av := range a {
		if _, ok := b[k]; !ok && av > 0 {
			strictlyGreater = true
		}
	}
	return strictlyGreater
}

// Ready reports whether every causal dependency recorded in dep (an op's
// vector-clock snapshot at mint time) has already been applied locally,
// i.e. local dominates-or-equals dep component-wise. This is the causality
// gate `apply_remote` must pass before a remote op may be integrated.
func Ready(local, dep VectorClock) bool {
	for author, need := range dep {
		if local[author] < need {
			return false
		}
	}
	return true
}
