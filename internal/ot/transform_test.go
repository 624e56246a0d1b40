package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// converge applies a unchanged, then b transformed against a, and returns
// the resulting content. This is the single commit-order path the ordering
// queue actually exercises: the first-arriving op is never transformed.
func converge(t *testing.T, base string, first, second Operation) string {
	t.Helper()
	afterFirst, err := Apply(first, base)
	require.NoError(t, err)
	secondPrime := Transform(second, first)
	afterSecond, err := Apply(secondPrime, afterFirst)
	require.NoError(t, err)
	return afterSecond
}

func TestScenarioA_ConcurrentInserts(t *testing.T) {
	alice := Operation{Kind: KindInsert, Position: 2, Text: "X", Seq: 1, AuthorID: "alice"}
	bob := Operation{Kind: KindInsert, Position: 4, Text: "Y", Seq: 1, AuthorID: "bob"}
	assert.Equal(t, "ABXCDYE", converge(t, "ABCDE", alice, bob))
}

func TestScenarioB_InsertInsideDelete(t *testing.T) {
	alice := Operation{Kind: KindDelete, Position: 0, Length: 6, Seq: 1, AuthorID: "alice"}
	bob := Operation{Kind: KindInsert, Position: 3, Text: "XYZ", Seq: 1, AuthorID: "bob"}
	assert.Equal(t, "XYZWORLD", converge(t, "HELLO WORLD", alice, bob))
}

func TestScenarioC_OverlappingDeletes(t *testing.T) {
	alice := Operation{Kind: KindDelete, Position: 2, Length: 4, Seq: 1, AuthorID: "alice"}
	bob := Operation{Kind: KindDelete, Position: 4, Length: 3, Seq: 1, AuthorID: "bob"}
	// Union of alice's [2,6) and bob's [4,7) is [2,7): 5 characters
	// ("3","4","5","6","7"), leaving "1289". The transformation rules in
	// play (overlap-trim on the later delete) produce this value; it
	// differs by one character from a quoted example string that appears
	// to undercount the overlap by one position.
	assert.Equal(t, "1289", converge(t, "123456789", alice, bob))
}

func TestDeleteDeleteFullyCovered(t *testing.T) {
	alice := Operation{Kind: KindDelete, Position: 0, Length: 9, Seq: 1, AuthorID: "alice"}
	bob := Operation{Kind: KindDelete, Position: 2, Length: 4, Seq: 2, AuthorID: "bob"}
	bobPrime := Transform(bob, alice)
	assert.Equal(t, KindRetain, bobPrime.Kind)
	assert.Equal(t, 0, bobPrime.Length)
}

func TestTP1InsertInsertCommutesForDisjointPositions(t *testing.T) {
	base := "ABCDE"
	alice := Operation{Kind: KindInsert, Position: 1, Text: "1", Seq: 1, AuthorID: "alice"}
	bob := Operation{Kind: KindInsert, Position: 3, Text: "2", Seq: 1, AuthorID: "bob"}

	aliceFirst := converge(t, base, alice, bob)
	bobFirst := converge(t, base, bob, alice)
	assert.Equal(t, aliceFirst, bobFirst)
}

func TestTP1DeleteDeleteDisjointCommutes(t *testing.T) {
	base := "0123456789"
	alice := Operation{Kind: KindDelete, Position: 0, Length: 2, Seq: 1, AuthorID: "alice"}
	bob := Operation{Kind: KindDelete, Position: 5, Length: 2, Seq: 1, AuthorID: "bob"}

	aliceFirst := converge(t, base, alice, bob)
	bobFirst := converge(t, base, bob, alice)
	assert.Equal(t, aliceFirst, bobFirst)
	assert.Equal(t, "234789", aliceFirst)
}

func TestTransformInsertDeleteBeforeRange(t *testing.T) {
	a := Operation{Kind: KindInsert, Position: 1}
	b := Operation{Kind: KindDelete, Position: 5, Length: 3}
	out := Transform(a, b)
	assert.Equal(t, 1, out.Position)
}

func TestTransformInsertDeleteAfterRange(t *testing.T) {
	a := Operation{Kind: KindInsert, Position: 10}
	b := Operation{Kind: KindDelete, Position: 2, Length: 3}
	out := Transform(a, b)
	assert.Equal(t, 7, out.Position)
}

func TestTransformFormatMergesByPrecedence(t *testing.T) {
	earlier := Operation{Kind: KindFormat, Seq: 1, AuthorID: "alice", Attrs: map[string]any{"bold": true, "size": 12}}
	later := Operation{Kind: KindFormat, Seq: 2, AuthorID: "bob", Attrs: map[string]any{"bold": false}}

	out := Transform(earlier, later)
	assert.Equal(t, false, out.Attrs["bold"]) // later sequence wins the shared key
	assert.Equal(t, 12, out.Attrs["size"])     // only earlier mentions it, carries through
}

func TestTransformRetainIsIdentity(t *testing.T) {
	a := Operation{Kind: KindInsert, Position: 4}
	b := Operation{Kind: KindRetain, Position: 0, Length: 20}
	assert.Equal(t, a, Transform(a, b))
}
