package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyInsert(t *testing.T) {
	op := Operation{Kind: KindInsert, Position: 2, Text: "X"}
	out, err := Apply(op, "ABCDE")
	require.NoError(t, err)
	assert.Equal(t, "ABXCDE", out)
}

func TestApplyDelete(t *testing.T) {
	op := Operation{Kind: KindDelete, Position: 2, Length: 4}
	out, err := Apply(op, "123456789")
	require.NoError(t, err)
	assert.Equal(t, "12789", out)
}

func TestApplyOutOfBounds(t *testing.T) {
	_, err := Apply(Operation{Kind: KindInsert, Position: 99}, "ABC")
	assert.Error(t, err)

	_, err = Apply(Operation{Kind: KindDelete, Position: 0, Length: 99}, "ABC")
	assert.Error(t, err)
}

func TestInverseInsertRoundTrips(t *testing.T) {
	base := "ABCDE"
	op := Operation{ID: "op1", Kind: KindInsert, Position: 2, Text: "XYZ"}
	after, err := Apply(op, base)
	require.NoError(t, err)

	inv, err := Inverse(op, base)
	require.NoError(t, err)

	restored, err := Apply(inv, after)
	require.NoError(t, err)
	assert.Equal(t, base, restored)
}

func TestInverseDeleteRoundTrips(t *testing.T) {
	base := "123456789"
	op := Operation{ID: "op1", Kind: KindDelete, Position: 2, Length: 4}
	after, err := Apply(op, base)
	require.NoError(t, err)

	inv, err := Inverse(op, base)
	require.NoError(t, err)
	assert.Equal(t, KindInsert, inv.Kind)
	assert.Equal(t, "3456", inv.Text)

	restored, err := Apply(inv, after)
	require.NoError(t, err)
	assert.Equal(t, base, restored)
}

func TestInverseFormatRoundTripsWithPrevAttrs(t *testing.T) {
	op := Operation{
		ID:        "op1",
		Kind:      KindFormat,
		Position:  0,
		Length:    5,
		Attrs:     map[string]any{"bold": true},
		PrevAttrs: map[string]any{"bold": false},
	}
	inv, err := Inverse(op, "ABCDE")
	require.NoError(t, err)
	assert.Equal(t, false, inv.Attrs["bold"])
}

func TestPrecedesUsesSequenceThenAuthor(t *testing.T) {
	a := Operation{Seq: 1, AuthorID: "alice"}
	b := Operation{Seq: 1, AuthorID: "bob"}
	assert.True(t, precedes(a, b))
	assert.False(t, precedes(b, a))

	c := Operation{Seq: 2, AuthorID: "aaron"}
	assert.True(t, precedes(a, c))
}
