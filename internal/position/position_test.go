package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBetweenOrdersStrictly(t *testing.T) {
	lo, hi := Min(), Max()
	mid := Between(lo, hi, "alice")
	assert.Equal(t, -1, Cmp(lo, mid))
	assert.Equal(t, -1, Cmp(mid, hi))
}

func TestBetweenIsDenseUnderRepeatedSubdivision(t *testing.T) {
	lo, hi := Min(), Max()
	positions := []Position{lo, hi}
	for i := 0; i < 200; i++ {
		insertAt := i % (len(positions) - 1)
		mid := Between(positions[insertAt], positions[insertAt+1], "author")
		require.Equal(t, -1, Cmp(positions[insertAt], mid), "iteration %d", i)
		require.Equal(t, -1, Cmp(mid, positions[insertAt+1]), "iteration %d", i)
		newList := make([]Position, 0, len(positions)+1)
		newList = append(newList, positions[:insertAt+1]...)
		newList = append(newList, mid)
		newList = append(newList, positions[insertAt+1:]...)
		positions = newList
	}
	for i := 1; i < len(positions); i++ {
		require.Equal(t, -1, Cmp(positions[i-1], positions[i]))
	}
}

func TestBetweenTieBreaksOnAuthor(t *testing.T) {
	lo, hi := Min(), Max()
	a := Between(lo, hi, "alice")
	b := Between(lo, hi, "bob")
	// Both mint the same midpoint slot; the author field is the final
	// tie-break so the two are still totally ordered, not equal.
	if Equal(a, b) {
		t.Fatalf("two authors minting concurrently must not collide: %s == %s", a, b)
	}
}

func TestVectorClockMergeIsElementwiseMax(t *testing.T) {
	a := VectorClock{"alice": 3, "bob": 1}
	b := VectorClock{"alice": 2, "bob": 5, "carol": 1}
	merged := Merge(a, b)
	assert.Equal(t, uint64(3), merged["alice"])
	assert.Equal(t, uint64(5), merged["bob"])
	assert.Equal(t, uint64(1), merged["carol"])
}

func TestVectorClockDominates(t *testing.T) {
	a := VectorClock{"alice": 3, "bob": 2}
	b := VectorClock{"alice": 2, "bob": 2}
	assert.True(t, Dominates(a, b))
	assert.False(t, Dominates(b, a))
	assert.False(t, Dominates(a, a))
}

func TestVectorClockReady(t *testing.T) {
	local := VectorClock{"alice": 2, "bob": 1}
	ready := VectorClock{"alice": 2, "bob": 1}
	notReady := VectorClock{"alice": 3}
	assert.True(t, Ready(local, ready))
	assert.False(t, Ready(local, notReady))
}

func TestIncIsMonotonic(t *testing.T) {
	vc := NewVectorClock()
	assert.Equal(t, uint64(1), vc.Inc("alice"))
	assert.Equal(t, uint64(2), vc.Inc("alice"))
	assert.Equal(t, uint64(2), vc["alice"])
}
