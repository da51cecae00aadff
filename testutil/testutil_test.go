package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordsDeterministic(t *testing.T) {
	a := Records(4711, 50, 32)
	b := Records(4711, 50, 32)

	assert.Equal(t, a, b)
	assert.Len(t, a, 50)
	for _, r := range a {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.Less(t, r.Score, 1.0)
		assert.LessOrEqual(t, len(r.Payload), 32)
	}
}

func TestRecordsSeedVariation(t *testing.T) {
	a := Records(1, 50, 32)
	b := Records(2, 50, 32)

	assert.NotEqual(t, a, b)
}

func TestAscendingDescending(t *testing.T) {
	records := Records(7, 100, 16)

	asc := Ascending(records)
	desc := Descending(records)

	assert.Len(t, asc, len(records))
	for i := 1; i < len(asc); i++ {
		assert.LessOrEqual(t, asc[i-1].Score, asc[i].Score)
		assert.GreaterOrEqual(t, desc[i-1].Score, desc[i].Score)
	}

	// Sorting copies; the corpus itself keeps its generation order.
	assert.Equal(t, Records(7, 100, 16), records)
}

func TestSmallestLargest(t *testing.T) {
	records := Records(9, 100, 16)

	small := Smallest(records, 10)
	large := Largest(records, 10)

	assert.Equal(t, Ascending(records)[:10], small)
	assert.Equal(t, Descending(records)[:10], large)
}

func TestSmallestLargestClamp(t *testing.T) {
	records := Records(3, 5, 8)

	assert.Empty(t, Smallest(records, 0))
	assert.Empty(t, Smallest(records, -1))
	assert.Len(t, Largest(records, 50), 5)
}
