package topk

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/skim/arena"
	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/heap"
	"github.com/hupe1980/skim/testutil"
)

// arenaResolver resolves handles against a byte arena, the way the
// in-memory facade does.
type arenaResolver struct {
	a *arena.Arena
}

func (r arenaResolver) Payload(h uint64) ([]byte, error) {
	return r.a.Value(handle.Handle(h))
}

// failingResolver fails on one specific handle.
type failingResolver struct {
	inner PayloadResolver
	bad   uint64
}

func (r failingResolver) Payload(h uint64) ([]byte, error) {
	if h == r.bad {
		return nil, errors.New("boom")
	}
	return r.inner.Payload(h)
}

// buildSelector loads records into a fresh heap+arena pair.
func buildSelector(t *testing.T, records []testutil.Record) (*Selector, *heap.Heap) {
	t.Helper()
	h := heap.New(heap.WithCapacity(len(records)))
	a := arena.New()
	for _, r := range records {
		hdl, err := a.Put(r.Payload)
		require.NoError(t, err)
		require.NoError(t, h.Push(r.Score, uint64(hdl)))
	}
	return New(h, arenaResolver{a: a}), h
}

func scores(got []Scored) []float64 {
	out := make([]float64, len(got))
	for i, s := range got {
		out[i] = s.Score
	}
	return out
}

func TestNSmallestMatchesReference(t *testing.T) {
	records := testutil.Records(101, 500, 32)
	sel, h := buildSelector(t, records)

	for _, k := range []int{0, 1, 2, 3, 10, 99, 500, 501} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			want := testutil.Smallest(records, k)
			v := h.Version()

			got, err := sel.NSmallest(k)
			require.NoError(t, err)
			require.Len(t, got, len(want))
			for i := range want {
				assert.Equal(t, want[i].Score, got[i].Score)
				assert.Equal(t, want[i].Payload, got[i].Payload)
			}

			// Non-destructive: the heap must not change.
			assert.Equal(t, v, h.Version())
			assert.Equal(t, len(records), h.Len())
		})
	}
}

func TestNLargestMatchesReference(t *testing.T) {
	records := testutil.Records(202, 500, 32)
	sel, h := buildSelector(t, records)

	for _, k := range []int{0, 1, 3, 10, 500, 600} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			want := testutil.Largest(records, k)
			v := h.Version()

			got, err := sel.NLargest(k)
			require.NoError(t, err)
			require.Len(t, got, len(want))
			for i := range want {
				assert.Equal(t, want[i].Score, got[i].Score)
				assert.Equal(t, want[i].Payload, got[i].Payload)
			}

			assert.Equal(t, v, h.Version())
		})
	}
}

func TestNLargestExact(t *testing.T) {
	// Nine records with known scores, inserted out of order.
	in := []struct {
		score   float64
		payload string
	}{
		{0.4, "d"}, {0.9, "i"}, {0.1, "a"}, {0.6, "f"}, {0.3, "c"},
		{0.8, "h"}, {0.2, "b"}, {0.7, "g"}, {0.5, "e"},
	}
	h := heap.New()
	a := arena.New()
	for _, r := range in {
		hdl, err := a.Put([]byte(r.payload))
		require.NoError(t, err)
		require.NoError(t, h.Push(r.score, uint64(hdl)))
	}
	sel := New(h, arenaResolver{a: a})

	got, err := sel.NLargest(3)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.8, 0.7}, scores(got))
	assert.Equal(t, []byte("i"), got[0].Payload)
	assert.Equal(t, []byte("h"), got[1].Payload)
	assert.Equal(t, []byte("g"), got[2].Payload)
}

func TestPopNSmallest(t *testing.T) {
	records := testutil.Records(303, 200, 16)
	sel, h := buildSelector(t, records)

	want := testutil.Smallest(records, 20)
	got, err := sel.PopNSmallest(20)
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i := range want {
		assert.Equal(t, want[i].Score, got[i].Score)
		assert.Equal(t, want[i].Payload, got[i].Payload)
	}

	// The popped entries are gone; the next batch is the following slice
	// of the reference ordering.
	assert.Equal(t, 180, h.Len())
	next, err := sel.NSmallest(5)
	require.NoError(t, err)
	wantNext := testutil.Smallest(records, 25)[20:]
	assert.Equal(t, scoresOf(wantNext), scores(next))
}

func TestPopNLargest(t *testing.T) {
	records := testutil.Records(404, 200, 16)
	sel, h := buildSelector(t, records)

	want := testutil.Largest(records, 15)
	got, err := sel.PopNLargest(15)
	require.NoError(t, err)
	require.Len(t, got, 15)
	for i := range want {
		assert.Equal(t, want[i].Score, got[i].Score)
		assert.Equal(t, want[i].Payload, got[i].Payload)
	}

	assert.Equal(t, 185, h.Len())
	next, err := sel.NLargest(5)
	require.NoError(t, err)
	wantNext := testutil.Largest(records, 20)[15:]
	assert.Equal(t, scoresOf(wantNext), scores(next))
}

func TestPopAllEmptiesHeap(t *testing.T) {
	records := testutil.Records(505, 50, 8)
	sel, h := buildSelector(t, records)

	got, err := sel.PopNSmallest(50)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Equal(t, 0, h.Len())

	// Popping from the now-empty heap yields nothing, not an error.
	got, err = sel.PopNSmallest(3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPopEntriesVariants(t *testing.T) {
	records := testutil.Records(606, 100, 8)
	sel, h := buildSelector(t, records)

	ents := sel.PopNSmallestEntries(10)
	require.Len(t, ents, 10)
	for i := 1; i < len(ents); i++ {
		assert.LessOrEqual(t, ents[i-1].Score, ents[i].Score)
	}
	assert.Equal(t, 90, h.Len())

	largest := sel.PopNLargestEntries(10)
	require.Len(t, largest, 10)
	for i := 1; i < len(largest); i++ {
		assert.GreaterOrEqual(t, largest[i-1].Score, largest[i].Score)
	}
	assert.Equal(t, 80, h.Len())
}

func TestResolverFailureLeavesHeapIntact(t *testing.T) {
	records := testutil.Records(707, 30, 8)
	sel, h := buildSelector(t, records)

	// Fail on the handle of the overall minimum entry.
	minEntry := sel.NSmallestEntries(1)[0]
	bad := New(h, failingResolver{inner: sel.r, bad: minEntry.Handle})

	_, err := bad.PopNSmallest(5)
	require.Error(t, err)
	assert.Equal(t, 30, h.Len())

	// Entry variants still work; resolution was the only failure.
	ents := bad.PopNSmallestEntries(5)
	assert.Len(t, ents, 5)
	assert.Equal(t, 25, h.Len())
}

func TestStreamNSmallest(t *testing.T) {
	records := testutil.Records(808, 100, 8)
	sel, _ := buildSelector(t, records)

	want := testutil.Smallest(records, 10)
	var got []Scored
	for s, err := range sel.StreamNSmallest(10) {
		require.NoError(t, err)
		got = append(got, s)
	}
	require.Len(t, got, 10)
	for i := range want {
		assert.Equal(t, want[i].Score, got[i].Score)
		assert.Equal(t, want[i].Payload, got[i].Payload)
	}
}

func TestStreamEarlyBreak(t *testing.T) {
	records := testutil.Records(909, 100, 8)
	sel, _ := buildSelector(t, records)

	count := 0
	for _, err := range sel.StreamNSmallest(50) {
		require.NoError(t, err)
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestStreamDetectsMutation(t *testing.T) {
	records := testutil.Records(111, 100, 8)
	sel, h := buildSelector(t, records)

	var got error
	count := 0
	for _, err := range sel.StreamNSmallest(10) {
		if err != nil {
			got = err
			break
		}
		count++
		if count == 2 {
			_, perr := h.Pop()
			require.NoError(t, perr)
		}
	}
	assert.ErrorIs(t, got, heap.ErrConcurrentModification)
	assert.Equal(t, 2, count)
}

func TestEmptyHeap(t *testing.T) {
	h := heap.New()
	sel := New(h, arenaResolver{a: arena.New()})

	got, err := sel.NSmallest(5)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = sel.NLargest(5)
	require.NoError(t, err)
	assert.Empty(t, got)

	for range sel.StreamNSmallest(5) {
		t.Fatal("empty heap must not yield")
	}
}

func scoresOf(records []testutil.Record) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Score
	}
	return out
}

func BenchmarkNSmallest(b *testing.B) {
	records := testutil.Records(1, 100000, 16)
	h := heap.New(heap.WithCapacity(len(records)))
	a := arena.New()
	for _, r := range records {
		hdl, err := a.Put(r.Payload)
		if err != nil {
			b.Fatal(err)
		}
		if err := h.Push(r.Score, uint64(hdl)); err != nil {
			b.Fatal(err)
		}
	}
	sel := New(h, arenaResolver{a: a})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sel.NSmallest(100); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkNLargest(b *testing.B) {
	records := testutil.Records(2, 100000, 16)
	h := heap.New(heap.WithCapacity(len(records)))
	a := arena.New()
	for _, r := range records {
		hdl, err := a.Put(r.Payload)
		if err != nil {
			b.Fatal(err)
		}
		if err := h.Push(r.Score, uint64(hdl)); err != nil {
			b.Fatal(err)
		}
	}
	sel := New(h, arenaResolver{a: a})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sel.NLargest(100); err != nil {
			b.Fatal(err)
		}
	}
}
