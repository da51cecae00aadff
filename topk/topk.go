// Package topk selects the k best entries from a scored min-heap without
// sorting all of it.
//
// Two strategies cover the two directions. The k smallest entries fall out
// of a lazy walk over the heap's internal tree, steered by a small frontier
// heap: O(k log k) comparisons no matter how large the heap is. The k
// largest cannot exploit min-heap order, so every entry is scanned once
// through a bounded k-entry heap: O(n log k) time with O(k) extra memory.
// The destructive variants additionally remove the selected entries in one
// O(n) rebuild.
package topk

import (
	"fmt"
	"iter"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/skim/heap"
)

// PayloadResolver turns an opaque entry handle back into payload bytes.
// Implementations return a copy the caller may keep.
type PayloadResolver interface {
	Payload(handle uint64) ([]byte, error)
}

// Scored pairs a selected payload with its score.
type Scored struct {
	Score   float64
	Payload []byte
}

// Selector runs top-k queries against one heap.
type Selector struct {
	h *heap.Heap
	r PayloadResolver
}

// New creates a selector over h that resolves payloads through r. r may be
// nil when only the *Entries variants are used.
func New(h *heap.Heap, r PayloadResolver) *Selector {
	return &Selector{h: h, r: r}
}

// NSmallest returns the k lowest-scored payloads in ascending score order
// without touching the heap. k above Len is clamped; k <= 0 yields an
// empty result.
func (s *Selector) NSmallest(k int) ([]Scored, error) {
	ents, _ := s.smallest(k)
	return s.resolve(ents)
}

// NSmallestEntries is NSmallest without payload resolution.
func (s *Selector) NSmallestEntries(k int) []heap.Entry {
	ents, _ := s.smallest(k)
	return ents
}

// NLargest returns the k highest-scored payloads in descending score order
// without touching the heap. Ties at the cut line resolve arbitrarily.
func (s *Selector) NLargest(k int) ([]Scored, error) {
	ents, _ := s.largest(k)
	return s.resolve(ents)
}

// NLargestEntries is NLargest without payload resolution.
func (s *Selector) NLargestEntries(k int) []heap.Entry {
	ents, _ := s.largest(k)
	return ents
}

// PopNSmallest removes and returns the k lowest-scored payloads in
// ascending score order. Resolution happens before removal, so a resolver
// failure leaves the heap unchanged.
func (s *Selector) PopNSmallest(k int) ([]Scored, error) {
	ents, picked := s.smallest(k)
	out, err := s.resolve(ents)
	if err != nil {
		return nil, err
	}
	s.removeIndexes(picked)
	return out, nil
}

// PopNSmallestEntries is PopNSmallest without payload resolution.
func (s *Selector) PopNSmallestEntries(k int) []heap.Entry {
	ents, picked := s.smallest(k)
	s.removeIndexes(picked)
	return ents
}

// PopNLargest removes and returns the k highest-scored payloads in
// descending score order. Resolution happens before removal, so a resolver
// failure leaves the heap unchanged.
func (s *Selector) PopNLargest(k int) ([]Scored, error) {
	ents, picked := s.largest(k)
	out, err := s.resolve(ents)
	if err != nil {
		return nil, err
	}
	s.removeIndexes(picked)
	return out, nil
}

// PopNLargestEntries is PopNLargest without payload resolution.
func (s *Selector) PopNLargestEntries(k int) []heap.Entry {
	ents, picked := s.largest(k)
	s.removeIndexes(picked)
	return ents
}

// StreamNSmallest yields up to k lowest-scored payloads in ascending score
// order, selecting and resolving lazily: breaking early skips the
// remaining work entirely. A heap mutation between yields surfaces as
// ErrConcurrentModification from the heap package.
func (s *Selector) StreamNSmallest(k int) iter.Seq2[Scored, error] {
	return func(yield func(Scored, error) bool) {
		n := s.h.Len()
		if k > n {
			k = n
		}
		if k <= 0 {
			return
		}

		v := s.h.Version()
		var q indexHeap
		q.push(scoredIndex{score: s.h.At(0).Score, idx: 0})

		for yielded := 0; yielded < k && len(q) > 0; yielded++ {
			if s.h.Version() != v {
				yield(Scored{}, heap.ErrConcurrentModification)
				return
			}
			next := q.pop()
			e := s.h.At(next.idx)
			if l := 2*next.idx + 1; l < n {
				q.push(scoredIndex{score: s.h.At(l).Score, idx: l})
			}
			if r := 2*next.idx + 2; r < n {
				q.push(scoredIndex{score: s.h.At(r).Score, idx: r})
			}

			p, err := s.r.Payload(e.Handle)
			if err != nil {
				yield(Scored{}, fmt.Errorf("topk: resolve handle %d: %w", e.Handle, err))
				return
			}
			if !yield(Scored{Score: e.Score, Payload: p}, nil) {
				return
			}
		}
	}
}

// smallest walks the heap tree lazily. The frontier holds the children of
// everything selected so far; its minimum is always the next smallest
// entry overall, because heap order guarantees no deeper descendant can
// beat an unselected ancestor.
func (s *Selector) smallest(k int) ([]heap.Entry, []int) {
	n := s.h.Len()
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	out := make([]heap.Entry, 0, k)
	picked := make([]int, 0, k)
	var q indexHeap
	q.push(scoredIndex{score: s.h.At(0).Score, idx: 0})

	for len(out) < k {
		next := q.pop()
		out = append(out, s.h.At(next.idx))
		picked = append(picked, next.idx)
		if l := 2*next.idx + 1; l < n {
			q.push(scoredIndex{score: s.h.At(l).Score, idx: l})
		}
		if r := 2*next.idx + 2; r < n {
			q.push(scoredIndex{score: s.h.At(r).Score, idx: r})
		}
	}
	return out, picked
}

// largest scans every entry once through a bounded min-heap of the k best
// seen so far; the root is the weakest winner and the first to go when a
// better score arrives.
func (s *Selector) largest(k int) ([]heap.Entry, []int) {
	n := s.h.Len()
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	var q indexHeap
	for i := 0; i < n; i++ {
		score := s.h.At(i).Score
		switch {
		case len(q) < k:
			q.push(scoredIndex{score: score, idx: i})
		case score > q[0].score:
			q.replaceTop(scoredIndex{score: score, idx: i})
		}
	}

	slices.SortFunc(q, func(a, b scoredIndex) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	out := make([]heap.Entry, len(q))
	picked := make([]int, len(q))
	for i, si := range q {
		out[i] = s.h.At(si.idx)
		picked[i] = si.idx
	}
	return out, picked
}

func (s *Selector) resolve(ents []heap.Entry) ([]Scored, error) {
	out := make([]Scored, len(ents))
	for i := range ents {
		p, err := s.r.Payload(ents[i].Handle)
		if err != nil {
			return nil, fmt.Errorf("topk: resolve handle %d: %w", ents[i].Handle, err)
		}
		out[i] = Scored{Score: ents[i].Score, Payload: p}
	}
	return out, nil
}

func (s *Selector) removeIndexes(picked []int) {
	if len(picked) == 0 {
		return
	}
	mask := roaring.New()
	for _, i := range picked {
		mask.Add(uint32(i))
	}
	s.h.Remove(mask)
}

// scoredIndex is a frontier element: a heap-array index keyed by its score.
type scoredIndex struct {
	score float64
	idx   int
}

// indexHeap is a small scratch min-heap over scoredIndex values.
type indexHeap []scoredIndex

func (q *indexHeap) push(e scoredIndex) {
	*q = append(*q, e)
	h := *q
	j := len(h) - 1
	for j > 0 {
		i := (j - 1) / 2
		if e.score >= h[i].score {
			break
		}
		h[j] = h[i]
		j = i
	}
	h[j] = e
}

func (q *indexHeap) pop() scoredIndex {
	h := *q
	top := h[0]
	n := len(h) - 1
	h[0] = h[n]
	*q = h[:n]
	if n > 0 {
		q.down(0)
	}
	return top
}

func (q *indexHeap) replaceTop(e scoredIndex) {
	(*q)[0] = e
	q.down(0)
}

func (q *indexHeap) down(i int) {
	h := *q
	n := len(h)
	item := h[i]
	for {
		j := 2*i + 1
		if j >= n {
			break
		}
		if r := j + 1; r < n && h[r].score < h[j].score {
			j = r
		}
		if h[j].score >= item.score {
			break
		}
		h[i] = h[j]
		i = j
	}
	h[i] = item
}
