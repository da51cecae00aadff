// Package heap implements a binary min-heap of scored record handles.
//
// Entries are 16-byte values (float64 score, uint64 handle) kept in one
// contiguous slice, so a heap of a million records is a single 16 MB
// allocation with no per-entry boxing. The root is always the minimum
// score; sift operations move a hole instead of swapping, writing each
// displaced entry exactly once.
package heap

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

var (
	// ErrEmpty is returned by operations that need at least one entry.
	ErrEmpty = errors.New("heap: empty")

	// ErrInvalidScore is returned for NaN scores and for scores outside a
	// configured range.
	ErrInvalidScore = errors.New("heap: invalid score")

	// ErrOutOfMemory is returned when a push would exceed the configured
	// entry limit.
	ErrOutOfMemory = errors.New("heap: out of memory")

	// ErrConcurrentModification is yielded by live iterators when the heap
	// mutates underneath them.
	ErrConcurrentModification = errors.New("heap: concurrent modification")
)

// InvalidScoreError reports a score outside the heap's accepted domain.
type InvalidScoreError struct {
	Score  float64
	Lo, Hi float64 // NaN when no range is configured
}

func (e *InvalidScoreError) Error() string {
	if math.IsNaN(e.Lo) {
		return fmt.Sprintf("heap: invalid score %v", e.Score)
	}
	return fmt.Sprintf("heap: score %v outside [%v, %v]", e.Score, e.Lo, e.Hi)
}

func (e *InvalidScoreError) Unwrap() error { return ErrInvalidScore }

// Entry is one heap element: a score ordering key and an opaque record
// handle. The pair packs into 16 bytes, the unit all capacity math uses.
type Entry struct {
	Score  float64
	Handle uint64
}

// EntrySize is the in-memory and serialized footprint of one Entry.
const EntrySize = 16

type options struct {
	capacity   int
	maxEntries int
	lo, hi     float64
	hasRange   bool
}

// Option configures a Heap.
type Option func(*options)

// WithCapacity pre-allocates room for n entries.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithMaxEntries caps the heap at n entries; pushes beyond the cap fail
// with ErrOutOfMemory. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// WithScoreRange restricts accepted scores to the closed interval [lo, hi].
// NaN scores are rejected regardless of range. Invalid bounds (NaN, or
// lo > hi) are ignored.
func WithScoreRange(lo, hi float64) Option {
	return func(o *options) {
		if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
			return
		}
		o.lo, o.hi = lo, hi
		o.hasRange = true
	}
}

// Heap is a binary min-heap over Entry values. The zero value is not
// usable; call New. A Heap is not safe for concurrent use.
type Heap struct {
	entries    []Entry
	version    uint64
	maxEntries int
	lo, hi     float64
	hasRange   bool
}

// New creates an empty heap.
func New(opts ...Option) *Heap {
	o := options{lo: math.NaN(), hi: math.NaN()}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Heap{
		maxEntries: o.maxEntries,
		lo:         o.lo,
		hi:         o.hi,
		hasRange:   o.hasRange,
	}
	if o.capacity > 0 {
		h.entries = make([]Entry, 0, o.capacity)
	}
	return h
}

// CheckScore reports whether score is acceptable: never NaN, and inside the
// configured range when one is set. Infinities are fine without a range.
func (h *Heap) CheckScore(score float64) error {
	if math.IsNaN(score) {
		return &InvalidScoreError{Score: score, Lo: math.NaN(), Hi: math.NaN()}
	}
	if h.hasRange && (score < h.lo || score > h.hi) {
		return &InvalidScoreError{Score: score, Lo: h.lo, Hi: h.hi}
	}
	return nil
}

// Push adds an entry in O(log n). The score is validated before anything
// mutates, so a failed push leaves the heap exactly as it was.
func (h *Heap) Push(score float64, handle uint64) error {
	if err := h.CheckScore(score); err != nil {
		return err
	}
	if h.maxEntries > 0 && len(h.entries) >= h.maxEntries {
		return fmt.Errorf("%w: %d entries", ErrOutOfMemory, h.maxEntries)
	}

	h.entries = append(h.entries, Entry{Score: score, Handle: handle})
	h.up(len(h.entries) - 1)
	h.version++
	return nil
}

// Pop removes and returns the minimum entry in O(log n).
func (h *Heap) Pop() (Entry, error) {
	n := len(h.entries)
	if n == 0 {
		return Entry{}, ErrEmpty
	}

	root := h.entries[0]
	last := h.entries[n-1]
	h.entries = h.entries[:n-1]
	if n > 1 {
		h.entries[0] = last
		h.down(0)
	}
	h.version++
	return root, nil
}

// Peek returns the minimum entry without removing it.
func (h *Heap) Peek() (Entry, error) {
	if len(h.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	return h.entries[0], nil
}

// PeekScore returns the minimum score without removing its entry.
func (h *Heap) PeekScore() (float64, error) {
	if len(h.entries) == 0 {
		return 0, ErrEmpty
	}
	return h.entries[0].Score, nil
}

// Replace swaps the minimum entry for a new one in a single sift, cheaper
// than a Pop followed by a Push. Returns the displaced minimum.
func (h *Heap) Replace(score float64, handle uint64) (Entry, error) {
	if err := h.CheckScore(score); err != nil {
		return Entry{}, err
	}
	if len(h.entries) == 0 {
		return Entry{}, ErrEmpty
	}

	root := h.entries[0]
	h.entries[0] = Entry{Score: score, Handle: handle}
	h.down(0)
	h.version++
	return root, nil
}

// PushPop pushes an entry and pops the minimum in one sift. When the new
// score does not beat the current minimum, or the heap is empty, the input
// comes straight back and the heap is untouched. This is the workhorse of
// bounded keep-k selection: at capacity it costs one sift instead of two.
func (h *Heap) PushPop(score float64, handle uint64) (Entry, error) {
	if err := h.CheckScore(score); err != nil {
		return Entry{}, err
	}
	if len(h.entries) == 0 || score <= h.entries[0].Score {
		return Entry{Score: score, Handle: handle}, nil
	}

	root := h.entries[0]
	h.entries[0] = Entry{Score: score, Handle: handle}
	h.down(0)
	h.version++
	return root, nil
}

// Rebuild replaces the contents with entries and heapifies them in O(n).
// Validation is all-or-nothing: one bad score rejects the whole batch and
// leaves the heap unchanged.
func (h *Heap) Rebuild(entries []Entry) error {
	for i := range entries {
		if err := h.CheckScore(entries[i].Score); err != nil {
			return err
		}
	}
	if h.maxEntries > 0 && len(entries) > h.maxEntries {
		return fmt.Errorf("%w: %d entries", ErrOutOfMemory, len(entries))
	}

	h.entries = append(h.entries[:0], entries...)
	h.heapify()
	h.version++
	return nil
}

// Remove drops every entry whose current array index is set in mask, then
// restores heap order over the survivors in O(n). Returns the number of
// entries removed. Indexes refer to positions as exposed by At and Entries
// and are valid only until the next mutation.
func (h *Heap) Remove(mask *roaring.Bitmap) int {
	if mask == nil || mask.IsEmpty() {
		return 0
	}

	w := 0
	for i := range h.entries {
		if mask.Contains(uint32(i)) {
			continue
		}
		h.entries[w] = h.entries[i]
		w++
	}
	removed := len(h.entries) - w
	if removed == 0 {
		return 0
	}

	h.entries = h.entries[:w]
	h.heapify()
	h.version++
	return removed
}

// Clear removes every entry, keeping the backing array for reuse.
func (h *Heap) Clear() {
	if len(h.entries) == 0 {
		return
	}
	h.entries = h.entries[:0]
	h.version++
}

// Len returns the number of entries.
func (h *Heap) Len() int { return len(h.entries) }

// Cap returns the entry capacity of the backing array.
func (h *Heap) Cap() int { return cap(h.entries) }

// Version returns the modification counter. It increments on every
// successful mutation and backs iterator invalidation.
func (h *Heap) Version() uint64 { return h.version }

// At returns the entry at array index i in heap order: the root (index 0)
// is the minimum, the children of i sit at 2i+1 and 2i+2. It panics when i
// is out of range, mirroring slice indexing.
func (h *Heap) At(i int) Entry { return h.entries[i] }

// Entries returns a copy of the backing array in heap order.
func (h *Heap) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// All iterates the entries in array order. The sequence yields
// ErrConcurrentModification and stops if the heap mutates while the
// iteration is live.
func (h *Heap) All() iter.Seq2[Entry, error] {
	v := h.version
	return func(yield func(Entry, error) bool) {
		for i := 0; i < len(h.entries); i++ {
			if h.version != v {
				yield(Entry{}, ErrConcurrentModification)
				return
			}
			if !yield(h.entries[i], nil) {
				return
			}
		}
	}
}

func (h *Heap) heapify() {
	for i := len(h.entries)/2 - 1; i >= 0; i-- {
		h.down(i)
	}
}

// up sifts the entry at j toward the root, moving a hole instead of
// swapping so each displaced entry is written once.
func (h *Heap) up(j int) {
	item := h.entries[j]
	for j > 0 {
		i := (j - 1) / 2
		if item.Score >= h.entries[i].Score {
			break
		}
		h.entries[j] = h.entries[i]
		j = i
	}
	h.entries[j] = item
}

// down sifts the entry at i toward the leaves.
func (h *Heap) down(i int) {
	n := len(h.entries)
	item := h.entries[i]
	for {
		j := 2*i + 1
		if j >= n {
			break
		}
		if r := j + 1; r < n && h.entries[r].Score < h.entries[j].Score {
			j = r
		}
		if h.entries[j].Score >= item.Score {
			break
		}
		h.entries[i] = h.entries[j]
		i = j
	}
	h.entries[i] = item
}
