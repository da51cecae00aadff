package arena

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/hupe1980/skim/handle"
)

var (
	// ErrOutOfMemory is returned when a Put would push the buffer past the
	// configured hard cap.
	ErrOutOfMemory = errors.New("arena: out of memory")

	// ErrStaleHandle is returned when a handle no longer names a live
	// payload: freed, invalidated by Reset, or never issued.
	ErrStaleHandle = errors.New("arena: stale handle")
)

// OutOfMemoryError reports a rejected allocation against the hard cap.
type OutOfMemoryError struct {
	Requested int64 // bytes the buffer would need
	MaxBytes  int64 // configured cap
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("arena: out of memory: need %d bytes, cap %d", e.Requested, e.MaxBytes)
}

func (e *OutOfMemoryError) Unwrap() error { return ErrOutOfMemory }

// StaleHandleError reports a handle that does not resolve to a live payload.
type StaleHandleError struct {
	Handle handle.Handle
}

func (e *StaleHandleError) Error() string {
	gen, slot := handle.Unpack(e.Handle)
	return fmt.Sprintf("arena: stale handle (generation %d, slot %d)", gen, slot)
}

func (e *StaleHandleError) Unwrap() error { return ErrStaleHandle }

const (
	// DefaultCompactThreshold arms automatic compaction once this share of
	// the write cursor is garbage.
	DefaultCompactThreshold = 0.4

	// defaultInitialCapacity is the first backing allocation; the buffer
	// doubles from there.
	defaultInitialCapacity = 64 << 10
)

type options struct {
	initialCapacity int
	maxBytes        int64
	threshold       float64
	logger          *slog.Logger
}

// Option configures an Arena.
type Option func(*options)

// WithInitialCapacity sets the size of the first backing allocation.
func WithInitialCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.initialCapacity = n
		}
	}
}

// WithMaxBytes caps the backing buffer. A Put that would grow past the cap
// fails with ErrOutOfMemory and leaves the arena unchanged. Zero means
// unbounded.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// WithCompactThreshold sets the garbage/used ratio that arms automatic
// compaction on Put. Values outside (0, 1] disable automatic compaction;
// explicit Compact calls still work.
func WithCompactThreshold(ratio float64) Option {
	return func(o *options) {
		o.threshold = ratio
	}
}

// WithLogger routes compaction events to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// slot records where one payload lives inside the buffer. A zero generation
// marks the slot free.
type slot struct {
	off  int
	size int
	gen  uint32
}

// Arena is a grow-only byte buffer addressed by stable handles.
//
// Each Put takes a fresh generation from a monotonic counter, so a recycled
// slot index can never be confused with the payload that used to live
// there. The counter starts at 1, which keeps handle zero invalid forever.
type Arena struct {
	buf       []byte
	used      int
	live      int64
	garbage   int64
	slots     []slot
	freeSlots []uint32
	nextGen   uint32

	maxBytes    int64
	initialCap  int
	threshold   float64
	logger      *slog.Logger
	compactions uint64
}

// New creates an empty arena. The backing buffer is allocated lazily on the
// first Put.
func New(opts ...Option) *Arena {
	o := options{
		initialCapacity: defaultInitialCapacity,
		threshold:       DefaultCompactThreshold,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Arena{
		nextGen:    1,
		maxBytes:   o.maxBytes,
		initialCap: o.initialCapacity,
		threshold:  o.threshold,
		logger:     o.logger,
	}
}

// Put copies p into the arena and returns a stable handle for it. Empty
// payloads are legal and get a distinct live slot. When the garbage ratio
// has crossed the compaction threshold, Put compacts first, which
// invalidates outstanding views (handles stay good).
func (a *Arena) Put(p []byte) (handle.Handle, error) {
	if a.threshold > 0 && a.threshold <= 1 && float64(a.garbage) > a.threshold*float64(a.used) {
		a.Compact()
	}

	need := int64(a.used) + int64(len(p))
	if a.maxBytes > 0 && need > a.maxBytes {
		return 0, &OutOfMemoryError{Requested: need, MaxBytes: a.maxBytes}
	}
	a.grow(len(p))

	idx := a.takeSlot()
	gen := a.nextGen
	a.nextGen++
	if a.nextGen == 0 { // counter wrapped; zero must never be issued
		a.nextGen = 1
	}

	off := a.used
	a.buf = a.buf[:off+len(p)]
	copy(a.buf[off:], p)
	a.used += len(p)
	a.live += int64(len(p))
	a.slots[idx] = slot{off: off, size: len(p), gen: gen}

	return handle.Pack(gen, idx), nil
}

// View returns the payload bytes for h without copying. The slice aliases
// the backing buffer and is valid only until the next mutating call (Put,
// Free, Compact, Reset).
func (a *Arena) View(h handle.Handle) ([]byte, error) {
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	return a.buf[s.off : s.off+s.size : s.off+s.size], nil
}

// Value returns a copy of the payload bytes for h. The copy stays valid
// across later arena mutations.
func (a *Arena) Value(h handle.Handle) ([]byte, error) {
	v, err := a.View(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// SizeOf returns the payload length for h.
func (a *Arena) SizeOf(h handle.Handle) (int, error) {
	s, err := a.lookup(h)
	if err != nil {
		return 0, err
	}
	return s.size, nil
}

// Free releases the slot for h. The bytes become garbage and are reclaimed
// by the next compaction; using h again fails with ErrStaleHandle.
func (a *Arena) Free(h handle.Handle) error {
	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	_, idx := handle.Unpack(h)

	a.garbage += int64(s.size)
	a.live -= int64(s.size)
	*s = slot{}
	a.freeSlots = append(a.freeSlots, idx)
	return nil
}

// Compact rewrites live payloads contiguously and drops all garbage bytes.
// Handles stay valid; views obtained before the call do not. The backing
// buffer shrinks when its capacity dwarfs what is left.
func (a *Arena) Compact() {
	if a.garbage > 0 {
		liveIdx := make([]uint32, 0, len(a.slots)-len(a.freeSlots))
		for i := range a.slots {
			if a.slots[i].gen != 0 {
				liveIdx = append(liveIdx, uint32(i))
			}
		}
		// Relocate in ascending offset order so a copy never lands on
		// bytes that still await their own move.
		slices.SortFunc(liveIdx, func(x, y uint32) int {
			return a.slots[x].off - a.slots[y].off
		})

		w := 0
		for _, idx := range liveIdx {
			s := &a.slots[idx]
			if s.off != w {
				copy(a.buf[w:w+s.size], a.buf[s.off:s.off+s.size])
				s.off = w
			}
			w += s.size
		}

		reclaimed := a.used - w
		a.used = w
		a.buf = a.buf[:w]
		a.garbage = 0
		a.compactions++

		a.logger.Debug("arena compacted",
			slog.Int("reclaimed_bytes", reclaimed),
			slog.Int("live_slots", len(liveIdx)),
			slog.Int("used_bytes", a.used),
		)
	}
	a.maybeShrink()
}

// Reset logically empties the arena. Every outstanding handle becomes
// stale. The generation counter keeps advancing, so recycled slot indexes
// can never revive pre-reset handles.
func (a *Arena) Reset() {
	a.buf = a.buf[:0]
	a.used = 0
	a.live = 0
	a.garbage = 0
	a.slots = a.slots[:0]
	a.freeSlots = a.freeSlots[:0]
}

// All iterates every live payload as (handle, view) pairs in slot order.
// Views alias the backing buffer; the arena must not be mutated while the
// iteration is live.
func (a *Arena) All() iter.Seq2[handle.Handle, []byte] {
	return func(yield func(handle.Handle, []byte) bool) {
		for i := range a.slots {
			s := &a.slots[i]
			if s.gen == 0 {
				continue
			}
			if !yield(handle.Pack(s.gen, uint32(i)), a.buf[s.off:s.off+s.size:s.off+s.size]) {
				return
			}
		}
	}
}

// Len returns the number of live payloads.
func (a *Arena) Len() int {
	return len(a.slots) - len(a.freeSlots)
}

// Stats is a point-in-time snapshot of arena occupancy.
type Stats struct {
	CapacityBytes int64  // backing buffer capacity
	UsedBytes     int64  // write cursor (live + garbage)
	LiveBytes     int64  // bytes reachable through live handles
	GarbageBytes  int64  // freed bytes awaiting compaction
	LiveSlots     int    // payload count
	FreeSlots     int    // recycled slot table entries
	Compactions   uint64 // completed compactions
}

// Stats reports current occupancy counters.
func (a *Arena) Stats() Stats {
	return Stats{
		CapacityBytes: int64(cap(a.buf)),
		UsedBytes:     int64(a.used),
		LiveBytes:     a.live,
		GarbageBytes:  a.garbage,
		LiveSlots:     len(a.slots) - len(a.freeSlots),
		FreeSlots:     len(a.freeSlots),
		Compactions:   a.compactions,
	}
}

func (a *Arena) lookup(h handle.Handle) (*slot, error) {
	gen, idx := handle.Unpack(h)
	if gen == 0 || int(idx) >= len(a.slots) {
		return nil, &StaleHandleError{Handle: h}
	}
	s := &a.slots[idx]
	if s.gen != gen {
		return nil, &StaleHandleError{Handle: h}
	}
	return s, nil
}

func (a *Arena) takeSlot() uint32 {
	if n := len(a.freeSlots); n > 0 {
		idx := a.freeSlots[n-1]
		a.freeSlots = a.freeSlots[:n-1]
		return idx
	}
	a.slots = append(a.slots, slot{})
	return uint32(len(a.slots) - 1)
}

func (a *Arena) grow(n int) {
	need := a.used + n
	if need <= cap(a.buf) {
		return
	}
	newCap := cap(a.buf) * 2
	if newCap == 0 {
		newCap = a.initialCap
	}
	for newCap < need {
		newCap *= 2
	}
	if a.maxBytes > 0 && int64(newCap) > a.maxBytes {
		newCap = int(a.maxBytes)
	}
	buf := make([]byte, a.used, newCap)
	copy(buf, a.buf)
	a.buf = buf
}

func (a *Arena) maybeShrink() {
	c := cap(a.buf)
	if c <= a.initialCap || a.used*4 > c {
		return
	}
	newCap := c
	for newCap > a.initialCap && a.used*4 <= newCap {
		newCap /= 2
	}
	if newCap < a.initialCap {
		newCap = a.initialCap
	}
	if newCap == c {
		return
	}
	buf := make([]byte, a.used, newCap)
	copy(buf, a.buf)
	a.buf = buf
}
