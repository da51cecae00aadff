package skim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/skim/arena"
	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/heap"
	"github.com/hupe1980/skim/resource"
	"github.com/hupe1980/skim/segstore"
	"github.com/hupe1980/skim/snapshot"
	"github.com/hupe1980/skim/topk"
)

// Scored pairs a selected payload with its score. Payloads are copies the
// caller may keep.
type Scored = topk.Scored

// Selector accumulates scored byte records and answers top-k queries over
// them. Create one with New (in-memory) or Open (out-of-core); the two
// modes share every other operation.
//
// A Selector is single-writer and performs no internal locking.
type Selector struct {
	mode snapshot.Mode
	keep int

	heap  *heap.Heap
	arena *arena.Arena    // in-memory mode
	store *segstore.Store // out-of-core mode

	scoreLo, scoreHi float64
	hasScoreRange    bool

	ctrl     *resource.Controller
	reserved int64 // arena bytes charged against ctrl

	snapOpts []snapshot.Option
	logger   *Logger
	metrics  MetricsCollector
	closed   bool
}

// New creates an in-memory Selector. Payload bytes live in a compacting
// arena; freed records (Offer displacements, destructive selections,
// Reset) return their memory to it.
func New(optFns ...Option) (*Selector, error) {
	opts := applyOptions(optFns)

	s := newSelector(snapshot.ModeArena, opts)
	arenaOpts := append([]arena.Option{arena.WithLogger(opts.logger.Logger)}, opts.arenaOptions...)
	s.arena = arena.New(arenaOpts...)

	return s, nil
}

// Open creates an out-of-core Selector whose payloads live in segment
// files under dir, creating the directory as needed. An existing store
// resumes from its manifest, but the selection heap starts empty; use
// Snapshot and LoadSnapshot to carry a selection across restarts.
func Open(ctx context.Context, dir string, optFns ...Option) (*Selector, error) {
	opts := applyOptions(optFns)

	storeOpts := append([]segstore.Option{segstore.WithLogger(opts.logger.Logger)}, opts.storeOptions...)
	store, err := segstore.Open(ctx, dir, storeOpts...)
	if err != nil {
		return nil, translateError(err)
	}

	s := newSelector(snapshot.ModeStore, opts)
	s.store = store

	return s, nil
}

func newSelector(mode snapshot.Mode, opts options) *Selector {
	var heapOpts []heap.Option
	if opts.keep > 0 {
		heapOpts = append(heapOpts, heap.WithCapacity(opts.keep))
	}
	if opts.hasScoreRange {
		heapOpts = append(heapOpts, heap.WithScoreRange(opts.scoreLo, opts.scoreHi))
	}

	return &Selector{
		mode:          mode,
		keep:          opts.keep,
		heap:          heap.New(heapOpts...),
		scoreLo:       opts.scoreLo,
		scoreHi:       opts.scoreHi,
		hasScoreRange: opts.hasScoreRange,
		ctrl:          opts.ctrl,
		snapOpts:      opts.snapshotOptions,
		logger:        opts.logger,
		metrics:       opts.metrics,
	}
}

// Push stores a record unconditionally. Use it to accumulate everything
// and select later; bounded ingestion goes through Offer. A failed push
// leaves the selector unchanged.
func (s *Selector) Push(ctx context.Context, score float64, payload []byte) error {
	start := time.Now()
	err := s.push(ctx, score, payload)
	s.metrics.RecordPush(time.Since(start), err)
	s.logger.LogPush(ctx, len(payload), err)
	return err
}

func (s *Selector) push(ctx context.Context, score float64, payload []byte) error {
	if s.closed {
		return ErrClosed
	}
	// Validate before storing so the payload store never holds bytes for a
	// record that was refused.
	if err := s.heap.CheckScore(score); err != nil {
		return translateError(err)
	}

	h, err := s.putPayload(ctx, payload)
	if err != nil {
		return err
	}
	if err := s.heap.Push(score, uint64(h)); err != nil {
		s.releasePayload(h)
		return translateError(err)
	}
	return nil
}

// Offer stores a record only while it belongs to the keep bound configured
// with WithKeep: below the bound it behaves like Push; at the bound a score
// at or below the current minimum is refused without storing anything, and
// a better score displaces the minimum record. It reports whether the
// record was kept. Without a keep bound Offer never refuses.
func (s *Selector) Offer(ctx context.Context, score float64, payload []byte) (bool, error) {
	start := time.Now()
	kept, err := s.offer(ctx, score, payload)
	s.metrics.RecordOffer(kept, time.Since(start), err)
	s.logger.LogOffer(ctx, kept, len(payload), err)
	return kept, err
}

func (s *Selector) offer(ctx context.Context, score float64, payload []byte) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	if err := s.heap.CheckScore(score); err != nil {
		return false, translateError(err)
	}

	if s.keep <= 0 || s.heap.Len() < s.keep {
		h, err := s.putPayload(ctx, payload)
		if err != nil {
			return false, err
		}
		if err := s.heap.Push(score, uint64(h)); err != nil {
			s.releasePayload(h)
			return false, translateError(err)
		}
		return true, nil
	}

	floor, err := s.heap.PeekScore()
	if err != nil {
		return false, translateError(err)
	}
	if score <= floor {
		return false, nil
	}

	h, err := s.putPayload(ctx, payload)
	if err != nil {
		return false, err
	}
	evicted, err := s.heap.PushPop(score, uint64(h))
	if err != nil {
		s.releasePayload(h)
		return false, translateError(err)
	}
	s.releasePayload(handle.Handle(evicted.Handle))
	return true, nil
}

// putPayload stores payload bytes in the mode's store. In-memory payloads
// are charged against the resource controller's memory budget first.
func (s *Selector) putPayload(ctx context.Context, payload []byte) (handle.Handle, error) {
	if s.mode == snapshot.ModeStore {
		h, err := s.store.Put(ctx, payload)
		return h, translateError(err)
	}

	n := int64(len(payload))
	if !s.ctrl.TryReserve(n) {
		return 0, fmt.Errorf("%w: payload of %d bytes exceeds the memory budget", ErrOutOfMemory, n)
	}
	h, err := s.arena.Put(payload)
	if err != nil {
		s.ctrl.Release(n)
		return 0, translateError(err)
	}
	s.reserved += n
	return h, nil
}

// releasePayload returns a record's storage. Segment records are
// append-only and stay on disk unreferenced; arena records free their slot
// and their share of the memory budget.
func (s *Selector) releasePayload(h handle.Handle) {
	if s.mode != snapshot.ModeArena {
		return
	}
	n, err := s.arena.SizeOf(h)
	if err != nil {
		return
	}
	if s.arena.Free(h) == nil {
		s.ctrl.Release(int64(n))
		s.reserved -= int64(n)
	}
}

// Len returns the number of records currently held.
func (s *Selector) Len() int {
	return s.heap.Len()
}

// Store returns the segment store backing an out-of-core selector, nil in
// in-memory mode. It exists so background machinery such as
// archive.Archiver can operate on the same segments the selector reads.
func (s *Selector) Store() *segstore.Store {
	return s.store
}

// MinScore returns the lowest score currently held, the next record Offer
// would displace. It fails with ErrEmpty when nothing is held.
func (s *Selector) MinScore() (float64, error) {
	score, err := s.heap.PeekScore()
	return score, translateError(err)
}

// Stats summarizes the selector. Exactly one of Arena and Store carries
// data, matching the storage mode.
type Stats struct {
	Mode    string
	Entries int
	Keep    int
	Arena   arena.Stats
	Store   segstore.Stats
}

// Stats returns current counters.
func (s *Selector) Stats() Stats {
	st := Stats{
		Mode:    s.mode.String(),
		Entries: s.heap.Len(),
		Keep:    s.keep,
	}
	switch s.mode {
	case snapshot.ModeArena:
		st.Arena = s.arena.Stats()
	case snapshot.ModeStore:
		st.Store = s.store.Stats()
	}
	return st
}

// Compact repacks the arena of an in-memory selector, reclaiming the
// garbage left by displaced and popped records. The arena also compacts
// itself when its garbage ratio passes the configured threshold, so
// calling Compact is only needed to reclaim memory eagerly. Out-of-core
// selectors have nothing to compact and report errors.ErrUnsupported.
func (s *Selector) Compact() error {
	if s.closed {
		return ErrClosed
	}
	if s.mode != snapshot.ModeArena {
		return fmt.Errorf("skim: compact a segment-backed selector: %w", errors.ErrUnsupported)
	}

	start := time.Now()
	reclaimed := s.arena.Stats().GarbageBytes
	s.arena.Compact()
	s.metrics.RecordCompaction(time.Since(start))
	s.logger.LogCompact(reclaimed)
	return nil
}

// Reset empties the selection. In-memory mode releases every payload and
// its memory budget; out-of-core mode keeps the segment files, their
// records merely become unreferenced. The selector stays usable.
func (s *Selector) Reset(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.heap.Clear()
	if s.mode == snapshot.ModeArena {
		s.arena.Reset()
		s.ctrl.Release(s.reserved)
		s.reserved = 0
	}
	return nil
}

// Close releases the selector's resources: the memory budget in in-memory
// mode, the segment store in out-of-core mode. Close is idempotent, and
// every other operation fails with ErrClosed afterwards.
func (s *Selector) Close(ctx context.Context) error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	if s.mode == snapshot.ModeArena {
		s.ctrl.Release(s.reserved)
		s.reserved = 0
		return nil
	}
	return translateError(s.store.Close(ctx))
}
