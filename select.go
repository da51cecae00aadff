// Selection operations and the fluent query builder for Selector.

package skim

import (
	"context"
	"iter"
	"time"

	"github.com/hupe1980/skim/arena"
	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/segstore"
	"github.com/hupe1980/skim/snapshot"
	"github.com/hupe1980/skim/topk"
)

// arenaResolver resolves handles against the in-memory arena.
type arenaResolver struct {
	a *arena.Arena
}

func (r arenaResolver) Payload(h uint64) ([]byte, error) {
	return r.a.Value(handle.Handle(h))
}

// storeResolver resolves handles against the segment store. It binds the
// calling context because resolution runs inside iterator callbacks that
// cannot thread one through; each resolver lives for a single call.
type storeResolver struct {
	ctx   context.Context
	store *segstore.Store
}

func (r storeResolver) Payload(h uint64) ([]byte, error) {
	return r.store.Get(r.ctx, handle.Handle(h))
}

// trackingResolver records every handle it resolved, so destructive
// selections know which payloads left the heap.
type trackingResolver struct {
	r       topk.PayloadResolver
	handles []uint64
}

func (t *trackingResolver) Payload(h uint64) ([]byte, error) {
	p, err := t.r.Payload(h)
	if err == nil {
		t.handles = append(t.handles, h)
	}
	return p, err
}

func (s *Selector) resolver(ctx context.Context) topk.PayloadResolver {
	if s.mode == snapshot.ModeStore {
		return storeResolver{ctx: ctx, store: s.store}
	}
	return arenaResolver{a: s.arena}
}

// NLargest returns the k highest-scored records in descending score order
// without removing them. k above Len is clamped; k <= 0 yields an empty
// result. Ties at the cut line resolve arbitrarily.
func (s *Selector) NLargest(ctx context.Context, k int) ([]Scored, error) {
	start := time.Now()
	out, err := s.nLargest(ctx, k)
	s.metrics.RecordSelect(k, time.Since(start), err)
	s.logger.LogSelect(ctx, "nlargest", k, len(out), err)
	return out, err
}

func (s *Selector) nLargest(ctx context.Context, k int) ([]Scored, error) {
	if s.closed {
		return nil, ErrClosed
	}
	out, err := topk.New(s.heap, s.resolver(ctx)).NLargest(k)
	return out, translateError(err)
}

// NSmallest returns the k lowest-scored records in ascending score order
// without removing them. It costs O(k log k) regardless of how many
// records are held.
func (s *Selector) NSmallest(ctx context.Context, k int) ([]Scored, error) {
	start := time.Now()
	out, err := s.nSmallest(ctx, k)
	s.metrics.RecordSelect(k, time.Since(start), err)
	s.logger.LogSelect(ctx, "nsmallest", k, len(out), err)
	return out, err
}

func (s *Selector) nSmallest(ctx context.Context, k int) ([]Scored, error) {
	if s.closed {
		return nil, ErrClosed
	}
	out, err := topk.New(s.heap, s.resolver(ctx)).NSmallest(k)
	return out, translateError(err)
}

// PopNLargest removes and returns the k highest-scored records in
// descending score order. In-memory mode frees the removed payloads.
// Resolution happens before removal, so a failure leaves the selector
// unchanged.
func (s *Selector) PopNLargest(ctx context.Context, k int) ([]Scored, error) {
	start := time.Now()
	out, err := s.popN(ctx, k, true)
	s.metrics.RecordSelect(k, time.Since(start), err)
	s.logger.LogSelect(ctx, "pop_nlargest", k, len(out), err)
	return out, err
}

// PopNSmallest removes and returns the k lowest-scored records in
// ascending score order, with the same storage semantics as PopNLargest.
func (s *Selector) PopNSmallest(ctx context.Context, k int) ([]Scored, error) {
	start := time.Now()
	out, err := s.popN(ctx, k, false)
	s.metrics.RecordSelect(k, time.Since(start), err)
	s.logger.LogSelect(ctx, "pop_nsmallest", k, len(out), err)
	return out, err
}

func (s *Selector) popN(ctx context.Context, k int, largest bool) ([]Scored, error) {
	if s.closed {
		return nil, ErrClosed
	}

	tracker := &trackingResolver{r: s.resolver(ctx)}
	sel := topk.New(s.heap, tracker)

	var (
		out []Scored
		err error
	)
	if largest {
		out, err = sel.PopNLargest(k)
	} else {
		out, err = sel.PopNSmallest(k)
	}
	if err != nil {
		return nil, translateError(err)
	}

	// Every tracked handle was resolved and removed, so its payload can go.
	for _, h := range tracker.handles {
		s.releasePayload(handle.Handle(h))
	}
	return out, nil
}

// StreamNSmallest yields up to k lowest-scored records in ascending score
// order without removing them, selecting and resolving lazily: breaking
// early skips the remaining work entirely. Mutating the selector between
// yields surfaces as ErrConcurrentModification.
//
//	for rec, err := range s.StreamNSmallest(ctx, 100) {
//	    if err != nil { break }
//	    if rec.Score > threshold { break }
//	    process(rec)
//	}
func (s *Selector) StreamNSmallest(ctx context.Context, k int) iter.Seq2[Scored, error] {
	return func(yield func(Scored, error) bool) {
		start := time.Now()
		if s.closed {
			s.metrics.RecordSelect(k, time.Since(start), ErrClosed)
			s.logger.LogSelect(ctx, "stream_nsmallest", k, 0, ErrClosed)
			yield(Scored{}, ErrClosed)
			return
		}

		sel := topk.New(s.heap, s.resolver(ctx))

		var (
			yielded   int
			streamErr error
		)
		for rec, err := range sel.StreamNSmallest(k) {
			if err != nil {
				streamErr = translateError(err)
				yield(Scored{}, streamErr)
				break
			}
			yielded++
			if !yield(rec, nil) {
				break
			}
		}
		s.metrics.RecordSelect(k, time.Since(start), streamErr)
		s.logger.LogSelect(ctx, "stream_nsmallest", k, yielded, streamErr)
	}
}

// Select starts a fluent selection query.
//
// Example:
//
//	best, err := s.Select().
//	    Largest(10).
//	    Execute(ctx)
//
//	// Or drain the worst records destructively:
//	evicted, err := s.Select().Smallest(100).Pop().Execute(ctx)
func (s *Selector) Select() *Query {
	return &Query{
		s:       s,
		k:       10, // Default k
		largest: true,
	}
}

// Query is a fluent builder for selection queries.
type Query struct {
	s       *Selector
	k       int
	largest bool
	pop     bool
}

// Largest selects the k highest-scored records, descending.
func (q *Query) Largest(k int) *Query {
	q.k = k
	q.largest = true
	return q
}

// Smallest selects the k lowest-scored records, ascending.
func (q *Query) Smallest(k int) *Query {
	q.k = k
	q.largest = false
	return q
}

// Pop makes Execute remove the selected records instead of reading them.
func (q *Query) Pop() *Query {
	q.pop = true
	return q
}

// Execute runs the query and returns the results.
func (q *Query) Execute(ctx context.Context) ([]Scored, error) {
	switch {
	case q.pop && q.largest:
		return q.s.PopNLargest(ctx, q.k)
	case q.pop:
		return q.s.PopNSmallest(ctx, q.k)
	case q.largest:
		return q.s.NLargest(ctx, q.k)
	default:
		return q.s.NSmallest(ctx, q.k)
	}
}

// MustExecute runs the query, panicking on error.
// Use this only in tests or when you're certain the query is valid.
func (q *Query) MustExecute(ctx context.Context) []Scored {
	out, err := q.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return out
}

// Stream returns an iterator over the results for memory-efficient
// processing. Streams never remove records; Pop is ignored. Smallest
// queries stream lazily, largest queries select up front and yield from
// the materialized result.
func (q *Query) Stream(ctx context.Context) iter.Seq2[Scored, error] {
	if !q.largest {
		return q.s.StreamNSmallest(ctx, q.k)
	}
	return func(yield func(Scored, error) bool) {
		out, err := q.s.NLargest(ctx, q.k)
		if err != nil {
			yield(Scored{}, err)
			return
		}
		for _, rec := range out {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// First returns only the best record of the query's direction, or
// ErrEmpty when nothing is held.
func (q *Query) First(ctx context.Context) (Scored, error) {
	q.k = 1
	out, err := q.Execute(ctx)
	if err != nil {
		return Scored{}, err
	}
	if len(out) == 0 {
		return Scored{}, ErrEmpty
	}
	return out[0], nil
}

// Count reports how many records the query would return, without
// resolving any payloads. Pop is ignored.
func (q *Query) Count(ctx context.Context) (int, error) {
	if q.s.closed {
		return 0, ErrClosed
	}
	n := q.s.heap.Len()
	if q.k < n {
		n = q.k
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
