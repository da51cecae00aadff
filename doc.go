// Package skim selects the top-K scored records from streams far larger
// than memory.
//
// A Selector pairs a score-keyed min-heap with a payload store. Records
// enter as (score, payload) pairs; the payload bytes are stored once and
// addressed through an opaque 64-bit handle, so the heap stays a flat
// array of 16-byte entries no matter how large the payloads are.
// Selection runs over the heap alone and resolves payloads only for the
// winners.
//
// Two storage modes cover both sides of the memory boundary:
//
//   - In-memory: payloads live in a compacting byte arena (New)
//   - Out-of-core: payloads live in bounded append-only segment files (Open)
//
// # Quick Start
//
// Keep the 10 best records out of an arbitrarily long stream:
//
//	sel, err := skim.New(skim.WithKeep(10))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sel.Close(ctx)
//
//	for rec := range input {
//	    if _, err := sel.Offer(ctx, rec.Score, rec.Payload); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
//	best, err := sel.NLargest(ctx, 10)
//
// Out-of-core mode stores payloads in segment files under a directory and
// is otherwise identical:
//
//	sel, err := skim.Open(ctx, "./data", skim.WithKeep(100000))
//
// The fluent form reads the same queries off one builder:
//
//	top, err := sel.Select().Largest(10).Execute(ctx)
//	winner, err := sel.Select().Largest(1).First(ctx)
//
// Streaming yields the smallest records lazily; breaking early skips the
// remaining selection work:
//
//	for rec, err := range sel.StreamNSmallest(ctx, 100) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if rec.Score > threshold {
//	        break
//	    }
//	    process(rec)
//	}
//
// # Persistence
//
// Snapshot writes the whole selection to one checksummed file; LoadSnapshot
// rebuilds a Selector from it. In-memory snapshots carry the payload bytes,
// out-of-core snapshots reference the segment store directory and reopen
// it on load:
//
//	err := sel.Snapshot(ctx, "best.skim")
//	sel, err := skim.LoadSnapshot(ctx, "best.skim")
//
// Sealed segments of an out-of-core store can additionally be tiered to
// object storage and read back on demand; see the archive and blobstore
// packages.
//
// # Concurrency
//
// A Selector performs no internal locking. It is single-writer: callers
// serialize mutating operations externally, and destructive selection,
// Compact, and Reset are exclusive-access operations. Borrowed state such
// as a running StreamNSmallest iterator detects concurrent mutation and
// fails with ErrConcurrentModification rather than observing a torn
// structure.
package skim
