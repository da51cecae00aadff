// Snapshot persistence for Selector.

package skim

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/skim/arena"
	"github.com/hupe1980/skim/segstore"
	"github.com/hupe1980/skim/snapshot"
)

// Snapshot persists the selection to a single file at path, written
// atomically. In-memory snapshots are self-contained: they carry every
// live payload. Out-of-core snapshots carry the heap plus a reference to
// the segment directory, which must survive alongside the file; the store
// is synced first so every handle resolves after a reload.
func (s *Selector) Snapshot(ctx context.Context, path string) error {
	start := time.Now()
	err := s.snapshot(ctx, path)
	s.metrics.RecordSnapshot(time.Since(start), err)
	s.logger.LogSnapshot(ctx, path, err)
	return err
}

func (s *Selector) snapshot(ctx context.Context, path string) error {
	if s.closed {
		return ErrClosed
	}

	st := &snapshot.State{
		Mode:          s.mode,
		Keep:          s.keep,
		ScoreLo:       s.scoreLo,
		ScoreHi:       s.scoreHi,
		HasScoreRange: s.hasScoreRange,
		Heap:          s.heap,
	}

	switch s.mode {
	case snapshot.ModeArena:
		st.Arena = s.arena
	case snapshot.ModeStore:
		// Flush buffered records so every referenced handle resolves after a
		// reload. The manifest may trail behind, but Open adopts complete
		// tail records, so trailing writes stay reachable.
		if err := s.store.Sync(ctx); err != nil {
			return translateError(err)
		}
		st.StoreDir = s.store.Dir()
		st.StoreManifest = segstore.ManifestName
	}

	return translateError(snapshot.Save(path, st, s.snapOpts...))
}

// LoadSnapshot rebuilds a Selector from a snapshot file. Configuration
// captured in the snapshot (keep bound, score range) wins over the
// equivalent options; options supply the environment around it: arena and
// store tuning, resource controller, logger, metrics. WithStoreDir points
// an out-of-core snapshot at a segment directory that moved since the
// snapshot was taken.
func LoadSnapshot(ctx context.Context, path string, optFns ...Option) (*Selector, error) {
	opts := applyOptions(optFns)

	snap, err := snapshot.Load(path, opts.snapshotOptions...)
	if err != nil {
		opts.logger.LogLoad(ctx, path, 0, err)
		return nil, translateError(err)
	}

	// The snapshot's configuration is authoritative.
	opts.keep = snap.Keep
	opts.scoreLo = snap.ScoreLo
	opts.scoreHi = snap.ScoreHi
	opts.hasScoreRange = snap.HasScoreRange

	s := newSelector(snap.Mode, opts)

	switch snap.Mode {
	case snapshot.ModeArena:
		arenaOpts := append([]arena.Option{arena.WithLogger(opts.logger.Logger)}, opts.arenaOptions...)
		a, entries, err := snap.RebuildArena(arenaOpts...)
		if err != nil {
			opts.logger.LogLoad(ctx, path, 0, err)
			return nil, translateError(err)
		}
		live := a.Stats().LiveBytes
		if !s.ctrl.TryReserve(live) {
			err := fmt.Errorf("%w: snapshot holds %d payload bytes", ErrOutOfMemory, live)
			opts.logger.LogLoad(ctx, path, 0, err)
			return nil, err
		}
		if err := s.heap.Rebuild(entries); err != nil {
			s.ctrl.Release(live)
			opts.logger.LogLoad(ctx, path, 0, err)
			return nil, translateError(err)
		}
		s.arena = a
		s.reserved = live

	case snapshot.ModeStore:
		dir := snap.StoreDir
		if opts.storeDir != "" {
			dir = opts.storeDir
		}
		storeOpts := append([]segstore.Option{segstore.WithLogger(opts.logger.Logger)}, opts.storeOptions...)
		store, err := segstore.Open(ctx, dir, storeOpts...)
		if err != nil {
			opts.logger.LogLoad(ctx, path, 0, err)
			return nil, translateError(err)
		}
		if err := s.heap.Rebuild(snap.Entries); err != nil {
			_ = store.Close(ctx)
			opts.logger.LogLoad(ctx, path, 0, err)
			return nil, translateError(err)
		}
		s.store = store
	}

	opts.logger.LogLoad(ctx, path, s.heap.Len(), nil)
	return s, nil
}
