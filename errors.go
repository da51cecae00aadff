package skim

import (
	"errors"
	"fmt"

	"github.com/hupe1980/skim/arena"
	"github.com/hupe1980/skim/heap"
	"github.com/hupe1980/skim/segstore"
	"github.com/hupe1980/skim/snapshot"
)

// Sentinel errors returned by Selector operations. Subpackage errors are
// wrapped under these, so callers match with errors.Is against this
// package alone; the underlying error stays reachable via errors.Unwrap.
var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("skim: selector closed")

	// ErrEmpty is returned when an operation needs at least one record and
	// the selector holds none.
	ErrEmpty = errors.New("skim: empty selector")

	// ErrInvalidScore rejects NaN scores and scores outside the configured
	// score range.
	ErrInvalidScore = errors.New("skim: invalid score")

	// ErrOutOfMemory is returned when a record would exceed the configured
	// memory budget.
	ErrOutOfMemory = errors.New("skim: out of memory")

	// ErrOversizedPayload rejects payloads above the out-of-core record
	// limit under the default policy.
	ErrOversizedPayload = errors.New("skim: oversized payload")

	// ErrPayloadSkipped reports a payload dropped by the skip policy.
	ErrPayloadSkipped = errors.New("skim: payload skipped")

	// ErrNotFound is returned when a handle no longer resolves to a
	// payload, typically after its segment file was removed.
	ErrNotFound = errors.New("skim: not found")

	// ErrStaleHandle is returned when a freed or compacted in-memory record
	// is referenced again.
	ErrStaleHandle = errors.New("skim: stale handle")

	// ErrConcurrentModification is returned by streaming selections when
	// the selector mutated between yields.
	ErrConcurrentModification = errors.New("skim: concurrent modification")

	// ErrCorruptSnapshot is returned by LoadSnapshot when the file fails
	// structural or checksum validation.
	ErrCorruptSnapshot = errors.New("skim: corrupt snapshot")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, heap.ErrEmpty):
		return fmt.Errorf("%w: %w", ErrEmpty, err)
	case errors.Is(err, heap.ErrInvalidScore):
		return fmt.Errorf("%w: %w", ErrInvalidScore, err)
	case errors.Is(err, heap.ErrConcurrentModification):
		return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
	case errors.Is(err, heap.ErrOutOfMemory), errors.Is(err, arena.ErrOutOfMemory):
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	case errors.Is(err, arena.ErrStaleHandle):
		return fmt.Errorf("%w: %w", ErrStaleHandle, err)
	case errors.Is(err, segstore.ErrOversizedPayload):
		return fmt.Errorf("%w: %w", ErrOversizedPayload, err)
	case errors.Is(err, segstore.ErrPayloadSkipped):
		return fmt.Errorf("%w: %w", ErrPayloadSkipped, err)
	case errors.Is(err, segstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, segstore.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, snapshot.ErrCorruptSnapshot), errors.Is(err, snapshot.ErrUnsupportedVersion):
		return fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	return err
}
