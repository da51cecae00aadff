// Package snapshot persists selector state to a single self-describing file.
//
// Layout, little-endian:
//
//	[magic "SKIMSNAP"][version u16][codec len u8][compress len u8]
//	[codec name][compress name]
//	[framed body: meta, heap entries, arena slots]
//	[xxhash64 of everything prior]
//
// The body is framed through the configured compress codec (see package
// compress). The meta section is a codec-encoded document carrying the
// selector configuration and the section counts; the heap section holds the
// raw 16-byte entries; the arena section re-packs live payload slots
// contiguously. Out-of-core selectors persist the store directory and
// manifest name instead of segment bytes, which stay owned by the store.
//
// Load verifies magic, version, and checksum before decoding anything, so a
// corrupt file never yields partial state.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/hupe1980/skim/arena"
	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/heap"
)

var magic = [8]byte{'S', 'K', 'I', 'M', 'S', 'N', 'A', 'P'}

const (
	formatVersion = uint16(1)

	// headerSize is the fixed prefix before the codec and compress names.
	headerSize = 12

	// trailerSize is the xxhash64 checksum at the end of the file.
	trailerSize = 8

	// maxMetaBytes bounds the meta section so a corrupt length fails
	// instead of exhausting memory.
	maxMetaBytes = 1 << 20

	// maxSlotBytes bounds a single arena slot for the same reason.
	maxSlotBytes = 1 << 30
)

var (
	// ErrCorruptSnapshot reports a snapshot whose bytes fail structural or
	// checksum validation.
	ErrCorruptSnapshot = errors.New("snapshot: corrupt snapshot")

	// ErrUnsupportedVersion reports a snapshot written by an incompatible
	// format version.
	ErrUnsupportedVersion = errors.New("snapshot: unsupported format version")
)

// ChecksumMismatchError details a failed integrity check over the file
// bytes.
type ChecksumMismatchError struct {
	Expected uint64
	Actual   uint64
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("snapshot: checksum mismatch: expected %016x, got %016x", e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Unwrap() error { return ErrCorruptSnapshot }

// Mode identifies the payload store a snapshot captures.
type Mode uint8

const (
	// ModeArena marks an in-memory selector: payload bytes travel inside
	// the snapshot.
	ModeArena Mode = iota + 1

	// ModeStore marks an out-of-core selector: the snapshot references the
	// store directory and manifest instead of copying segment bytes.
	ModeStore
)

func (m Mode) String() string {
	switch m {
	case ModeArena:
		return "arena"
	case ModeStore:
		return "store"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// State references the live components a snapshot is taken from. Write
// streams directly out of them, so the selector must not mutate until it
// returns (single-writer semantics cover this).
type State struct {
	Mode Mode

	// Keep is the bounded-selection capacity, zero when unbounded.
	Keep int

	// ScoreLo and ScoreHi declare the accepted score interval when
	// HasScoreRange is set.
	ScoreLo, ScoreHi float64
	HasScoreRange    bool

	// Heap is required in every mode.
	Heap *heap.Heap

	// Arena backs ModeArena snapshots.
	Arena *arena.Arena

	// StoreDir and StoreManifest describe the segment store referenced by
	// ModeStore snapshots.
	StoreDir      string
	StoreManifest string
}

// Slot is one re-packed arena payload. Handle is the value the heap
// entries referenced at save time; it does not resolve in a rebuilt arena
// (see Snapshot.RebuildArena).
type Slot struct {
	Handle  handle.Handle
	Payload []byte
}

// Snapshot is the decoded content of a snapshot file.
type Snapshot struct {
	Mode Mode

	Keep             int
	ScoreLo, ScoreHi float64
	HasScoreRange    bool

	// Entries is the heap in its saved array order.
	Entries []heap.Entry

	// Slots holds the arena payloads of a ModeArena snapshot, nil
	// otherwise.
	Slots []Slot

	// StoreDir and StoreManifest locate the segment store of a ModeStore
	// snapshot.
	StoreDir      string
	StoreManifest string
}

// RebuildArena replays the snapshot's slots into a fresh arena and returns
// it along with the heap entries rewritten to the new handles. Handles
// change across a save/load cycle because the arena re-packs live slots.
func (s *Snapshot) RebuildArena(opts ...arena.Option) (*arena.Arena, []heap.Entry, error) {
	if s.Mode != ModeArena {
		return nil, nil, fmt.Errorf("snapshot: cannot rebuild an arena from a %s snapshot", s.Mode)
	}

	a := arena.New(opts...)
	remap := make(map[handle.Handle]handle.Handle, len(s.Slots))
	for _, slot := range s.Slots {
		h, err := a.Put(slot.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot: rebuild arena: %w", err)
		}
		remap[slot.Handle] = h
	}

	entries := make([]heap.Entry, len(s.Entries))
	for i, e := range s.Entries {
		h, ok := remap[handle.Handle(e.Handle)]
		if !ok {
			return nil, nil, fmt.Errorf("%w: heap entry references unknown slot %s",
				ErrCorruptSnapshot, handle.Handle(e.Handle))
		}
		entries[i] = heap.Entry{Score: e.Score, Handle: uint64(h)}
	}
	return a, entries, nil
}

// meta is the codec-encoded section carrying configuration and section
// counts. Counts double as the section directory: the binary sections that
// follow are parsed against them.
type meta struct {
	Mode          Mode    `json:"mode"`
	Keep          int     `json:"keep"`
	ScoreLo       float64 `json:"scoreLo"`
	ScoreHi       float64 `json:"scoreHi"`
	HasScoreRange bool    `json:"hasScoreRange"`
	HeapLen       int     `json:"heapLen"`
	ArenaSlots    int     `json:"arenaSlots"`
	ArenaBytes    int64   `json:"arenaBytes"`
	StoreDir      string  `json:"storeDir"`
	StoreManifest string  `json:"storeManifest"`
}
