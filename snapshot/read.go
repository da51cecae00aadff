package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/skim/codec"
	"github.com/hupe1980/skim/compress"
	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/heap"
	"github.com/hupe1980/skim/internal/fs"
)

// Read decodes a snapshot from r. The whole stream is buffered so the
// checksum can be verified before any section is decoded.
func Read(r io.Reader) (*Snapshot, error) {
	if r == nil {
		return nil, fmt.Errorf("snapshot: reader is nil")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Load reads and decodes the snapshot file at path.
func Load(path string, optFns ...Option) (*Snapshot, error) {
	o := applyOptions(optFns)

	data, err := fs.ReadFile(o.fsys, path)
	if err != nil {
		return nil, err
	}
	snap, err := decode(data)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("snapshot loaded",
		"path", path,
		"mode", snap.Mode.String(),
		"entries", len(snap.Entries),
		"bytes", len(data),
	)
	return snap, nil
}

func decode(data []byte) (*Snapshot, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: truncated file", ErrCorruptSnapshot)
	}

	// Checksum first. Nothing else is trusted until it holds.
	body := data[:len(data)-trailerSize]
	want := binary.LittleEndian.Uint64(data[len(data)-trailerSize:])
	if got := xxhash.Sum64(body); got != want {
		return nil, &ChecksumMismatchError{Expected: want, Actual: got}
	}

	if [8]byte(body[0:8]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	version := binary.LittleEndian.Uint16(body[8:10])
	if version != formatVersion {
		return nil, fmt.Errorf("%w %d", ErrUnsupportedVersion, version)
	}
	codecLen, compressLen := int(body[10]), int(body[11])
	if headerSize+codecLen+compressLen > len(body) {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptSnapshot)
	}
	codecName := string(body[headerSize : headerSize+codecLen])
	compressName := string(body[headerSize+codecLen : headerSize+codecLen+compressLen])

	cdc, ok := codec.ByName(codecName)
	if !ok {
		return nil, fmt.Errorf("snapshot: unknown codec %q", codecName)
	}
	cmp, ok := compress.ByName(compressName)
	if !ok {
		return nil, fmt.Errorf("snapshot: unknown compression %q", compressName)
	}

	br := compress.NewBlockReader(bytes.NewReader(body[headerSize+codecLen+compressLen:]), cmp)

	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: meta section: %w", ErrCorruptSnapshot, err)
	}
	metaLen := binary.LittleEndian.Uint32(lenBuf[:])
	if metaLen == 0 || metaLen > maxMetaBytes {
		return nil, fmt.Errorf("%w: implausible meta length %d", ErrCorruptSnapshot, metaLen)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(br, metaBytes); err != nil {
		return nil, fmt.Errorf("%w: meta section: %w", ErrCorruptSnapshot, err)
	}
	var m meta
	if err := cdc.Unmarshal(metaBytes, &m); err != nil {
		return nil, fmt.Errorf("%w: decode meta: %w", ErrCorruptSnapshot, err)
	}
	if err := validateMeta(&m); err != nil {
		return nil, err
	}

	entries := make([]heap.Entry, m.HeapLen)
	var entryBuf [16]byte
	for i := range entries {
		if _, err := io.ReadFull(br, entryBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: heap section: %w", ErrCorruptSnapshot, err)
		}
		entries[i] = heap.Entry{
			Score:  math.Float64frombits(binary.LittleEndian.Uint64(entryBuf[0:8])),
			Handle: binary.LittleEndian.Uint64(entryBuf[8:16]),
		}
	}

	var slots []Slot
	if m.Mode == ModeArena {
		slots = make([]Slot, 0, m.ArenaSlots)
		var slotBuf [12]byte
		for i := 0; i < m.ArenaSlots; i++ {
			if _, err := io.ReadFull(br, slotBuf[:]); err != nil {
				return nil, fmt.Errorf("%w: arena section: %w", ErrCorruptSnapshot, err)
			}
			h := handle.Handle(binary.LittleEndian.Uint64(slotBuf[0:8]))
			n := binary.LittleEndian.Uint32(slotBuf[8:12])
			if n > maxSlotBytes {
				return nil, fmt.Errorf("%w: implausible slot length %d", ErrCorruptSnapshot, n)
			}
			payload := make([]byte, n)
			if _, err := io.ReadFull(br, payload); err != nil {
				return nil, fmt.Errorf("%w: arena section: %w", ErrCorruptSnapshot, err)
			}
			slots = append(slots, Slot{Handle: h, Payload: payload})
		}
	}

	// The sections must consume the body exactly.
	var one [1]byte
	switch _, err := br.Read(one[:]); {
	case err == nil:
		return nil, fmt.Errorf("%w: trailing data", ErrCorruptSnapshot)
	case !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	return &Snapshot{
		Mode:          m.Mode,
		Keep:          m.Keep,
		ScoreLo:       m.ScoreLo,
		ScoreHi:       m.ScoreHi,
		HasScoreRange: m.HasScoreRange,
		Entries:       entries,
		Slots:         slots,
		StoreDir:      m.StoreDir,
		StoreManifest: m.StoreManifest,
	}, nil
}

func validateMeta(m *meta) error {
	switch m.Mode {
	case ModeArena:
		if m.StoreDir != "" {
			return fmt.Errorf("%w: arena snapshot references a store directory", ErrCorruptSnapshot)
		}
	case ModeStore:
		if m.ArenaSlots != 0 {
			return fmt.Errorf("%w: store snapshot carries arena slots", ErrCorruptSnapshot)
		}
		if m.StoreDir == "" {
			return fmt.Errorf("%w: store snapshot without a store directory", ErrCorruptSnapshot)
		}
	default:
		return fmt.Errorf("%w: invalid mode %d", ErrCorruptSnapshot, uint8(m.Mode))
	}
	if m.HeapLen < 0 || m.ArenaSlots < 0 || m.ArenaBytes < 0 {
		return fmt.Errorf("%w: negative section count", ErrCorruptSnapshot)
	}
	if m.Keep < 0 {
		return fmt.Errorf("%w: negative keep", ErrCorruptSnapshot)
	}
	if m.HasScoreRange && (math.IsNaN(m.ScoreLo) || math.IsNaN(m.ScoreHi) || m.ScoreLo > m.ScoreHi) {
		return fmt.Errorf("%w: invalid score range", ErrCorruptSnapshot)
	}
	return nil
}
