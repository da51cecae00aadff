package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/skim/compress"
	"github.com/hupe1980/skim/internal/fs"
)

// Write streams a snapshot of st to w. The state must not mutate until it
// returns.
func Write(w io.Writer, st *State, optFns ...Option) error {
	if w == nil {
		return fmt.Errorf("snapshot: writer is nil")
	}
	if err := validateState(st); err != nil {
		return err
	}
	o := applyOptions(optFns)

	codecName := o.codec.Name()
	compressName := o.compress.Name()
	if len(codecName) > 0xFF || len(compressName) > 0xFF {
		return fmt.Errorf("snapshot: codec name too long")
	}

	m := meta{
		Mode:          st.Mode,
		Keep:          st.Keep,
		ScoreLo:       st.ScoreLo,
		ScoreHi:       st.ScoreHi,
		HasScoreRange: st.HasScoreRange,
		HeapLen:       st.Heap.Len(),
		StoreDir:      st.StoreDir,
		StoreManifest: st.StoreManifest,
	}
	if st.Mode == ModeArena {
		stats := st.Arena.Stats()
		m.ArenaSlots = stats.LiveSlots
		m.ArenaBytes = stats.LiveBytes
	}
	metaBytes, err := o.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("snapshot: encode meta: %w", err)
	}
	if len(metaBytes) > maxMetaBytes {
		return fmt.Errorf("snapshot: meta section of %d bytes exceeds limit", len(metaBytes))
	}

	// Everything before the trailer feeds the checksum.
	digest := xxhash.New()
	tw := io.MultiWriter(w, digest)

	hdr := make([]byte, headerSize, headerSize+len(codecName)+len(compressName))
	copy(hdr[0:8], magic[:])
	binary.LittleEndian.PutUint16(hdr[8:10], formatVersion)
	hdr[10] = byte(len(codecName))
	hdr[11] = byte(len(compressName))
	hdr = append(hdr, codecName...)
	hdr = append(hdr, compressName...)
	if _, err := tw.Write(hdr); err != nil {
		return err
	}

	bw := compress.NewBlockWriter(tw, o.compress, o.blockSize)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(metaBytes)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(metaBytes); err != nil {
		return err
	}

	var entryBuf [16]byte
	for i := 0; i < m.HeapLen; i++ {
		e := st.Heap.At(i)
		binary.LittleEndian.PutUint64(entryBuf[0:8], math.Float64bits(e.Score))
		binary.LittleEndian.PutUint64(entryBuf[8:16], e.Handle)
		if _, err := bw.Write(entryBuf[:]); err != nil {
			return err
		}
	}

	if st.Mode == ModeArena {
		slots := 0
		var slotBuf [12]byte
		for h, payload := range st.Arena.All() {
			if len(payload) > math.MaxUint32 {
				return fmt.Errorf("snapshot: slot of %d bytes exceeds format limit", len(payload))
			}
			binary.LittleEndian.PutUint64(slotBuf[0:8], uint64(h))
			binary.LittleEndian.PutUint32(slotBuf[8:12], uint32(len(payload)))
			if _, err := bw.Write(slotBuf[:]); err != nil {
				return err
			}
			if _, err := bw.Write(payload); err != nil {
				return err
			}
			slots++
		}
		if slots != m.ArenaSlots {
			return fmt.Errorf("snapshot: arena mutated during save: %d slots, meta says %d", slots, m.ArenaSlots)
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint64(trailer[:], digest.Sum64())
	_, err = w.Write(trailer[:])
	return err
}

// Save writes a snapshot of st to path atomically: the file appears with
// its final content or not at all.
func Save(path string, st *State, optFns ...Option) error {
	o := applyOptions(optFns)

	var buf bytes.Buffer
	if err := Write(&buf, st, optFns...); err != nil {
		return err
	}
	if err := fs.WriteAtomic(o.fsys, path, filepath.Dir(path), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshot: save %s: %w", path, err)
	}

	o.logger.Debug("snapshot written",
		"path", path,
		"mode", st.Mode.String(),
		"entries", st.Heap.Len(),
		"bytes", buf.Len(),
	)
	return nil
}

func validateState(st *State) error {
	if st == nil {
		return fmt.Errorf("snapshot: state is nil")
	}
	if st.Heap == nil {
		return fmt.Errorf("snapshot: heap is nil")
	}
	switch st.Mode {
	case ModeArena:
		if st.Arena == nil {
			return fmt.Errorf("snapshot: arena is nil")
		}
	case ModeStore:
		if st.StoreDir == "" {
			return fmt.Errorf("snapshot: store directory is empty")
		}
	default:
		return fmt.Errorf("snapshot: invalid mode %d", uint8(st.Mode))
	}
	return nil
}
