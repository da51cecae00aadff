package snapshot

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/skim/arena"
	"github.com/hupe1980/skim/codec"
	"github.com/hupe1980/skim/compress"
	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/heap"
	"github.com/hupe1980/skim/internal/fs"
)

// arenaState builds an arena-mode state holding the given scored payloads.
func arenaState(t *testing.T, records map[float64]string) *State {
	t.Helper()

	a := arena.New()
	h := heap.New()
	for score, payload := range records {
		hd, err := a.Put([]byte(payload))
		require.NoError(t, err)
		require.NoError(t, h.Push(score, uint64(hd)))
	}
	return &State{Mode: ModeArena, Heap: h, Arena: a}
}

// encode writes st to a buffer and returns the raw snapshot bytes.
func encode(t *testing.T, st *State, opts ...Option) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, st, opts...))
	return buf.Bytes()
}

// resum recomputes the checksum trailer after a test patched the bytes
// before it.
func resum(data []byte) []byte {
	body := data[:len(data)-trailerSize]
	out := make([]byte, len(data))
	copy(out, body)
	binary.LittleEndian.PutUint64(out[len(data)-trailerSize:], xxhash.Sum64(body))
	return out
}

func TestSaveLoadArenaMode(t *testing.T) {
	st := arenaState(t, map[float64]string{
		0.9: "ninety",
		0.5: "fifty",
		0.8: "eighty",
	})
	st.Keep = 5
	st.ScoreLo, st.ScoreHi, st.HasScoreRange = 0, 1, true

	path := filepath.Join(t.TempDir(), "selector.snap")
	require.NoError(t, Save(path, st))

	snap, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeArena, snap.Mode)
	assert.Equal(t, 5, snap.Keep)
	assert.True(t, snap.HasScoreRange)
	assert.Equal(t, 0.0, snap.ScoreLo)
	assert.Equal(t, 1.0, snap.ScoreHi)
	assert.Empty(t, snap.StoreDir)

	require.Equal(t, st.Heap.Entries(), snap.Entries)

	want := make(map[handle.Handle][]byte)
	for hd, payload := range st.Arena.All() {
		want[hd] = append([]byte(nil), payload...)
	}
	require.Len(t, snap.Slots, len(want))
	for _, slot := range snap.Slots {
		assert.True(t, bytes.Equal(want[slot.Handle], slot.Payload), "slot %s", slot.Handle)
	}
}

func TestSaveLoadStoreMode(t *testing.T) {
	h := heap.New()
	require.NoError(t, h.Push(1.5, uint64(handle.Pack(0, 0))))
	require.NoError(t, h.Push(2.5, uint64(handle.Pack(1, 64))))

	st := &State{
		Mode:          ModeStore,
		Heap:          h,
		StoreDir:      "/data/segments",
		StoreManifest: "MANIFEST.json",
	}

	path := filepath.Join(t.TempDir(), "selector.snap")
	require.NoError(t, Save(path, st))

	snap, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeStore, snap.Mode)
	assert.Equal(t, "/data/segments", snap.StoreDir)
	assert.Equal(t, "MANIFEST.json", snap.StoreManifest)
	assert.Nil(t, snap.Slots)
	require.Equal(t, h.Entries(), snap.Entries)

	// Store-mode handles survive unchanged; segment files stay authoritative.
	_, _, err = snap.RebuildArena()
	require.Error(t, err)
}

func TestRebuildArenaRestoresSelectionOrder(t *testing.T) {
	st := arenaState(t, map[float64]string{
		0.9: "ninety",
		0.5: "fifty",
		0.8: "eighty",
	})

	snap, err := Read(bytes.NewReader(encode(t, st)))
	require.NoError(t, err)

	a, entries, err := snap.RebuildArena()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	h := heap.New()
	require.NoError(t, h.Rebuild(entries))

	wantOrder := []struct {
		score   float64
		payload string
	}{
		{0.5, "fifty"},
		{0.8, "eighty"},
		{0.9, "ninety"},
	}
	for _, want := range wantOrder {
		e, err := h.Pop()
		require.NoError(t, err)
		assert.Equal(t, want.score, e.Score)

		payload, err := a.Value(handle.Handle(e.Handle))
		require.NoError(t, err)
		assert.Equal(t, want.payload, string(payload))
	}
}

func TestEmptySnapshotRoundTrip(t *testing.T) {
	st := &State{Mode: ModeArena, Heap: heap.New(), Arena: arena.New()}

	snap, err := Read(bytes.NewReader(encode(t, st)))
	require.NoError(t, err)

	assert.Empty(t, snap.Entries)
	assert.Empty(t, snap.Slots)

	a, entries, err := snap.RebuildArena()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, a.Len())
}

func TestInfiniteScoresSurviveRoundTrip(t *testing.T) {
	a := arena.New()
	h := heap.New()
	for _, score := range []float64{math.Inf(-1), 0, math.Inf(1)} {
		hd, err := a.Put([]byte("payload"))
		require.NoError(t, err)
		require.NoError(t, h.Push(score, uint64(hd)))
	}
	st := &State{Mode: ModeArena, Heap: h, Arena: a}

	snap, err := Read(bytes.NewReader(encode(t, st)))
	require.NoError(t, err)
	require.Equal(t, h.Entries(), snap.Entries)
}

func TestCodecsResolveFromHeader(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "defaults"},
		{name: "none", opts: []Option{WithCompression(compress.NoOp{})}},
		{name: "lz4", opts: []Option{WithCompression(compress.LZ4{})}},
		{name: "zstd", opts: []Option{WithCompression(compress.Zstd{})}},
		{name: "json meta", opts: []Option{WithCodec(codec.JSON{})}},
		{name: "small blocks", opts: []Option{WithBlockSize(16)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := arenaState(t, map[float64]string{
				1: "one", 2: "two", 3: "three",
			})

			// Load carries no codec hints; the header must be enough.
			snap, err := Read(bytes.NewReader(encode(t, st, tt.opts...)))
			require.NoError(t, err)
			assert.Equal(t, st.Heap.Entries(), snap.Entries)
			assert.Len(t, snap.Slots, 3)
		})
	}
}

func TestWriteValidatesState(t *testing.T) {
	tests := []struct {
		name string
		st   *State
	}{
		{name: "nil state", st: nil},
		{name: "nil heap", st: &State{Mode: ModeArena, Arena: arena.New()}},
		{name: "arena mode without arena", st: &State{Mode: ModeArena, Heap: heap.New()}},
		{name: "store mode without dir", st: &State{Mode: ModeStore, Heap: heap.New()}},
		{name: "invalid mode", st: &State{Heap: heap.New()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.Error(t, Write(&buf, tt.st))
		})
	}
}

func TestLoadRejectsCorruption(t *testing.T) {
	st := arenaState(t, map[float64]string{
		0.1: "first",
		0.2: "second",
	})
	valid := encode(t, st)

	t.Run("truncated file", func(t *testing.T) {
		_, err := Read(bytes.NewReader(valid[:headerSize+trailerSize-1]))
		require.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		data := append([]byte(nil), valid...)
		data[len(data)/2] ^= 0xFF

		_, err := Read(bytes.NewReader(data))
		require.ErrorIs(t, err, ErrCorruptSnapshot)

		var mismatch *ChecksumMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.NotEqual(t, mismatch.Expected, mismatch.Actual)
	})

	t.Run("bad magic", func(t *testing.T) {
		data := append([]byte(nil), valid...)
		data[0] ^= 0xFF

		_, err := Read(bytes.NewReader(resum(data)))
		require.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("unsupported version", func(t *testing.T) {
		data := append([]byte(nil), valid...)
		binary.LittleEndian.PutUint16(data[8:10], 99)

		_, err := Read(bytes.NewReader(resum(data)))
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("trailing data", func(t *testing.T) {
		data := append([]byte(nil), valid[:len(valid)-trailerSize]...)
		data = append(data, 0xDE, 0xAD)
		data = append(data, make([]byte, trailerSize)...)

		_, err := Read(bytes.NewReader(resum(data)))
		require.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("unknown codec", func(t *testing.T) {
		hdr := make([]byte, headerSize)
		copy(hdr[0:8], magic[:])
		binary.LittleEndian.PutUint16(hdr[8:10], formatVersion)
		hdr[10] = 5
		hdr[11] = 2
		data := append(hdr, []byte("bogus")...)
		data = append(data, []byte("s2")...)
		data = append(data, make([]byte, trailerSize)...)

		_, err := Read(bytes.NewReader(resum(data)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown codec")
	})
}

func TestSaveIsAtomicUnderWriteFault(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule(".tmp", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	st := arenaState(t, map[float64]string{0.7: "seventy"})
	path := filepath.Join(t.TempDir(), "selector.snap")

	err := Save(path, st, WithFS(faulty))
	require.ErrorIs(t, err, fs.ErrInjected)

	// Neither the final file nor the temp file may exist after a failure.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.snap"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
