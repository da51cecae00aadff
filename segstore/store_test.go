package segstore

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/internal/fs"
)

func newStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, dir
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	payloads := [][]byte{
		[]byte("alpha"),
		[]byte("bravo"),
		{},
		[]byte("charlie"),
	}

	var hs []handle.Handle
	for _, p := range payloads {
		h, err := s.Put(ctx, p)
		require.NoError(t, err)
		hs = append(hs, h)
	}

	// Records land back to back: [len][payload] with no terminator.
	assert.Equal(t, handle.Pack(0, 0), hs[0])
	assert.Equal(t, uint32(0), hs[1].SegmentID())
	assert.Equal(t, uint32(len(payloads[0])+1), hs[1].Offset())

	for i, h := range hs {
		got, err := s.Get(ctx, h)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(payloads[i], got), "payload %d", i)
	}
}

func TestRolloverKeepsRecordsWhole(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, WithMaxSegmentBytes(100))

	first := bytes.Repeat([]byte{0xAB}, 60)
	second := bytes.Repeat([]byte{0xCD}, 50)

	h1, err := s.Put(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h1.SegmentID())
	assert.Equal(t, uint32(0), h1.Offset())

	// 61 + 51 would overflow the 100-byte bound, so the second record
	// starts segment 1 at offset zero instead of spanning.
	h2, err := s.Put(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h2.SegmentID())
	assert.Equal(t, uint32(0), h2.Offset())

	segs := s.Segments()
	require.Len(t, segs, 2)
	assert.True(t, segs[0].Sealed)
	assert.Equal(t, int64(61), segs[0].Bytes)
	assert.Equal(t, int64(1), segs[0].Records)
	assert.False(t, segs[1].Sealed)
	assert.Equal(t, int64(51), segs[1].Bytes)

	got, err := s.Get(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, err = s.Get(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestPayloadLimitTracksSegmentBound(t *testing.T) {
	ctx := context.Background()

	s, _ := newStore(t)
	assert.Equal(t, MaxPayloadBytes, s.PayloadLimit())

	small, _ := newStore(t, WithMaxSegmentBytes(100))
	assert.Equal(t, 99, small.PayloadLimit())

	_, err := small.Put(ctx, make([]byte, 100))
	require.ErrorIs(t, err, ErrOversizedPayload)

	var oversized *OversizedPayloadError
	require.ErrorAs(t, err, &oversized)
	assert.Equal(t, 100, oversized.Size)
	assert.Equal(t, 99, oversized.Limit)
}

func TestOversizePolicies(t *testing.T) {
	ctx := context.Background()
	big := make([]byte, 300)
	for i := range big {
		big[i] = byte(i)
	}

	t.Run("reject", func(t *testing.T) {
		s, _ := newStore(t)
		h, err := s.Put(ctx, big)
		require.ErrorIs(t, err, ErrOversizedPayload)
		assert.Equal(t, handle.Handle(0), h)
		assert.Zero(t, s.Stats().Records)
	})

	t.Run("truncate", func(t *testing.T) {
		s, _ := newStore(t, WithOversizePolicy(Truncate))
		h, err := s.Put(ctx, big)
		require.NoError(t, err)

		got, err := s.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, big[:MaxPayloadBytes], got)
	})

	t.Run("skip", func(t *testing.T) {
		s, _ := newStore(t, WithOversizePolicy(Skip))
		_, err := s.Put(ctx, big)
		require.ErrorIs(t, err, ErrPayloadSkipped)
		assert.Zero(t, s.Stats().Records)

		// The store stays usable for records within the limit.
		h, err := s.Put(ctx, []byte("small"))
		require.NoError(t, err)
		got, err := s.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, []byte("small"), got)
	})
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.Put(ctx, []byte("abc"))
	require.NoError(t, err)

	t.Run("unknown segment", func(t *testing.T) {
		_, err := s.Get(ctx, handle.Pack(5, 0))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("offset beyond segment", func(t *testing.T) {
		_, err := s.Get(ctx, handle.Pack(0, 10))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("record overruns segment", func(t *testing.T) {
		// Offset 3 points into the record body; the byte there read as a
		// length would run past the segment end.
		_, err := s.Get(ctx, handle.Pack(0, 3))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGetBatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, WithMaxSegmentBytes(256)) // force several segments

	const n = 100
	payloads := make([][]byte, n)
	hs := make([]handle.Handle, n)
	for i := range payloads {
		payloads[i] = fmt.Appendf(nil, "payload-%03d", i)
		h, err := s.Put(ctx, payloads[i])
		require.NoError(t, err)
		hs[i] = h
	}

	perm := rand.New(rand.NewPCG(9, 4)).Perm(n)
	shuffled := make([]handle.Handle, n)
	for i, j := range perm {
		shuffled[i] = hs[j]
	}

	results, err := s.GetBatch(ctx, shuffled)
	require.NoError(t, err)
	require.Len(t, results, n)
	for i, j := range perm {
		assert.Equal(t, payloads[j], results[i], "result %d", i)
	}

	t.Run("empty input", func(t *testing.T) {
		results, err := s.GetBatch(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("bad handle fails the batch", func(t *testing.T) {
		_, err := s.GetBatch(ctx, []handle.Handle{hs[0], handle.Pack(99, 0)})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSealRollsToNewSegment(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	h1, err := s.Put(ctx, []byte("one"))
	require.NoError(t, err)
	require.NoError(t, s.Seal(ctx))

	segs := s.Segments()
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Sealed)

	// Sealing with no active segment is a no-op.
	require.NoError(t, s.Seal(ctx))

	h2, err := s.Put(ctx, []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h2.SegmentID())
	assert.Equal(t, uint32(0), h2.Offset())

	for h, want := range map[handle.Handle]string{h1: "one", h2: "two"} {
		got, err := s.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestReopenResumesActiveSegment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	var hs []handle.Handle
	for i := 0; i < 3; i++ {
		h, err := s.Put(ctx, []byte("tail!"))
		require.NoError(t, err)
		hs = append(hs, h)
	}
	require.NoError(t, s.Close(ctx))

	s, err = Open(ctx, dir)
	require.NoError(t, err)
	defer s.Close(ctx)

	st := s.Stats()
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, int64(3), st.Records)
	assert.Equal(t, int64(18), st.Bytes)

	h, err := s.Put(ctx, []byte("after"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h.SegmentID())
	assert.Equal(t, uint32(18), h.Offset())

	for _, old := range hs {
		got, err := s.Get(ctx, old)
		require.NoError(t, err)
		assert.Equal(t, []byte("tail!"), got)
	}
}

func TestReopenAdoptsSegmentBound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir, WithMaxSegmentBytes(100))
	require.NoError(t, err)
	_, err = s.Put(ctx, make([]byte, 60))
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	// Reopening without the option must keep the 100-byte geometry from
	// the manifest, so this put still rolls over.
	s, err = Open(ctx, dir)
	require.NoError(t, err)
	defer s.Close(ctx)

	h, err := s.Put(ctx, make([]byte, 50))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h.SegmentID())
}

func TestRecoveryAdoptsCompleteTailRecords(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, []byte("aaaaa"))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close(ctx)) // manifest now says 18 bytes, 3 records

	// Simulate a crash after the manifest commit: one complete record and
	// one partial record reached the file without a manifest update.
	f, err := os.OpenFile(filepath.Join(dir, "000000.seg"), os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{5, 'h', 'e', 'l', 'l', 'o'})
	require.NoError(t, err)
	_, err = f.Write([]byte{200, 'x', 'y'}) // claims 200 bytes, has 2
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = Open(ctx, dir)
	require.NoError(t, err)
	defer s.Close(ctx)

	st := s.Stats()
	assert.Equal(t, int64(4), st.Records)
	assert.Equal(t, int64(24), st.Bytes)

	got, err := s.Get(ctx, handle.Pack(0, 18))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	// The partial tail is gone from the file and new appends land cleanly.
	info, err := os.Stat(filepath.Join(dir, "000000.seg"))
	require.NoError(t, err)
	assert.Equal(t, int64(24), info.Size())

	h, err := s.Put(ctx, []byte("next"))
	require.NoError(t, err)
	assert.Equal(t, uint32(24), h.Offset())
}

func TestRecoveryRescansShortenedSegment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, []byte("aaaaa"))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close(ctx))

	// Cut the file mid-record so it is shorter than the manifest claims.
	require.NoError(t, os.Truncate(filepath.Join(dir, "000000.seg"), 13))

	s, err = Open(ctx, dir)
	require.NoError(t, err)
	defer s.Close(ctx)

	st := s.Stats()
	assert.Equal(t, int64(2), st.Records)
	assert.Equal(t, int64(12), st.Bytes)

	_, err = s.Get(ctx, handle.Pack(0, 12))
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(ctx, handle.Pack(0, 6))
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaaa"), got)
}

func TestEvictedSealedSegmentReadsAsNotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir, WithMaxSegmentBytes(100))
	require.NoError(t, err)
	h1, err := s.Put(ctx, make([]byte, 60))
	require.NoError(t, err)
	h2, err := s.Put(ctx, make([]byte, 50)) // seals segment 0
	require.NoError(t, err)

	// An archiver may remove sealed segment files after upload. The store
	// must keep working and report the missing records as not found.
	require.NoError(t, os.Remove(filepath.Join(dir, "000000.seg")))

	_, err = s.Get(ctx, h1)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.Get(ctx, h2)
	require.NoError(t, err)
	assert.Len(t, got, 50)

	require.NoError(t, s.Close(ctx))

	s, err = Open(ctx, dir)
	require.NoError(t, err)
	defer s.Close(ctx)

	_, err = s.Get(ctx, h1)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err = s.Get(ctx, h2)
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestWriteFailureIssuesNoHandle(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	dir := t.TempDir()

	s, err := Open(ctx, dir, WithFS(ffs))
	require.NoError(t, err)
	defer s.Close(ctx)

	ffs.AddRule("000000.seg", fs.Fault{FailAfterBytes: 0})

	// Appends buffer 4096 bytes before touching the file, so the first
	// sixteen 255-byte records succeed and the seventeenth forces the
	// failing flush.
	var failed int
	for i := 0; i < 17; i++ {
		h, err := s.Put(ctx, make([]byte, 255))
		if err != nil {
			assert.ErrorIs(t, err, fs.ErrInjected)
			assert.Equal(t, handle.Handle(0), h)
			failed++
		}
	}
	require.Equal(t, 1, failed)
	assert.Equal(t, int64(16), s.Stats().Records)

	// The write error is sticky; later appends fail without advancing.
	_, err = s.Put(ctx, []byte("more"))
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, int64(16), s.Stats().Records)
}

func TestSyncFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	dir := t.TempDir()

	s, err := Open(ctx, dir, WithFS(ffs))
	require.NoError(t, err)
	defer s.Close(ctx)

	ffs.AddRule("000000.seg", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	h, err := s.Put(ctx, []byte("volatile"))
	require.NoError(t, err)

	require.ErrorIs(t, s.Sync(ctx), fs.ErrInjected)

	// The flush preceding the failed fsync still made the record readable.
	got, err := s.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("volatile"), got)

	// Seal fsyncs too, so it fails and the segment stays unsealed.
	require.ErrorIs(t, s.Seal(ctx), fs.ErrInjected)
	assert.False(t, s.Segments()[0].Sealed)
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	h, err := s.Put(ctx, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	_, err = s.Put(ctx, []byte("y"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Get(ctx, h)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.GetBatch(ctx, []handle.Handle{h})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Seal(ctx), ErrClosed)
	assert.ErrorIs(t, s.Sync(ctx), ErrClosed)

	assert.NoError(t, s.Close(ctx))
}

func TestContextCancellation(t *testing.T) {
	s, _ := newStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Get(ctx, handle.Pack(0, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, WithMaxSegmentBytes(100))

	_, err := s.Put(ctx, make([]byte, 60))
	require.NoError(t, err)
	_, err = s.Put(ctx, make([]byte, 50))
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 2, st.Segments)
	assert.Equal(t, 1, st.SealedSegments)
	assert.Equal(t, int64(2), st.Records)
	assert.Equal(t, int64(112), st.Bytes)
}

func BenchmarkPut(b *testing.B) {
	ctx := context.Background()
	s, err := Open(ctx, b.TempDir())
	require.NoError(b, err)
	defer s.Close(ctx)

	payload := make([]byte, 64)
	b.SetBytes(int64(len(payload) + 1))
	for b.Loop() {
		if _, err := s.Put(ctx, payload); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	ctx := context.Background()
	s, err := Open(ctx, b.TempDir())
	require.NoError(b, err)
	defer s.Close(ctx)

	const n = 10000
	hs := make([]handle.Handle, n)
	for i := range hs {
		h, err := s.Put(ctx, make([]byte, 64))
		if err != nil {
			b.Fatal(err)
		}
		hs[i] = h
	}
	require.NoError(b, s.Sync(ctx))

	rng := rand.New(rand.NewPCG(1, 1))
	for b.Loop() {
		if _, err := s.Get(ctx, hs[rng.IntN(n)]); err != nil {
			b.Fatal(err)
		}
	}
}
