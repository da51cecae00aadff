// Package segstore implements an append-only record store over bounded
// segment files, addressed by packed (segment, offset) handles.
//
// Records are framed as a single length byte followed by at most 255
// payload bytes, so any valid offset is self-describing. Segments grow to
// a configured byte bound and records never span segments: a put that
// would overflow seals the active segment and starts the next one.
//
// Appends go through a buffered writer. Durability boundaries are Sync,
// Seal, and Close; handles issued since the last boundary may not survive
// a crash. Reopening a directory resumes from its manifest, adopts any
// complete records written after the last manifest commit, and truncates
// a partial tail record left by a crash.
//
// A Store is single-writer. Reads are stateless per call and may run
// concurrently with each other, but callers serialize reads against Put.
package segstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/internal/fs"
)

// MaxPayloadBytes is the largest payload a single record can carry. The
// record length prefix is one byte.
const MaxPayloadBytes = 255

// recordOverhead is the framing cost per record.
const recordOverhead = 1

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("segstore: store closed")
	// ErrNotFound is returned when a handle does not resolve to a record.
	ErrNotFound = errors.New("segstore: not found")
	// ErrOversizedPayload is returned under the Reject policy for payloads
	// above the record limit.
	ErrOversizedPayload = errors.New("segstore: oversized payload")
	// ErrPayloadSkipped is returned under the Skip policy; nothing is stored.
	ErrPayloadSkipped = errors.New("segstore: payload skipped")
)

// OversizedPayloadError reports a payload above the record limit.
type OversizedPayloadError struct {
	Size  int
	Limit int
}

func (e *OversizedPayloadError) Error() string {
	return fmt.Sprintf("segstore: payload of %d bytes exceeds %d-byte limit", e.Size, e.Limit)
}

// Unwrap makes the error match ErrOversizedPayload.
func (e *OversizedPayloadError) Unwrap() error { return ErrOversizedPayload }

// Policy selects how Put treats payloads above the record limit.
type Policy int

const (
	// Reject fails the put with ErrOversizedPayload.
	Reject Policy = iota
	// Truncate stores the payload's leading limit bytes.
	Truncate
	// Skip stores nothing and reports ErrPayloadSkipped.
	Skip
)

func (p Policy) String() string {
	switch p {
	case Reject:
		return "reject"
	case Truncate:
		return "truncate"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// SegmentInfo describes one segment file.
type SegmentInfo struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	Bytes   int64  `json:"bytes"`
	Records int64  `json:"records"`
	Sealed  bool   `json:"sealed"`
}

// Stats summarizes store contents.
type Stats struct {
	Segments       int
	SealedSegments int
	Records        int64
	Bytes          int64
}

type activeSegment struct {
	id      uint32
	f       fs.File
	bw      *bufio.Writer
	offset  int64 // logical segment size: flushed plus buffered bytes
	records int64
}

// Store is an append-only record store over segment files in one directory.
type Store struct {
	opts options
	dir  string

	segments []SegmentInfo // index equals segment ID
	active   *activeSegment
	closed   bool

	scratch [recordOverhead + MaxPayloadBytes]byte
}

// Open opens the store rooted at dir, creating the directory as needed.
// An existing store resumes from its manifest.
func Open(ctx context.Context, dir string, optFns ...Option) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segstore: create directory: %w", err)
	}

	s := &Store{opts: opts, dir: dir}

	m, err := s.loadManifest()
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.writeManifest(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := s.resume(m); err != nil {
			return nil, err
		}
	}

	s.opts.logger.Debug("opened store",
		"dir", dir,
		"segments", len(s.segments),
		"max_segment_bytes", s.opts.maxSegmentBytes)

	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// PayloadLimit returns the largest payload Put accepts without invoking the
// oversize policy.
func (s *Store) PayloadLimit() int {
	limit := s.opts.maxSegmentBytes - recordOverhead
	if limit > MaxPayloadBytes {
		return MaxPayloadBytes
	}
	return int(limit)
}

// Put appends one record and returns its handle. Payloads above
// PayloadLimit go through the configured oversize policy. A failed append
// leaves the store state unchanged and issues no handle.
func (s *Store) Put(ctx context.Context, payload []byte) (handle.Handle, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if limit := s.PayloadLimit(); len(payload) > limit {
		switch s.opts.policy {
		case Truncate:
			payload = payload[:limit]
		case Skip:
			return 0, fmt.Errorf("%w: %d bytes over %d-byte limit", ErrPayloadSkipped, len(payload), limit)
		default:
			return 0, &OversizedPayloadError{Size: len(payload), Limit: limit}
		}
	}

	rec := append(s.scratch[:0], byte(len(payload)))
	rec = append(rec, payload...)

	if s.active == nil {
		if err := s.roll(); err != nil {
			return 0, err
		}
	} else if s.active.offset+int64(len(rec)) > s.opts.maxSegmentBytes {
		// Rollover keeps records whole: the overflowing record starts the
		// next segment at offset zero.
		if err := s.sealActive(s.opts.syncOnSeal); err != nil {
			return 0, err
		}
		if err := s.roll(); err != nil {
			return 0, err
		}
	}

	a := s.active
	if _, err := a.bw.Write(rec); err != nil {
		return 0, fmt.Errorf("segstore: append record: %w", err)
	}

	h := handle.Pack(a.id, uint32(a.offset))
	a.offset += int64(len(rec))
	a.records++
	s.segments[a.id].Bytes = a.offset
	s.segments[a.id].Records = a.records

	return h, nil
}

// Get resolves a handle to a copy of its payload. Each call opens and reads
// the addressed segment; no descriptors are cached. Buffered appends to the
// active segment are flushed first so reads observe every issued handle.
func (s *Store) Get(ctx context.Context, h handle.Handle) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.flushActive(); err != nil {
		return nil, err
	}
	return s.resolve(h)
}

// GetBatch resolves handles concurrently. Results match the input order.
// The first failure cancels outstanding reads and is returned.
func (s *Store) GetBatch(ctx context.Context, hs []handle.Handle) ([][]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if len(hs) == 0 {
		return nil, nil
	}
	if err := s.flushActive(); err != nil {
		return nil, err
	}

	results := make([][]byte, len(hs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.batchConcurrency)
	for i, h := range hs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := s.resolve(h)
			if err != nil {
				return err
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Seal flushes, fsyncs, and closes the active segment and commits the
// manifest. The next Put starts a fresh segment. Sealing an already sealed
// store is a no-op.
func (s *Store) Seal(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.active == nil {
		return nil
	}
	return s.sealActive(true)
}

// Sync flushes buffered appends and fsyncs the active segment. Handles
// issued before Sync returned survive a crash.
func (s *Store) Sync(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.active == nil {
		return nil
	}
	if err := s.flushActive(); err != nil {
		return err
	}
	if err := s.active.f.Sync(); err != nil {
		return fmt.Errorf("segstore: sync segment %q: %w", s.segments[s.active.id].Name, err)
	}
	return nil
}

// Close flushes and fsyncs the active segment, commits the manifest, and
// marks the store closed. The active segment stays unsealed so a later Open
// resumes appending to it. Close is idempotent.
func (s *Store) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.active == nil {
		return s.writeManifest()
	}

	a := s.active
	s.active = nil
	name := s.segments[a.id].Name

	if err := a.bw.Flush(); err != nil {
		return fmt.Errorf("segstore: flush segment %q: %w", name, err)
	}
	if err := a.f.Sync(); err != nil {
		a.f.Close()
		return fmt.Errorf("segstore: sync segment %q: %w", name, err)
	}
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("segstore: close segment %q: %w", name, err)
	}
	return s.writeManifest()
}

// Segments returns a copy of the segment table.
func (s *Store) Segments() []SegmentInfo {
	out := make([]SegmentInfo, len(s.segments))
	copy(out, s.segments)
	return out
}

// Stats returns store totals.
func (s *Store) Stats() Stats {
	var st Stats
	st.Segments = len(s.segments)
	for _, seg := range s.segments {
		if seg.Sealed {
			st.SealedSegments++
		}
		st.Records += seg.Records
		st.Bytes += seg.Bytes
	}
	return st
}

func (s *Store) segmentPath(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) flushActive() error {
	if s.active == nil || s.active.bw.Buffered() == 0 {
		return nil
	}
	if err := s.active.bw.Flush(); err != nil {
		return fmt.Errorf("segstore: flush segment %q: %w", s.segments[s.active.id].Name, err)
	}
	return nil
}

// resolve reads one record. It never touches mutable store state, so
// concurrent resolves are safe once the active buffer is flushed.
func (s *Store) resolve(h handle.Handle) ([]byte, error) {
	segID, off := handle.Unpack(h)
	if int(segID) >= len(s.segments) {
		return nil, fmt.Errorf("segstore: segment %d: %w", segID, ErrNotFound)
	}
	info := s.segments[segID]
	if int64(off) >= info.Bytes {
		return nil, fmt.Errorf("segstore: offset %d beyond segment %q: %w", off, info.Name, ErrNotFound)
	}

	f, err := s.opts.fsys.OpenFile(s.segmentPath(info.Name), os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Sealed segments may have been evicted after archival.
			return nil, fmt.Errorf("segstore: segment %q: %w", info.Name, ErrNotFound)
		}
		return nil, fmt.Errorf("segstore: open segment %q: %w", info.Name, err)
	}
	defer f.Close()

	var length [1]byte
	if _, err := f.ReadAt(length[:], int64(off)); err != nil {
		return nil, fmt.Errorf("segstore: read record header at %s: %w", h, err)
	}
	n := int64(length[0])
	if int64(off)+recordOverhead+n > info.Bytes {
		return nil, fmt.Errorf("segstore: record at %s overruns segment: %w", h, ErrNotFound)
	}

	payload := make([]byte, n)
	if _, err := f.ReadAt(payload, int64(off)+recordOverhead); err != nil {
		return nil, fmt.Errorf("segstore: read record at %s: %w", h, err)
	}
	return payload, nil
}

// roll opens the next segment file for appending.
func (s *Store) roll() error {
	id := uint32(len(s.segments))
	name := segmentName(id)

	f, err := s.opts.fsys.OpenFile(s.segmentPath(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("segstore: create segment %q: %w", name, err)
	}

	s.segments = append(s.segments, SegmentInfo{ID: id, Name: name})
	s.active = &activeSegment{id: id, f: f, bw: bufio.NewWriter(f)}

	s.opts.logger.Debug("opened segment", "segment", id, "name", name)
	return nil
}

// sealActive flushes, optionally fsyncs, and closes the active segment,
// marks it sealed, and commits the manifest.
func (s *Store) sealActive(sync bool) error {
	a := s.active
	info := &s.segments[a.id]

	if err := a.bw.Flush(); err != nil {
		return fmt.Errorf("segstore: flush segment %q: %w", info.Name, err)
	}
	if sync {
		if err := a.f.Sync(); err != nil {
			return fmt.Errorf("segstore: sync segment %q: %w", info.Name, err)
		}
	}
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("segstore: close segment %q: %w", info.Name, err)
	}

	info.Sealed = true
	s.active = nil

	if err := s.writeManifest(); err != nil {
		return err
	}

	s.opts.logger.Debug("sealed segment",
		"segment", info.ID,
		"bytes", info.Bytes,
		"records", info.Records)
	return nil
}

func segmentName(id uint32) string {
	return fmt.Sprintf("%06d.seg", id)
}
