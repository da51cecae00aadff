// Package archive tiers sealed segments to object storage.
//
// An Archiver pairs a local segment store with a blob store. UploadSealed
// moves every sealed, not-yet-archived segment into the blob store as a
// compressed, checksummed object and commits the catalog; Restore brings an
// archived segment back to its local path so store reads work unchanged;
// Fetch is the read-through convenience over both.
//
// The catalog is a codec-encoded object listing every archived segment.
// Each commit writes a fresh catalog object and repoints the CURRENT
// object at it, so a blob store with a conditional CURRENT write (see
// blobstore/s3.DDBCommitStore) makes commits safe against concurrent
// archivers. Segment objects are named deterministically, which keeps a
// retried upload idempotent.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/skim/blobstore"
	"github.com/hupe1980/skim/compress"
	"github.com/hupe1980/skim/handle"
	"github.com/hupe1980/skim/internal/fs"
	"github.com/hupe1980/skim/resource"
	"github.com/hupe1980/skim/segstore"
)

var (
	// ErrNotArchived reports a segment absent from the archive catalog.
	ErrNotArchived = errors.New("archive: segment not archived")

	// ErrCorruptSegment reports an archived segment whose bytes fail the
	// catalog checksum.
	ErrCorruptSegment = errors.New("archive: corrupt archived segment")
)

// Archiver moves sealed segments between a local store and a blob store.
// Like the store it wraps, an Archiver is single-writer: callers serialize
// UploadSealed and Restore externally. Fetch may run concurrently with
// other reads.
type Archiver struct {
	store *segstore.Store
	blobs blobstore.BlobStore
	opts  options
}

// New creates an Archiver tiering store's sealed segments into blobs.
func New(store *segstore.Store, blobs blobstore.BlobStore, optFns ...Option) *Archiver {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Archiver{store: store, blobs: blobs, opts: opts}
}

// UploadSealed archives every sealed segment the catalog does not list yet
// and returns their IDs in upload order. All uploads commit under one
// catalog version; on error nothing is committed, and rerunning resumes
// where the failed run left off. With local eviction enabled the archived
// segment files are removed after the commit.
func (a *Archiver) UploadSealed(ctx context.Context) ([]uint32, error) {
	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	archived := make(map[uint32]bool, len(cat.Segments))
	for _, e := range cat.Segments {
		archived[e.SegmentID] = true
	}

	var uploaded []uint32
	for _, info := range a.store.Segments() {
		if !info.Sealed || archived[info.ID] {
			continue
		}
		if err := a.opts.ctrl.AcquireJob(ctx); err != nil {
			return nil, err
		}
		entry, err := a.uploadSegment(ctx, info)
		a.opts.ctrl.ReleaseJob()
		if err != nil {
			return nil, err
		}
		cat.Segments = append(cat.Segments, entry)
		uploaded = append(uploaded, info.ID)
	}
	if len(uploaded) == 0 {
		return nil, nil
	}

	if err := a.commitCatalog(ctx, cat); err != nil {
		return nil, err
	}

	if a.opts.evictLocal {
		for _, id := range uploaded {
			a.evict(id)
		}
	}
	return uploaded, nil
}

// Restore downloads an archived segment, verifies it against the catalog
// checksum, and installs it at its local path. The file appears with its
// verified content or not at all.
func (a *Archiver) Restore(ctx context.Context, segmentID uint32) error {
	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}
	entry, ok := cat.find(segmentID)
	if !ok {
		return fmt.Errorf("archive: segment %d: %w", segmentID, ErrNotArchived)
	}

	cmp, ok := compress.ByName(entry.Compression)
	if !ok {
		return fmt.Errorf("archive: unknown compression %q", entry.Compression)
	}

	blob, err := a.blobs.Open(ctx, entry.Blob)
	if err != nil {
		return fmt.Errorf("archive: open blob %q: %w", entry.Blob, err)
	}
	defer blob.Close()

	// Pace the transfer, not the decompressed stream.
	limited := resource.NewRateLimitedReader(ctx, io.NewSectionReader(blob, 0, blob.Size()), a.opts.ctrl)
	br := compress.NewBlockReader(limited, cmp)
	digest := xxhash.New()

	local := filepath.Join(a.store.Dir(), entry.Name)
	tmp := local + ".restore"
	f, err := a.opts.fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("archive: create %q: %w", tmp, err)
	}

	fail := func(err error) error {
		f.Close()
		a.opts.fsys.Remove(tmp)
		return err
	}

	n, err := io.Copy(f, io.TeeReader(br, digest))
	if err != nil {
		return fail(fmt.Errorf("archive: download segment %d: %w", segmentID, err))
	}
	if n != entry.Bytes || digest.Sum64() != entry.Checksum {
		return fail(fmt.Errorf("%w: segment %d decodes to %d bytes sum %016x, catalog says %d bytes sum %016x",
			ErrCorruptSegment, segmentID, n, digest.Sum64(), entry.Bytes, entry.Checksum))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("archive: sync %q: %w", tmp, err))
	}
	if err := f.Close(); err != nil {
		a.opts.fsys.Remove(tmp)
		return fmt.Errorf("archive: close %q: %w", tmp, err)
	}
	if err := a.opts.fsys.Rename(tmp, local); err != nil {
		a.opts.fsys.Remove(tmp)
		return fmt.Errorf("archive: install segment %d: %w", segmentID, err)
	}
	if err := fs.SyncDir(a.opts.fsys, a.store.Dir()); err != nil {
		return err
	}

	a.opts.logger.Info("restored segment",
		"segment", segmentID,
		"blob", entry.Blob,
		"bytes", entry.Bytes)
	return nil
}

// Fetch resolves a handle, restoring the segment from the archive when its
// local file was evicted. Handles that resolve nowhere stay not-found.
func (a *Archiver) Fetch(ctx context.Context, h handle.Handle) ([]byte, error) {
	payload, err := a.store.Get(ctx, h)
	if err == nil || !errors.Is(err, segstore.ErrNotFound) {
		return payload, err
	}

	// Restore pays off only when the segment file itself is gone; with the
	// file present the handle is simply bad.
	segs := a.store.Segments()
	segID := h.SegmentID()
	if int(segID) >= len(segs) {
		return nil, err
	}
	if _, statErr := a.opts.fsys.Stat(filepath.Join(a.store.Dir(), segs[segID].Name)); !errors.Is(statErr, os.ErrNotExist) {
		return nil, err
	}

	if rerr := a.Restore(ctx, segID); rerr != nil {
		if errors.Is(rerr, ErrNotArchived) {
			return nil, err
		}
		return nil, rerr
	}
	return a.store.Get(ctx, h)
}

// uploadSegment streams one sealed segment into the blob store and returns
// its catalog entry.
func (a *Archiver) uploadSegment(ctx context.Context, info segstore.SegmentInfo) (Entry, error) {
	local := filepath.Join(a.store.Dir(), info.Name)
	f, err := a.opts.fsys.OpenFile(local, os.O_RDONLY, 0)
	if err != nil {
		return Entry{}, fmt.Errorf("archive: open segment %q: %w", info.Name, err)
	}
	defer f.Close()

	blobName := segmentBlobName(info.Name)
	wb, err := a.blobs.Create(ctx, blobName)
	if err != nil {
		return Entry{}, fmt.Errorf("archive: create blob %q: %w", blobName, err)
	}

	limited := resource.NewRateLimitedWriter(ctx, wb, a.opts.ctrl)
	bw := compress.NewBlockWriter(limited, a.opts.compress, a.opts.blockSize)
	digest := xxhash.New()

	n, err := io.Copy(bw, io.TeeReader(f, digest))
	if err != nil {
		wb.Close()
		return Entry{}, fmt.Errorf("archive: upload segment %q: %w", info.Name, err)
	}
	if n != info.Bytes {
		wb.Close()
		return Entry{}, fmt.Errorf("archive: segment %q holds %d bytes, manifest says %d", info.Name, n, info.Bytes)
	}
	if err := bw.Flush(); err != nil {
		wb.Close()
		return Entry{}, fmt.Errorf("archive: upload segment %q: %w", info.Name, err)
	}
	if err := wb.Close(); err != nil {
		return Entry{}, fmt.Errorf("archive: commit blob %q: %w", blobName, err)
	}

	a.opts.logger.Info("archived segment",
		"segment", info.ID,
		"blob", blobName,
		"raw_bytes", n,
		"stored_bytes", bw.FramedBytes())

	return Entry{
		SegmentID:   info.ID,
		Name:        info.Name,
		Blob:        blobName,
		Bytes:       info.Bytes,
		StoredBytes: bw.FramedBytes(),
		Records:     info.Records,
		Checksum:    digest.Sum64(),
		Compression: a.opts.compress.Name(),
	}, nil
}

// evict removes the local file of an archived segment. Failures only cost
// disk space, so they are logged rather than surfaced.
func (a *Archiver) evict(segmentID uint32) {
	name := segmentName(a.store, segmentID)
	if name == "" {
		return
	}
	if err := a.opts.fsys.Remove(filepath.Join(a.store.Dir(), name)); err != nil {
		a.opts.logger.Warn("evict failed", "segment", segmentID, "error", err)
		return
	}
	a.opts.logger.Debug("evicted local segment", "segment", segmentID, "name", name)
}

func segmentName(s *segstore.Store, segmentID uint32) string {
	segs := s.Segments()
	if int(segmentID) >= len(segs) {
		return ""
	}
	return segs[segmentID].Name
}

func segmentBlobName(name string) string {
	return "segments/" + name
}
