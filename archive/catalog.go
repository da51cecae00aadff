package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/hupe1980/skim/blobstore"
)

// currentName is the pointer object naming the live catalog. Commit stores
// that support conditional writes key their guard on this name (see
// blobstore/s3.DDBCommitStore).
const currentName = "CURRENT"

const catalogVersion = 1

// Entry describes one archived segment.
type Entry struct {
	SegmentID   uint32 `json:"segmentId"`
	Name        string `json:"name"`
	Blob        string `json:"blob"`
	Bytes       int64  `json:"bytes"`
	StoredBytes int64  `json:"storedBytes"`
	Records     int64  `json:"records"`
	Checksum    uint64 `json:"checksum"`
	Compression string `json:"compression"`
}

// catalog is the archived-segment table. Every commit writes a fresh
// catalog object and repoints CURRENT, so readers only ever observe
// complete catalogs.
type catalog struct {
	Version  int     `json:"version"`
	Commit   uint64  `json:"commit"`
	Segments []Entry `json:"segments"`
}

func (c *catalog) find(segmentID uint32) (Entry, bool) {
	for _, e := range c.Segments {
		if e.SegmentID == segmentID {
			return e, true
		}
	}
	return Entry{}, false
}

// Archived returns the catalog entries, ordered as committed. A store with
// no catalog yet yields an empty list.
func (a *Archiver) Archived(ctx context.Context) ([]Entry, error) {
	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.Segments, nil
}

func (a *Archiver) loadCatalog(ctx context.Context) (*catalog, error) {
	pointer, err := a.readBlob(ctx, currentName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return &catalog{Version: catalogVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", currentName, err)
	}

	name := string(bytes.TrimSpace(pointer))
	if name == "" {
		return &catalog{Version: catalogVersion}, nil
	}

	data, err := a.readBlob(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("archive: read catalog %q: %w", name, err)
	}
	var cat catalog
	if err := a.opts.codec.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("archive: decode catalog %q: %w", name, err)
	}
	if cat.Version != catalogVersion {
		return nil, fmt.Errorf("archive: unsupported catalog version %d", cat.Version)
	}
	return &cat, nil
}

// commitCatalog writes the next catalog object and repoints CURRENT at it.
// The object name carries a nonce so concurrent committers never overwrite
// each other; the CURRENT write decides the winner.
func (a *Archiver) commitCatalog(ctx context.Context, cat *catalog) error {
	cat.Commit++
	name := fmt.Sprintf("catalog-%06d-%08x.json", cat.Commit, rand.Uint32())

	data, err := a.opts.codec.Marshal(cat)
	if err != nil {
		return fmt.Errorf("archive: encode catalog: %w", err)
	}
	if err := a.blobs.Put(ctx, name, data); err != nil {
		return fmt.Errorf("archive: write catalog %q: %w", name, err)
	}
	if err := a.blobs.Put(ctx, currentName, []byte(name)); err != nil {
		return fmt.Errorf("archive: commit catalog %q: %w", name, err)
	}

	a.opts.logger.Debug("committed catalog",
		"catalog", name,
		"commit", cat.Commit,
		"segments", len(cat.Segments))
	return nil
}

func (a *Archiver) readBlob(ctx context.Context, name string) ([]byte, error) {
	blob, err := a.blobs.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	return io.ReadAll(io.NewSectionReader(blob, 0, blob.Size()))
}
