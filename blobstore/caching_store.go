package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/skim/internal/cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultBlockSize is the cache block size used when none is given.
// Object stores charge per request, so blocks are sized well above a
// filesystem page.
const DefaultBlockSize = 64 * 1024

// fillConcurrency bounds parallel backend fetches per read.
const fillConcurrency = 16

// CachingStore wraps a BlobStore with a block-aligned read cache. Repeated
// reads of archived segments hit the cache instead of the backend; cache
// fills for the same block range are single-flight across readers.
type CachingStore struct {
	inner     BlobStore
	cache     *cache.LRU
	blockSize int64
	group     singleflight.Group
}

// NewCachingStore creates a CachingStore over inner. blockSize defaults to
// DefaultBlockSize if <= 0.
func NewCachingStore(inner BlobStore, c *cache.LRU, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Open opens a blob whose reads go through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		ctx:   ctx,
		inner: b,
		store: s,
		name:  name,
		size:  b.Size(),
	}, nil
}

// Put writes through to the backend and drops any cached blocks of name.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Create streams through to the backend. Cached blocks of name are dropped
// up front since the new content replaces them.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.invalidate(name)
	return s.inner.Create(ctx, name)
}

// Delete removes a blob and its cached blocks.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List passes through to the backend.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Name == name
	})
}

// CachingBlob serves ReadAt from cached blocks, fetching missing block runs
// from the backend in parallel.
type CachingBlob struct {
	ctx   context.Context
	inner Blob
	store *CachingStore
	name  string
	size  int64
}

func (b *CachingBlob) Close() error {
	return b.inner.Close()
}

func (b *CachingBlob) Size() int64 {
	return b.size
}

func (b *CachingBlob) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("blobstore: negative read offset %d", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= b.size {
		return 0, io.EOF
	}
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}

	// Clamp the span to the blob, then work in whole blocks.
	span := int64(len(p))
	if off+span > b.size {
		span = b.size - off
	}
	bs := b.store.blockSize
	startBlock := off / bs
	endBlock := (off + span - 1) / bs

	if err := b.fill(startBlock, endBlock); err != nil {
		return 0, err
	}

	read := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		data, err := b.cachedBlock(blk)
		if err != nil {
			return read, err
		}

		blkStart := blk * bs
		from := max(blkStart, off)
		to := min(blkStart+bs, off+span)
		if to <= from {
			continue
		}
		srcOff := from - blkStart
		if srcOff >= int64(len(data)) {
			break
		}
		if to-blkStart > int64(len(data)) {
			to = blkStart + int64(len(data))
		}
		read += copy(p[from-off:to-off], data[srcOff:])
	}

	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// fill loads the missing blocks in [startBlock, endBlock] into the cache.
// Contiguous missing blocks are fetched as one backend read, runs in
// parallel, and each distinct run only once across concurrent readers.
func (b *CachingBlob) fill(startBlock, endBlock int64) error {
	type run struct {
		start, count int64
	}
	var missing []run

	cur := run{start: -1}
	for blk := startBlock; blk <= endBlock; blk++ {
		if _, ok := b.store.cache.Get(cache.Key{Name: b.name, Block: blk}); ok {
			if cur.start != -1 {
				missing = append(missing, cur)
				cur = run{start: -1}
			}
			continue
		}
		if cur.start == -1 {
			cur = run{start: blk, count: 1}
		} else {
			cur.count++
		}
	}
	if cur.start != -1 {
		missing = append(missing, cur)
	}
	if len(missing) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(b.ctx)
	g.SetLimit(fillConcurrency)
	for _, r := range missing {
		g.Go(func() error {
			key := fmt.Sprintf("%s\x00%d\x00%d", b.name, r.start, r.count)
			_, err, _ := b.store.group.Do(key, func() (any, error) {
				return nil, b.fetchRun(r.start, r.count)
			})
			return err
		})
	}
	return g.Wait()
}

// fetchRun reads count consecutive blocks in one backend request and caches
// them block by block.
func (b *CachingBlob) fetchRun(start, count int64) error {
	bs := b.store.blockSize
	byteStart := start * bs
	if byteStart >= b.size {
		return nil
	}
	byteLen := count * bs
	if byteStart+byteLen > b.size {
		byteLen = b.size - byteStart
	}

	buf := make([]byte, byteLen)
	n, err := b.inner.ReadAt(buf, byteStart)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	buf = buf[:n]

	for i := int64(0); i < count; i++ {
		from := i * bs
		if from >= int64(len(buf)) {
			break
		}
		to := min(from+bs, int64(len(buf)))
		// Copy out so the cache never pins the whole run buffer.
		block := make([]byte, to-from)
		copy(block, buf[from:to])
		b.store.cache.Set(cache.Key{Name: b.name, Block: start + i}, block)
	}
	return nil
}

// cachedBlock returns one block, reading through to the backend when the
// cache refused admission or already evicted it.
func (b *CachingBlob) cachedBlock(blk int64) ([]byte, error) {
	key := cache.Key{Name: b.name, Block: blk}
	if data, ok := b.store.cache.Get(key); ok {
		return data, nil
	}

	bs := b.store.blockSize
	blkStart := blk * bs
	if blkStart >= b.size {
		return nil, nil
	}
	blockLen := min(bs, b.size-blkStart)

	buf := make([]byte, blockLen)
	n, err := b.inner.ReadAt(buf, blkStart)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(n) == blockLen {
		b.store.cache.Set(key, buf)
	}
	return buf[:n], nil
}
