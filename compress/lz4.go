package compress

import (
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// lz4 block compression keeps per-call state in a pooled Compressor so
// concurrent writers do not allocate hash tables on every block.
var lz4Compressors = sync.Pool{
	New: func() any { return &lz4.Compressor{} },
}

// maxLZ4Decompressed caps the adaptive buffer growth when the caller does
// not know the decompressed size up front.
const maxLZ4Decompressed = 128 << 20

// LZ4 compresses blocks with the lz4 block format.
type LZ4 struct{}

// Name implements Codec.
func (LZ4) Name() string { return "lz4" }

// Compress implements Codec. Incompressible input yields a zero-length
// result, matching the lz4 block contract.
func (LZ4) Compress(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return dst[:0], nil
	}

	bound := lz4.CompressBlockBound(len(src))
	if cap(dst) < bound {
		dst = make([]byte, bound)
	}
	dst = dst[:bound]

	c := lz4Compressors.Get().(*lz4.Compressor)
	defer lz4Compressors.Put(c)

	n, err := c.CompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 encode: %w", err)
	}
	return dst[:n], nil
}

// Decompress implements Codec. When dst carries the exact decompressed
// length a single pass suffices; otherwise the buffer grows adaptively.
func (LZ4) Decompress(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}

	if len(dst) > 0 {
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4 decode: %w", err)
		}
		return dst[:n], nil
	}

	size := 4 * len(src)
	for {
		buf := make([]byte, size)
		n, err := lz4.UncompressBlock(src, buf)
		if err == nil {
			return buf[:n], nil
		}
		if size >= maxLZ4Decompressed {
			return nil, fmt.Errorf("compress: lz4 decode: %w", err)
		}
		size *= 2
		if size > maxLZ4Decompressed {
			size = maxLZ4Decompressed
		}
	}
}
