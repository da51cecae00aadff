//go:build gozstd

package compress

import (
	"fmt"

	"github.com/valyala/gozstd"
)

// Zstd compresses blocks with zstandard through the cgo bindings, trading
// build portability for libzstd throughput.
type Zstd struct{}

// Name implements Codec.
func (Zstd) Name() string { return "zstd" }

// Compress implements Codec.
func (Zstd) Compress(dst, src []byte) ([]byte, error) {
	return gozstd.Compress(dst[:0], src), nil
}

// Decompress implements Codec.
func (Zstd) Decompress(dst, src []byte) ([]byte, error) {
	out, err := gozstd.Decompress(dst[:0], src)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decode: %w", err)
	}
	return out, nil
}
