//go:build !gozstd

package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Encoder and decoder instances are expensive to build, so they are pooled
// and reused across blocks. The nil-writer/nil-reader forms operate in
// EncodeAll/DecodeAll mode only.
var (
	zstdEncoders = sync.Pool{
		New: func() any {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				panic(fmt.Sprintf("compress: create zstd encoder: %v", err))
			}
			return enc
		},
	}
	zstdDecoders = sync.Pool{
		New: func() any {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				panic(fmt.Sprintf("compress: create zstd decoder: %v", err))
			}
			return dec
		},
	}
)

// Zstd compresses blocks with zstandard at the default speed level.
// Build with the gozstd tag to swap in the cgo implementation.
type Zstd struct{}

// Name implements Codec.
func (Zstd) Name() string { return "zstd" }

// Compress implements Codec.
func (Zstd) Compress(dst, src []byte) ([]byte, error) {
	enc := zstdEncoders.Get().(*zstd.Encoder)
	defer zstdEncoders.Put(enc)

	return enc.EncodeAll(src, dst[:0]), nil
}

// Decompress implements Codec.
func (Zstd) Decompress(dst, src []byte) ([]byte, error) {
	dec := zstdDecoders.Get().(*zstd.Decoder)
	defer zstdDecoders.Put(dec)

	out, err := dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decode: %w", err)
	}
	return out, nil
}
