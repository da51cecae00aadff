package compress

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// S2 compresses blocks with the S2 format, a snappy extension tuned for
// high throughput. Encoding and decoding are allocation-free when the
// caller supplies sized buffers.
type S2 struct{}

// Name implements Codec.
func (S2) Name() string { return "s2" }

// Compress implements Codec.
func (S2) Compress(dst, src []byte) ([]byte, error) {
	return s2.Encode(dst, src), nil
}

// Decompress implements Codec.
func (S2) Decompress(dst, src []byte) ([]byte, error) {
	out, err := s2.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("compress: s2 decode: %w", err)
	}
	return out, nil
}
