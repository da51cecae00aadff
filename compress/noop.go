package compress

// NoOp passes data through unchanged. Framed formats written with it
// consist entirely of stored blocks.
type NoOp struct{}

// Name implements Codec.
func (NoOp) Name() string { return "none" }

// Compress implements Codec. The returned slice aliases src.
func (NoOp) Compress(dst, src []byte) ([]byte, error) {
	return src, nil
}

// Decompress implements Codec. The returned slice aliases src.
func (NoOp) Decompress(dst, src []byte) ([]byte, error) {
	return src, nil
}
