// Package compress provides pluggable block compression for snapshots and
// archived segments.
//
// Codecs compress whole blocks; framing (see BlockWriter and BlockReader)
// handles splitting streams into blocks, recording sizes, and falling back
// to stored blocks when compression does not pay. Persisted formats record
// the codec name in their headers and select the codec via ByName on load.
//
// Compression never sits on the selection path: heaps and arenas work on
// raw bytes, and only cold data moving to or from blob storage is framed.
package compress

// Codec compresses and decompresses whole blocks.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name returns the stable codec name recorded in file headers.
	Name() string

	// Compress returns the compressed form of src, reusing dst's capacity
	// when it suffices. A zero-length result marks src as incompressible;
	// framed formats fall back to stored blocks in that case.
	Compress(dst, src []byte) ([]byte, error)

	// Decompress returns the decompressed form of src. When the exact
	// decompressed size is known (framed formats carry it in the block
	// header), pass dst with that length; otherwise dst may be nil.
	Decompress(dst, src []byte) ([]byte, error)
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "none":
		return NoOp{}, true
	case "s2":
		return S2{}, true
	case "lz4":
		return LZ4{}, true
	case "zstd":
		return Zstd{}, true
	default:
		return nil, false
	}
}

// Default is the codec used when none is configured. S2 keeps compression
// off the critical path: near-snappy speed with better ratios.
var Default Codec = S2{}
