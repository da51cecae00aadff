// Package handle packs record locators into opaque 64-bit values.
//
// A Handle identifies one stored record. For segmented stores the high 32
// bits carry the segment ID and the low 32 bits the byte offset of the
// record inside that segment; the in-memory arena reuses the same packing
// for its generation and slot index. Handles are plain values: cheap to
// copy, comparable, and usable as map keys. They stay valid for the
// lifetime of the store that issued them.
package handle

import "fmt"

// Handle is a packed record locator: (segment << 32) | offset.
type Handle uint64

// MaxSegmentBytes is the structural upper bound on a segment's size.
// Offsets must fit in 32 bits, so no segment may grow past 2^32 bytes.
const MaxSegmentBytes = int64(1) << 32

// Pack combines a segment ID and a byte offset into a Handle.
func Pack(segmentID, offset uint32) Handle {
	return Handle(uint64(segmentID)<<32 | uint64(offset))
}

// Unpack splits a Handle back into its segment ID and byte offset.
func Unpack(h Handle) (segmentID, offset uint32) {
	return uint32(h >> 32), uint32(h)
}

// SegmentID returns the segment part of the handle.
func (h Handle) SegmentID() uint32 {
	return uint32(h >> 32)
}

// Offset returns the byte offset part of the handle.
func (h Handle) Offset() uint32 {
	return uint32(h)
}

// String renders the handle as "segment:offset" for logs and errors.
func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.SegmentID(), h.Offset())
}
