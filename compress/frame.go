package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Frame layout, little-endian:
//
//	[uncompressedSize uint32][compressedSize uint32][block...]
//
// A zero compressedSize marks a stored block: the payload is raw and
// uncompressedSize bytes long. Otherwise the payload is compressedSize
// bytes of codec output that must decompress to exactly uncompressedSize
// bytes.
const (
	frameHeaderSize = 8

	// storedBlockRatio is the compression ratio beyond which a block is
	// stored raw: the decompression cost would not pay for itself.
	storedBlockRatio = 0.9

	// DefaultBlockSize is the framing granularity of BlockWriter.
	DefaultBlockSize = 256 * 1024

	// maxBlockSize bounds the allocation a single frame header can demand,
	// so corrupt headers fail instead of exhausting memory.
	maxBlockSize = 1 << 30
)

// ErrCorruptFrame reports a frame whose header or payload is damaged.
var ErrCorruptFrame = errors.New("compress: corrupt frame")

// EncodeFrame appends one frame containing src to dst and returns the
// extended slice. Incompressible blocks are stored raw.
func EncodeFrame(dst []byte, c Codec, src []byte) ([]byte, error) {
	if len(src) > math.MaxUint32 {
		return nil, fmt.Errorf("compress: block of %d bytes exceeds frame limit", len(src))
	}

	compressed, err := c.Compress(nil, src)
	if err != nil {
		return nil, err
	}

	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(src)))
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(src))*storedBlockRatio {
		binary.LittleEndian.PutUint32(hdr[4:8], 0)
		dst = append(dst, hdr[:]...)
		return append(dst, src...), nil
	}
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(compressed)))
	dst = append(dst, hdr[:]...)
	return append(dst, compressed...), nil
}

// DecodeFrame decodes the frame at the start of buf and returns the block
// payload along with the remainder of buf. The payload may alias buf when
// the block was stored.
func DecodeFrame(c Codec, buf []byte) (payload, rest []byte, err error) {
	if len(buf) < frameHeaderSize {
		return nil, nil, fmt.Errorf("%w: truncated header", ErrCorruptFrame)
	}
	uncompressed := binary.LittleEndian.Uint32(buf[0:4])
	compressed := binary.LittleEndian.Uint32(buf[4:8])
	if uncompressed > maxBlockSize || compressed > maxBlockSize {
		return nil, nil, fmt.Errorf("%w: implausible block size", ErrCorruptFrame)
	}
	body := buf[frameHeaderSize:]

	if compressed == 0 {
		if uint32(len(body)) < uncompressed {
			return nil, nil, fmt.Errorf("%w: truncated stored block", ErrCorruptFrame)
		}
		return body[:uncompressed], body[uncompressed:], nil
	}

	if uint32(len(body)) < compressed {
		return nil, nil, fmt.Errorf("%w: truncated block", ErrCorruptFrame)
	}
	payload, err = c.Decompress(make([]byte, uncompressed), body[:compressed])
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(payload)) != uncompressed {
		return nil, nil, fmt.Errorf("%w: block decodes to %d bytes, header says %d",
			ErrCorruptFrame, len(payload), uncompressed)
	}
	return payload, body[compressed:], nil
}

// BlockWriter frames a byte stream into fixed-size compressed blocks.
// It buffers up to one block; Flush must be called before the underlying
// writer is finalized.
type BlockWriter struct {
	w         io.Writer
	c         Codec
	blockSize int

	buf     []byte // pending uncompressed bytes, len < blockSize after Write
	scratch []byte // frame assembly space

	raw     int64 // uncompressed bytes accepted
	written int64 // framed bytes handed to w
}

// NewBlockWriter returns a BlockWriter framing into blocks of blockSize
// uncompressed bytes. A blockSize of zero or less selects DefaultBlockSize.
func NewBlockWriter(w io.Writer, c Codec, blockSize int) *BlockWriter {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &BlockWriter{
		w:         w,
		c:         c,
		blockSize: blockSize,
		buf:       make([]byte, 0, blockSize),
	}
}

// Write implements io.Writer.
func (bw *BlockWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		space := bw.blockSize - len(bw.buf)
		if space == 0 {
			if err := bw.flushBlock(); err != nil {
				return total - len(p), err
			}
			space = bw.blockSize
		}
		if space > len(p) {
			space = len(p)
		}
		bw.buf = append(bw.buf, p[:space]...)
		bw.raw += int64(space)
		p = p[space:]
	}
	return total, nil
}

// Flush frames any pending partial block. It does not flush or sync the
// underlying writer.
func (bw *BlockWriter) Flush() error {
	if len(bw.buf) == 0 {
		return nil
	}
	return bw.flushBlock()
}

// RawBytes returns the number of uncompressed bytes accepted so far.
func (bw *BlockWriter) RawBytes() int64 { return bw.raw }

// FramedBytes returns the number of framed bytes written to the underlying
// writer so far, headers included.
func (bw *BlockWriter) FramedBytes() int64 { return bw.written }

func (bw *BlockWriter) flushBlock() error {
	frame, err := EncodeFrame(bw.scratch[:0], bw.c, bw.buf)
	if err != nil {
		return err
	}
	bw.scratch = frame
	if _, err := bw.w.Write(frame); err != nil {
		return err
	}
	bw.written += int64(len(frame))
	bw.buf = bw.buf[:0]
	return nil
}

// BlockReader decodes a stream framed by BlockWriter. Read returns io.EOF
// exactly at a frame boundary; a stream ending mid-frame yields
// ErrCorruptFrame.
type BlockReader struct {
	r io.Reader
	c Codec

	block   []byte // current decoded block
	pos     int
	scratch []byte // compressed payload read space
	hdr     [frameHeaderSize]byte
}

// NewBlockReader returns a BlockReader decoding frames from r with codec c.
func NewBlockReader(r io.Reader, c Codec) *BlockReader {
	return &BlockReader{r: r, c: c}
}

// Read implements io.Reader.
func (br *BlockReader) Read(p []byte) (int, error) {
	for br.pos >= len(br.block) {
		if err := br.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, br.block[br.pos:])
	br.pos += n
	return n, nil
}

func (br *BlockReader) fill() error {
	if _, err := io.ReadFull(br.r, br.hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated header", ErrCorruptFrame)
		}
		return err
	}
	uncompressed := binary.LittleEndian.Uint32(br.hdr[0:4])
	compressed := binary.LittleEndian.Uint32(br.hdr[4:8])
	if uncompressed > maxBlockSize || compressed > maxBlockSize {
		return fmt.Errorf("%w: implausible block size", ErrCorruptFrame)
	}

	if compressed == 0 {
		br.block = grow(br.block, int(uncompressed))
		if _, err := io.ReadFull(br.r, br.block); err != nil {
			return fmt.Errorf("%w: truncated stored block", ErrCorruptFrame)
		}
		br.pos = 0
		return nil
	}

	br.scratch = grow(br.scratch, int(compressed))
	if _, err := io.ReadFull(br.r, br.scratch); err != nil {
		return fmt.Errorf("%w: truncated block", ErrCorruptFrame)
	}
	block, err := br.c.Decompress(grow(br.block, int(uncompressed)), br.scratch)
	if err != nil {
		return err
	}
	if uint32(len(block)) != uncompressed {
		return fmt.Errorf("%w: block decodes to %d bytes, header says %d",
			ErrCorruptFrame, len(block), uncompressed)
	}
	br.block = block
	br.pos = 0
	return nil
}

func grow(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}
