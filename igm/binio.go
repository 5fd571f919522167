package igm

import (
	"bufio"
	"encoding/binary"
	"io"
)

// binWriter writes little-endian values and keeps the first error.
type binWriter struct {
	w   *bufio.Writer
	buf [4]byte
	err error
}

func newBinWriter(w io.Writer) *binWriter {
	return &binWriter{w: bufio.NewWriter(w)}
}

func (b *binWriter) write(p []byte) {
	if b.err != nil {
		return
	}
	_, b.err = b.w.Write(p)
}

func (b *binWriter) uint8(v uint8) {
	b.buf[0] = v
	b.write(b.buf[:1])
}

func (b *binWriter) uint16(v uint16) {
	binary.LittleEndian.PutUint16(b.buf[:2], v)
	b.write(b.buf[:2])
}

func (b *binWriter) int16(v int16) {
	b.uint16(uint16(v))
}

func (b *binWriter) int32(v int32) {
	binary.LittleEndian.PutUint32(b.buf[:4], uint32(v))
	b.write(b.buf[:4])
}

func (b *binWriter) flush() error {
	if b.err != nil {
		return b.err
	}
	return b.w.Flush()
}

// binReader mirrors binWriter and tracks the stream offset for errors.
type binReader struct {
	r   *bufio.Reader
	buf [4]byte
	off int64
	err error
}

func newBinReader(r io.Reader) *binReader {
	return &binReader{r: bufio.NewReader(r)}
}

func (b *binReader) read(p []byte) {
	if b.err != nil {
		return
	}
	n, err := io.ReadFull(b.r, p)
	b.off += int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		b.err = err
	}
}

func (b *binReader) uint8() uint8 {
	b.read(b.buf[:1])
	if b.err != nil {
		return 0
	}
	return b.buf[0]
}

func (b *binReader) uint16() uint16 {
	b.read(b.buf[:2])
	if b.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b.buf[:2])
}

func (b *binReader) int16() int16 {
	return int16(b.uint16())
}

func (b *binReader) int32() int32 {
	b.read(b.buf[:4])
	if b.err != nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b.buf[:4]))
}

func (b *binReader) bytes(n int) []byte {
	p := make([]byte, n)
	b.read(p)
	return p
}
