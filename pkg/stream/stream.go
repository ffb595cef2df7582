// Package stream implements the little endian structured stream used by
// the command log, network packets, save games and replays.
package stream

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	MaxStringLen = 1 << 16 // longest accepted string
	MaxVectorLen = 1 << 20 // longest accepted vector or blob
)

var (
	// ErrTooLong is returned when a length prefix exceeds the stream limits.
	ErrTooLong = errors.New("stream: length prefix too long")
)

// Writer writes typed values. The first error is sticky.
type Writer struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

// NewWriter wraps w in a buffered stream writer
func NewWriter(w io.Writer) *Writer {
	if bw, ok := w.(*bufio.Writer); ok {
		return &Writer{w: bw}
	}
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) write(b []byte) {
	if nil != w.err {
		return
	}
	_, w.err = w.w.Write(b)
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

func (w *Writer) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

func (w *Writer) WriteSint32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

// WriteString writes a uint32 length followed by the raw bytes.
func (w *Writer) WriteString(s string) {
	if len(s) > MaxStringLen {
		w.fail(errors.Wrapf(ErrTooLong, "string of %d bytes", len(s)))
		return
	}
	w.WriteUint32(uint32(len(s)))
	if nil == w.err {
		_, w.err = w.w.WriteString(s)
	}
}

// WriteBytes writes a uint32 length followed by b.
func (w *Writer) WriteBytes(b []byte) {
	if len(b) > MaxVectorLen {
		w.fail(errors.Wrapf(ErrTooLong, "blob of %d bytes", len(b)))
		return
	}
	w.WriteUint32(uint32(len(b)))
	w.write(b)
}

// WriteUint32Vector writes a uint32 count followed by the elements.
func (w *Writer) WriteUint32Vector(v []uint32) {
	if len(v) > MaxVectorLen {
		w.fail(errors.Wrapf(ErrTooLong, "vector of %d elements", len(v)))
		return
	}
	w.WriteUint32(uint32(len(v)))
	for _, x := range v {
		w.WriteUint32(x)
	}
}

func (w *Writer) fail(err error) {
	if nil == w.err {
		w.err = err
	}
}

// Flush flushes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if nil != w.err {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

func (w *Writer) Err() error {
	return w.err
}

// Reader reads typed values. The first error is sticky and every later read
// returns the zero value.
type Reader struct {
	r   io.Reader
	buf [8]byte
	err error
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (r *Reader) read(n int) []byte {
	if nil != r.err {
		return nil
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); nil != err {
		r.err = err
		return nil
	}
	return r.buf[:n]
}

func (r *Reader) ReadUint8() uint8 {
	b := r.read(1)
	if nil == b {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadBool() bool {
	return r.ReadUint8() != 0
}

func (r *Reader) ReadUint16() uint16 {
	b := r.read(2)
	if nil == b {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) ReadUint32() uint32 {
	b := r.read(4)
	if nil == b {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) ReadSint32() int32 {
	return int32(r.ReadUint32())
}

func (r *Reader) ReadUint64() uint64 {
	b := r.read(8)
	if nil == b {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) readLen(limit int) int {
	n := r.ReadUint32()
	if nil != r.err {
		return 0
	}
	if uint64(n) > uint64(limit) || n > math.MaxInt32 {
		r.err = errors.Wrapf(ErrTooLong, "length %d", n)
		return 0
	}
	return int(n)
}

func (r *Reader) ReadString() string {
	b := r.readBlob(MaxStringLen)
	return string(b)
}

func (r *Reader) ReadBytes() []byte {
	return r.readBlob(MaxVectorLen)
}

func (r *Reader) readBlob(limit int) []byte {
	n := r.readLen(limit)
	if nil != r.err {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); nil != err {
		r.err = err
		return nil
	}
	return b
}

func (r *Reader) ReadUint32Vector() []uint32 {
	n := r.readLen(MaxVectorLen)
	if nil != r.err {
		return nil
	}
	v := make([]uint32, 0, min(n, 64))
	for i := 0; i < n; i++ {
		x := r.ReadUint32()
		if nil != r.err {
			return nil
		}
		v = append(v, x)
	}
	return v
}

// Fail records err unless an earlier error is already stored.
func (r *Reader) Fail(err error) {
	if nil == r.err {
		r.err = err
	}
}

func (r *Reader) Err() error {
	return r.err
}
