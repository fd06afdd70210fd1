package buffer

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/ffi-bridge/errors"
)

// Writer appends big-endian encoded values to a host-side byte slice that is
// later copied into a transfer buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a writer with room for sizeHint bytes
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Len returns the number of bytes written so far
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written bytes
func (w *Writer) Bytes() []byte { return w.buf }

// Reset discards written bytes, keeping the allocation
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) WriteI8(v int8)    { w.buf = append(w.buf, uint8(v)) }
func (w *Writer) WriteU16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *Writer) WriteI16(v int16)  { w.WriteU16(uint16(v)) }
func (w *Writer) WriteU32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *Writer) WriteI32(v int32)  { w.WriteU32(uint32(v)) }
func (w *Writer) WriteU64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *Writer) WriteI64(v int64)  { w.WriteU64(uint64(v)) }
func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}
func (w *Writer) WriteF64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

// WriteRaw appends p without a length prefix
func (w *Writer) WriteRaw(p []byte) { w.buf = append(w.buf, p...) }

// WriteLength writes an i32 length or count prefix
func (w *Writer) WriteLength(n int) error {
	if n > math.MaxInt32 {
		return errors.Overflow(errors.PhaseLower, nil, n, "i32 length")
	}
	w.WriteI32(int32(n))
	return nil
}

// Reader consumes big-endian encoded values from a buffer payload.
type Reader struct {
	data []byte
	off  int
}

// NewReader returns a reader over data
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Offset returns the number of bytes consumed
func (r *Reader) Offset() int { return r.off }

// Next consumes n bytes. The result aliases the reader's data.
func (r *Reader) Next(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, errors.ShortRead(n, r.Remaining())
	}
	p := r.data[r.off : r.off+n]
	r.off += n
	return p, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	p, err := r.Next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadU16() (uint16, error) {
	p, err := r.Next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	p, err := r.Next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	p, err := r.Next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadLength reads an i32 length or count prefix. Negative values are invalid.
func (r *Reader) ReadLength() (int, error) {
	n, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.InvalidData(errors.PhaseLift, nil, "negative length prefix")
	}
	return int(n), nil
}
