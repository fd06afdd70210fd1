// Package buffer implements the transfer buffer protocol.
//
// A transfer buffer is a byte region allocated by the native side and lent to
// the host, which fills or reads it and hands it back to the native free
// function exactly once. Nothing here guards against a double free: the
// buffer carries no bookkeeping that could detect one, so callers own that
// discipline.
//
// Two byte orders are involved. The 16-byte buffer record itself, as it sits
// in native memory inside a call status, is little-endian:
//
//	offset 0  capacity u32
//	offset 4  length   u32
//	offset 8  data     u64 pointer
//
// Values encoded inside a buffer's payload are big-endian (see Reader and
// Writer).
package buffer

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/ffi-bridge/errors"
)

// RecordSize is the size of an encoded buffer record in native memory
const RecordSize = 16

// SlotCount is the number of ABI slots a buffer occupies as a parameter or result
const SlotCount = 3

// Buffer is a transfer buffer descriptor
type Buffer struct {
	Capacity uint32
	Len      uint32
	Data     uint64
}

// Empty reports whether the buffer carries no payload
func (b Buffer) Empty() bool {
	return b.Len == 0
}

// Validate checks the descriptor invariants: length within capacity and
// non-null data whenever capacity is non-zero.
func (b Buffer) Validate() error {
	if b.Len > b.Capacity {
		return errors.New(errors.PhaseLift, errors.KindInvalidData).
			Detail("buffer length %d exceeds capacity %d", b.Len, b.Capacity).
			Build()
	}
	if b.Capacity > 0 && b.Data == 0 {
		return errors.New(errors.PhaseLift, errors.KindNullPointer).
			Detail("buffer with capacity %d has null data", b.Capacity).
			Build()
	}
	return nil
}

// Slots returns the buffer as three ABI slots
func (b Buffer) Slots() []uint64 {
	return b.AppendSlots(make([]uint64, 0, SlotCount))
}

// AppendSlots appends the buffer's ABI slots to dst
func (b Buffer) AppendSlots(dst []uint64) []uint64 {
	return append(dst, uint64(b.Capacity), uint64(b.Len), b.Data)
}

// FromSlots reads a buffer from the first three slots of s and validates it
func FromSlots(s []uint64) (Buffer, error) {
	if len(s) < SlotCount {
		return Buffer{}, errors.New(errors.PhaseLift, errors.KindInvalidData).
			Detail("buffer needs %d slots, got %d", SlotCount, len(s)).
			Build()
	}
	if s[0] > math.MaxUint32 || s[1] > math.MaxUint32 {
		return Buffer{}, errors.Overflow(errors.PhaseLift, nil, max(s[0], s[1]), "u32")
	}
	b := Buffer{Capacity: uint32(s[0]), Len: uint32(s[1]), Data: s[2]}
	return b, b.Validate()
}

// Encode writes the native record layout into dst, which must hold RecordSize bytes
func (b Buffer) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], b.Capacity)
	binary.LittleEndian.PutUint32(dst[4:], b.Len)
	binary.LittleEndian.PutUint64(dst[8:], b.Data)
}

// Decode reads a buffer record from src, which must hold RecordSize bytes
func Decode(src []byte) Buffer {
	return Buffer{
		Capacity: binary.LittleEndian.Uint32(src[0:]),
		Len:      binary.LittleEndian.Uint32(src[4:]),
		Data:     binary.LittleEndian.Uint64(src[8:]),
	}
}
