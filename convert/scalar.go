package convert

import (
	"context"
	"math"
	"strconv"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

// scalar is a fixed-width value passed in one ABI slot.
type scalar[T any] struct {
	name  string
	size  int
	read  func(r *buffer.Reader) (T, error)
	write func(w *buffer.Writer, v T)
	lift  func(v uint64) (T, error)
	lower func(v T) uint64
}

func (s scalar[T]) Read(r *buffer.Reader) (T, error) { return s.read(r) }
func (s scalar[T]) Size(T) int                       { return s.size }
func (s scalar[T]) String() string                   { return s.name }

func (s scalar[T]) Write(w *buffer.Writer, v T) error {
	s.write(w, v)
	return nil
}

func (s scalar[T]) Lower(_ context.Context, _ buffer.Transfer, v T) (uint64, error) {
	return s.lower(v), nil
}

func (s scalar[T]) Lift(_ context.Context, _ buffer.Transfer, v uint64) (T, error) {
	return s.lift(v)
}

// Signed values narrower than 64 bits travel sign-extended to 32 bits, the
// way a native i32 slot carries them. Lifting checks the slot fits.

func liftUnsigned[T uint8 | uint16 | uint32](bits uint) func(uint64) (T, error) {
	return func(v uint64) (T, error) {
		if v>>bits != 0 {
			return 0, errors.Overflow(errors.PhaseLift, nil, v, "u"+strconv.Itoa(int(bits)))
		}
		return T(v), nil
	}
}

func liftSigned[T int8 | int16 | int32](bits uint) func(uint64) (T, error) {
	return func(v uint64) (T, error) {
		if v>>32 != 0 {
			return 0, errors.Overflow(errors.PhaseLift, nil, v, "i32 slot")
		}
		s := int64(int32(uint32(v)))
		lim := int64(1) << (bits - 1)
		if s < -lim || s >= lim {
			return 0, errors.Overflow(errors.PhaseLift, nil, s, "s"+strconv.Itoa(int(bits)))
		}
		return T(s), nil
	}
}

var (
	Bool Converter[bool, uint64] = scalar[bool]{
		name: "bool",
		size: 1,
		read: func(r *buffer.Reader) (bool, error) {
			v, err := r.ReadI8()
			if err != nil {
				return false, err
			}
			return boolFromTag(uint64(uint8(v)))
		},
		write: func(w *buffer.Writer, v bool) {
			if v {
				w.WriteI8(1)
			} else {
				w.WriteI8(0)
			}
		},
		lift: boolFromTag,
		lower: func(v bool) uint64 {
			if v {
				return 1
			}
			return 0
		},
	}

	U8 Converter[uint8, uint64] = scalar[uint8]{
		name:  "u8",
		size:  1,
		read:  (*buffer.Reader).ReadU8,
		write: (*buffer.Writer).WriteU8,
		lift:  liftUnsigned[uint8](8),
		lower: func(v uint8) uint64 { return uint64(v) },
	}

	I8 Converter[int8, uint64] = scalar[int8]{
		name:  "i8",
		size:  1,
		read:  (*buffer.Reader).ReadI8,
		write: (*buffer.Writer).WriteI8,
		lift:  liftSigned[int8](8),
		lower: func(v int8) uint64 { return uint64(uint32(int32(v))) },
	}

	U16 Converter[uint16, uint64] = scalar[uint16]{
		name:  "u16",
		size:  2,
		read:  (*buffer.Reader).ReadU16,
		write: (*buffer.Writer).WriteU16,
		lift:  liftUnsigned[uint16](16),
		lower: func(v uint16) uint64 { return uint64(v) },
	}

	I16 Converter[int16, uint64] = scalar[int16]{
		name:  "i16",
		size:  2,
		read:  (*buffer.Reader).ReadI16,
		write: (*buffer.Writer).WriteI16,
		lift:  liftSigned[int16](16),
		lower: func(v int16) uint64 { return uint64(uint32(int32(v))) },
	}

	U32 Converter[uint32, uint64] = scalar[uint32]{
		name:  "u32",
		size:  4,
		read:  (*buffer.Reader).ReadU32,
		write: (*buffer.Writer).WriteU32,
		lift:  liftUnsigned[uint32](32),
		lower: func(v uint32) uint64 { return uint64(v) },
	}

	I32 Converter[int32, uint64] = scalar[int32]{
		name:  "i32",
		size:  4,
		read:  (*buffer.Reader).ReadI32,
		write: (*buffer.Writer).WriteI32,
		lift:  liftSigned[int32](32),
		lower: func(v int32) uint64 { return uint64(uint32(v)) },
	}

	U64 Converter[uint64, uint64] = scalar[uint64]{
		name:  "u64",
		size:  8,
		read:  (*buffer.Reader).ReadU64,
		write: (*buffer.Writer).WriteU64,
		lift:  func(v uint64) (uint64, error) { return v, nil },
		lower: func(v uint64) uint64 { return v },
	}

	I64 Converter[int64, uint64] = scalar[int64]{
		name:  "i64",
		size:  8,
		read:  (*buffer.Reader).ReadI64,
		write: (*buffer.Writer).WriteI64,
		lift:  func(v uint64) (int64, error) { return int64(v), nil },
		lower: func(v int64) uint64 { return uint64(v) },
	}

	F32 Converter[float32, uint64] = scalar[float32]{
		name:  "f32",
		size:  4,
		read:  (*buffer.Reader).ReadF32,
		write: (*buffer.Writer).WriteF32,
		lift: func(v uint64) (float32, error) {
			if v>>32 != 0 {
				return 0, errors.Overflow(errors.PhaseLift, nil, v, "f32 slot")
			}
			return math.Float32frombits(uint32(v)), nil
		},
		lower: func(v float32) uint64 { return uint64(math.Float32bits(v)) },
	}

	F64 Converter[float64, uint64] = scalar[float64]{
		name:  "f64",
		size:  8,
		read:  (*buffer.Reader).ReadF64,
		write: (*buffer.Writer).WriteF64,
		lift:  func(v uint64) (float64, error) { return math.Float64frombits(v), nil },
		lower: math.Float64bits,
	}

	// Handle passes an opaque pointer-sized native handle unchanged.
	Handle = U64
)

func boolFromTag(v uint64) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.InvalidTag(nil, v, "bool")
	}
}
