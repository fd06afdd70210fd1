// Package convert implements value converters between Go values and their
// FFI representation.
//
// A Codec reads and writes a value inside a transfer buffer payload. A
// Converter adds lift and lower against the value's FFI type F: uint64 for
// values passed in a single ABI slot, buffer.Buffer for values passed in a
// transfer buffer.
//
// Lifting a buffer consumes it: the buffer is freed whether or not decoding
// succeeds. Lowering produces a buffer the caller must hand to native code,
// which takes ownership. Read and Write never allocate or free native memory.
package convert

import (
	"context"
	"math"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

// Codec encodes T inside a transfer buffer payload.
type Codec[T any] interface {
	Read(r *buffer.Reader) (T, error)
	Write(w *buffer.Writer, v T) error
	// Size returns an upper bound on the bytes Write produces for v.
	Size(v T) int
}

// Converter translates T to and from its FFI representation F.
type Converter[T, F any] interface {
	Codec[T]
	Lift(ctx context.Context, t buffer.Transfer, v F) (T, error)
	Lower(ctx context.Context, t buffer.Transfer, v T) (F, error)
}

// LiftBuffer decodes one T filling all of b and frees b. Bytes left over
// after the read mean host and native disagree on the shape of T.
func LiftBuffer[T any](ctx context.Context, t buffer.Transfer, c Codec[T], b buffer.Buffer) (T, error) {
	var zero T

	data, err := load(ctx, t, b)
	if err != nil {
		return zero, err
	}

	r := buffer.NewReader(data)
	v, err := c.Read(r)
	if err != nil {
		return zero, err
	}
	if r.Remaining() != 0 {
		return zero, errors.TrailingBytes(r.Remaining())
	}
	return v, nil
}

// LowerBuffer encodes v into a newly allocated native buffer sized by c.Size.
func LowerBuffer[T any](ctx context.Context, t buffer.Transfer, c Codec[T], v T) (buffer.Buffer, error) {
	size := c.Size(v)
	if size < 0 || size > math.MaxInt32 {
		return buffer.Buffer{}, errors.Overflow(errors.PhaseLower, nil, size, "buffer capacity")
	}

	w := buffer.NewWriter(size)
	if err := c.Write(w, v); err != nil {
		return buffer.Buffer{}, err
	}
	return fill(ctx, t, w.Bytes(), size)
}

// load copies b out and frees it, reporting both failures.
func load(ctx context.Context, t buffer.Transfer, b buffer.Buffer) ([]byte, error) {
	data, err := t.Load(ctx, b)
	if freeErr := t.Free(ctx, b); freeErr != nil {
		return nil, errors.Join(err, freeErr)
	}
	return data, err
}

func fill(ctx context.Context, t buffer.Transfer, data []byte, size int) (buffer.Buffer, error) {
	if len(data) > size {
		return buffer.Buffer{}, errors.New(errors.PhaseLower, errors.KindUnderestimate).
			Detail("wrote %d bytes, estimated %d", len(data), size).
			Build()
	}

	b, err := t.Alloc(ctx, uint32(size))
	if err != nil {
		return buffer.Buffer{}, err
	}
	filled, err := t.Fill(ctx, b, data)
	if err != nil {
		_ = t.Free(ctx, b)
		return buffer.Buffer{}, err
	}
	return filled, nil
}

type buffered[T any] struct {
	Codec[T]
}

// Buffered adapts a codec into a converter that passes T in a transfer buffer.
func Buffered[T any](c Codec[T]) Converter[T, buffer.Buffer] {
	return buffered[T]{Codec: c}
}

func (b buffered[T]) Lift(ctx context.Context, t buffer.Transfer, v buffer.Buffer) (T, error) {
	return LiftBuffer(ctx, t, b.Codec, v)
}

func (b buffered[T]) Lower(ctx context.Context, t buffer.Transfer, v T) (buffer.Buffer, error) {
	return LowerBuffer(ctx, t, b.Codec, v)
}

// inField prefixes the path of a bridge error with a field name.
func inField(err error, name string) error {
	var e *errors.Error
	if errors.As(err, &e) {
		e.Path = append([]string{name}, e.Path...)
		return e
	}
	return err
}
