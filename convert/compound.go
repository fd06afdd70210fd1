package convert

import (
	"strconv"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

type optional[T any] struct {
	inner Codec[T]
}

// Optional encodes a nil-able value: a 0 tag byte when absent, a 1 tag byte
// followed by the value when present.
func Optional[T any](inner Codec[T]) Codec[*T] {
	return optional[T]{inner: inner}
}

func (o optional[T]) Read(r *buffer.Reader) (*T, error) {
	tag, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		v, err := o.inner.Read(r)
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, errors.InvalidTag(nil, tag, "optional")
	}
}

func (o optional[T]) Write(w *buffer.Writer, v *T) error {
	if v == nil {
		w.WriteU8(0)
		return nil
	}
	w.WriteU8(1)
	return o.inner.Write(w, *v)
}

func (o optional[T]) Size(v *T) int {
	if v == nil {
		return 1
	}
	return 1 + o.inner.Size(*v)
}

type sequence[T any] struct {
	inner Codec[T]
}

// Sequence encodes a list as an i32 element count followed by the elements.
func Sequence[T any](inner Codec[T]) Codec[[]T] {
	return sequence[T]{inner: inner}
}

func (s sequence[T]) Read(r *buffer.Reader) ([]T, error) {
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	// A corrupt count must not drive the preallocation.
	out := make([]T, 0, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		v, err := s.inner.Read(r)
		if err != nil {
			return nil, inField(err, strconv.Itoa(i))
		}
		out = append(out, v)
	}
	return out, nil
}

func (s sequence[T]) Write(w *buffer.Writer, v []T) error {
	if err := w.WriteLength(len(v)); err != nil {
		return err
	}
	for i, item := range v {
		if err := s.inner.Write(w, item); err != nil {
			return inField(err, strconv.Itoa(i))
		}
	}
	return nil
}

func (s sequence[T]) Size(v []T) int {
	n := 4
	for _, item := range v {
		n += s.inner.Size(item)
	}
	return n
}

type mapping[K comparable, V any] struct {
	key   Codec[K]
	value Codec[V]
}

// Map encodes an i32 entry count followed by key, value pairs.
// Entry order on the wire is unspecified.
func Map[K comparable, V any](key Codec[K], value Codec[V]) Codec[map[K]V] {
	return mapping[K, V]{key: key, value: value}
}

func (m mapping[K, V]) Read(r *buffer.Reader) (map[K]V, error) {
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	out := make(map[K]V, min(n, r.Remaining()))
	for i := 0; i < n; i++ {
		k, err := m.key.Read(r)
		if err != nil {
			return nil, err
		}
		v, err := m.value.Read(r)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (m mapping[K, V]) Write(w *buffer.Writer, v map[K]V) error {
	if err := w.WriteLength(len(v)); err != nil {
		return err
	}
	for k, item := range v {
		if err := m.key.Write(w, k); err != nil {
			return err
		}
		if err := m.value.Write(w, item); err != nil {
			return err
		}
	}
	return nil
}

func (m mapping[K, V]) Size(v map[K]V) int {
	n := 4
	for k, item := range v {
		n += m.key.Size(k) + m.value.Size(item)
	}
	return n
}

// Ordinal is the set of Go types usable as enum values.
type Ordinal interface {
	~int | ~int8 | ~int16 | ~int32 | ~uint8 | ~uint16 | ~uint32
}

type enum[E Ordinal] struct {
	variants int
}

// Enum encodes a fieldless enumeration with variants cases. Go values
// 0..variants-1 travel as i32 discriminants 1..variants.
func Enum[E Ordinal](variants int) Codec[E] {
	return enum[E]{variants: variants}
}

func (e enum[E]) Read(r *buffer.Reader) (E, error) {
	d, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	if d < 1 || int(d) > e.variants {
		return 0, errors.InvalidTag(nil, d, "enum")
	}
	return E(d - 1), nil
}

func (e enum[E]) Write(w *buffer.Writer, v E) error {
	if int64(v) < 0 || int64(v) >= int64(e.variants) {
		return errors.New(errors.PhaseLower, errors.KindInvalidInput).
			Value(v).
			Detail("enum value %d outside %d variants", int64(v), e.variants).
			Build()
	}
	w.WriteI32(int32(v) + 1)
	return nil
}

func (enum[E]) Size(E) int { return 4 }

// Field is one field of a record codec.
type Field[T any] struct {
	Name  string
	read  func(r *buffer.Reader, dst *T) error
	write func(w *buffer.Writer, src *T) error
	size  func(src *T) int
}

// FieldOf binds a codec to the field of T that get points at.
func FieldOf[T, F any](name string, c Codec[F], get func(*T) *F) Field[T] {
	return Field[T]{
		Name: name,
		read: func(r *buffer.Reader, dst *T) error {
			v, err := c.Read(r)
			if err != nil {
				return err
			}
			*get(dst) = v
			return nil
		},
		write: func(w *buffer.Writer, src *T) error {
			return c.Write(w, *get(src))
		},
		size: func(src *T) int {
			return c.Size(*get(src))
		},
	}
}

type record[T any] struct {
	fields []Field[T]
}

// Record encodes a struct as its fields in declared order, with no framing.
func Record[T any](fields ...Field[T]) Codec[T] {
	return record[T]{fields: fields}
}

func (rc record[T]) Read(r *buffer.Reader) (T, error) {
	var v T
	for _, f := range rc.fields {
		if err := f.read(r, &v); err != nil {
			var zero T
			return zero, inField(err, f.Name)
		}
	}
	return v, nil
}

func (rc record[T]) Write(w *buffer.Writer, v T) error {
	for _, f := range rc.fields {
		if err := f.write(w, &v); err != nil {
			return inField(err, f.Name)
		}
	}
	return nil
}

func (rc record[T]) Size(v T) int {
	n := 0
	for _, f := range rc.fields {
		n += f.size(&v)
	}
	return n
}
