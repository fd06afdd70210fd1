package convert

import (
	"context"
	"unicode/utf8"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

type stringConverter struct{}

// String converts UTF-8 text. Nested inside a larger buffer it carries an i32
// byte-length prefix; passed on its own, the buffer's length delimits it.
var String Converter[string, buffer.Buffer] = stringConverter{}

func (stringConverter) Lift(ctx context.Context, t buffer.Transfer, b buffer.Buffer) (string, error) {
	data, err := load(ctx, t, b)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidUTF8(errors.PhaseLift, nil, data)
	}
	return string(data), nil
}

func (stringConverter) Lower(ctx context.Context, t buffer.Transfer, v string) (buffer.Buffer, error) {
	return fill(ctx, t, []byte(v), len(v))
}

func (stringConverter) Read(r *buffer.Reader) (string, error) {
	n, err := r.ReadLength()
	if err != nil {
		return "", err
	}
	p, err := r.Next(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", errors.InvalidUTF8(errors.PhaseLift, nil, p)
	}
	return string(p), nil
}

func (stringConverter) Write(w *buffer.Writer, v string) error {
	if err := w.WriteLength(len(v)); err != nil {
		return err
	}
	w.WriteRaw([]byte(v))
	return nil
}

func (stringConverter) Size(v string) int {
	return 4 + len(v)
}

type bytesCodec struct{}

func (bytesCodec) Read(r *buffer.Reader) ([]byte, error) {
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	p, err := r.Next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

func (bytesCodec) Write(w *buffer.Writer, v []byte) error {
	if err := w.WriteLength(len(v)); err != nil {
		return err
	}
	w.WriteRaw(v)
	return nil
}

func (bytesCodec) Size(v []byte) int {
	return 4 + len(v)
}

// Bytes converts a byte string, always length-prefixed.
var Bytes = Buffered[[]byte](bytesCodec{})
