package call

import (
	"context"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/errors"
)

// ErrorHandler decodes the typed error a native function reported with
// CodeError. It owns b and must free it.
type ErrorHandler interface {
	LiftError(ctx context.Context, t buffer.Transfer, b buffer.Buffer) error
}

// ErrorHandlerFunc adapts a function to ErrorHandler
type ErrorHandlerFunc func(ctx context.Context, t buffer.Transfer, b buffer.Buffer) error

func (f ErrorHandlerFunc) LiftError(ctx context.Context, t buffer.Transfer, b buffer.Buffer) error {
	return f(ctx, t, b)
}

type codecHandler[E error] struct {
	codec convert.Codec[E]
}

// Errors returns a handler that decodes payloads with codec and returns the
// decoded value as the call's error.
func Errors[E error](codec convert.Codec[E]) ErrorHandler {
	return codecHandler[E]{codec: codec}
}

func (h codecHandler[E]) LiftError(ctx context.Context, t buffer.Transfer, b buffer.Buffer) error {
	v, err := convert.LiftBuffer(ctx, t, h.codec, b)
	if err != nil {
		return errors.New(errors.PhaseCall, errors.KindInvalidData).
			Detail("decode error payload").
			Cause(err).
			Build()
	}
	return v
}
