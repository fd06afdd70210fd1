package bridge

import (
	"context"
	"fmt"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/errors"
)

// Lower converts v to its ABI slots. F must be uint64 or buffer.Buffer.
// A buffer it allocates belongs to the caller until passed to CallOwned.
func Lower[T, F any](ctx context.Context, b *Bridge, c convert.Converter[T, F], v T) ([]uint64, error) {
	if err := b.usable(ctx); err != nil {
		return nil, err
	}
	slots, _, err := lower(ctx, b, c, v)
	return slots, err
}

func lower[T, F any](ctx context.Context, b *Bridge, c convert.Converter[T, F], v T) ([]uint64, []buffer.Buffer, error) {
	f, err := c.Lower(ctx, b.ch.Transfer(), v)
	if err != nil {
		b.observeLower(err)
		return nil, nil, err
	}
	switch f := any(f).(type) {
	case uint64:
		return []uint64{f}, nil, nil
	case buffer.Buffer:
		return f.Slots(), []buffer.Buffer{f}, nil
	default:
		return nil, nil, errors.Unsupported(errors.PhaseLower, fmt.Sprintf("ffi representation %T", f))
	}
}

// Lift converts result slots back into T. Buffer results are consumed,
// even when ctx is already done.
func Lift[T, F any](ctx context.Context, b *Bridge, c convert.Converter[T, F], res []uint64) (T, error) {
	var zero T
	if b.closed.Load() {
		return zero, errors.ErrClosed
	}
	if err := b.Ready(ctx); err != nil {
		return zero, err
	}
	return lift(ctx, b, c, res)
}

func lift[T, F any](ctx context.Context, b *Bridge, c convert.Converter[T, F], res []uint64) (T, error) {
	var zero T
	var f F
	switch p := any(&f).(type) {
	case *uint64:
		if len(res) != 1 {
			return zero, errors.InvalidData(errors.PhaseLift, nil,
				fmt.Sprintf("expected 1 result slot, got %d", len(res)))
		}
		*p = res[0]
	case *buffer.Buffer:
		buf, err := buffer.FromSlots(res)
		if err != nil {
			return zero, err
		}
		*p = buf
	default:
		return zero, errors.Unsupported(errors.PhaseLift, fmt.Sprintf("ffi representation %T", f))
	}
	v, err := c.Lift(ctx, b.ch.Transfer(), f)
	if err != nil {
		b.observe(err)
	}
	return v, err
}

// Invoke calls a native function taking and returning one buffered value.
// The argument is lowered only once the symbol is known to exist, so a
// failed lookup leaks nothing.
func Invoke[T any](ctx context.Context, b *Bridge, symbol string, c convert.Converter[T, buffer.Buffer], h call.ErrorHandler, arg T) (T, error) {
	return Call1(ctx, b, symbol, c, c, h, arg)
}

// Call1 calls a native function of one argument and one result
func Call1[A, R, FA, FR any](ctx context.Context, b *Bridge, symbol string, in convert.Converter[A, FA], out convert.Converter[R, FR], h call.ErrorHandler, arg A) (R, error) {
	var zero R
	if err := b.usable(ctx); err != nil {
		return zero, err
	}
	if _, err := b.ch.Lookup(symbol); err != nil {
		b.observe(err)
		return zero, err
	}
	args, owned, err := lower(ctx, b, in, arg)
	if err != nil {
		return zero, err
	}
	res, err := b.CallOwned(ctx, symbol, h, owned, args...)
	if err != nil {
		return zero, err
	}
	return lift(ctx, b, out, res)
}

// Call0 calls a native function of no arguments and one result
func Call0[R, FR any](ctx context.Context, b *Bridge, symbol string, out convert.Converter[R, FR], h call.ErrorHandler) (R, error) {
	var zero R
	res, err := b.Call(ctx, symbol, h)
	if err != nil {
		return zero, err
	}
	return lift(ctx, b, out, res)
}
