package async

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/names"
)

const (
	statePending int32 = iota
	stateCompleting
	stateCompleted
	stateCancelled
)

// Future is a native future handle
type Future struct {
	bridge *Bridge
	kind   Kind
	handle uint64
	state  atomic.Int32
	waiter atomic.Uint64
	freed  atomic.Bool
}

// Handle returns the native future handle
func (f *Future) Handle() uint64 { return f.handle }

// Kind returns the result kind
func (f *Future) Kind() Kind { return f.kind }

func (f *Future) symbol(op string) string {
	return names.Future(f.bridge.ch.Namespace(), op, string(f.kind))
}

func (f *Future) check() error {
	if f.freed.Load() {
		return errors.New(errors.PhaseAsync, errors.KindClosed).
			Symbol(f.symbol(names.FuturePoll)).
			Detail("future already freed").
			Build()
	}
	switch f.state.Load() {
	case stateCancelled:
		return errors.ErrCancelled
	case stateCompleting, stateCompleted:
		return errors.New(errors.PhaseAsync, errors.KindAlreadyCompleted).
			Symbol(f.symbol(names.FutureComplete)).
			Build()
	}
	return nil
}

// Poll asks the native executor to make progress. The returned channel
// receives PollReady or PollMaybeReady once native code invokes the
// continuation, which may happen before Poll returns.
func (f *Future) Poll(ctx context.Context) (<-chan int8, error) {
	if err := f.check(); err != nil {
		return nil, err
	}

	w := make(chan int8, 1)
	data := f.bridge.waiters.Insert(w)
	if prev := f.waiter.Swap(data); prev != 0 {
		f.bridge.waiters.Remove(prev)
	}

	if _, err := f.bridge.ch.CallRaw(ctx, f.symbol(names.FuturePoll), f.handle, data); err != nil {
		f.bridge.waiters.Remove(data)
		return nil, err
	}
	return w, nil
}

// Complete retrieves the result once the future reported PollReady. It
// succeeds at most once; typed errors go through h.
func (f *Future) Complete(ctx context.Context, h call.ErrorHandler) ([]uint64, error) {
	if f.freed.Load() {
		return nil, f.check()
	}
	if !f.state.CompareAndSwap(statePending, stateCompleting) {
		return nil, f.check()
	}
	res, err := f.bridge.ch.Call(ctx, f.symbol(names.FutureComplete), h, f.handle)
	f.state.Store(stateCompleted)
	return res, err
}

// Cancel abandons the future. A completion that has not been retrieved yet
// will never be. Cancelling a completed or cancelled future is a no-op.
func (f *Future) Cancel(ctx context.Context) error {
	if !f.state.CompareAndSwap(statePending, stateCancelled) {
		return nil
	}
	if data := f.waiter.Swap(0); data != 0 {
		f.bridge.waiters.Remove(data)
	}
	if f.freed.Load() {
		return nil
	}
	_, err := f.bridge.ch.CallRaw(ctx, f.symbol(names.FutureCancel), f.handle)
	return err
}

// Free releases the native future. It is idempotent; the future is unusable
// afterwards.
func (f *Future) Free(ctx context.Context) error {
	if !f.freed.CompareAndSwap(false, true) {
		return nil
	}
	if data := f.waiter.Swap(0); data != 0 {
		f.bridge.waiters.Remove(data)
	}
	_, err := f.bridge.ch.CallRaw(ctx, f.symbol(names.FutureFree), f.handle)
	if err != nil {
		Logger().Error("free native future", zap.Uint64("future", f.handle), zap.Error(err))
	}
	return err
}

// Await polls f until it is ready and completes it. If ctx ends first the
// future is cancelled and ctx's error returned. f is always freed.
func Await(ctx context.Context, f *Future, h call.ErrorHandler) ([]uint64, error) {
	defer f.Free(context.WithoutCancel(ctx))

	for {
		ready, err := f.Poll(ctx)
		if err != nil {
			return nil, err
		}
		select {
		case p := <-ready:
			if pollCode(p) == ffibridge.PollReady {
				return f.Complete(ctx, h)
			}
			Logger().Debug("future not ready, polling again", zap.Uint64("future", f.handle))
		case <-ctx.Done():
			if err := f.Cancel(context.WithoutCancel(ctx)); err != nil {
				Logger().Warn("cancel native future", zap.Uint64("future", f.handle), zap.Error(err))
			}
			return nil, ctx.Err()
		}
	}
}

// Value awaits a future whose result fits one slot and lifts it with c
func Value[T any](ctx context.Context, f *Future, h call.ErrorHandler, c convert.Converter[T, uint64]) (T, error) {
	var zero T
	res, err := Await(ctx, f, h)
	if err != nil {
		return zero, err
	}
	if len(res) != 1 {
		return zero, errors.InvalidData(errors.PhaseAsync, nil, "expected one result slot")
	}
	return c.Lift(ctx, f.bridge.ch.Transfer(), res[0])
}

// Buffered awaits a buffer-kind future and lifts its payload with c
func Buffered[T any](ctx context.Context, f *Future, h call.ErrorHandler, c convert.Converter[T, buffer.Buffer]) (T, error) {
	var zero T
	res, err := Await(ctx, f, h)
	if err != nil {
		return zero, err
	}
	b, err := buffer.FromSlots(res)
	if err != nil {
		return zero, err
	}
	return c.Lift(ctx, f.bridge.ch.Transfer(), b)
}
