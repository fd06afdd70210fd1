// Package call wraps native invocations with a call status record.
//
// Before each call the host zeroes a status slot in native memory and passes
// its address as the last parameter. The native side fills it in; the host
// inspects it right after the call returns. CodeError payloads go to the
// call's ErrorHandler; CodePanic payloads become a panic-category error
// carrying the native message, if any.
package call

import (
	"context"
	"sync"

	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/errors"
)

// Channel invokes functions of one native library namespace
type Channel struct {
	lib      ffibridge.Library
	mem      ffibridge.Memory
	transfer *buffer.Protocol
	funcs    sync.Map // symbol -> ffibridge.Func
	ns       string
	slots    slotPool
}

var _ buffer.Invoker = (*Channel)(nil)

// New returns a channel for the functions of namespace ns in lib
func New(lib ffibridge.Library, ns string) *Channel {
	c := &Channel{
		lib:   lib,
		mem:   lib.Memory(),
		ns:    ns,
		slots: slotPool{lib: lib},
	}
	c.transfer = buffer.NewProtocol(ns, c.mem, c)
	return c
}

// Namespace returns the library namespace
func (c *Channel) Namespace() string { return c.ns }

// Library returns the underlying library
func (c *Channel) Library() ffibridge.Library { return c.lib }

// Transfer returns the buffer protocol bound to this channel
func (c *Channel) Transfer() *buffer.Protocol { return c.transfer }

// Lookup resolves a symbol, caching the result
func (c *Channel) Lookup(symbol string) (ffibridge.Func, error) {
	if fn, ok := c.funcs.Load(symbol); ok {
		return fn.(ffibridge.Func), nil
	}
	fn, err := c.lib.Lookup(symbol)
	if err != nil {
		return nil, errors.New(errors.PhaseCall, errors.KindNotFound).
			Symbol(symbol).
			Detail("native symbol not exported").
			Cause(err).
			Build()
	}
	actual, _ := c.funcs.LoadOrStore(symbol, fn)
	return actual.(ffibridge.Func), nil
}

// Invoke calls a status-taking function that is not expected to report a
// typed error.
func (c *Channel) Invoke(ctx context.Context, symbol string, args ...uint64) ([]uint64, error) {
	return c.Call(ctx, symbol, nil, args...)
}

// Call invokes symbol with args and a fresh status slot. Typed errors are
// decoded by h; a CodeError without a handler is a protocol violation.
func (c *Channel) Call(ctx context.Context, symbol string, h ErrorHandler, args ...uint64) ([]uint64, error) {
	return c.CallOwned(ctx, symbol, h, nil, args...)
}

// CallOwned is Call for arguments that include the owned buffers in owned.
// The native function consumes them once it runs. If the call fails before
// the function is entered, they are freed here instead.
func (c *Channel) CallOwned(ctx context.Context, symbol string, h ErrorHandler, owned []buffer.Buffer, args ...uint64) ([]uint64, error) {
	invoked := false
	if len(owned) > 0 {
		defer func() {
			if !invoked {
				c.Discard(ctx, owned...)
			}
		}()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fn, err := c.Lookup(symbol)
	if err != nil {
		return nil, err
	}

	slot, err := c.slots.get()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "reserve status slot")
	}
	defer c.slots.put(slot)

	if err := c.mem.Write(slot, zeroStatus[:]); err != nil {
		return nil, err
	}

	params := make([]uint64, len(args)+1)
	copy(params, args)
	params[len(args)] = slot

	invoked = true
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, c.aborted(symbol, err)
	}

	raw, err := c.mem.Read(slot, StatusSize)
	if err != nil {
		return nil, err
	}
	st := DecodeStatus(raw)

	switch st.Code {
	case CodeSuccess:
		return res, nil
	case CodeError:
		return nil, c.typedError(ctx, symbol, h, st.Payload)
	case CodePanic:
		return nil, c.panicked(ctx, symbol, st.Payload)
	default:
		return nil, errors.New(errors.PhaseCall, errors.KindUnknownStatus).
			Symbol(symbol).
			Value(st.Code).
			Detail("status code %d", st.Code).
			Build()
	}
}

// Discard frees owned buffers that will not be passed to native code.
// It runs even when ctx is done.
func (c *Channel) Discard(ctx context.Context, owned ...buffer.Buffer) {
	ctx = context.WithoutCancel(ctx)
	for _, b := range owned {
		if err := c.transfer.Free(ctx, b); err != nil {
			Logger().Warn("free unsent buffer", zap.Uint64("data", b.Data), zap.Error(err))
		}
	}
}

// CallRaw invokes a function that takes no status slot, such as future
// polling. A failing call is reported as a native fault.
func (c *Channel) CallRaw(ctx context.Context, symbol string, args ...uint64) ([]uint64, error) {
	fn, err := c.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, c.aborted(symbol, err)
	}
	return res, nil
}

func (c *Channel) aborted(symbol string, cause error) error {
	Logger().Error("native call aborted", zap.String("symbol", symbol), zap.Error(cause))
	return errors.New(errors.PhaseCall, errors.KindPanic).
		Symbol(symbol).
		Detail("native call aborted").
		Cause(cause).
		Build()
}

func (c *Channel) typedError(ctx context.Context, symbol string, h ErrorHandler, payload buffer.Buffer) error {
	if h == nil {
		if payload.Data != 0 {
			if err := c.transfer.Free(ctx, payload); err != nil {
				Logger().Warn("free unexpected error payload", zap.String("symbol", symbol), zap.Error(err))
			}
		}
		return errors.New(errors.PhaseCall, errors.KindMissingHandler).
			Symbol(symbol).
			Detail("native code reported a typed error but the call has no error handler").
			Build()
	}

	err := h.LiftError(ctx, c.transfer, payload)
	if err == nil {
		return errors.New(errors.PhaseCall, errors.KindInvalidData).
			Symbol(symbol).
			Detail("error handler decoded no error").
			Build()
	}
	var e *errors.Error
	if errors.As(err, &e) && e.Symbol == "" {
		e.Symbol = symbol
	}
	return err
}

func (c *Channel) panicked(ctx context.Context, symbol string, payload buffer.Buffer) error {
	if payload.Len == 0 {
		if payload.Data != 0 {
			_ = c.transfer.Free(ctx, payload)
		}
		Logger().Error("native panic", zap.String("symbol", symbol))
		return errors.Panic(symbol, "")
	}

	msg, err := convert.String.Lift(ctx, c.transfer, payload)
	if err != nil {
		Logger().Error("native panic with unreadable message", zap.String("symbol", symbol), zap.Error(err))
		perr := errors.Panic(symbol, "")
		perr.Cause = err
		return perr
	}
	Logger().Error("native panic", zap.String("symbol", symbol), zap.String("message", msg))
	return errors.Panic(symbol, msg)
}
