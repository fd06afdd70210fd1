// Package bridge ties the bridge layers together behind one handle.
//
// A Bridge owns a loaded library and its call channel. Before the first
// native call it verifies the contract once; a mismatch fails that call and
// every later one. The first protocol violation it observes poisons the
// bridge: the native side can no longer be trusted, so every later call
// fails fast carrying the original violation. Typed errors, native panics
// and usage errors do not poison.
//
// The Bridge is also the Host of its library: it routes future
// continuations and native calls into registered host objects.
package bridge

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/async"
	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/callback"
	"github.com/wippyai/ffi-bridge/config"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/guard"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/wasmlib"
)

// Options configures a Bridge
type Options struct {
	// Contract is verified before the first call. Nil skips verification.
	Contract *guard.Contract
	// Logger is installed in every bridge package. Nil keeps the current loggers.
	Logger    *zap.Logger
	Namespace string
	// PollTimeout bounds Await. 0 means no bound beyond the caller's context.
	PollTimeout time.Duration
}

// Bridge is a loaded native library ready for calls
type Bridge struct {
	lib         ffibridge.Library
	ch          *call.Channel
	futures     *async.Bridge
	callbacks   *callback.Registry
	contract    *guard.Contract
	poison      atomic.Pointer[errors.Error]
	gate        guard.Gate
	pollTimeout time.Duration
	closed      atomic.Bool
}

var _ ffibridge.Host = (*Bridge)(nil)

// New wraps lib and binds itself as lib's host
func New(lib ffibridge.Library, opts Options) (*Bridge, error) {
	if lib == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "nil library")
	}
	if opts.Namespace == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "empty namespace")
	}
	if opts.Contract != nil && opts.Contract.Namespace == "" {
		c := *opts.Contract
		c.Namespace = opts.Namespace
		opts.Contract = &c
	}
	if opts.Logger != nil {
		SetLogger(opts.Logger)
	}

	ch := call.New(lib, opts.Namespace)
	b := &Bridge{
		lib:         lib,
		ch:          ch,
		futures:     async.NewBridge(ch),
		callbacks:   callback.NewRegistry(),
		contract:    opts.Contract,
		pollTimeout: opts.PollTimeout,
	}
	lib.Bind(b)
	return b, nil
}

// Open loads the library cfg names and verifies it against cfg's contract,
// including the checksums of signatures in the contract interface file.
func Open(ctx context.Context, cfg config.Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	contract := &guard.Contract{
		Namespace:   cfg.Library.Namespace,
		Version:     cfg.Contract.Version,
		Checksums:   make(map[string]uint16, len(cfg.Contract.Checksums)),
		Parallelism: cfg.Contract.Parallelism,
	}
	if cfg.Contract.Interface != "" {
		text, err := os.ReadFile(cfg.Contract.Interface)
		if err != nil {
			return nil, errors.Config("read contract interface", err)
		}
		sigs, err := guard.ParseSignatures(string(text))
		if err != nil {
			return nil, err
		}
		for e, s := range guard.Checksums(sigs) {
			contract.Checksums[e] = s
		}
	}
	for e, s := range cfg.Contract.Checksums {
		contract.Checksums[e] = s
	}

	lib, err := wasmlib.LoadFile(ctx, cfg.Library.Path, wasmlib.Options{
		Name:             cfg.Library.Namespace,
		MemoryExport:     cfg.Library.MemoryExport,
		MemoryLimitPages: cfg.Library.MemoryLimitPages,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("resolved native library",
		zap.String("path", cfg.Library.Path),
		zap.String("namespace", cfg.Library.Namespace))

	b, err := New(lib, Options{
		Namespace:   cfg.Library.Namespace,
		Contract:    contract,
		Logger:      logger,
		PollTimeout: cfg.PollTimeout,
	})
	if err != nil {
		_ = lib.Close(ctx)
		return nil, err
	}
	if err := b.Ready(ctx); err != nil {
		_ = b.Close(ctx)
		return nil, err
	}
	return b, nil
}

// SetLogger installs l in every bridge package
func SetLogger(l *zap.Logger) {
	setLogger(l)
	call.SetLogger(l)
	handle.SetLogger(l)
	async.SetLogger(l)
	callback.SetLogger(l)
	wasmlib.SetLogger(l)
}

// Channel returns the underlying call channel
func (b *Bridge) Channel() *call.Channel { return b.ch }

// Library returns the underlying library
func (b *Bridge) Library() ffibridge.Library { return b.lib }

// Namespace returns the library namespace
func (b *Bridge) Namespace() string { return b.ch.Namespace() }

// Ready verifies the contract on first use. The outcome is permanent.
func (b *Bridge) Ready(ctx context.Context) error {
	if b.contract == nil {
		return nil
	}
	err := b.gate.Pass(context.WithoutCancel(ctx), func(ctx context.Context) error {
		Logger().Debug("verifying contract",
			zap.String("namespace", b.contract.Namespace),
			zap.Uint32("version", b.contract.Version),
			zap.Int("checksums", len(b.contract.Checksums)))
		return guard.Verify(ctx, b.ch, *b.contract)
	})
	if err != nil {
		b.observe(err)
	}
	return err
}

// Poisoned returns the protocol violation that disabled the bridge, if any
func (b *Bridge) Poisoned() error {
	if e := b.poison.Load(); e != nil {
		return e
	}
	return nil
}

func (b *Bridge) usable(ctx context.Context) error {
	if b.closed.Load() {
		return errors.ErrClosed
	}
	if first := b.poison.Load(); first != nil {
		return errors.New(errors.PhaseCall, errors.KindPoisoned).
			Symbol(first.Symbol).
			Detail("bridge disabled by an earlier protocol violation").
			Cause(first).
			Build()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Ready(ctx)
}

// discard frees buffers lowered for a call that did not happen. After Close
// the library memory is gone with them.
func (b *Bridge) discard(ctx context.Context, owned []buffer.Buffer) {
	if len(owned) == 0 || b.closed.Load() {
		return
	}
	b.ch.Discard(ctx, owned...)
}

// observe poisons the bridge on the first protocol violation
func (b *Bridge) observe(err error) {
	if !errors.IsProtocol(err) {
		return
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind == errors.KindPoisoned {
		return
	}
	if b.poison.CompareAndSwap(nil, e) {
		Logger().Error("protocol violation, bridge disabled", zap.Error(e))
	}
}

// observeLower observes the faults of native calls made while lowering.
// A host value the converter rejects leaves the bridge usable.
func (b *Bridge) observeLower(err error) {
	var e *errors.Error
	if errors.As(err, &e) && e.Phase == errors.PhaseLower {
		return
	}
	b.observe(err)
}

// Call invokes a status-taking native function
func (b *Bridge) Call(ctx context.Context, symbol string, h call.ErrorHandler, args ...uint64) ([]uint64, error) {
	return b.CallOwned(ctx, symbol, h, nil, args...)
}

// CallOwned invokes a native function whose args carry the owned buffers in
// owned. Buffers the call never hands over are freed.
func (b *Bridge) CallOwned(ctx context.Context, symbol string, h call.ErrorHandler, owned []buffer.Buffer, args ...uint64) ([]uint64, error) {
	if err := b.usable(ctx); err != nil {
		b.discard(ctx, owned)
		return nil, err
	}
	res, err := b.ch.CallOwned(ctx, symbol, h, owned, args...)
	if err != nil {
		b.observe(err)
	}
	return res, err
}

// Object wraps a native object handle. Its free function calls freeSymbol.
func (b *Bridge) Object(name string, h uint64, freeSymbol string) *handle.Lifetime {
	return handle.New(name, h, func(h uint64) error {
		_, err := b.Call(context.Background(), freeSymbol, nil, h)
		return err
	})
}

// WithObject runs fn with lt acquired for the duration of the call
func (b *Bridge) WithObject(lt *handle.Lifetime, fn func(h uint64) error) error {
	err := lt.Use(fn)
	if err != nil {
		b.observe(err)
	}
	return err
}

// Future wraps a future handle returned by a native async function
func (b *Bridge) Future(h uint64, kind async.Kind) (*async.Future, error) {
	return b.futures.Future(h, kind)
}

// Await drives f to completion within the configured poll timeout
func (b *Bridge) Await(ctx context.Context, f *async.Future, h call.ErrorHandler) ([]uint64, error) {
	if err := b.usable(ctx); err != nil {
		_ = f.Free(context.WithoutCancel(ctx))
		return nil, err
	}
	if b.pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.pollTimeout)
		defer cancel()
	}
	res, err := async.Await(ctx, f, h)
	if err != nil {
		b.observe(err)
	}
	return res, err
}

// RegisterCallback makes obj callable from native code and returns its handle
func (b *Bridge) RegisterCallback(obj *callback.Object) (uint64, error) {
	return b.callbacks.Register(obj)
}

// ReleaseCallback removes a callback handle
func (b *Bridge) ReleaseCallback(h uint64) bool {
	return b.callbacks.Release(h)
}

// Continue implements ffibridge.Host
func (b *Bridge) Continue(data uint64, poll int8) {
	b.futures.Continue(data, poll)
}

// Invoke implements ffibridge.Host
func (b *Bridge) Invoke(ctx context.Context, h uint64, method uint32, args []byte) (uint8, []byte) {
	code, out := b.callbacks.Invoke(ctx, h, method, args)
	return uint8(code), out
}

// Close releases callbacks and closes the library. Later calls fail with
// errors.ErrClosed.
func (b *Bridge) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.callbacks.Close()
	b.lib.Bind(nil)
	return b.lib.Close(ctx)
}
