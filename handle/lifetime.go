package handle

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-bridge/errors"
)

// FreeFunc releases a native object
type FreeFunc func(handle uint64) error

// Lifetime is the ownership record of one native object handle
type Lifetime struct {
	free      FreeFunc
	freeErr   atomic.Pointer[freeResult]
	name      string
	handle    uint64
	inflight  atomic.Int64
	destroyed atomic.Bool
}

type freeResult struct {
	err error
}

// New returns a live Lifetime for native handle h. free runs once the object is
// destroyed and no call holds it.
func New(name string, h uint64, free FreeFunc) *Lifetime {
	l := &Lifetime{name: name, handle: h, free: free}
	l.inflight.Store(1)
	return l
}

// Name returns the object type name
func (l *Lifetime) Name() string { return l.name }

// Handle returns the raw native handle without acquiring it
func (l *Lifetime) Handle() uint64 { return l.handle }

// Acquire reserves the object for one native call and returns its handle.
// Every successful Acquire must be paired with Release.
func (l *Lifetime) Acquire() (uint64, error) {
	for {
		n := l.inflight.Load()
		switch {
		case n == 0:
			return 0, errors.Destroyed(l.name)
		case n == math.MaxInt64:
			return 0, errors.New(errors.PhaseHandle, errors.KindOverflow).
				Symbol(l.name).
				Value(n).
				Detail("in-flight call counter exhausted").
				Build()
		}
		if l.inflight.CompareAndSwap(n, n+1) {
			return l.handle, nil
		}
	}
}

// Release ends a call started with Acquire
func (l *Lifetime) Release() {
	l.drop()
}

// Destroy disposes of the object. It is idempotent; the native free runs now
// if no call is in flight, otherwise when the last one releases.
func (l *Lifetime) Destroy() {
	if !l.destroyed.CompareAndSwap(false, true) {
		return
	}
	l.drop()
}

// Destroyed reports whether Destroy has been called
func (l *Lifetime) Destroyed() bool { return l.destroyed.Load() }

// Freed reports whether the native free function has run
func (l *Lifetime) Freed() bool { return l.freeErr.Load() != nil }

// FreeErr returns the native free function's error, if it ran and failed
func (l *Lifetime) FreeErr() error {
	if r := l.freeErr.Load(); r != nil {
		return r.err
	}
	return nil
}

// Use runs fn with the acquired handle and releases it afterwards
func (l *Lifetime) Use(fn func(h uint64) error) error {
	h, err := l.Acquire()
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(h)
}

// drop never takes the counter below zero, so once the object is freed no
// Acquire can observe a live count again.
func (l *Lifetime) drop() {
	for {
		n := l.inflight.Load()
		if n <= 0 {
			Logger().Error("lifetime released more often than acquired",
				zap.String("object", l.name), zap.Uint64("handle", l.handle))
			return
		}
		if !l.inflight.CompareAndSwap(n, n-1) {
			continue
		}
		if n == 1 {
			l.release()
		}
		return
	}
}

func (l *Lifetime) release() {
	var err error
	if l.free != nil {
		err = l.free(l.handle)
	}
	l.freeErr.Store(&freeResult{err: err})
	if err != nil {
		Logger().Error("free native object",
			zap.String("object", l.name), zap.Uint64("handle", l.handle), zap.Error(err))
		return
	}
	Logger().Debug("freed native object", zap.String("object", l.name), zap.Uint64("handle", l.handle))
}
