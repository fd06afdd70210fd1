// Package nativetest provides an in-process native library for testing
// bindings without a compiled artifact.
//
// A Library owns an arena standing in for native memory, implements the
// transfer buffer functions of its namespace, and lets tests define native
// functions in Go. It counts allocations, frees and calls so tests can assert
// on ownership:
//
//	lib := nativetest.New("demo")
//	lib.Define("demo_fn_func_add", func(c *nativetest.Call, args []uint64) []uint64 {
//		return []uint64{args[0] + args[1]}
//	})
//
// A Go panic inside a defined function is reported to the host as a native
// panic, the way a native runtime would catch and report it.
package nativetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/names"
)

// Impl implements a status-taking native function. args exclude the status slot.
type Impl func(c *Call, args []uint64) []uint64

// RawImpl implements a native function that takes no status slot.
type RawImpl func(ctx context.Context, args []uint64) []uint64

const align = 8

// Library is an in-process native library
type Library struct {
	host   ffibridge.Host
	live   map[uint64]uint32
	funcs  map[string]*function
	calls  map[string]*atomic.Int64
	ns     string
	mem    []byte
	hostMu sync.RWMutex
	memMu  sync.Mutex
	fnMu   sync.RWMutex

	allocs    atomic.Int64
	frees     atomic.Int64
	nullAlloc atomic.Bool
	closed    atomic.Bool
}

var (
	_ ffibridge.Library = (*Library)(nil)
	_ ffibridge.Lister  = (*Library)(nil)
)

// New returns a library for namespace ns with the buffer functions defined
func New(ns string) *Library {
	l := &Library{
		ns:    ns,
		mem:   make([]byte, align),
		live:  make(map[uint64]uint32),
		funcs: make(map[string]*function),
		calls: make(map[string]*atomic.Int64),
	}
	l.Define(names.Buffer(ns, names.BufferAlloc), l.bufferAlloc)
	l.Define(names.Buffer(ns, names.BufferFree), l.bufferFree)
	l.Define(names.Buffer(ns, names.BufferReserve), l.bufferReserve)
	return l
}

// Namespace returns the library namespace
func (l *Library) Namespace() string { return l.ns }

// Define registers a status-taking function
func (l *Library) Define(name string, impl Impl) {
	l.define(&function{lib: l, name: name, impl: impl})
}

// DefineRaw registers a function without a status slot
func (l *Library) DefineRaw(name string, impl RawImpl) {
	l.define(&function{lib: l, name: name, raw: impl})
}

func (l *Library) define(fn *function) {
	l.fnMu.Lock()
	defer l.fnMu.Unlock()
	l.funcs[fn.name] = fn
	if _, ok := l.calls[fn.name]; !ok {
		l.calls[fn.name] = new(atomic.Int64)
	}
}

// SetContractVersion defines the contract version query
func (l *Library) SetContractVersion(v uint32) {
	l.DefineRaw(names.ContractVersion(l.ns), func(context.Context, []uint64) []uint64 {
		return []uint64{uint64(v)}
	})
}

// SetChecksum defines the checksum query of entity
func (l *Library) SetChecksum(entity string, sum uint16) {
	l.DefineRaw(names.Checksum(l.ns, entity), func(context.Context, []uint64) []uint64 {
		return []uint64{uint64(sum)}
	})
}

// FailAllocations makes buffer alloc return null data, simulating an exhausted native heap
func (l *Library) FailAllocations(fail bool) { l.nullAlloc.Store(fail) }

// Lookup implements ffibridge.Library
func (l *Library) Lookup(name string) (ffibridge.Func, error) {
	l.fnMu.RLock()
	defer l.fnMu.RUnlock()
	fn, ok := l.funcs[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "symbol", name)
	}
	return fn, nil
}

// Symbols implements ffibridge.Lister
func (l *Library) Symbols() []string {
	l.fnMu.RLock()
	defer l.fnMu.RUnlock()
	out := make([]string, 0, len(l.funcs))
	for name := range l.funcs {
		out = append(out, name)
	}
	return out
}

// Memory implements ffibridge.Library
func (l *Library) Memory() ffibridge.Memory { return arena{l} }

// Scratch implements ffibridge.Library. Scratch regions are not counted as allocations.
func (l *Library) Scratch(size uint32) (uint64, error) {
	l.memMu.Lock()
	defer l.memMu.Unlock()
	return l.grow(size), nil
}

// Bind implements ffibridge.Library
func (l *Library) Bind(host ffibridge.Host) {
	l.hostMu.Lock()
	l.host = host
	l.hostMu.Unlock()
}

// Close implements ffibridge.Library
func (l *Library) Close(context.Context) error {
	l.closed.Store(true)
	return nil
}

// Continue delivers a continuation to the bound host, as a native executor would
func (l *Library) Continue(data uint64, poll int8) {
	if h := l.boundHost(); h != nil {
		h.Continue(data, poll)
	}
}

// InvokeCallback calls a host object method, as native code holding a
// callback handle would.
func (l *Library) InvokeCallback(ctx context.Context, handle uint64, method uint32, args []byte) (call.Code, []byte) {
	h := l.boundHost()
	if h == nil {
		return call.CodePanic, []byte("no host bound")
	}
	code, out := h.Invoke(ctx, handle, method, args)
	return call.Code(code), out
}

func (l *Library) boundHost() ffibridge.Host {
	l.hostMu.RLock()
	defer l.hostMu.RUnlock()
	return l.host
}

// Live returns the number of buffers allocated and not yet freed
func (l *Library) Live() int {
	l.memMu.Lock()
	defer l.memMu.Unlock()
	return len(l.live)
}

// Allocs returns the number of buffer allocations
func (l *Library) Allocs() int64 { return l.allocs.Load() }

// Frees returns the number of buffer frees
func (l *Library) Frees() int64 { return l.frees.Load() }

// Calls returns how many times name was invoked
func (l *Library) Calls(name string) int64 {
	l.fnMu.RLock()
	defer l.fnMu.RUnlock()
	if c, ok := l.calls[name]; ok {
		return c.Load()
	}
	return 0
}

// TotalCalls returns the number of invocations across all functions
func (l *Library) TotalCalls() int64 {
	l.fnMu.RLock()
	defer l.fnMu.RUnlock()
	var n int64
	for _, c := range l.calls {
		n += c.Load()
	}
	return n
}

// grow extends the arena by size bytes, 8-byte aligned. Caller holds memMu.
func (l *Library) grow(size uint32) uint64 {
	ptr := uint64(len(l.mem))
	n := (uint64(size) + align - 1) &^ (align - 1)
	if n == 0 {
		n = align
	}
	l.mem = append(l.mem, make([]byte, n)...)
	return ptr
}

func (l *Library) allocate(size uint32) uint64 {
	l.memMu.Lock()
	defer l.memMu.Unlock()
	ptr := l.grow(size)
	l.live[ptr] = size
	l.allocs.Add(1)
	return ptr
}

func (l *Library) release(ptr uint64) bool {
	l.memMu.Lock()
	defer l.memMu.Unlock()
	if _, ok := l.live[ptr]; !ok {
		return false
	}
	delete(l.live, ptr)
	l.frees.Add(1)
	return true
}

func (l *Library) bufferAlloc(_ *Call, args []uint64) []uint64 {
	size := uint32(args[0])
	if l.nullAlloc.Load() {
		return []uint64{uint64(size), 0, 0}
	}
	return []uint64{uint64(size), 0, l.allocate(size)}
}

func (l *Library) bufferFree(c *Call, args []uint64) []uint64 {
	if args[2] == 0 {
		return nil
	}
	if !l.release(args[2]) {
		c.Panic(fmt.Sprintf("free of unknown buffer %#x", args[2]))
	}
	return nil
}

func (l *Library) bufferReserve(c *Call, args []uint64) []uint64 {
	capacity, length, data, extra := uint32(args[0]), uint32(args[1]), args[2], uint32(args[3])
	if length+extra <= capacity {
		return []uint64{uint64(capacity), uint64(length), data}
	}

	ptr := l.allocate(length + extra)
	if length > 0 {
		old, err := c.Read(data, length)
		if err != nil {
			c.Panic(err.Error())
			return nil
		}
		c.Write(ptr, old)
	}
	if data != 0 && !l.release(data) {
		c.Panic(fmt.Sprintf("reserve of unknown buffer %#x", data))
		return nil
	}
	return []uint64{uint64(length + extra), uint64(length), ptr}
}

type arena struct {
	l *Library
}

func (a arena) Read(ptr uint64, length uint32) ([]byte, error) {
	a.l.memMu.Lock()
	defer a.l.memMu.Unlock()
	if ptr+uint64(length) > uint64(len(a.l.mem)) {
		return nil, errors.OutOfBounds(errors.PhaseLift, ptr, length)
	}
	return bytes.Clone(a.l.mem[ptr : ptr+uint64(length)]), nil
}

func (a arena) Write(ptr uint64, data []byte) error {
	a.l.memMu.Lock()
	defer a.l.memMu.Unlock()
	if ptr+uint64(len(data)) > uint64(len(a.l.mem)) {
		return errors.OutOfBounds(errors.PhaseLower, ptr, uint32(len(data)))
	}
	copy(a.l.mem[ptr:], data)
	return nil
}

type function struct {
	lib  *Library
	impl Impl
	raw  RawImpl
	name string
}

func (f *function) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if f.lib.closed.Load() {
		return nil, errors.ErrClosed
	}
	f.lib.fnMu.RLock()
	f.lib.calls[f.name].Add(1)
	f.lib.fnMu.RUnlock()

	if f.raw != nil {
		return f.raw(ctx, params), nil
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("%s: missing call status parameter", f.name)
	}

	c := &Call{ctx: ctx, lib: f.lib, status: params[len(params)-1], Symbol: f.name}
	return c.run(f.impl, params[:len(params)-1]), nil
}
