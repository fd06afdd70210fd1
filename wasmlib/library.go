// Package wasmlib loads a native library compiled to WebAssembly.
//
// The guest runs in wazero. Its exported functions are the library's
// symbols and its exported memory is the native memory. The host module
// "ffibridge" provides the continuation import native executors call:
//
//	(import "ffibridge" "continuation" (func (param i64 i32)))
//
// A module instance is not safe for concurrent use, so calls and memory
// access are serialized. Host.Continue runs on the calling goroutine while
// the guest executes and must not call back into the library.
package wasmlib

import (
	"context"
	"math"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
)

const (
	hostModule       = "ffibridge"
	continuationName = "continuation"
	pageSize         = 65536
	scratchAlign     = 8
)

// Options configures loading
type Options struct {
	// Name is the guest module name. Empty means anonymous.
	Name string
	// MemoryExport names the guest memory export. Empty uses the first memory.
	MemoryExport string
	// MemoryLimitPages caps guest memory in 64KiB pages. 0 leaves wazero's default.
	MemoryLimitPages uint32
}

// Library is a wasm guest acting as a native library
type Library struct {
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	host    atomic.Pointer[hostRef]
	funcs   sync.Map // string -> *function
	symbols []string

	// mu serializes guest execution and memory access
	mu          sync.Mutex
	scratchNext uint64
	scratchEnd  uint64
	closed      atomic.Bool
}

type hostRef struct {
	h ffibridge.Host
}

var (
	_ ffibridge.Library = (*Library)(nil)
	_ ffibridge.Lister  = (*Library)(nil)
)

// LoadFile reads and loads a wasm file
func LoadFile(ctx context.Context, path string, opts Options) (*Library, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	return Load(ctx, bin, opts)
}

// Load compiles and instantiates a wasm guest
func Load(ctx context.Context, wasm []byte, opts Options) (*Library, error) {
	cfg := wazero.NewRuntimeConfig()
	if opts.MemoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(opts.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	l := &Library{runtime: rt}

	fail := func(detail string, err error) (*Library, error) {
		_ = rt.Close(ctx)
		return nil, errors.New(errors.PhaseLoad, errors.KindInstantiation).
			Detail("%s", detail).
			Cause(err).
			Build()
	}

	_, err := rt.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(l.continuation), []api.ValueType{api.ValueTypeI64, api.ValueTypeI32}, nil).
		Export(continuationName).
		Instantiate(ctx)
	if err != nil {
		return fail("instantiate host module", err)
	}

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		return fail("compile guest", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(opts.Name))
	if err != nil {
		return fail("instantiate guest", err)
	}
	l.module = mod

	if opts.MemoryExport != "" {
		l.memory = mod.ExportedMemory(opts.MemoryExport)
	} else {
		l.memory = mod.Memory()
	}
	if l.memory == nil {
		return fail("guest exports no memory", nil)
	}

	for name := range mod.ExportedFunctionDefinitions() {
		l.symbols = append(l.symbols, name)
	}
	slices.Sort(l.symbols)

	Logger().Debug("loaded wasm library",
		zap.String("name", opts.Name),
		zap.Int("symbols", len(l.symbols)),
		zap.Uint32("memory", l.memory.Size()))
	return l, nil
}

func (l *Library) continuation(_ context.Context, _ api.Module, stack []uint64) {
	data, poll := stack[0], int8(api.DecodeI32(stack[1]))
	ref := l.host.Load()
	if ref == nil {
		Logger().Warn("continuation with no host bound", zap.Uint64("data", data))
		return
	}
	ref.h.Continue(data, poll)
}

// Lookup implements ffibridge.Library
func (l *Library) Lookup(name string) (ffibridge.Func, error) {
	if fn, ok := l.funcs.Load(name); ok {
		return fn.(*function), nil
	}
	if l.closed.Load() {
		return nil, errors.ErrClosed
	}
	f := l.module.ExportedFunction(name)
	if f == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "function", name)
	}
	fn := &function{lib: l, fn: f, name: name, results: f.Definition().ResultTypes()}
	actual, _ := l.funcs.LoadOrStore(name, fn)
	return actual.(*function), nil
}

// Symbols implements ffibridge.Lister
func (l *Library) Symbols() []string {
	return slices.Clone(l.symbols)
}

// Memory implements ffibridge.Library
func (l *Library) Memory() ffibridge.Memory { return memory{l} }

// Scratch implements ffibridge.Library. Regions are carved from pages the
// host grows the guest memory by, so guest allocators never hand them out.
func (l *Library) Scratch(size uint32) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return 0, errors.ErrClosed
	}

	n := (uint64(size) + scratchAlign - 1) &^ (scratchAlign - 1)
	if l.scratchNext+n > l.scratchEnd || l.scratchEnd == 0 {
		pages := uint32((n + pageSize - 1) / pageSize)
		if pages == 0 {
			pages = 1
		}
		prev, ok := l.memory.Grow(pages)
		if !ok {
			return 0, errors.New(errors.PhaseLoad, errors.KindOverflow).
				Value(pages).
				Detail("grow guest memory by %d pages for scratch", pages).
				Build()
		}
		l.scratchNext = uint64(prev) * pageSize
		l.scratchEnd = l.scratchNext + uint64(pages)*pageSize
		Logger().Debug("grew guest memory for scratch", zap.Uint32("from_pages", prev), zap.Uint32("pages", pages))
	}

	ptr := l.scratchNext
	l.scratchNext += n
	return ptr, nil
}

// Bind implements ffibridge.Library
func (l *Library) Bind(host ffibridge.Host) {
	if host == nil {
		l.host.Store(nil)
		return
	}
	l.host.Store(&hostRef{h: host})
}

// Close implements ffibridge.Library
func (l *Library) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runtime.Close(ctx)
}

type function struct {
	lib     *Library
	fn      api.Function
	name    string
	results []api.ValueType
}

// Call runs the guest function. i32 results are zero-extended.
func (f *function) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	f.lib.mu.Lock()
	defer f.lib.mu.Unlock()

	if f.lib.closed.Load() {
		return nil, errors.ErrClosed
	}
	res, err := f.fn.Call(ctx, params...)
	if err != nil {
		return nil, err
	}
	for i, t := range f.results {
		if t == api.ValueTypeI32 && i < len(res) {
			res[i] = uint64(api.DecodeU32(res[i]))
		}
	}
	return res, nil
}

type memory struct {
	l *Library
}

func (m memory) bounds(phase errors.Phase, ptr uint64, n uint32) error {
	if ptr > math.MaxUint32 || ptr+uint64(n) > uint64(m.l.memory.Size()) {
		return errors.OutOfBounds(phase, ptr, n)
	}
	return nil
}

func (m memory) Read(ptr uint64, n uint32) ([]byte, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if err := m.bounds(errors.PhaseLift, ptr, n); err != nil {
		return nil, err
	}
	view, ok := m.l.memory.Read(uint32(ptr), n)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseLift, ptr, n)
	}
	return slices.Clone(view), nil
}

func (m memory) Write(ptr uint64, data []byte) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if err := m.bounds(errors.PhaseLower, ptr, uint32(len(data))); err != nil {
		return err
	}
	if !m.l.memory.Write(uint32(ptr), data) {
		return errors.OutOfBounds(errors.PhaseLower, ptr, uint32(len(data)))
	}
	return nil
}
