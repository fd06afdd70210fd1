package wasmtest

import (
	"encoding/binary"
	"slices"
)

// Demo guest constants
const (
	DemoNamespace    = "demo"
	DemoAnswer       = 42
	DemoErrorVariant = 2
	DemoErrorMessage = "invalid key length"
	DemoPanicMessage = "index out of bounds"

	heapBase     = 1024
	errorPayload = 64
)

// Contract is what the demo guest reports through its query functions
type Contract struct {
	Checksums map[string]uint16
	Version   uint32
}

// DemoErrorPayload is the typed error the demo fail function reports: an
// i32 variant followed by a length-prefixed message, big-endian.
func DemoErrorPayload() []byte {
	out := binary.BigEndian.AppendUint32(nil, DemoErrorVariant)
	out = binary.BigEndian.AppendUint32(out, uint32(len(DemoErrorMessage)))
	return append(out, DemoErrorMessage...)
}

// Demo builds the demo guest for namespace "demo":
//
//	demo_fn_func_echo(buffer) -> buffer      returns its argument
//	demo_fn_func_add(u32, u32) -> u32
//	demo_fn_func_fail()                      typed error DemoErrorPayload
//	demo_fn_func_crash()                     panic with DemoPanicMessage
//	demo_fn_func_crash_silent()              panic without a message
//	demo_fn_func_trap()                      executes unreachable
//	demo_fn_constructor_counter_new(u32) -> handle
//	demo_fn_method_counter_incr(handle, u32) -> u32
//	demo_fn_free_counter(handle)
//	demo_fn_func_answer_async() -> future    u32 future resolving to DemoAnswer
//
// plus the runtime buffer, future and contract functions, and raw
// demo_debug_live, demo_debug_object_frees and demo_debug_future_frees
// counters. Buffers come from a bump heap that never reuses memory.
func Demo(c Contract) []byte {
	m := New(2)

	continuation := m.Import("ffibridge", "continuation", []ValType{I64, I32}, nil)

	heap := m.Global("", I32, true, heapBase)
	allocs := m.Global("", I32, true, 0)
	frees := m.Global("", I32, true, 0)
	objectFrees := m.Global("", I32, true, 0)
	futureFrees := m.Global("", I32, true, 0)

	errMsg := DemoErrorPayload()
	panicAt := uint32(errorPayload + len(errMsg))
	m.Data(errorPayload, errMsg)
	m.Data(panicAt, []byte(DemoPanicMessage))

	incr := func(g uint32) []byte {
		return cat(GlobalGet(g), I32Const(1), I32Add, GlobalSet(g))
	}
	// frees += data != 0
	countFree := func(data uint32) []byte {
		return cat(GlobalGet(frees), LocalGet(data), I32Const(0), I32Ne, I32Add, GlobalSet(frees))
	}

	i32, i64 := []ValType{I32}, []ValType{I64}
	triple := []ValType{I32, I32, I32}

	// bump(size) -> ptr, rounded to 8 bytes with at least 8 reserved
	bump := m.Func("", i32, i32, i32,
		GlobalGet(heap), LocalSet(1),
		GlobalGet(heap), LocalGet(0), I32Const(15), I32Add, I32Const(-8), I32And, I32Add, GlobalSet(heap),
		LocalGet(1),
	)

	// copyOut(src, n) -> ptr of a fresh allocation holding n bytes of src
	copyOut := m.Func("", []ValType{I32, I32}, i32, i32,
		LocalGet(1), Call(bump), LocalSet(2),
		LocalGet(2), LocalGet(0), LocalGet(1), MemoryCopy,
		incr(allocs),
		LocalGet(2),
	)

	// setStatus(status, code, src, n) with a freshly allocated payload
	setStatus := m.Func("", []ValType{I32, I32, I32, I32}, nil, i32,
		LocalGet(2), LocalGet(3), Call(copyOut), LocalSet(4),
		LocalGet(0), LocalGet(1), I32Store8(0),
		LocalGet(0), LocalGet(3), I32Store(8),
		LocalGet(0), LocalGet(3), I32Store(12),
		LocalGet(0), LocalGet(4), I64ExtendU, I64Store(16),
	)

	// Runtime functions
	m.Func("ffi_demo_buffer_alloc", []ValType{I32, I32}, triple, i32,
		LocalGet(0), Call(bump), LocalSet(2),
		incr(allocs),
		LocalGet(0), I32Const(0), LocalGet(2),
	)
	m.Func("ffi_demo_buffer_free", []ValType{I32, I32, I32, I32}, nil, nil,
		countFree(2),
	)
	// Always moves to a fresh allocation of len+extra bytes.
	m.Func("ffi_demo_buffer_reserve", []ValType{I32, I32, I32, I32, I32}, triple, i32,
		LocalGet(1), LocalGet(3), I32Add, Call(bump), LocalSet(5),
		LocalGet(5), LocalGet(2), LocalGet(1), MemoryCopy,
		incr(allocs),
		countFree(2),
		LocalGet(1), LocalGet(3), I32Add, LocalGet(1), LocalGet(5),
	)
	m.Func("ffi_demo_contract_version", nil, i32, nil, I32Const(int32(c.Version)))

	entities := make([]string, 0, len(c.Checksums))
	for e := range c.Checksums {
		entities = append(entities, e)
	}
	slices.Sort(entities)
	for _, e := range entities {
		m.Func("demo_checksum_"+e, nil, i32, nil, I32Const(int32(c.Checksums[e])))
	}

	// Functions
	m.Func("demo_fn_func_echo", []ValType{I32, I32, I32, I32}, triple, nil,
		LocalGet(0), LocalGet(1), LocalGet(2),
	)
	m.Func("demo_fn_func_add", []ValType{I32, I32, I32}, i32, nil,
		LocalGet(0), LocalGet(1), I32Add,
	)
	m.Func("demo_fn_func_fail", i32, nil, nil,
		LocalGet(0), I32Const(1), I32Const(errorPayload), I32Const(int32(len(errMsg))), Call(setStatus),
	)
	m.Func("demo_fn_func_crash", i32, nil, nil,
		LocalGet(0), I32Const(2), I32Const(int32(panicAt)), I32Const(int32(len(DemoPanicMessage))), Call(setStatus),
	)
	m.Func("demo_fn_func_crash_silent", i32, nil, nil,
		LocalGet(0), I32Const(2), I32Store8(0),
	)
	m.Func("demo_fn_func_trap", i32, nil, nil, Unreachable)

	// Counter object: the handle is the address of its u32 cell
	m.Func("demo_fn_constructor_counter_new", []ValType{I32, I32}, i64, i32,
		I32Const(4), Call(bump), LocalSet(2),
		LocalGet(2), LocalGet(0), I32Store(0),
		LocalGet(2), I64ExtendU,
	)
	m.Func("demo_fn_method_counter_incr", []ValType{I64, I32, I32}, i32, []ValType{I32, I32},
		LocalGet(0), I32WrapI64, LocalSet(3),
		LocalGet(3), I32Load(0), LocalGet(1), I32Add, LocalSet(4),
		LocalGet(3), LocalGet(4), I32Store(0),
		LocalGet(4),
	)
	m.Func("demo_fn_free_counter", []ValType{I64, I32}, nil, nil, incr(objectFrees))

	// A u32 future that is ready on first poll
	m.Func("demo_fn_func_answer_async", i32, i64, nil, I64Const(1))
	m.Func("ffi_demo_future_poll_u32", []ValType{I64, I64}, nil, nil,
		LocalGet(1), I32Const(0), Call(continuation),
	)
	m.Func("ffi_demo_future_complete_u32", []ValType{I64, I32}, i32, nil, I32Const(DemoAnswer))
	m.Func("ffi_demo_future_cancel_u32", i64, nil, nil)
	m.Func("ffi_demo_future_free_u32", i64, nil, nil, incr(futureFrees))

	// Debug counters
	m.Func("demo_debug_live", nil, i32, nil, GlobalGet(allocs), GlobalGet(frees), I32Sub)
	m.Func("demo_debug_object_frees", nil, i32, nil, GlobalGet(objectFrees))
	m.Func("demo_debug_future_frees", nil, i32, nil, GlobalGet(futureFrees))

	return m.Bytes()
}

func cat(parts ...[]byte) []byte {
	return slices.Concat(parts...)
}
