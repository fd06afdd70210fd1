// Package ffibridge is a runtime for calling into a native library that was
// compiled for a foreign ABI, with no memory manager shared between the two
// sides.
//
// The bridge moves variable-length data through explicitly owned transfer
// buffers. It converts Go values to and from those buffers or fixed-width ABI
// slots. It reports native success, typed errors and panics through a
// per-call status record, and tracks the lifetime of native objects handed
// out as opaque handles.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	ffibridge/          Root package with the Library, Func, Memory and Host interfaces
//	├── bridge/         High-level API tying every layer together
//	├── buffer/         Transfer buffers, wire layout, big-endian cursors
//	├── convert/        Value converters (lift, lower, read, write, size)
//	├── call/           Call status channel, error handlers, panics
//	├── handle/         Object lifetimes and handle maps
//	├── callback/       Host objects invoked from native code
//	├── async/          Futures driven by native continuations
//	├── guard/          Contract version and signature checksums
//	├── names/          Symbol naming convention
//	├── wasmlib/        Library backed by a wazero WebAssembly module
//	├── nativetest/     In-process Library for tests
//	├── config/         YAML and environment configuration
//	└── errors/         Structured error taxonomy
//
// # Quick Start
//
//	b, err := bridge.Open(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(ctx)
//
//	out, err := bridge.Invoke(ctx, b, "demo_fn_func_echo", convert.String, nil, "hello")
//
// # ABI Slots
//
// Every native parameter and result travels as one uint64 slot. A transfer
// buffer occupies three consecutive slots: capacity, length and data. The
// call status pointer, when the function takes one, is always the last
// parameter.
//
// # Thread Safety
//
// Bridge, lifetimes and handle maps are safe for concurrent use. Whether
// native calls actually run in parallel depends on the Library; a wazero
// module instance serializes them.
package ffibridge
