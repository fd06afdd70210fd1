// Package errors provides structured error types for the bridge.
//
// Errors are located by Phase (which part of the bridge raised them) and
// classified by Kind. Every Kind maps onto one Category, which tells the
// caller how to react:
//
//	CategoryProtocol  host bindings and native library disagree; stop using the bridge
//	CategoryPanic     the native side faulted while servicing one call
//	CategoryUsage     the host misused the bridge (e.g. called a destroyed object)
//
// Typed business errors decoded from a native error payload are not *Error
// values; they are whatever type the call site's error handler produces.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLift, errors.KindTrailingBytes).
//		Symbol("demo_fn_func_echo").
//		Detail("%d bytes left after read", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NullPointer(errors.PhaseAlloc, "ffi_demo_buffer_alloc", 16)
//	err := errors.Panic("demo_fn_func_sign", "index out of range")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
