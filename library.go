package ffibridge

import "context"

// Memory gives the host access to native memory
type Memory interface {
	// Read returns a copy of length bytes starting at ptr.
	Read(ptr uint64, length uint32) ([]byte, error)
	Write(ptr uint64, data []byte) error
}

// Func is a resolved native function. Parameters and results are raw ABI slots.
type Func interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Poll results a native executor reports through a continuation.
const (
	PollReady      int8 = 0
	PollMaybeReady int8 = 1
)

// Host is the host side of the boundary, as seen by native code.
type Host interface {
	// Continue delivers an async continuation registered with a future poll.
	Continue(data uint64, poll int8)
	// Invoke calls method on the host object registered under handle.
	// The code follows the call status codes; result is the encoded payload.
	Invoke(ctx context.Context, handle uint64, method uint32, args []byte) (code uint8, result []byte)
}

// Library is a loaded native library
type Library interface {
	Lookup(name string) (Func, error)
	Memory() Memory
	// Scratch reserves size bytes of native memory owned by the host.
	// The region lives as long as the library.
	Scratch(size uint32) (uint64, error)
	// Bind installs the host that native code calls back into.
	Bind(host Host)
	Close(ctx context.Context) error
}

// Lister is implemented by libraries that can enumerate their symbols.
type Lister interface {
	Symbols() []string
}
