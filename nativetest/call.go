package nativetest

import (
	"context"
	"fmt"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/call"
)

// Call is the native side of one status-taking invocation
type Call struct {
	ctx    context.Context
	lib    *Library
	Symbol string
	status uint64
	done   bool
}

// Context returns the caller's context
func (c *Call) Context() context.Context { return c.ctx }

// Library returns the library servicing the call
func (c *Call) Library() *Library { return c.lib }

func (c *Call) run(impl Impl, args []uint64) (res []uint64) {
	defer func() {
		if r := recover(); r != nil {
			c.Panic(fmt.Sprint(r))
			res = nil
		}
	}()
	return impl(c, args)
}

// Fail reports a typed error whose encoded payload is payload
func (c *Call) Fail(payload []byte) {
	c.report(call.CodeError, c.NewBuffer(payload))
}

// Panic reports a native fault. An empty message sends no payload.
func (c *Call) Panic(msg string) {
	var b buffer.Buffer
	if msg != "" {
		b = c.NewBuffer([]byte(msg))
	}
	c.report(call.CodePanic, b)
}

// SetStatus writes an arbitrary status record, e.g. an unknown code
func (c *Call) SetStatus(code call.Code, payload buffer.Buffer) {
	c.report(code, payload)
}

func (c *Call) report(code call.Code, payload buffer.Buffer) {
	if c.done {
		return
	}
	c.done = true
	st := call.Status{Code: code, Payload: payload}
	if err := c.lib.Memory().Write(c.status, st.Encode()); err != nil {
		panic(err)
	}
}

// NewBuffer allocates a native buffer holding data
func (c *Call) NewBuffer(data []byte) buffer.Buffer {
	ptr := c.lib.allocate(uint32(len(data)))
	c.Write(ptr, data)
	return buffer.Buffer{Capacity: uint32(len(data)), Len: uint32(len(data)), Data: ptr}
}

// Buffer reads the buffer passed in three slots starting at args[i]
func (c *Call) Buffer(args []uint64, i int) buffer.Buffer {
	b, err := buffer.FromSlots(args[i:])
	if err != nil {
		panic(err)
	}
	return b
}

// Bytes returns a copy of b's payload
func (c *Call) Bytes(b buffer.Buffer) []byte {
	if b.Len == 0 {
		return nil
	}
	data, err := c.Read(b.Data, b.Len)
	if err != nil {
		panic(err)
	}
	return data
}

// Consume reads b's payload and frees b, the way native code takes ownership
// of a lowered argument.
func (c *Call) Consume(b buffer.Buffer) []byte {
	data := c.Bytes(b)
	c.FreeBuffer(b)
	return data
}

// FreeBuffer releases a buffer the native side owns
func (c *Call) FreeBuffer(b buffer.Buffer) {
	if b.Data == 0 {
		return
	}
	if !c.lib.release(b.Data) {
		panic(fmt.Sprintf("free of unknown buffer %#x", b.Data))
	}
}

// Read reads native memory
func (c *Call) Read(ptr uint64, n uint32) ([]byte, error) {
	return c.lib.Memory().Read(ptr, n)
}

// Write writes native memory, panicking on out-of-bounds access
func (c *Call) Write(ptr uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := c.lib.Memory().Write(ptr, data); err != nil {
		panic(err)
	}
}

// Encode builds a big-endian payload with w
func Encode(write func(w *buffer.Writer)) []byte {
	w := buffer.NewWriter(64)
	write(w)
	return w.Bytes()
}
