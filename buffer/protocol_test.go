package buffer

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/wippyai/ffi-bridge/errors"
)

// arena is a bump-allocated native memory with a live allocation table.
type arena struct {
	mem   []byte
	live  map[uint64]uint32
	frees int
	null  bool
}

func newArena() *arena {
	return &arena{mem: make([]byte, 8), live: make(map[uint64]uint32)}
}

func (a *arena) Read(ptr uint64, n uint32) ([]byte, error) {
	if ptr+uint64(n) > uint64(len(a.mem)) {
		return nil, errors.OutOfBounds(errors.PhaseLift, ptr, n)
	}
	return bytes.Clone(a.mem[ptr : ptr+uint64(n)]), nil
}

func (a *arena) Write(ptr uint64, data []byte) error {
	if ptr+uint64(len(data)) > uint64(len(a.mem)) {
		return errors.OutOfBounds(errors.PhaseLower, ptr, uint32(len(data)))
	}
	copy(a.mem[ptr:], data)
	return nil
}

func (a *arena) allocate(size uint32) uint64 {
	ptr := uint64(len(a.mem))
	a.mem = append(a.mem, make([]byte, size)...)
	a.live[ptr] = size
	return ptr
}

func (a *arena) Invoke(_ context.Context, symbol string, args ...uint64) ([]uint64, error) {
	switch symbol {
	case "ffi_test_buffer_alloc":
		if a.null {
			return []uint64{args[0], 0, 0}, nil
		}
		return []uint64{args[0], 0, a.allocate(uint32(args[0]))}, nil
	case "ffi_test_buffer_free":
		if _, ok := a.live[args[2]]; !ok && args[0] > 0 {
			return nil, fmt.Errorf("free of unknown pointer %d", args[2])
		}
		delete(a.live, args[2])
		a.frees++
		return nil, nil
	case "ffi_test_buffer_reserve":
		capacity, length, data, extra := uint32(args[0]), uint32(args[1]), args[2], uint32(args[3])
		if length+extra <= capacity {
			return []uint64{uint64(capacity), uint64(length), data}, nil
		}
		ptr := a.allocate(length + extra)
		copy(a.mem[ptr:], a.mem[data:data+uint64(length)])
		delete(a.live, data)
		return []uint64{uint64(length + extra), uint64(length), ptr}, nil
	}
	return nil, fmt.Errorf("unknown symbol %s", symbol)
}

func TestProtocol_AllocFree(t *testing.T) {
	ctx := context.Background()
	a := newArena()
	p := NewProtocol("test", a, a)

	for _, size := range []uint32{0, 1, 16, 4096} {
		b, err := p.Alloc(ctx, size)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", size, err)
		}
		if b.Capacity < size || b.Len != 0 {
			t.Errorf("Alloc(%d) = %+v", size, b)
		}
		if err := p.Free(ctx, b); err != nil {
			t.Fatalf("Free: %v", err)
		}
	}

	if len(a.live) != 0 {
		t.Errorf("%d allocations leaked", len(a.live))
	}
	if a.frees != 4 {
		t.Errorf("frees = %d, want 4", a.frees)
	}
}

func TestProtocol_AllocNull(t *testing.T) {
	a := newArena()
	a.null = true
	p := NewProtocol("test", a, a)

	_, err := p.Alloc(context.Background(), 8)
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindNullPointer {
		t.Fatalf("Alloc() error = %v, want null pointer", err)
	}
	if e.Symbol != "ffi_test_buffer_alloc" || !errors.IsProtocol(err) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestProtocol_CopyLoad(t *testing.T) {
	ctx := context.Background()
	a := newArena()
	p := NewProtocol("test", a, a)

	b, err := p.Copy(ctx, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if b.Len != 5 {
		t.Errorf("Len = %d, want 5", b.Len)
	}

	data, err := p.Load(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("Load() = %q", data)
	}

	empty, err := p.Load(ctx, Buffer{})
	if err != nil || len(empty) != 0 {
		t.Errorf("Load(empty) = %v, %v", empty, err)
	}
}

func TestProtocol_FillTooLarge(t *testing.T) {
	ctx := context.Background()
	a := newArena()
	p := NewProtocol("test", a, a)

	b, err := p.Alloc(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Fill(ctx, b, []byte("abc")); !errors.IsProtocol(err) {
		t.Errorf("Fill() error = %v, want protocol violation", err)
	}
}

func TestProtocol_ReserveAppend(t *testing.T) {
	ctx := context.Background()
	a := newArena()
	p := NewProtocol("test", a, a)

	b, err := p.Copy(ctx, []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}

	b, err = p.Reserve(ctx, b, 10)
	if err != nil {
		t.Fatal(err)
	}
	if b.Capacity < 13 || b.Len != 3 {
		t.Errorf("Reserve() = %+v", b)
	}

	b, err = p.Append(ctx, b, []byte("defghijklmnop"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := p.Load(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abcdefghijklmnop" {
		t.Errorf("payload = %q", data)
	}

	if err := p.Free(ctx, b); err != nil {
		t.Fatal(err)
	}
	if len(a.live) != 0 {
		t.Errorf("%d allocations leaked", len(a.live))
	}
}
