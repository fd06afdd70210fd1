package buffer

import (
	"context"
	"math"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/names"
)

// Invoker calls a status-taking native function and turns a non-success
// status into an error. The call channel implements it.
type Invoker interface {
	Invoke(ctx context.Context, symbol string, args ...uint64) ([]uint64, error)
}

// Transfer is the set of buffer operations converters rely on.
type Transfer interface {
	Alloc(ctx context.Context, size uint32) (Buffer, error)
	Free(ctx context.Context, b Buffer) error
	Reserve(ctx context.Context, b Buffer, additional uint32) (Buffer, error)
	Load(ctx context.Context, b Buffer) ([]byte, error)
	Fill(ctx context.Context, b Buffer, data []byte) (Buffer, error)
}

// Protocol implements Transfer against one native library
type Protocol struct {
	inv     Invoker
	mem     ffibridge.Memory
	alloc   string
	free    string
	reserve string
}

var _ Transfer = (*Protocol)(nil)

// NewProtocol returns a protocol using the buffer functions of namespace ns
func NewProtocol(ns string, mem ffibridge.Memory, inv Invoker) *Protocol {
	return &Protocol{
		inv:     inv,
		mem:     mem,
		alloc:   names.Buffer(ns, names.BufferAlloc),
		free:    names.Buffer(ns, names.BufferFree),
		reserve: names.Buffer(ns, names.BufferReserve),
	}
}

// Alloc asks the native side for a buffer of at least size bytes.
// A null data pointer for a non-zero size is a protocol violation.
func (p *Protocol) Alloc(ctx context.Context, size uint32) (Buffer, error) {
	res, err := p.inv.Invoke(ctx, p.alloc, uint64(size))
	if err != nil {
		return Buffer{}, err
	}
	b, err := p.received(p.alloc, res, size)
	if err != nil {
		return Buffer{}, err
	}
	if b.Capacity < size {
		return Buffer{}, errors.New(errors.PhaseAlloc, errors.KindInvalidData).
			Symbol(p.alloc).
			Detail("requested %d bytes, got capacity %d", size, b.Capacity).
			Build()
	}
	return b, nil
}

// Free returns b to the native side. Each owned buffer must be freed exactly once.
func (p *Protocol) Free(ctx context.Context, b Buffer) error {
	_, err := p.inv.Invoke(ctx, p.free, b.Slots()...)
	return err
}

// Reserve grows b so at least additional bytes fit after its current length.
// The old descriptor must not be used afterwards.
func (p *Protocol) Reserve(ctx context.Context, b Buffer, additional uint32) (Buffer, error) {
	if uint64(b.Len)+uint64(additional) > math.MaxInt32 {
		return Buffer{}, errors.Overflow(errors.PhaseAlloc, nil, uint64(b.Len)+uint64(additional), "buffer capacity")
	}
	args := b.AppendSlots(make([]uint64, 0, SlotCount+1))
	res, err := p.inv.Invoke(ctx, p.reserve, append(args, uint64(additional))...)
	if err != nil {
		return Buffer{}, err
	}
	nb, err := p.received(p.reserve, res, b.Len+additional)
	if err != nil {
		return Buffer{}, err
	}
	if nb.Len != b.Len || nb.Capacity < b.Len+additional {
		return Buffer{}, errors.New(errors.PhaseAlloc, errors.KindInvalidData).
			Symbol(p.reserve).
			Detail("reserve of %d on len %d returned len %d cap %d", additional, b.Len, nb.Len, nb.Capacity).
			Build()
	}
	return nb, nil
}

// Load copies the payload of b out of native memory. It does not free b.
func (p *Protocol) Load(_ context.Context, b Buffer) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.Len == 0 {
		return nil, nil
	}
	return p.mem.Read(b.Data, b.Len)
}

// Fill writes data at the start of b and sets its length
func (p *Protocol) Fill(_ context.Context, b Buffer, data []byte) (Buffer, error) {
	if uint64(len(data)) > uint64(b.Capacity) {
		return Buffer{}, errors.New(errors.PhaseLower, errors.KindUnderestimate).
			Detail("%d bytes do not fit capacity %d", len(data), b.Capacity).
			Build()
	}
	if len(data) > 0 {
		if err := p.mem.Write(b.Data, data); err != nil {
			return Buffer{}, err
		}
	}
	b.Len = uint32(len(data))
	return b, nil
}

// Append writes data after the current payload of b, reserving first if needed
func (p *Protocol) Append(ctx context.Context, b Buffer, data []byte) (Buffer, error) {
	if uint64(len(data)) > math.MaxInt32 {
		return Buffer{}, errors.Overflow(errors.PhaseLower, nil, len(data), "buffer capacity")
	}
	if uint64(b.Len)+uint64(len(data)) > uint64(b.Capacity) {
		var err error
		if b, err = p.Reserve(ctx, b, uint32(len(data))); err != nil {
			return Buffer{}, err
		}
	}
	if len(data) > 0 {
		if err := p.mem.Write(b.Data+uint64(b.Len), data); err != nil {
			return Buffer{}, err
		}
	}
	b.Len += uint32(len(data))
	return b, nil
}

// Copy allocates a buffer holding exactly data
func (p *Protocol) Copy(ctx context.Context, data []byte) (Buffer, error) {
	if uint64(len(data)) > math.MaxInt32 {
		return Buffer{}, errors.Overflow(errors.PhaseLower, nil, len(data), "buffer capacity")
	}
	b, err := p.Alloc(ctx, uint32(len(data)))
	if err != nil {
		return Buffer{}, err
	}
	filled, err := p.Fill(ctx, b, data)
	if err != nil {
		_ = p.Free(ctx, b)
		return Buffer{}, err
	}
	return filled, nil
}

func (p *Protocol) received(symbol string, res []uint64, size uint32) (Buffer, error) {
	b, err := FromSlots(res)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) && e.Kind == errors.KindNullPointer {
			return Buffer{}, errors.NullPointer(errors.PhaseAlloc, symbol, size)
		}
		return Buffer{}, err
	}
	if size > 0 && b.Data == 0 {
		return Buffer{}, errors.NullPointer(errors.PhaseAlloc, symbol, size)
	}
	return b, nil
}
