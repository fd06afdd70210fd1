package call

import (
	"sync"

	ffibridge "github.com/wippyai/ffi-bridge"
)

// slotChunk is how much host scratch memory is carved into status slots at once.
const slotChunk = 4096

// slotPool hands out call status records in host-owned native memory.
// A slot is held by exactly one call between get and put.
type slotPool struct {
	lib  ffibridge.Library
	free []uint64
	mu   sync.Mutex
}

func (p *slotPool) get() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		base, err := p.lib.Scratch(slotChunk)
		if err != nil {
			return 0, err
		}
		for off := uint64(0); off+StatusSize <= slotChunk; off += StatusSize {
			p.free = append(p.free, base+off)
		}
	}

	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return slot, nil
}

func (p *slotPool) put(slot uint64) {
	p.mu.Lock()
	p.free = append(p.free, slot)
	p.mu.Unlock()
}
