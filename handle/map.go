package handle

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/wippyai/ffi-bridge/errors"
)

// Map assigns numeric handles to host values.
//
// Handles come from a 32-bit counter that skips zero and wraps after
// exhausting its range. A value still live at a reused number is never
// overwritten: Insert moves on to the next free number. Wraparound is
// therefore safe as long as fewer than 2^32-1 entries are live at once.
type Map[T any] struct {
	entries sync.Map // uint64 -> T
	next    atomic.Uint32
	live    atomic.Int64
}

// NewMap returns an empty map
func NewMap[T any]() *Map[T] {
	return &Map[T]{}
}

func newMapAt[T any](last uint32) *Map[T] {
	m := &Map[T]{}
	m.next.Store(last)
	return m
}

// Insert stores v and returns its handle
func (m *Map[T]) Insert(v T) uint64 {
	for {
		n := m.next.Add(1)
		if n == 0 {
			continue
		}
		if _, loaded := m.entries.LoadOrStore(uint64(n), v); !loaded {
			m.live.Add(1)
			return uint64(n)
		}
	}
}

// Lookup returns the value stored under h. An absent handle means the
// caller kept using it after release.
func (m *Map[T]) Lookup(h uint64) (T, error) {
	if v, ok := m.entries.Load(h); ok {
		return v.(T), nil
	}
	var zero T
	return zero, errors.StaleHandle(errors.PhaseHandle, h)
}

// Remove deletes h, reporting whether it was present
func (m *Map[T]) Remove(h uint64) bool {
	_, ok := m.Take(h)
	return ok
}

// Take deletes h and returns its value
func (m *Map[T]) Take(h uint64) (T, bool) {
	if h == 0 || h > math.MaxUint32 {
		var zero T
		return zero, false
	}
	v, ok := m.entries.LoadAndDelete(h)
	if !ok {
		var zero T
		return zero, false
	}
	m.live.Add(-1)
	return v.(T), true
}

// Len returns the number of live entries
func (m *Map[T]) Len() int {
	return int(m.live.Load())
}

// Drain removes every entry, passing each to fn
func (m *Map[T]) Drain(fn func(h uint64, v T)) {
	m.entries.Range(func(k, _ any) bool {
		if v, ok := m.Take(k.(uint64)); ok && fn != nil {
			fn(k.(uint64), v)
		}
		return true
	})
}
