// Package async drives native futures to completion.
//
// A native async function returns a future handle. The host polls it with a
// continuation token; the native executor later reports progress by calling
// the host continuation with that token and a poll code. On PollReady the host
// completes the future, which returns the result or reports an error through
// the call status exactly as a synchronous call does. Each future yields at
// most one completion, and cancelling before completion suppresses it.
package async

import (
	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/handle"
)

// Bridge creates futures over a channel and routes continuations to them
type Bridge struct {
	ch      *call.Channel
	waiters *handle.Map[chan int8]
}

// NewBridge returns a bridge for the futures of ch's namespace
func NewBridge(ch *call.Channel) *Bridge {
	return &Bridge{ch: ch, waiters: handle.NewMap[chan int8]()}
}

// Future wraps a native future handle of the given kind
func (b *Bridge) Future(h uint64, kind Kind) (*Future, error) {
	if !kind.Valid() {
		return nil, errors.InvalidInput(errors.PhaseAsync, "unknown future kind "+string(kind))
	}
	if h == 0 {
		return nil, errors.NullPointer(errors.PhaseAsync, "future", 0)
	}
	return &Future{bridge: b, handle: h, kind: kind}, nil
}

// Continue delivers a continuation. It never blocks: a waiter channel holds
// one poll code and each token is consumed by its first delivery.
func (b *Bridge) Continue(data uint64, poll int8) {
	w, ok := b.waiters.Take(data)
	if !ok {
		Logger().Debug("dropped continuation for unknown token", zap.Uint64("data", data), zap.Int8("poll", poll))
		return
	}
	select {
	case w <- poll:
	default:
	}
}

// Waiting returns the number of registered continuations
func (b *Bridge) Waiting() int { return b.waiters.Len() }

// pollCode normalizes an unexpected poll code to MaybeReady so the future is
// polled again rather than completed early.
func pollCode(p int8) int8 {
	if p == ffibridge.PollReady {
		return ffibridge.PollReady
	}
	return ffibridge.PollMaybeReady
}
