package call

import (
	"github.com/wippyai/ffi-bridge/buffer"
)

// Code is the outcome a native function reports through its call status
type Code uint8

const (
	CodeSuccess Code = 0
	CodeError   Code = 1
	CodePanic   Code = 2
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeError:
		return "error"
	case CodePanic:
		return "panic"
	default:
		return "unknown"
	}
}

// Status layout in native memory: a code byte, padding to the next word, then
// the error payload buffer record.
const (
	StatusSize    = 8 + buffer.RecordSize
	payloadOffset = 8
)

// Status is a decoded call status record
type Status struct {
	Payload buffer.Buffer
	Code    Code
}

// Encode returns the native layout of s
func (s Status) Encode() []byte {
	raw := make([]byte, StatusSize)
	raw[0] = byte(s.Code)
	s.Payload.Encode(raw[payloadOffset:])
	return raw
}

// DecodeStatus reads a status record; raw must hold StatusSize bytes
func DecodeStatus(raw []byte) Status {
	return Status{
		Code:    Code(raw[0]),
		Payload: buffer.Decode(raw[payloadOffset:]),
	}
}

var zeroStatus [StatusSize]byte
