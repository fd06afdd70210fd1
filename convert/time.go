package convert

import (
	"math"
	"time"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

type timestampCodec struct{}

// Timestamp encodes a point in time as i64 seconds since the Unix epoch and
// u32 nanoseconds. Before the epoch both parts count away from it, so
// -1.3s travels as (-1, 300000000). The sign lives in the seconds, so
// instants strictly between one second before the epoch and the epoch
// cannot be written.
var Timestamp Codec[time.Time] = timestampCodec{}

func (timestampCodec) Read(r *buffer.Reader) (time.Time, error) {
	sec, err := r.ReadI64()
	if err != nil {
		return time.Time{}, err
	}
	nsec, err := r.ReadU32()
	if err != nil {
		return time.Time{}, err
	}
	if nsec >= uint32(time.Second) {
		return time.Time{}, errors.InvalidData(errors.PhaseLift, nil, "timestamp nanoseconds out of range")
	}
	n := int64(nsec)
	if sec < 0 {
		n = -n
	}
	return time.Unix(sec, n).UTC(), nil
}

func (timestampCodec) Write(w *buffer.Writer, v time.Time) error {
	sec := v.Unix()
	nsec := uint32(v.Nanosecond())
	if sec < 0 && nsec > 0 {
		nsec = uint32(time.Second) - nsec
		sec++
		if sec == 0 {
			return errors.New(errors.PhaseLower, errors.KindInvalidInput).
				Value(v).
				Detail("timestamp %s is less than a second before the epoch", v.UTC().Format(time.RFC3339Nano)).
				Build()
		}
	}
	w.WriteI64(sec)
	w.WriteU32(nsec)
	return nil
}

func (timestampCodec) Size(time.Time) int { return 12 }

type durationCodec struct{}

// Duration encodes a non-negative span as u64 seconds and u32 nanoseconds.
var Duration Codec[time.Duration] = durationCodec{}

func (durationCodec) Read(r *buffer.Reader) (time.Duration, error) {
	sec, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	nsec, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if nsec >= uint32(time.Second) {
		return 0, errors.InvalidData(errors.PhaseLift, nil, "duration nanoseconds out of range")
	}
	if sec >= uint64(math.MaxInt64/int64(time.Second)) {
		return 0, errors.Overflow(errors.PhaseLift, nil, sec, "time.Duration")
	}
	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}

func (durationCodec) Write(w *buffer.Writer, v time.Duration) error {
	if v < 0 {
		return errors.New(errors.PhaseLower, errors.KindInvalidInput).
			Value(v).
			Detail("negative duration %s", v).
			Build()
	}
	w.WriteU64(uint64(v / time.Second))
	w.WriteU32(uint32(v % time.Second))
	return nil
}

func (durationCodec) Size(time.Duration) int { return 12 }
