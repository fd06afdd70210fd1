package convert

import (
	"bytes"
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/errors"
)

// memTransfer is a host-only Transfer tracking live buffers.
type memTransfer struct {
	blocks map[uint64][]byte
	next   uint64
	frees  int
}

func newMemTransfer() *memTransfer {
	return &memTransfer{blocks: make(map[uint64][]byte), next: 8}
}

func (m *memTransfer) Alloc(_ context.Context, size uint32) (buffer.Buffer, error) {
	ptr := m.next
	m.next += uint64(size) + 8
	m.blocks[ptr] = make([]byte, size)
	return buffer.Buffer{Capacity: size, Data: ptr}, nil
}

func (m *memTransfer) Free(_ context.Context, b buffer.Buffer) error {
	if _, ok := m.blocks[b.Data]; !ok {
		return errors.StaleHandle(errors.PhaseAlloc, b.Data)
	}
	delete(m.blocks, b.Data)
	m.frees++
	return nil
}

func (m *memTransfer) Reserve(_ context.Context, b buffer.Buffer, additional uint32) (buffer.Buffer, error) {
	block := m.blocks[b.Data]
	grown := make([]byte, b.Len+additional)
	copy(grown, block[:b.Len])
	m.blocks[b.Data] = grown
	b.Capacity = b.Len + additional
	return b, nil
}

func (m *memTransfer) Load(_ context.Context, b buffer.Buffer) ([]byte, error) {
	return bytes.Clone(m.blocks[b.Data][:b.Len]), nil
}

func (m *memTransfer) Fill(_ context.Context, b buffer.Buffer, data []byte) (buffer.Buffer, error) {
	copy(m.blocks[b.Data], data)
	b.Len = uint32(len(data))
	return b, nil
}

// raw places bytes in a native buffer as if native code produced them.
func (m *memTransfer) raw(t *testing.T, data []byte) buffer.Buffer {
	t.Helper()
	b, _ := m.Alloc(context.Background(), uint32(len(data)))
	b, _ = m.Fill(context.Background(), b, data)
	return b
}

func roundTrip[T any](t *testing.T, c Codec[T], v T) T {
	t.Helper()
	ctx := context.Background()
	tr := newMemTransfer()

	b, err := LowerBuffer(ctx, tr, c, v)
	if err != nil {
		t.Fatalf("LowerBuffer(%v): %v", v, err)
	}
	if int(b.Len) > c.Size(v) {
		t.Fatalf("wrote %d bytes, Size said %d", b.Len, c.Size(v))
	}
	got, err := LiftBuffer(ctx, tr, c, b)
	if err != nil {
		t.Fatalf("LiftBuffer: %v", err)
	}
	if len(tr.blocks) != 0 {
		t.Fatalf("%d buffers not freed", len(tr.blocks))
	}
	return got
}

func TestScalars_RoundTrip(t *testing.T) {
	t.Run("bool", func(t *testing.T) {
		for _, v := range []bool{true, false} {
			if got := roundTrip[bool](t, Bool, v); got != v {
				t.Errorf("got %v, want %v", got, v)
			}
		}
	})
	t.Run("u8", func(t *testing.T) {
		for _, v := range []uint8{0, 1, 255} {
			if got := roundTrip[uint8](t, U8, v); got != v {
				t.Errorf("got %v, want %v", got, v)
			}
		}
	})
	t.Run("i16", func(t *testing.T) {
		for _, v := range []int16{math.MinInt16, -1, 0, math.MaxInt16} {
			if got := roundTrip[int16](t, I16, v); got != v {
				t.Errorf("got %v, want %v", got, v)
			}
		}
	})
	t.Run("i64", func(t *testing.T) {
		for _, v := range []int64{math.MinInt64, 0, math.MaxInt64} {
			if got := roundTrip[int64](t, I64, v); got != v {
				t.Errorf("got %v, want %v", got, v)
			}
		}
	})
	t.Run("f32", func(t *testing.T) {
		for _, v := range []float32{0, -1.25, math.MaxFloat32} {
			if got := roundTrip[float32](t, F32, v); got != v {
				t.Errorf("got %v, want %v", got, v)
			}
		}
	})
	t.Run("f64", func(t *testing.T) {
		for _, v := range []float64{math.SmallestNonzeroFloat64, math.Inf(-1)} {
			if got := roundTrip[float64](t, F64, v); got != v {
				t.Errorf("got %v, want %v", got, v)
			}
		}
	})
}

func TestScalars_Slots(t *testing.T) {
	ctx := context.Background()

	slot, _ := I8.Lower(ctx, nil, -5)
	if slot != 0xFFFFFFFB {
		t.Errorf("I8.Lower(-5) = %#x, want sign-extended i32", slot)
	}
	if v, err := I8.Lift(ctx, nil, slot); err != nil || v != -5 {
		t.Errorf("I8.Lift() = %v, %v", v, err)
	}

	if _, err := U8.Lift(ctx, nil, 256); !errors.IsProtocol(err) {
		t.Errorf("U8.Lift(256) error = %v, want overflow", err)
	}
	if _, err := I16.Lift(ctx, nil, 0x8000); !errors.IsProtocol(err) {
		t.Errorf("I16.Lift(0x8000) error = %v, want overflow", err)
	}
	if _, err := Bool.Lift(ctx, nil, 2); !errors.IsProtocol(err) {
		t.Errorf("Bool.Lift(2) error = %v, want invalid tag", err)
	}

	f, _ := F32.Lower(ctx, nil, 1.5)
	if v, err := F32.Lift(ctx, nil, f); err != nil || v != 1.5 {
		t.Errorf("F32 slot round trip = %v, %v", v, err)
	}
	d, _ := F64.Lower(ctx, nil, -0.5)
	if v, err := F64.Lift(ctx, nil, d); err != nil || v != -0.5 {
		t.Errorf("F64 slot round trip = %v, %v", v, err)
	}
}

func TestString(t *testing.T) {
	ctx := context.Background()
	tr := newMemTransfer()

	b, err := String.Lower(ctx, tr, "héllo")
	if err != nil {
		t.Fatal(err)
	}
	if got := tr.blocks[b.Data][:b.Len]; string(got) != "héllo" {
		t.Errorf("top-level payload = % x, want raw UTF-8 without prefix", got)
	}

	s, err := String.Lift(ctx, tr, b)
	if err != nil || s != "héllo" {
		t.Errorf("Lift() = %q, %v", s, err)
	}
	if tr.frees != 1 {
		t.Errorf("frees = %d, want 1", tr.frees)
	}

	empty, err := String.Lower(ctx, tr, "")
	if err != nil {
		t.Fatal(err)
	}
	if s, err := String.Lift(ctx, tr, empty); err != nil || s != "" {
		t.Errorf("Lift(empty) = %q, %v", s, err)
	}

	w := buffer.NewWriter(0)
	if err := String.Write(w, "ab"); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(w.Bytes(), []byte{0, 0, 0, 2, 'a', 'b'}) {
		t.Errorf("nested encoding = % x", w.Bytes())
	}

	bad := tr.raw(t, []byte{0xff})
	if _, err := String.Lift(ctx, tr, bad); !errors.IsProtocol(err) {
		t.Errorf("Lift(invalid UTF-8) error = %v", err)
	}
	if len(tr.blocks) != 0 {
		t.Errorf("%d buffers leaked", len(tr.blocks))
	}
}

func TestBytes(t *testing.T) {
	got := roundTrip[[]byte](t, Bytes, []byte{1, 2, 3})
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("got %v", got)
	}
}

func TestOptional(t *testing.T) {
	c := Optional[string](String)

	if got := roundTrip(t, c, nil); got != nil {
		t.Errorf("absent round trip = %v", *got)
	}

	v := "present"
	got := roundTrip(t, c, &v)
	if got == nil || *got != v {
		t.Errorf("present round trip = %v", got)
	}

	w := buffer.NewWriter(0)
	_ = c.Write(w, nil)
	if !bytes.Equal(w.Bytes(), []byte{0}) {
		t.Errorf("absent encoding = % x", w.Bytes())
	}

	_, err := c.Read(buffer.NewReader([]byte{2}))
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindInvalidTag {
		t.Errorf("Read(tag 2) error = %v", err)
	}
}

func TestSequenceAndMap(t *testing.T) {
	seq := roundTrip(t, Sequence[uint32](U32), []uint32{1, 2, 3})
	if !reflect.DeepEqual(seq, []uint32{1, 2, 3}) {
		t.Errorf("sequence = %v", seq)
	}

	empty := roundTrip(t, Sequence[string](String), []string{})
	if len(empty) != 0 {
		t.Errorf("empty sequence = %v", empty)
	}

	m := map[string]int64{"a": -1, "b": 2}
	if got := roundTrip(t, Map[string, int64](String, I64), m); !reflect.DeepEqual(got, m) {
		t.Errorf("map = %v", got)
	}
}

func TestSequence_CorruptCount(t *testing.T) {
	// Count claims far more elements than the payload holds.
	_, err := Sequence[uint32](U32).Read(buffer.NewReader([]byte{0x7f, 0xff, 0xff, 0xff, 0, 0, 0, 1}))

	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindShortRead {
		t.Fatalf("Read() error = %v, want short read", err)
	}
	if len(e.Path) != 1 || e.Path[0] != "1" {
		t.Errorf("Path = %v, want [1]", e.Path)
	}
}

type curve int

const (
	curveEd25519 curve = iota
	curveSecp256k1
)

type point struct {
	Label *string
	Tags  []string
	X     int32
	Curve curve
}

var pointCodec = Record[point](
	FieldOf("x", I32, func(p *point) *int32 { return &p.X }),
	FieldOf("label", Optional[string](String), func(p *point) **string { return &p.Label }),
	FieldOf("tags", Sequence[string](String), func(p *point) *[]string { return &p.Tags }),
	FieldOf("curve", Enum[curve](2), func(p *point) *curve { return &p.Curve }),
)

func TestRecord(t *testing.T) {
	label := "origin"
	v := point{X: -7, Label: &label, Tags: []string{"a", "bc"}, Curve: curveSecp256k1}

	got := roundTrip(t, pointCodec, v)
	if !reflect.DeepEqual(got, v) {
		t.Errorf("got %+v, want %+v", got, v)
	}

	nested := roundTrip(t, Sequence(Optional(pointCodec)), []*point{nil, &v})
	if len(nested) != 2 || nested[0] != nil || !reflect.DeepEqual(*nested[1], v) {
		t.Errorf("nested = %+v", nested)
	}
}

func TestRecord_FieldPath(t *testing.T) {
	w := buffer.NewWriter(0)
	w.WriteI32(1)
	w.WriteU8(9)

	_, err := pointCodec.Read(buffer.NewReader(w.Bytes()))
	var e *errors.Error
	if !errors.As(err, &e) || len(e.Path) == 0 || e.Path[0] != "label" {
		t.Fatalf("Read() error = %v, want failure at label", err)
	}
}

func TestEnum_Discriminants(t *testing.T) {
	c := Enum[curve](2)

	w := buffer.NewWriter(0)
	_ = c.Write(w, curveEd25519)
	if !bytes.Equal(w.Bytes(), []byte{0, 0, 0, 1}) {
		t.Errorf("encoding = % x, want discriminant 1", w.Bytes())
	}

	if _, err := c.Read(buffer.NewReader([]byte{0, 0, 0, 3})); !errors.IsProtocol(err) {
		t.Errorf("Read(3) error = %v", err)
	}
	if err := c.Write(w, curve(5)); !errors.IsUsage(err) {
		t.Errorf("Write(5) error = %v, want usage error", err)
	}
}

func TestTimestamp(t *testing.T) {
	tests := []time.Time{
		time.Unix(0, 0),
		time.Unix(1700000000, 123456789),
		time.Unix(-2, 0),
		time.Unix(-1, -300000000),
		time.Date(1900, 1, 1, 0, 0, 0, 1, time.UTC),
	}

	for _, v := range tests {
		got := roundTrip(t, Timestamp, v)
		if !got.Equal(v) {
			t.Errorf("round trip %v = %v", v, got)
		}
	}

	w := buffer.NewWriter(0)
	_ = Timestamp.Write(w, time.Unix(-1, -300000000))
	r := buffer.NewReader(w.Bytes())
	sec, _ := r.ReadI64()
	nsec, _ := r.ReadU32()
	if sec != -1 || nsec != 300000000 {
		t.Errorf("encoded as (%d, %d), want (-1, 300000000)", sec, nsec)
	}

	for _, v := range []time.Time{time.Unix(0, -1), time.Unix(0, -500000000), time.Unix(-1, 1)} {
		err := Timestamp.Write(buffer.NewWriter(0), v)
		var e *errors.Error
		if !errors.As(err, &e) || e.Kind != errors.KindInvalidInput {
			t.Errorf("Write(%v) error = %v, want invalid input", v, err)
		}
	}
	if got := roundTrip(t, Timestamp, time.Unix(-1, 0)); !got.Equal(time.Unix(-1, 0)) {
		t.Errorf("round trip -1s = %v", got)
	}
}

func TestDuration(t *testing.T) {
	for _, v := range []time.Duration{0, time.Nanosecond, 90*time.Minute + 5} {
		if got := roundTrip(t, Duration, v); got != v {
			t.Errorf("round trip %v = %v", v, got)
		}
	}
	if err := Duration.Write(buffer.NewWriter(0), -time.Second); err == nil {
		t.Error("negative duration should fail")
	}
}

func TestLiftBuffer_TrailingBytes(t *testing.T) {
	ctx := context.Background()
	tr := newMemTransfer()
	b := tr.raw(t, []byte{0, 0, 0, 1, 0xAA})

	_, err := LiftBuffer[uint32](ctx, tr, U32, b)
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindTrailingBytes {
		t.Fatalf("LiftBuffer() error = %v, want trailing bytes", err)
	}
	if tr.frees != 1 {
		t.Errorf("buffer must be freed on decode failure, frees = %d", tr.frees)
	}
}

type lyingCodec struct{}

func (lyingCodec) Read(r *buffer.Reader) (uint64, error) { return r.ReadU64() }
func (lyingCodec) Size(uint64) int                       { return 2 }
func (lyingCodec) Write(w *buffer.Writer, v uint64) error {
	w.WriteU64(v)
	return nil
}

func TestLowerBuffer_Underestimate(t *testing.T) {
	tr := newMemTransfer()
	_, err := LowerBuffer[uint64](context.Background(), tr, lyingCodec{}, 1)

	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindUnderestimate {
		t.Fatalf("LowerBuffer() error = %v, want underestimate", err)
	}
	if len(tr.blocks) != 0 {
		t.Errorf("%d buffers leaked", len(tr.blocks))
	}
}
