package wasmlib_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/async"
	"github.com/wippyai/ffi-bridge/buffer"
	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/guard"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/internal/wasmtest"
	"github.com/wippyai/ffi-bridge/wasmlib"
)

var demoContract = wasmtest.Contract{
	Version:   3,
	Checksums: map[string]uint16{"func_echo": 4242},
}

func load(t *testing.T) (*wasmlib.Library, *call.Channel) {
	t.Helper()
	ctx := context.Background()
	lib, err := wasmlib.Load(ctx, wasmtest.Demo(demoContract), wasmlib.Options{Name: "demo"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lib.Close(ctx) })
	return lib, call.New(lib, wasmtest.DemoNamespace)
}

func raw(t *testing.T, ch *call.Channel, symbol string) uint64 {
	t.Helper()
	res, err := ch.CallRaw(context.Background(), symbol)
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

type demoError struct {
	Msg     string
	Variant int32
}

func (e *demoError) Error() string { return e.Msg }

type demoErrorCodec struct{}

func (demoErrorCodec) Read(r *buffer.Reader) (*demoError, error) {
	v, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	msg, err := convert.String.Read(r)
	return &demoError{Variant: v, Msg: msg}, err
}

func (demoErrorCodec) Write(w *buffer.Writer, e *demoError) error {
	w.WriteI32(e.Variant)
	return convert.String.Write(w, e.Msg)
}

func (demoErrorCodec) Size(e *demoError) int { return 4 + convert.String.Size(e.Msg) }

func TestLoad_Symbols(t *testing.T) {
	lib, _ := load(t)

	syms := lib.Symbols()
	assert.Contains(t, syms, "ffi_demo_buffer_alloc")
	assert.Contains(t, syms, "demo_fn_func_echo")
	assert.Contains(t, syms, "demo_checksum_func_echo")
	assert.True(t, sortedStrings(syms))

	_, err := lib.Lookup("demo_fn_func_missing")
	assert.Error(t, err)
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}

func TestLoad_InvalidModule(t *testing.T) {
	_, err := wasmlib.Load(context.Background(), []byte("not wasm"), wasmlib.Options{})
	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, errors.PhaseLoad, e.Phase)
	assert.Equal(t, errors.KindInstantiation, e.Kind)
}

func TestEcho(t *testing.T) {
	_, ch := load(t)
	ctx := context.Background()

	for _, s := range []string{"", "hello", "héllo wörld", strings.Repeat("x", 5000)} {
		arg, err := convert.String.Lower(ctx, ch.Transfer(), s)
		require.NoError(t, err)

		res, err := ch.Call(ctx, "demo_fn_func_echo", nil, arg.Slots()...)
		require.NoError(t, err)

		b, err := buffer.FromSlots(res)
		require.NoError(t, err)
		got, err := convert.String.Lift(ctx, ch.Transfer(), b)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	assert.Zero(t, raw(t, ch, "demo_debug_live"), "every buffer is freed")
}

func TestReserveThroughGuest(t *testing.T) {
	_, ch := load(t)
	ctx := context.Background()
	p := ch.Transfer()

	b, err := p.Alloc(ctx, 2)
	require.NoError(t, err)
	b, err = p.Fill(ctx, b, []byte("ab"))
	require.NoError(t, err)
	b, err = p.Append(ctx, b, []byte("cdefgh"))
	require.NoError(t, err)

	got, err := p.Load(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(got))
	require.NoError(t, p.Free(ctx, b))
	assert.Zero(t, raw(t, ch, "demo_debug_live"))
}

func TestAdd(t *testing.T) {
	_, ch := load(t)
	res, err := ch.Call(context.Background(), "demo_fn_func_add", nil, 40, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, res)
}

func TestStatusPaths(t *testing.T) {
	_, ch := load(t)
	ctx := context.Background()

	_, err := ch.Call(ctx, "demo_fn_func_fail", call.Errors[*demoError](demoErrorCodec{}))
	var de *demoError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int32(wasmtest.DemoErrorVariant), de.Variant)
	assert.Equal(t, wasmtest.DemoErrorMessage, de.Msg)

	_, err = ch.Call(ctx, "demo_fn_func_crash", nil)
	require.True(t, errors.IsPanic(err))
	assert.Contains(t, err.Error(), wasmtest.DemoPanicMessage)

	_, err = ch.Call(ctx, "demo_fn_func_crash_silent", nil)
	require.True(t, errors.IsPanic(err))
	assert.NotContains(t, err.Error(), wasmtest.DemoPanicMessage)

	_, err = ch.Call(ctx, "demo_fn_func_trap", nil)
	require.True(t, errors.IsPanic(err), "a trap is a native fault: %v", err)

	// The guest stays usable after a trap.
	res, err := ch.Call(ctx, "demo_fn_func_add", nil, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, res)

	assert.Zero(t, raw(t, ch, "demo_debug_live"), "error and panic payloads are freed")
}

func TestContract(t *testing.T) {
	_, ch := load(t)
	ctx := context.Background()

	require.NoError(t, guard.Verify(ctx, ch, guard.Contract{
		Namespace: wasmtest.DemoNamespace,
		Version:   demoContract.Version,
		Checksums: demoContract.Checksums,
	}))

	err := guard.Verify(ctx, ch, guard.Contract{Namespace: wasmtest.DemoNamespace, Version: 4})
	assert.True(t, errors.Is(err, errors.New(errors.PhaseGuard, errors.KindVersionMismatch).Build()))
}

func TestObjectLifetime(t *testing.T) {
	_, ch := load(t)
	ctx := context.Background()

	res, err := ch.Call(ctx, "demo_fn_constructor_counter_new", nil, 10)
	require.NoError(t, err)

	lt := handle.New("counter", res[0], func(h uint64) error {
		_, err := ch.Call(ctx, "demo_fn_free_counter", nil, h)
		return err
	})

	var got uint64
	for range 3 {
		require.NoError(t, lt.Use(func(h uint64) error {
			res, err := ch.Call(ctx, "demo_fn_method_counter_incr", nil, h, 5)
			if err == nil {
				got = res[0]
			}
			return err
		}))
	}
	assert.Equal(t, uint64(25), got)

	lt.Destroy()
	require.NoError(t, lt.FreeErr())
	assert.Equal(t, uint64(1), raw(t, ch, "demo_debug_object_frees"))
	assert.ErrorIs(t, lt.Use(func(uint64) error { return nil }), errors.ErrDestroyed)
}

type asyncHost struct {
	*async.Bridge
}

func (asyncHost) Invoke(context.Context, uint64, uint32, []byte) (uint8, []byte) {
	return uint8(call.CodePanic), nil
}

func TestFuture(t *testing.T) {
	lib, ch := load(t)
	ctx := context.Background()
	b := async.NewBridge(ch)
	lib.Bind(asyncHost{b})

	res, err := ch.Call(ctx, "demo_fn_func_answer_async", nil)
	require.NoError(t, err)

	f, err := b.Future(res[0], async.KindU32)
	require.NoError(t, err)
	v, err := async.Value(ctx, f, nil, convert.U32)
	require.NoError(t, err)
	assert.Equal(t, uint32(wasmtest.DemoAnswer), v)
	assert.Equal(t, uint64(1), raw(t, ch, "demo_debug_future_frees"))
}

func TestConcurrentCalls(t *testing.T) {
	_, ch := load(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				res, err := ch.Call(ctx, "demo_fn_func_add", nil, uint64(i), uint64(j))
				if err != nil {
					errs <- err
					return
				}
				if res[0] != uint64(i+j) {
					errs <- errors.InvalidData(errors.PhaseCall, nil, "wrong sum")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestScratchAndClose(t *testing.T) {
	lib, _ := load(t)
	ctx := context.Background()

	a, err := lib.Scratch(100)
	require.NoError(t, err)
	b, err := lib.Scratch(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(104), b-a)
	assert.Zero(t, a%8)

	big, err := lib.Scratch(70000)
	require.NoError(t, err)
	require.NoError(t, lib.Memory().Write(big+69999, []byte{1}))

	_, err = lib.Memory().Read(1<<40, 1)
	assert.Error(t, err)

	fn, err := lib.Lookup("demo_fn_func_add")
	require.NoError(t, err)
	require.NoError(t, lib.Close(ctx))
	_, err = fn.Call(ctx, 1, 2, 0)
	assert.ErrorIs(t, err, errors.ErrClosed)
}

var _ ffibridge.Host = asyncHost{}
