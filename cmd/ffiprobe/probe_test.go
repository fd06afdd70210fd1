package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-bridge/bridge"
	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/guard"
	"github.com/wippyai/ffi-bridge/internal/wasmtest"
	"github.com/wippyai/ffi-bridge/nativetest"
)

func TestNamespaceOf(t *testing.T) {
	tests := map[string]string{
		"demo.wasm":            "demo",
		"/lib/libwallet.wasm":  "wallet",
		"dir/my-lib_core.wasm": "my_lib_core",
	}
	for in, want := range tests {
		assert.Equal(t, want, namespaceOf(in), in)
	}
}

func TestSymbolFor(t *testing.T) {
	assert.Equal(t, "demo_fn_func_echo", symbolFor("demo", "echo"))
	assert.Equal(t, "demo_fn_method_counter_incr", symbolFor("demo", "method_counter_incr"))
	assert.Equal(t, "demo_debug_live", symbolFor("demo", "demo_debug_live"))
	assert.Equal(t, "ffi_demo_contract_version", symbolFor("demo", "ffi_demo_contract_version"))
	assert.Equal(t, "func_echo", entityFor("demo", "echo"))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		raw  string
		want any
	}{
		{"u32", "u32", "42", uint32(42)},
		{"hex", "u8", "0x1f", uint8(31)},
		{"s64", "s64", "-7", int64(-7)},
		{"bool", "bool", "true", true},
		{"string", "string", " spaced ", " spaced "},
		{"bytes", "list<u8>", "abc", []byte("abc")},
		{"list", "list<u32>", "[1, 2, 3]", []any{uint32(1), uint32(2), uint32(3)}},
		{"option none", "option<string>", "~", nil},
		{"option some", "option<u16>", "9", uint16(9)},
		{"tuple", "tuple<u8, string>", "[1, x]", []any{uint8(1), "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := convert.ParseType(tt.typ)
			require.NoError(t, err)
			got, err := parseValue(typ, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseValue_Errors(t *testing.T) {
	for _, tc := range []struct{ typ, raw string }{
		{"u8", "300"},
		{"bool", "maybe"},
		{"list<u32>", "{a: 1}"},
		{"tuple<u8, u8>", "[1]"},
	} {
		typ, err := convert.ParseType(tc.typ)
		require.NoError(t, err)
		_, err = parseValue(typ, tc.raw)
		assert.Error(t, err, "%s %q", tc.typ, tc.raw)
	}
}

func TestRender(t *testing.T) {
	assert.Equal(t, `"hi"`, render("hi"))
	assert.Equal(t, "42", render(uint32(42)))
	assert.Equal(t, "none", render(nil))
	assert.Equal(t, "- 1\n- 2", render([]any{1, 2}))
}

func openDemo(t *testing.T) options {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.wasm")
	require.NoError(t, os.WriteFile(path, wasmtest.Demo(wasmtest.Contract{Version: 1}), 0o644))
	return options{wasm: path}
}

func TestCallDynamic(t *testing.T) {
	opts := openDemo(t)
	ctx := context.Background()

	b, err := open(ctx, opts)
	require.NoError(t, err)
	defer b.Close(ctx)
	assert.Equal(t, "demo", b.Namespace())

	sigs, err := guard.ParseSignatures("echo: func(s: string) -> string;\nadd: func(a: u32, b: u32) -> u32;")
	require.NoError(t, err)

	out, err := callDynamic(ctx, b, "demo_fn_func_echo", sigs[0], []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, out)

	out, err = callDynamic(ctx, b, "demo_fn_func_add", sigs[1], []string{"2", "40"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	_, err = callDynamic(ctx, b, "demo_fn_func_add", sigs[1], []string{"2"})
	assert.Error(t, err)

	_, err = callDynamic(ctx, b, "demo_fn_func_fail", guard.Signature{Entity: "func_fail"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "native error")
}

func TestCallDynamic_FreesArgumentsOfAbortedCall(t *testing.T) {
	ctx := context.Background()
	sigs, err := guard.ParseSignatures("greet: func(s: string, n: u8);")
	require.NoError(t, err)

	lib := nativetest.New("demo")
	lib.SetContractVersion(1)
	lib.Define("demo_fn_func_greet", func(*nativetest.Call, []uint64) []uint64 { return nil })
	b, err := bridge.New(lib, bridge.Options{Namespace: "demo", Contract: &guard.Contract{Version: 1}})
	require.NoError(t, err)
	defer b.Close(ctx)

	_, err = callDynamic(ctx, b, "demo_fn_func_greet", sigs[0], []string{"hello", "300"})
	require.Error(t, err)
	assert.Equal(t, int64(1), lib.Allocs())
	assert.Equal(t, int64(1), lib.Frees())
	assert.Zero(t, lib.Live())
	assert.Zero(t, lib.Calls("demo_fn_func_greet"))
	assert.NoError(t, b.Poisoned())
}

func TestCallDynamic_ContractCheckedBeforeLowering(t *testing.T) {
	ctx := context.Background()
	sigs, err := guard.ParseSignatures("greet: func(s: string, n: u8);")
	require.NoError(t, err)

	lib := nativetest.New("demo")
	lib.SetContractVersion(1)
	b, err := bridge.New(lib, bridge.Options{Namespace: "demo", Contract: &guard.Contract{Version: 2}})
	require.NoError(t, err)
	defer b.Close(ctx)

	_, err = callDynamic(ctx, b, "demo_fn_func_greet", sigs[0], []string{"hello", "1"})
	require.Error(t, err)
	assert.Zero(t, lib.Allocs())
}

func TestRun_Verify(t *testing.T) {
	opts := openDemo(t)
	dir := filepath.Dir(opts.wasm)
	cfg := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("library:\n  path: demo.wasm\n  namespace: demo\ncontract:\n  version: 1\n"), 0o644))

	require.NoError(t, run(options{config: cfg, verify: true}))

	require.NoError(t, os.WriteFile(cfg, []byte("library:\n  path: demo.wasm\n  namespace: demo\ncontract:\n  version: 2\n"), 0o644))
	assert.Error(t, run(options{config: cfg, verify: true}))

	assert.Error(t, run(options{wasm: opts.wasm, verify: true}))
}

func TestPrintSymbols(t *testing.T) {
	ctx := context.Background()
	b, err := open(ctx, openDemo(t))
	require.NoError(t, err)
	defer b.Close(ctx)

	var out bytes.Buffer
	printSymbols(&out, b)
	assert.Contains(t, out.String(), "func (")
	assert.Contains(t, out.String(), "demo_fn_method_counter_incr")
	assert.Contains(t, out.String(), "counter.incr")
	assert.Contains(t, out.String(), "poll u32")
}
