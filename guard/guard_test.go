package guard_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-bridge/call"
	"github.com/wippyai/ffi-bridge/errors"
	"github.com/wippyai/ffi-bridge/guard"
	"github.com/wippyai/ffi-bridge/names"
	"github.com/wippyai/ffi-bridge/nativetest"
)

func setup(version uint32, sums map[string]uint16) (*nativetest.Library, *call.Channel) {
	lib := nativetest.New("demo")
	lib.SetContractVersion(version)
	for e, s := range sums {
		lib.SetChecksum(e, s)
	}
	return lib, call.New(lib, "demo")
}

func kindOf(t *testing.T, err error) errors.Kind {
	t.Helper()
	var e *errors.Error
	require.True(t, errors.As(err, &e), "want *errors.Error, got %T: %v", err, err)
	return e.Kind
}

func TestVerify(t *testing.T) {
	sums := map[string]uint16{"func_echo": 1001, "func_add": 2002, "method_counter_incr": 3003}

	tests := []struct {
		name     string
		contract guard.Contract
		kind     errors.Kind
	}{
		{
			name:     "match",
			contract: guard.Contract{Namespace: "demo", Version: 29, Checksums: sums},
		},
		{
			name:     "match parallel",
			contract: guard.Contract{Namespace: "demo", Version: 29, Checksums: sums, Parallelism: 4},
		},
		{
			name:     "version mismatch",
			contract: guard.Contract{Namespace: "demo", Version: 30, Checksums: sums},
			kind:     errors.KindVersionMismatch,
		},
		{
			name:     "checksum mismatch",
			contract: guard.Contract{Namespace: "demo", Version: 29, Checksums: map[string]uint16{"func_echo": 1}},
			kind:     errors.KindChecksumMismatch,
		},
		{
			name:     "checksum mismatch parallel",
			contract: guard.Contract{Namespace: "demo", Version: 29, Checksums: map[string]uint16{"func_echo": 1, "func_add": 2002}, Parallelism: 2},
			kind:     errors.KindChecksumMismatch,
		},
		{
			name:     "missing checksum symbol",
			contract: guard.Contract{Namespace: "demo", Version: 29, Checksums: map[string]uint16{"func_absent": 1}},
			kind:     errors.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ch := setup(29, sums)
			err := guard.Verify(context.Background(), ch, tt.contract)
			if tt.kind == "" {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tt.kind, kindOf(t, err))
			assert.True(t, errors.IsProtocol(err))
		})
	}
}

func TestVerify_VersionCheckedFirst(t *testing.T) {
	lib, ch := setup(1, map[string]uint16{"func_echo": 7})

	err := guard.Verify(context.Background(), ch, guard.Contract{
		Namespace: "demo",
		Version:   2,
		Checksums: map[string]uint16{"func_echo": 7},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expect contract version 2")
	assert.Zero(t, lib.Calls("demo_checksum_func_echo"), "no checksum may be queried after a version mismatch")
}

func TestVerify_WideQueryResults(t *testing.T) {
	ctx := context.Background()
	contract := guard.Contract{Namespace: "demo", Version: 5, Checksums: map[string]uint16{"func_echo": 7}}

	lib, ch := setup(5, nil)
	lib.DefineRaw(names.ContractVersion("demo"), func(context.Context, []uint64) []uint64 {
		return []uint64{1<<32 | 5}
	})
	err := guard.Verify(ctx, ch, contract)
	assert.Equal(t, errors.KindInvalidData, kindOf(t, err))

	lib, ch = setup(5, nil)
	lib.DefineRaw(names.Checksum("demo", "func_echo"), func(context.Context, []uint64) []uint64 {
		return []uint64{1<<16 | 7}
	})
	err = guard.Verify(ctx, ch, contract)
	assert.Equal(t, errors.KindInvalidData, kindOf(t, err))
	assert.True(t, errors.IsProtocol(err))
}

func TestGate(t *testing.T) {
	var g guard.Gate
	runs := 0
	fail := errors.New(errors.PhaseGuard, errors.KindVersionMismatch).Build()
	check := func(context.Context) error {
		runs++
		return fail
	}

	assert.False(t, g.Checked())
	for range 3 {
		assert.Equal(t, fail, g.Pass(context.Background(), check))
	}
	assert.Equal(t, 1, runs)
	assert.True(t, g.Checked())
}
