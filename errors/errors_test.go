package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseLift,
				Kind:   KindInvalidTag,
				Symbol: "demo_fn_func_lookup",
				Path:   []string{"user", "address", "zip"},
				Detail: "invalid optional tag 7",
			},
			contains: []string{"[lift]", "invalid_tag", "in demo_fn_func_lookup", "user.address.zip", "tag 7"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseAlloc,
				Kind:  KindNullPointer,
			},
			contains: []string{"[alloc]", "null_pointer"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseCall,
				Kind:   KindPanic,
				Detail: "wasm trap",
				Cause:  errors.New("unreachable executed"),
			},
			contains: []string{"[call]", "panic", "wasm trap", "caused by", "unreachable executed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindInstantiation,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := Destroyed("Counter")

	if !errors.Is(err, ErrDestroyed) {
		t.Error("errors.Is should match ErrDestroyed")
	}
	if errors.Is(err, ErrCancelled) {
		t.Error("errors.Is should not match ErrCancelled")
	}

	wrapped := fmt.Errorf("call increment: %w", err)
	if !errors.Is(wrapped, ErrDestroyed) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseLift, KindTrailingBytes).
		Symbol("demo_fn_func_echo").
		Path("point", "x").
		Value(3).
		Cause(cause).
		Detail("%d bytes left", 3).
		Build()

	if err.Phase != PhaseLift {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseLift)
	}
	if err.Kind != KindTrailingBytes {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTrailingBytes)
	}
	if err.Symbol != "demo_fn_func_echo" {
		t.Errorf("Symbol = %v, want demo_fn_func_echo", err.Symbol)
	}
	if len(err.Path) != 2 || err.Path[0] != "point" || err.Path[1] != "x" {
		t.Errorf("Path = %v, want [point x]", err.Path)
	}
	if err.Value != 3 {
		t.Errorf("Value = %v, want 3", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "3 bytes left" {
		t.Errorf("Detail = %v, want '3 bytes left'", err.Detail)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		kind Kind
		want Category
	}{
		{KindNullPointer, CategoryProtocol},
		{KindTrailingBytes, CategoryProtocol},
		{KindMissingHandler, CategoryProtocol},
		{KindVersionMismatch, CategoryProtocol},
		{KindChecksumMismatch, CategoryProtocol},
		{KindStaleHandle, CategoryProtocol},
		{KindNotFound, CategoryProtocol},
		{KindPanic, CategoryPanic},
		{KindDestroyed, CategoryUsage},
		{KindCancelled, CategoryUsage},
		{KindClosed, CategoryUsage},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Category(); got != tt.want {
				t.Errorf("Category() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategoryHelpers(t *testing.T) {
	business := errors.New("invalid key length")

	if IsProtocol(business) || IsPanic(business) || IsUsage(business) {
		t.Error("business error must not be classified")
	}
	if _, ok := CategoryOf(business); ok {
		t.Error("CategoryOf should report false for foreign errors")
	}

	if !IsPanic(fmt.Errorf("sign: %w", Panic("demo_fn_func_sign", "boom"))) {
		t.Error("wrapped panic should be classified as panic")
	}
	if !IsProtocol(TrailingBytes(2)) {
		t.Error("trailing bytes should be a protocol violation")
	}
	if !IsUsage(Destroyed("Counter")) {
		t.Error("destroyed should be a usage error")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("NullPointer", func(t *testing.T) {
		err := NullPointer(PhaseAlloc, "ffi_demo_buffer_alloc", 64)
		if err.Kind != KindNullPointer {
			t.Errorf("Kind = %v, want %v", err.Kind, KindNullPointer)
		}
		if !strings.Contains(err.Detail, "64") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("InvalidUTF8", func(t *testing.T) {
		err := InvalidUTF8(PhaseLift, []string{"str"}, []byte{0xff, 0xfe})
		if err.Kind != KindInvalidUTF8 {
			t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidUTF8)
		}
	})

	t.Run("ShortRead", func(t *testing.T) {
		err := ShortRead(8, 3)
		if err.Kind != KindShortRead || !strings.Contains(err.Detail, "need 8") {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("Panic without message", func(t *testing.T) {
		err := Panic("demo_fn_func_x", "")
		if err.Value != "" {
			t.Errorf("Value = %q, want empty", err.Value)
		}
		if !strings.Contains(err.Error(), "without a message") {
			t.Errorf("Error() = %q, want generic message", err.Error())
		}
	})

	t.Run("StaleHandle", func(t *testing.T) {
		err := StaleHandle(PhaseCallback, 9)
		if err.Kind != KindStaleHandle || err.Value != uint64(9) {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseLower, []string{"val"}, 300, "u8")
		if err.Kind != KindOverflow {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOverflow)
		}
		if err.Value != 300 {
			t.Errorf("Value = %v, want 300", err.Value)
		}
	})

	t.Run("Config", func(t *testing.T) {
		err := Config("bad level", nil)
		if err.Phase != PhaseConfig || !IsUsage(err) {
			t.Errorf("unexpected error %v", err)
		}
	})
}
