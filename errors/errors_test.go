package errors

import (
	"errors"
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
				Phase:     PhaseHeap,
				Kind:      KindInvalidHandle,
				Op:        "take",
				Handle:    17,
				HasHandle: true,
				Detail:    "slot is free",
			},
			contains: []string{"[heap]", "invalid_handle", "in take", "handle 17", "slot is free"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name:     "handle zero is printed",
			err:      InvalidHandle(PhaseHeap, 0, "undefined"),
			contains: []string{"handle 0"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseEncode,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[encode]", "allocation", "memory full", "caused by", "underlying error"},
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
		Phase: PhaseEncode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause in chain")
	}
}

func TestError_Is(t *testing.T) {
	err := UseAfterClose(PhaseStream, "sink.write")

	if !err.Is(&Error{Phase: PhaseStream, Kind: KindUseAfterClose}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseHeap, Kind: KindUseAfterClose}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseStream, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrUseAfterClose) {
		t.Error("sentinel without phase should match any phase")
	}
	if errors.Is(err, ErrInvalidHandle) {
		t.Error("sentinel of a different kind should not match")
	}
}

func TestSentinelsThroughWrapping(t *testing.T) {
	inner := HostException(PhaseHost, "boom", "boom")
	outer := Wrap(PhaseCall, KindGuestPanic, inner, "handler trapped")

	if !errors.Is(outer, ErrGuestPanic) {
		t.Error("outer should match ErrGuestPanic")
	}
	if !errors.Is(outer, ErrHostException) {
		t.Error("chain should contain ErrHostException")
	}

	var e *Error
	if !errors.As(outer.Cause, &e) || e.Value != "boom" {
		t.Errorf("thrown value not preserved: %+v", e)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseClosure, KindUseAfterClose).
		Op("invoke").
		Handle(9).
		Value(42).
		Cause(cause).
		Detail("closure %d destroyed", 3).
		Build()

	if err.Phase != PhaseClosure {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseClosure)
	}
	if err.Kind != KindUseAfterClose {
		t.Errorf("Kind = %v, want %v", err.Kind, KindUseAfterClose)
	}
	if err.Op != "invoke" {
		t.Errorf("Op = %q, want invoke", err.Op)
	}
	if !err.HasHandle || err.Handle != 9 {
		t.Errorf("Handle = %d (set=%v), want 9", err.Handle, err.HasHandle)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "closure 3 destroyed" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("InvalidUTF8", func(t *testing.T) {
		err := InvalidUTF8(PhaseDecode, 0x40, []byte{0xff, 0xfe})
		if err.Kind != KindInvalidUTF8 {
			t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidUTF8)
		}
		if !errors.Is(err, ErrDecode) {
			t.Error("should match ErrDecode")
		}
		if !strings.Contains(err.Detail, "fffe") {
			t.Errorf("Detail = %q, should contain hex preview", err.Detail)
		}
	})

	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(PhaseEncode, 1024, nil)
		if err.Kind != KindAllocation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
		}
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseMemory, 65530, 16, 65536)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if !strings.Contains(err.Detail, "65546") {
			t.Errorf("Detail = %q, should contain range end", err.Detail)
		}
	})

	t.Run("BorrowOrder", func(t *testing.T) {
		err := BorrowOrder(10, 11)
		if !errors.Is(err, ErrBorrowOrder) {
			t.Error("should match ErrBorrowOrder")
		}
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		err := TypeMismatch(PhaseHost, "reader_read", "reader", "number")
		if err.Detail != "expected reader, got number" {
			t.Errorf("Detail = %q", err.Detail)
		}
	})

	t.Run("GuestPanic", func(t *testing.T) {
		err := GuestPanic("handler", "unreachable", nil)
		if !errors.Is(err, ErrGuestPanic) {
			t.Error("should match ErrGuestPanic")
		}
	})
}

func TestMissingImportsError(t *testing.T) {
	t.Run("single import", func(t *testing.T) {
		err := NewMissingImportsError([]string{"bridge#string_new"})
		if len(err.Imports) != 1 {
			t.Fatalf("expected 1 import, got %d", len(err.Imports))
		}
		if err.Imports[0].Module != "bridge" {
			t.Errorf("module = %q, want bridge", err.Imports[0].Module)
		}
		if err.Imports[0].Function != "string_new" {
			t.Errorf("function = %q, want string_new", err.Imports[0].Function)
		}
	})

	t.Run("multiple modules grouped", func(t *testing.T) {
		err := NewMissingImportsError([]string{
			"bridge#string_new",
			"env#abort",
			"bridge#cb_drop",
		})
		msg := err.Error()
		for _, s := range []string{"missing 3", "bridge:", "env:", "cb_drop", "abort"} {
			if !strings.Contains(msg, s) {
				t.Errorf("error %q should contain %q", msg, s)
			}
		}
	})

	t.Run("empty imports", func(t *testing.T) {
		err := NewMissingImportsError(nil)
		if !strings.Contains(err.Error(), "no imports specified") {
			t.Errorf("empty error should have specific message, got: %s", err.Error())
		}
	})

	t.Run("errors.Is", func(t *testing.T) {
		err := NewMissingImportsError([]string{"ns#fn"})
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError")
		}
	})
}
