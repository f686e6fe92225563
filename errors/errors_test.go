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
				Phase:  PhaseConfig,
				Kind:   KindInvalidInput,
				Path:   []string{"clock", "quantum"},
				Detail: "must not be negative",
			},
			contains: []string{"[config]", "invalid_input", "clock.quantum", "must not be negative"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRuntime,
				Kind:  KindAbort,
			},
			contains: []string{"[runtime]", "abort"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLink,
				Kind:   KindInstantiation,
				Detail: "instantiate module",
				Cause:  errors.New("import type mismatch"),
			},
			contains: []string{"[link]", "instantiation", "caused by", "import type mismatch"},
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
	err := Load("compile module", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := Unsupported("motor_move")

	if !errors.Is(err, &Error{Phase: PhaseHost, Kind: KindUnsupported}) {
		t.Error("expected match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseHost, Kind: KindAllocation}) {
		t.Error("unexpected match on different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("boom")
	err := New(PhaseHost, KindNotFound).
		Path("mutex_take").
		Value(uint32(7)).
		Detail("mutex %d deleted", 7).
		Cause(cause).
		Build()

	if err.Detail != "mutex 7 deleted" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if err.Value != uint32(7) {
		t.Errorf("Value = %v", err.Value)
	}
	if len(err.Path) != 1 || err.Path[0] != "mutex_take" {
		t.Errorf("Path = %v", err.Path)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not chained")
	}
}

func TestUnrecognizedImportsError(t *testing.T) {
	err := NewUnrecognizedImportsError([]string{
		"env#vexDeviceGetByIndex",
		"wasi_snapshot_preview1#fd_write",
		"env#_ZN4core9panicking5panic17h0123456789abcdefE",
	})

	if len(err.Imports) != 3 {
		t.Fatalf("got %d imports", len(err.Imports))
	}
	if err.Imports[1].Module != "wasi_snapshot_preview1" || err.Imports[1].Name != "fd_write" {
		t.Errorf("bad parse: %+v", err.Imports[1])
	}

	msg := err.Error()
	for _, want := range []string{"3 unrecognized", "env:", "vexDeviceGetByIndex", "core::panicking::panic", "wasi_snapshot_preview1:"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}

	var target *UnrecognizedImportsError
	if !errors.As(error(err), &target) {
		t.Error("errors.As failed")
	}
}

func TestDemangleRust(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain_name", "plain_name"},
		{"_ZN3std2io5stdio6_print17h5f3c9e1a2b4d6f80E", "std::io::stdio::_print"},
		{"_ZN", "_ZN"},
	}
	for _, tt := range tests {
		if got := demangleRust(tt.in); got != tt.want {
			t.Errorf("demangleRust(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
