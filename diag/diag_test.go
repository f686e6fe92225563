package diag

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/tetratelabs/wazero/sys"

	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/rtos"
)

const trace = "\nwasm stack trace:\n\trobot.crash()\n\t\tsrc/main.c:12:5\n\trobot.$7(i32)\n\ttrampoline.call_void(i32)"

func TestClassify_Traps(t *testing.T) {
	tests := []struct {
		msg  string
		want Reason
	}{
		{"unreachable", ReasonUnreachable},
		{"out of bounds memory access", ReasonMemoryFault},
		{"integer divide by zero", ReasonDivideByZero},
		{"integer overflow", ReasonIntegerOverflow},
		{"invalid conversion to integer", ReasonInvalidConversion},
		{"indirect call type mismatch", ReasonIndirectCall},
		{"invalid table access", ReasonTableAccess},
		{"stack overflow", ReasonStackOverflow},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			r, ok := Classify(fmt.Errorf("wasm error: %s%s", tt.msg, trace))
			if !ok {
				t.Fatal("trap not reported")
			}
			if r.Reason != tt.want || r.Message != tt.msg {
				t.Fatalf("report = %s %q", r.Reason, r.Message)
			}
			if len(r.Backtrace) != 3 {
				t.Fatalf("backtrace = %+v", r.Backtrace)
			}
		})
	}
}

func TestClassify_HostErrors(t *testing.T) {
	abort := fmt.Errorf("%w (recovered by wazero)%s", errors.Abort("motor overheated"), trace)
	r, ok := Classify(abort)
	if !ok || r.Reason != ReasonAbort || r.Message != "motor overheated" {
		t.Fatalf("abort = %+v, %v", r, ok)
	}

	unsupported := fmt.Errorf("%w (recovered by wazero)%s", errors.Unsupported("motor_move"), trace)
	r, ok = Classify(unsupported)
	if !ok || r.Reason != ReasonUnsupportedAPI || r.Message != "motor_move is not supported by the simulator" {
		t.Fatalf("unsupported = %+v, %v", r, ok)
	}

	panicked := fmt.Errorf("boom (recovered by wazero)%s", trace)
	r, ok = Classify(panicked)
	if !ok || r.Reason != ReasonHostFault || r.Message != "boom" {
		t.Fatalf("host panic = %+v, %v", r, ok)
	}
}

func TestClassify_NotFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"nil", nil},
		{"task deleted", fmt.Errorf("%w (recovered by wazero)%s", rtos.ErrTaskDeleted, trace)},
		{"exit", sys.NewExitError(3)},
		{"exit zero", sys.NewExitError(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r, ok := Classify(tt.err); ok {
				t.Fatalf("reported %+v", r)
			}
		})
	}
}

func TestClassify_Canceled(t *testing.T) {
	for _, err := range []error{
		sys.NewExitError(sys.ExitCodeContextCanceled),
		fmt.Errorf("call: %w", context.DeadlineExceeded),
	} {
		r, ok := Classify(err)
		if !ok || r.Reason != ReasonCanceled {
			t.Errorf("Classify(%v) = %+v, %v", err, r, ok)
		}
	}
}

func TestExitCode(t *testing.T) {
	if code, ok := ExitCode(fmt.Errorf("wrapped: %w", sys.NewExitError(7))); !ok || code != 7 {
		t.Fatalf("ExitCode = %d, %v", code, ok)
	}
	if _, ok := ExitCode(sys.NewExitError(sys.ExitCodeContextCanceled)); ok {
		t.Fatal("cancellation reported as exit")
	}
	if _, ok := ExitCode(fmt.Errorf("other")); ok {
		t.Fatal("plain error reported as exit")
	}
}

func TestParseBacktrace(t *testing.T) {
	body := "\trobot.inner(i32) i32\n\t\tlib.c:3\n\t\tinlined.c:9\n\trobot.outer()\n\t... maybe followed by omitted frames\n\nGo runtime stack trace:\ngoroutine 1"
	got := ParseBacktrace(body)
	want := []event.Frame{
		{Function: "robot.inner(i32) i32", Source: []string{"lib.c:3", "inlined.c:9"}},
		{Function: "robot.outer()"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("frames = %+v", got)
	}
	if ParseBacktrace("") != nil {
		t.Fatal("empty trace produced frames")
	}
}

func TestReport_Event(t *testing.T) {
	r := Report{Reason: ReasonUnreachable, Message: "unreachable", Backtrace: []event.Frame{{Function: "robot.f()"}}}
	ev := r.Event(&event.TaskInfo{Name: "t", ID: 2})
	if ev.Type != event.TypeAbortOccurred || ev.Reason != "unreachable" || ev.Task.ID != 2 {
		t.Fatalf("event = %+v", ev)
	}
	if r.String() != "unreachable\n  0: robot.f()" {
		t.Fatalf("String = %q", r.String())
	}
}
