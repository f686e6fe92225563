// Package diag turns errors returned from guest calls into reports a robot
// author can act on: why the code stopped, and where.
package diag

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/tetratelabs/wazero/sys"

	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/rtos"
)

// Reason is the machine-readable cause of a failure.
type Reason string

const (
	ReasonUnreachable       Reason = "unreachable"
	ReasonMemoryFault       Reason = "memory_fault"
	ReasonDivideByZero      Reason = "divide_by_zero"
	ReasonIntegerOverflow   Reason = "integer_overflow"
	ReasonInvalidConversion Reason = "invalid_conversion"
	ReasonIndirectCall      Reason = "indirect_call"
	ReasonTableAccess       Reason = "table_access"
	ReasonStackOverflow     Reason = "stack_overflow"
	ReasonAbort             Reason = "abort"
	ReasonUnsupportedAPI    Reason = "unsupported_api"
	ReasonHostFault         Reason = "host_fault"
	ReasonCanceled          Reason = "canceled"
)

// Report describes a guest failure.
type Report struct {
	Reason    Reason
	Message   string
	Backtrace []event.Frame
}

// Event converts the report to an abort_occurred event.
func (r Report) Event(task *event.TaskInfo) event.Event {
	return event.AbortOccurred(string(r.Reason), r.Message, r.Backtrace, task)
}

// String renders the message followed by the backtrace.
func (r Report) String() string {
	if len(r.Backtrace) == 0 {
		return r.Message
	}
	return r.Message + "\n" + event.FormatBacktrace(r.Backtrace)
}

const (
	trapPrefix      = "wasm error: "
	recoveredSuffix = " (recovered by wazero)"
	tracePrefix     = "\nwasm stack trace:\n"
)

var trapReasons = []struct {
	text   string
	reason Reason
}{
	{"unreachable", ReasonUnreachable},
	{"out of bounds memory access", ReasonMemoryFault},
	{"unaligned atomic", ReasonMemoryFault},
	{"expected shared memory", ReasonMemoryFault},
	{"integer divide by zero", ReasonDivideByZero},
	{"integer overflow", ReasonIntegerOverflow},
	{"invalid conversion to integer", ReasonInvalidConversion},
	{"indirect call type mismatch", ReasonIndirectCall},
	{"invalid table access", ReasonTableAccess},
	{"stack overflow", ReasonStackOverflow},
}

// Classify builds a report for err. It reports false for outcomes that are
// not failures: nil, a task unwinding after deletion, and a call to exit.
func Classify(err error) (Report, bool) {
	if err == nil || stderrors.Is(err, rtos.ErrTaskDeleted) {
		return Report{}, false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return Report{Reason: ReasonCanceled, Message: "execution canceled"}, true
	}
	if _, ok := ExitCode(err); ok {
		return Report{}, false
	}

	head, frames := split(err.Error())
	r := Report{Backtrace: frames}

	var simErr *errors.Error
	switch {
	case stderrors.As(err, &simErr) && simErr.Kind == errors.KindAbort:
		r.Reason, r.Message = ReasonAbort, simErr.Detail
	case stderrors.As(err, &simErr) && simErr.Kind == errors.KindUnsupported:
		r.Reason, r.Message = ReasonUnsupportedAPI, simErr.Detail
	case stderrors.As(err, &simErr) && simErr.Kind == errors.KindOutOfBounds:
		r.Reason, r.Message = ReasonMemoryFault, "host function given an invalid pointer: "+simErr.Detail
	case strings.HasPrefix(head, trapPrefix):
		msg := strings.TrimPrefix(head, trapPrefix)
		r.Reason, r.Message = ReasonHostFault, msg
		for _, tr := range trapReasons {
			if msg == tr.text {
				r.Reason = tr.reason
				break
			}
		}
	default:
		r.Reason, r.Message = ReasonHostFault, strings.TrimSuffix(head, recoveredSuffix)
	}
	return r, true
}

// ExitCode reports the status passed to exit, if err is the unwind of a
// call to exit.
func ExitCode(err error) (int32, bool) {
	var exit *sys.ExitError
	if !stderrors.As(err, &exit) {
		return 0, false
	}
	switch exit.ExitCode() {
	case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
		return 0, false
	}
	return int32(exit.ExitCode()), true
}

// split separates an error message from the guest stack trace wazero
// appends to it.
func split(msg string) (string, []event.Frame) {
	head, trace, ok := strings.Cut(msg, tracePrefix)
	if !ok {
		return msg, nil
	}
	return head, ParseBacktrace(trace)
}

// ParseBacktrace parses the body of a wazero stack trace, innermost frame
// first. Frames are tab-indented, source lines under a frame are indented
// twice. Anything after the first blank line, such as a Go stack, is ignored.
func ParseBacktrace(trace string) []event.Frame {
	if i := strings.Index(trace, "\n\n"); i >= 0 {
		trace = trace[:i]
	}
	var frames []event.Frame
	for _, line := range strings.Split(trace, "\n") {
		switch {
		case strings.HasPrefix(line, "\t\t"):
			if len(frames) > 0 {
				f := &frames[len(frames)-1]
				f.Source = append(f.Source, strings.TrimSpace(line))
			}
		case strings.HasPrefix(line, "\t"):
			name := strings.TrimSpace(line)
			if strings.HasPrefix(name, "...") {
				continue
			}
			frames = append(frames, event.Frame{Function: name})
		}
	}
	return frames
}
