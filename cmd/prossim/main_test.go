package main

import (
	"bytes"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/runtime"
)

func TestFeed(t *testing.T) {
	sim := runtime.New(runtime.Options{RunID: "feed"})
	input := strings.Join([]string{
		`{"type":"phase_change","phase":{"mode":"autonomous","connected":true}}`,
		``,
		`{"type":"button_press","button":7}`,
		`not json`,
		`{"type":"button_press","button":1}`,
	}, "\n")

	if err := feed(sim, strings.NewReader(input)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !sim.Bus().InboundClosed() {
		t.Fatal("feed left the inbound queue open")
	}

	msgs := sim.Bus().Drain()
	if len(msgs) != 2 || msgs[0].Type != event.MessagePhaseChange || msgs[1].Type != event.MessageButtonPress {
		t.Fatalf("messages = %+v", msgs)
	}
	evs := sim.Bus().Events()
	if len(evs) != 2 || !strings.HasPrefix(evs[0].Message, "line 3:") || !strings.HasPrefix(evs[1].Message, "line 4:") {
		t.Fatalf("warnings = %+v", evs)
	}
}

func TestRunHelp_MessageTiming(t *testing.T) {
	// feed queues the whole script before the first step, and the help
	// text has to say so.
	for _, want := range []string{"queued at once", "applied together at the first step"} {
		if !strings.Contains(runCmd.Long, want) {
			t.Errorf("run help does not mention %q", want)
		}
	}
	if usage := runCmd.Flags().Lookup("messages").Usage; !strings.Contains(usage, "first step") {
		t.Errorf("--messages usage = %q", usage)
	}
}

func TestResultError(t *testing.T) {
	code := func(c int32) *int32 { return &c }
	tests := []struct {
		name string
		res  *runtime.Result
		want int
	}{
		{"completed", &runtime.Result{Reason: runtime.TerminationCompleted}, 0},
		{"exit zero", &runtime.Result{Reason: runtime.TerminationExit, ExitCode: code(0)}, 0},
		{"exit code", &runtime.Result{Reason: runtime.TerminationExit, ExitCode: code(42)}, 42},
		{"deadlock", &runtime.Result{Reason: runtime.TerminationDeadlock}, 2},
		{"load failed", &runtime.Result{Reason: runtime.TerminationLoadFailed, Message: "bad"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := resultError(tt.res)
			if tt.want == 0 {
				if err != nil {
					t.Fatalf("resultError = %v", err)
				}
				return
			}
			var ec *exitCodeError
			if !stderrors.As(err, &ec) || ec.code != tt.want {
				t.Fatalf("resultError = %v, want status %d", err, tt.want)
			}
		})
	}
}

func TestEventSink(t *testing.T) {
	var buf bytes.Buffer
	sink, err := eventSink(&buf, formatNDJSON)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink(event.ConsoleMessage("hi")); err != nil {
		t.Fatal(err)
	}
	ev, err := event.DecodeEvent(bytes.TrimSpace(buf.Bytes()))
	if err != nil || ev.Message != "hi" {
		t.Fatalf("decoded %+v, %v", ev, err)
	}

	buf.Reset()
	sink, _ = eventSink(&buf, formatPretty)
	_ = sink(event.LcdButtonsChanged([3]bool{true}))
	_ = sink(event.Warning("careful"))
	if out := buf.String(); strings.Count(out, "\n") != 1 || !strings.Contains(out, "careful") {
		t.Fatalf("pretty output = %q", out)
	}

	if _, err := eventSink(&buf, "xml"); err == nil {
		t.Fatal("unknown format accepted")
	}
}
