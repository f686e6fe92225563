package recorder

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "runs", "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// record pushes evs through a bus so they are stamped the way a live run
// stamps them, and records them.
func record(t *testing.T, r *Recorder, runID string, evs ...event.Event) *Session {
	t.Helper()
	ctx := context.Background()

	s, err := r.Begin(ctx, runID, "robot.wasm")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var ms uint32
	bus := event.NewBus(s.RunID(), func() uint32 { ms += 10; return ms })
	for _, ev := range evs {
		bus.Publish(ev)
	}
	bus.CloseOutbound()
	if err := bus.Consume(ctx, s.Record); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	return s
}

func TestRecorder_RecordAndReplay(t *testing.T) {
	r := newTestRecorder(t)
	code := int32(2)

	s := record(t, r, "",
		event.RobotCodeLoading(),
		event.RobotCodeStarting(),
		event.LcdUpdated(event.Lines{"hello"}),
		event.TaskSpawned(event.TaskInfo{Name: "User Initialization (PROS)", ID: 2, Priority: 8}),
		event.RobotCodeFinished(&code),
	)
	if err := s.End("exit", &code); err != nil {
		t.Fatalf("End: %v", err)
	}

	evs, err := r.Events(context.Background(), s.RunID())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 5 {
		t.Fatalf("replayed %d events", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) || ev.RunID != s.RunID() {
			t.Errorf("event %d: seq %d run %q", i, ev.Seq, ev.RunID)
		}
	}
	if evs[2].Lines == nil || evs[2].Lines[0] != "hello" {
		t.Errorf("lcd event = %+v", evs[2])
	}
	if evs[3].Task == nil || evs[3].Task.Priority != 8 || evs[3].TimeMs != 40 {
		t.Errorf("task event = %+v", evs[3])
	}
	if evs[4].ExitCode == nil || *evs[4].ExitCode != 2 {
		t.Errorf("finished event = %+v", evs[4])
	}
}

func TestRecorder_Runs(t *testing.T) {
	r := newTestRecorder(t)

	first := record(t, r, "first", event.RobotCodeLoading())
	if err := first.End("completed", nil); err != nil {
		t.Fatal(err)
	}
	record(t, r, "second", event.RobotCodeLoading(), event.RobotCodeStarting())

	runs, err := r.Runs(context.Background())
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "second" || runs[1].ID != "first" {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Events != 2 || runs[0].EndedAt != nil || runs[0].Result != "" {
		t.Errorf("unfinished run = %+v", runs[0])
	}
	if runs[1].Result != "completed" || runs[1].EndedAt == nil || runs[1].ExitCode != nil {
		t.Errorf("finished run = %+v", runs[1])
	}
}

func TestRecorder_Errors(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	err := r.Replay(ctx, "nope", func(event.Event) error { return nil })
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRecord, Kind: errors.KindNotFound}) {
		t.Fatalf("Replay of unknown run = %v", err)
	}

	record(t, r, "dup")
	if _, err := r.Begin(ctx, "dup", "robot.wasm"); err == nil {
		t.Fatal("Begin reused a run id")
	}

	stop := stderrors.New("stop")
	record(t, r, "sink", event.RobotCodeLoading(), event.RobotCodeStarting())
	var n int
	err = r.Replay(ctx, "sink", func(event.Event) error { n++; return stop })
	if !stderrors.Is(err, stop) || n != 1 {
		t.Fatalf("Replay = %v after %d events", err, n)
	}
}

func TestRecorder_RecordsAfterCancel(t *testing.T) {
	r := newTestRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := r.Begin(ctx, "canceled", "robot.wasm")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.Record(event.Event{Type: event.TypeRobotCodeStarting, Seq: 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// The run's context ends before its final events are published.
	cancel()
	if err := s.Record(event.Event{Type: event.TypeRobotCodeFinished, Seq: 2, TimeMs: 40}); err != nil {
		t.Fatalf("Record after cancel: %v", err)
	}
	if err := s.End("canceled", nil); err != nil {
		t.Fatalf("End: %v", err)
	}

	evs, err := r.Events(context.Background(), "canceled")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 || evs[1].Type != event.TypeRobotCodeFinished {
		t.Fatalf("recorded %+v", evs)
	}
}
