package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/recorder"
	"github.com/vexide/pros-simulator/runtime"
)

// session ties one simulator run to its event consumers and, if enabled,
// its recording.
type session struct {
	sim     *runtime.Simulator
	bin     []byte
	program string

	rec    *recorder.Recorder
	record *recorder.Session

	done    chan struct{}
	sinkErr error
}

func openSession(ctx context.Context, path string) (*session, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read robot program: %w", err)
	}

	s := &session{
		sim:     runtime.New(cfg.Options("")),
		bin:     bin,
		program: filepath.Base(path),
		done:    make(chan struct{}),
	}

	if cfg.Record.Path != "" {
		rec, err := recorder.Open(cfg.Record.Path)
		if err != nil {
			return nil, err
		}
		rs, err := rec.Begin(ctx, s.sim.RunID(), s.program)
		if err != nil {
			rec.Close()
			return nil, err
		}
		s.rec, s.record = rec, rs
	}
	log.Info("starting run", zap.String("run", s.sim.RunID()), zap.String("program", path))
	return s, nil
}

// consume starts delivering events to sinks. It must be called exactly once.
func (s *session) consume(sinks ...func(event.Event) error) {
	if s.record != nil {
		sinks = append(sinks, s.recordEvent)
	}
	go func() {
		defer close(s.done)
		s.sinkErr = s.sim.Bus().Consume(context.Background(), sinks...)
	}()
}

// recordEvent stops recording after the first failure instead of ending
// the run.
func (s *session) recordEvent(ev event.Event) error {
	if s.record == nil {
		return nil
	}
	if err := s.record.Record(ev); err != nil {
		log.Error("recording failed; continuing without it", zap.Error(err))
		s.record = nil
	}
	return nil
}

// run loads and runs the program, then waits for every event to be consumed.
func (s *session) run(ctx context.Context) (*runtime.Result, error) {
	var res *runtime.Result
	err := s.sim.Load(ctx, s.bin)
	if err != nil {
		res = &runtime.Result{Reason: runtime.TerminationLoadFailed, Message: err.Error()}
	} else {
		res, err = s.sim.Run(ctx)
	}

	<-s.done
	s.finish(res)
	if err != nil {
		return res, err
	}
	if s.sinkErr != nil {
		return res, fmt.Errorf("writing events: %w", s.sinkErr)
	}
	return res, nil
}

func (s *session) finish(res *runtime.Result) {
	if s.rec == nil {
		return
	}
	if s.record != nil {
		if err := s.record.End(string(res.Reason), res.ExitCode); err != nil {
			log.Error("failed to finish recording", zap.Error(err))
		}
	}
	if err := s.rec.Close(); err != nil {
		log.Error("failed to close recording", zap.Error(err))
	}
}

// abort ends a session whose run never started.
func (s *session) abort() {
	_ = s.sim.Close(context.Background())
	<-s.done
	s.finish(&runtime.Result{Reason: runtime.TerminationClosed})
}

var errProtocol = &errors.Error{Phase: errors.PhaseProtocol, Kind: errors.KindInvalidInput}

// feed sends every message in r to the simulator, then closes its input.
// Malformed lines are reported as warnings and skipped.
func feed(sim *runtime.Simulator, r io.Reader) error {
	defer sim.Bus().CloseInbound()
	dec := event.NewDecoder(r)
	for {
		msg, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if !stderrors.Is(err, errProtocol) {
				return fmt.Errorf("reading messages: %w", err)
			}
			warning := fmt.Sprintf("line %d: %v", dec.Line(), err)
			log.Warn("skipping malformed message", zap.Int("line", dec.Line()), zap.Error(err))
			sim.Bus().Publish(event.Warning(warning))
			continue
		}
		if err := sim.Bus().Send(msg); err != nil {
			return nil
		}
	}
}

// resultError maps a run's result to the process exit status.
func resultError(res *runtime.Result) error {
	switch res.Reason {
	case runtime.TerminationCompleted:
		return nil
	case runtime.TerminationExit:
		if *res.ExitCode == 0 {
			return nil
		}
		return &exitCodeError{code: int(*res.ExitCode)}
	case runtime.TerminationDeadlock:
		return &exitCodeError{err: fmt.Errorf("robot code deadlocked"), code: 2}
	default:
		return &exitCodeError{err: fmt.Errorf("run ended: %s", res), code: 1}
	}
}
