package runtime

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/diag"
	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/rtos"
)

// Termination is why a run ended.
type Termination string

const (
	// TerminationCompleted means every task finished and no more input can arrive.
	TerminationCompleted Termination = "completed"
	// TerminationExit means robot code called exit.
	TerminationExit Termination = "exit"
	// TerminationDeadlock means tasks remain but none can ever run again.
	TerminationDeadlock Termination = "deadlock"
	// TerminationCanceled means the context passed to Run was cancelled.
	TerminationCanceled Termination = "canceled"
	// TerminationLoadFailed means the program never started.
	TerminationLoadFailed Termination = "load_failed"
	// TerminationClosed means Close was called before the run ended.
	TerminationClosed Termination = "closed"
)

// Result describes how a run ended.
type Result struct {
	// ExitCode is set when robot code called exit.
	ExitCode *int32
	Reason   Termination
	Message  string
}

// Run executes robot code until the run ends. It returns ctx's error if the
// run was cancelled, and the result in every case.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	if s.result != nil {
		return s.result, errors.InvalidInput(errors.PhaseRuntime, "run has already ended")
	}
	if s.inst == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "no program loaded")
	}

	for {
		if err := ctx.Err(); err != nil {
			return s.cancel(err)
		}
		s.applyInbound(ctx)
		for _, id := range s.tasks.take() {
			s.gate.exited(ctx, id)
		}

		res, err := s.sched.Step(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.cancel(ctxErr)
			}
			return s.finish(&Result{Reason: TerminationCanceled, Message: err.Error()}), err
		}

		switch res.Status {
		case rtos.StepContinue:
			if res.Fault == nil {
				continue
			}
			if r, done, err := s.fault(ctx, res); done {
				return r, err
			}
		case rtos.StepIdle, rtos.StepDone:
			if r, done, err := s.idle(ctx, res); done {
				return r, err
			}
		}
	}
}

// fault handles a task that ended with an error. It reports whether the
// whole run is over.
func (s *Simulator) fault(ctx context.Context, res rtos.StepResult) (*Result, bool, error) {
	if err := ctx.Err(); err != nil {
		r, err := s.cancel(err)
		return r, true, err
	}

	var exit *sys.ExitError
	if stderrors.As(res.Fault, &exit) {
		code := int32(exit.ExitCode())
		Logger().Info("robot code exited", zap.Int32("code", code), zap.String("task", res.Task.Name))
		return s.finish(&Result{Reason: TerminationExit, ExitCode: &code}), true, nil
	}

	report, ok := diag.Classify(res.Fault)
	if !ok {
		return nil, false, nil
	}
	Logger().Warn("task aborted",
		zap.String("task", res.Task.Name),
		zap.Uint32("id", uint32(res.Task.ID)),
		zap.String("reason", string(report.Reason)),
		zap.String("message", report.Message))
	s.bus.Publish(report.Event(taskInfo(res.Task)))
	return nil, false, nil
}

// idle handles a step in which nothing could run. It waits for time to
// pass or for input, or ends the run if neither can help.
func (s *Simulator) idle(ctx context.Context, res rtos.StepResult) (*Result, bool, error) {
	clock, pacer := s.sched.Clock(), s.sched.Pacer()

	if res.Status == rtos.StepIdle && res.HasDeadline {
		if err := pacer.Idle(ctx, clock, res.Deadline, true, s.bus.Wake()); err != nil {
			r, err := s.cancel(err)
			return r, true, err
		}
		return nil, false, nil
	}

	if s.bus.InboundClosed() || (s.opts.ExitWhenIdle && s.gate.open) {
		if msgs := s.bus.Drain(); len(msgs) > 0 {
			for _, msg := range msgs {
				s.apply(ctx, msg)
			}
			return nil, false, nil
		}
		if res.Status == rtos.StepDone {
			return s.finish(&Result{Reason: TerminationCompleted}), true, nil
		}
		n := s.sched.Count()
		s.warn(fmt.Sprintf("deadlock: %d task(s) can never run again", n), zap.Int("tasks", n))
		return s.finish(&Result{Reason: TerminationDeadlock}), true, nil
	}

	if err := pacer.Idle(ctx, clock, 0, false, s.bus.Wake()); err != nil {
		r, err := s.cancel(err)
		return r, true, err
	}
	return nil, false, nil
}

func (s *Simulator) cancel(err error) (*Result, error) {
	Logger().Info("run canceled", zap.Error(err))
	return s.finish(&Result{Reason: TerminationCanceled, Message: err.Error()}), err
}

// finish is the single way a run ends. It deletes every task, publishes
// robot_code_finished if the program started, and closes the event stream.
// Later calls return the first result.
func (s *Simulator) finish(r *Result) *Result {
	s.once.Do(func() {
		s.result = r
		if err := s.sched.Close(); err != nil {
			Logger().Warn("failed to stop tasks", zap.Error(err))
		}
		if s.inst != nil {
			s.bus.Publish(event.RobotCodeFinished(r.ExitCode))
		}
		s.bus.CloseInbound()
		s.bus.CloseOutbound()
		if s.inst != nil {
			if err := s.inst.Close(context.Background()); err != nil {
				Logger().Warn("failed to close robot program", zap.Error(err))
			}
		}
		Logger().Info("run finished", zap.String("run", s.opts.RunID), zap.Stringer("result", r))
	})
	return s.result
}
