package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/diag"
	"github.com/vexide/pros-simulator/engine"
	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/host"
	"github.com/vexide/pros-simulator/resource"
	"github.com/vexide/pros-simulator/rtos"
	"github.com/vexide/pros-simulator/state"
	"github.com/vexide/pros-simulator/wasm"
)

// Options configures a Simulator.
type Options struct {
	// Pacer relates simulated time to real time. nil means a virtual clock
	// that only advances when every task is waiting.
	Pacer rtos.Pacer

	// RunID is stamped on every event. Empty means a fresh UUID.
	RunID string

	Engine engine.Config
	Host   host.Config

	// ExitWhenIdle ends the run as soon as no task can make progress, even
	// if the frontend may still send input.
	ExitWhenIdle bool
}

// Simulator owns one run of one robot program.
type Simulator struct {
	opts   Options
	sched  *rtos.Scheduler
	state  *state.State
	bus    *event.Bus
	host   *host.Host
	inst   *engine.Instance
	tasks  *lifecycle
	gate   *gate
	result *Result
	once   sync.Once
}

// New creates a simulator. Call Load before Run.
func New(opts Options) *Simulator {
	if opts.Pacer == nil {
		opts.Pacer = &rtos.Virtual{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	sched := rtos.NewScheduler(rtos.WithPacer(opts.Pacer))
	bus := event.NewBus(opts.RunID, sched.Clock().Millis)
	st := state.New()

	s := &Simulator{
		opts:  opts,
		sched: sched,
		state: st,
		bus:   bus,
		host:  host.New(sched, st, bus, opts.Host),
		tasks: &lifecycle{bus: bus},
	}
	s.gate = &gate{sim: s}
	sched.Subscribe(s.tasks)
	return s
}

// Bus is the simulator's connection to its frontend.
func (s *Simulator) Bus() *event.Bus { return s.bus }

// RunID identifies this run in events and recordings.
func (s *Simulator) RunID() string { return s.opts.RunID }

// State exposes the simulated hardware. It may only be read while Run is
// not executing, or from a frontend that tolerates torn reads.
func (s *Simulator) State() *state.State { return s.state }

// Tasks returns a snapshot of the live tasks.
func (s *Simulator) Tasks() []rtos.TaskSnapshot { return s.sched.Tasks() }

// Load compiles and links the program. On failure the run is over: a
// robot_code_error event is published and the event stream ends.
func (s *Simulator) Load(ctx context.Context, bin []byte) error {
	if s.inst != nil {
		return errors.InvalidInput(errors.PhaseLoad, "a program is already loaded")
	}
	s.bus.Publish(event.RobotCodeLoading())

	if err := s.load(ctx, bin); err != nil {
		var start *engine.StartError
		if stderrors.As(err, &start) {
			s.startFailed(start)
			return err
		}
		Logger().Error("failed to load robot code", zap.Error(err))
		s.bus.Publish(event.RobotCodeError(err.Error()))
		s.finish(&Result{Reason: TerminationLoadFailed, Message: err.Error()})
		return err
	}

	s.bus.Publish(event.RobotCodeStarting())
	return nil
}

// startFailed ends a run whose start function exited or trapped before any
// task existed. A trap is reported like a task abort, without a task.
func (s *Simulator) startFailed(start *engine.StartError) {
	if code, ok := diag.ExitCode(start.Err); ok {
		Logger().Info("robot code exited during module start", zap.Int32("code", code))
		s.bus.Publish(event.RobotCodeFinished(&code))
		s.finish(&Result{Reason: TerminationExit, ExitCode: &code})
		return
	}
	if report, ok := diag.Classify(start.Err); ok {
		Logger().Error("robot code aborted during module start",
			zap.String("reason", string(report.Reason)),
			zap.String("message", report.Message))
		s.bus.Publish(report.Event(nil))
	}
	s.bus.Publish(event.RobotCodeError(start.Error()))
	s.finish(&Result{Reason: TerminationLoadFailed, Message: start.Error()})
}

func (s *Simulator) load(ctx context.Context, bin []byte) error {
	m, err := wasm.Parse(bin)
	if err != nil {
		return errors.Load("parse robot module", err)
	}

	if _, rewritten, err := wasm.ExportStackPointer(m); err == nil {
		bin = rewritten
	} else if stderrors.Is(err, wasm.ErrNoStackPointer) {
		Logger().Warn("robot code has no shadow stack pointer; tasks will share one stack")
	} else {
		return errors.Load("export stack pointer", err)
	}

	res, err := s.host.Resolve(m)
	if err != nil {
		return err
	}
	for _, name := range res.Unsupported {
		Logger().Warn("robot code imports an unimplemented API", zap.String("name", name))
		s.bus.Publish(event.UnimplementedAPIWarning(name))
	}

	cfg := s.opts.Engine
	if sharedMemory(m) {
		cfg.EnableThreads = true
	}
	eng := engine.New(ctx, &cfg)
	inst, err := eng.Link(ctx, m, bin, res.Funcs)
	if err != nil {
		_ = eng.Close(ctx)
		return err
	}

	var found bool
	for _, e := range entrypoints {
		if inst.HasExport(e) {
			found = true
			break
		}
	}
	if !found {
		_ = inst.Close(ctx)
		return errors.MissingEntrypoint(entrypoints)
	}

	s.host.Bind(inst)
	s.sched.SetSwitcher(inst.Stacks())
	s.inst = inst
	Logger().Info("robot code loaded",
		zap.String("run", s.opts.RunID),
		zap.Int("host_funcs", len(res.Funcs)),
		zap.Int("unsupported", len(res.Unsupported)))
	return nil
}

func sharedMemory(m *wasm.Module) bool {
	for _, imp := range m.ImportsOf(wasm.KindMemory) {
		if imp.Memory != nil && imp.Memory.Limits.Shared {
			return true
		}
	}
	for _, mem := range m.Memories {
		if mem.Limits.Shared {
			return true
		}
	}
	return false
}

// Close ends the run if it is still going and releases the program.
func (s *Simulator) Close(ctx context.Context) error {
	s.finish(&Result{Reason: TerminationClosed})
	return nil
}

// warn reports a problem to the log and to the frontend.
func (s *Simulator) warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
	s.bus.Publish(event.Warning(msg))
}

// lifecycle turns scheduler table changes into task events, and remembers
// which tasks went away so the phase gate can react between steps.
type lifecycle struct {
	bus    *event.Bus
	exited []rtos.TaskID
	mu     sync.Mutex
}

func (l *lifecycle) OnResourceEvent(e resource.Event[*rtos.Task]) {
	info := event.TaskInfo{Name: e.Value.Name(), ID: uint32(e.Value.ID()), Priority: e.Value.Priority()}
	switch e.Type {
	case resource.EventCreated:
		l.bus.Publish(event.TaskSpawned(info))
	case resource.EventDropped:
		l.bus.Publish(event.TaskExited(info))
		l.mu.Lock()
		l.exited = append(l.exited, e.Value.ID())
		l.mu.Unlock()
	}
}

// take returns and clears the tasks that exited since the last call.
func (l *lifecycle) take() []rtos.TaskID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.exited
	l.exited = nil
	return ids
}

func taskInfo(t rtos.TaskSnapshot) *event.TaskInfo {
	return &event.TaskInfo{Name: t.Name, ID: uint32(t.ID), Priority: t.Priority}
}

func (r *Result) String() string {
	if r.ExitCode != nil {
		return fmt.Sprintf("%s (code %d)", r.Reason, *r.ExitCode)
	}
	if r.Message != "" {
		return fmt.Sprintf("%s: %s", r.Reason, r.Message)
	}
	return string(r.Reason)
}
