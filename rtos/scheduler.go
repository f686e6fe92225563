package rtos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/resource"
)

var (
	// ErrTaskDeleted is returned to a task whose blocking call was cut short
	// because the task was deleted. The task must unwind without running
	// further robot code.
	ErrTaskDeleted = errors.New("task deleted")

	// ErrNoTask is returned when a task-only operation is called outside any task.
	ErrNoTask = errors.New("not called from a task")

	// ErrNoSuchTask is returned for an id that does not name a live task.
	ErrNoSuchTask = errors.New("no such task")
)

// Switcher saves and restores per-task execution state that lives outside
// the goroutine, such as the guest shadow-stack pointer. Both methods run on
// the task's own goroutine while it holds control.
type Switcher interface {
	SwitchIn(t *Task)
	SwitchOut(t *Task)
}

type nopSwitcher struct{}

func (nopSwitcher) SwitchIn(*Task)  {}
func (nopSwitcher) SwitchOut(*Task) {}

// StepStatus indicates the outcome of a scheduling step.
type StepStatus int

const (
	// StepContinue means a task ran until it yielded or exited.
	StepContinue StepStatus = iota
	// StepIdle means tasks exist but none is ready. Deadline is set if a
	// delayed task or a timed wait will become ready later.
	StepIdle
	// StepDone means no tasks remain.
	StepDone
)

func (s StepStatus) String() string {
	switch s {
	case StepContinue:
		return "continue"
	case StepIdle:
		return "idle"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

// StepResult describes what happened during one Step.
type StepResult struct {
	// Fault is the error the dispatched task exited with, if any. Deletion is not a fault.
	Fault       error
	Task        TaskSnapshot
	Deadline    time.Duration
	Status      StepStatus
	HasDeadline bool
	Exited      bool
}

type yieldEvent struct {
	task   *Task
	err    error
	exited bool
}

// Scheduler multiplexes tasks over a single execution context with strict
// priority, FIFO among equal priorities, and no preemption.
//
// Every task runs on its own goroutine, but control is handed over like a
// baton: Step resumes exactly one task and waits until it parks or exits.
// A task that never blocks therefore keeps every lower or equal priority
// task from running. That starvation is part of the emulated RTOS's behavior
// and is kept deliberately.
type Scheduler struct {
	clock    *Clock
	pacer    Pacer
	switcher Switcher
	tasks    *resource.Table[*Task]
	mutexes  *MutexPool
	current  *Task
	yields   chan yieldEvent
	seq      uint64
	mu       sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock shares an existing clock.
func WithClock(c *Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithPacer selects how simulated time advances. The default is a Virtual
// pacer with a zero quantum.
func WithPacer(p Pacer) Option {
	return func(s *Scheduler) { s.pacer = p }
}

// WithSwitcher installs context-switch hooks.
func WithSwitcher(sw Switcher) Option {
	return func(s *Scheduler) { s.switcher = sw }
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:    NewClock(),
		pacer:    &Virtual{},
		switcher: nopSwitcher{},
		tasks:    resource.NewTable[*Task](),
		yields:   make(chan yieldEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mutexes = newMutexPool(s)
	return s
}

func (s *Scheduler) Clock() *Clock       { return s.clock }
func (s *Scheduler) Pacer() Pacer        { return s.pacer }
func (s *Scheduler) Mutexes() *MutexPool { return s.mutexes }

// SetSwitcher replaces the context-switch hooks. Call before the first Step.
func (s *Scheduler) SetSwitcher(sw Switcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switcher = sw
}

// Subscribe registers an observer for task creation (EventCreated) and
// removal (EventDropped). Observers run with the scheduler locked and must
// not call back into it.
func (s *Scheduler) Subscribe(o resource.Observer[*Task]) {
	s.tasks.Subscribe(o)
}

// Spawn creates a Ready task. Names need not be unique. It returns 0 after Close.
func (s *Scheduler) Spawn(name string, priority uint32, entry Entry) TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	seq := s.seq
	h := s.tasks.InsertFunc(func(h resource.Handle) *Task {
		return &Task{
			id:       TaskID(h),
			name:     name,
			priority: priority,
			entry:    entry,
			seq:      seq,
			state:    StateReady,
			wake:     make(chan wakeSignal, 1),
			done:     make(chan struct{}),
		}
	})
	if h != 0 {
		Logger().Debug("task spawned",
			zap.Uint32("task", uint32(h)),
			zap.String("name", name),
			zap.Uint32("priority", priority))
	}
	return TaskID(h)
}

// Step advances the clock, promotes tasks whose delay or wait timed out,
// then resumes the highest-priority Ready task and waits until it yields.
func (s *Scheduler) Step(ctx context.Context) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return StepResult{}, fmt.Errorf("rtos: Step called while task %d is running", s.current.id)
	}
	s.pacer.Tick(s.clock)
	s.promoteLocked()

	t := s.pickLocked()
	if t == nil {
		res := s.idleLocked()
		s.mu.Unlock()
		return res, nil
	}

	t.state = StateRunning
	s.current = t
	start := !t.started
	t.started = true
	s.mu.Unlock()

	if start {
		go s.run(ctx, t)
	} else {
		t.wake <- wakeRun
	}
	y := <-s.yields

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil

	res := StepResult{Status: StepContinue}
	if y.exited {
		res.Exited = true
		if y.err != nil && !errors.Is(y.err, ErrTaskDeleted) {
			res.Fault = y.err
		}
		if y.task.state != StateDeleted {
			s.deleteLocked(y.task, false)
		}
	}
	res.Task = y.task.snapshot()
	return res, nil
}

func (s *Scheduler) run(ctx context.Context, t *Task) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %q panicked: %v", t.name, r)
			}
		}()
		s.switcher.SwitchIn(t)
		err = t.entry(withTask(ctx, t))
	}()

	s.mu.Lock()
	killed := t.killed
	s.mu.Unlock()

	if !killed {
		s.yields <- yieldEvent{task: t, err: err, exited: true}
	}
	close(t.done)
}

// park hands control back to Step. The caller has already set t's new state.
func (s *Scheduler) park(t *Task) error {
	s.switcher.SwitchOut(t)
	s.yields <- yieldEvent{task: t}
	if sig := <-t.wake; sig == wakeKill {
		return ErrTaskDeleted
	}
	s.switcher.SwitchIn(t)
	return nil
}

func (s *Scheduler) pickLocked() *Task {
	var best *Task
	s.tasks.Each(func(_ resource.Handle, t *Task) bool {
		if t.state != StateReady || t.suspended {
			return true
		}
		if best == nil || t.priority > best.priority || (t.priority == best.priority && t.seq < best.seq) {
			best = t
		}
		return true
	})
	return best
}

func (s *Scheduler) promoteLocked() {
	now := s.clock.Now()
	s.tasks.Each(func(_ resource.Handle, t *Task) bool {
		switch t.state {
		case StateDelayed:
			if t.wakeAt <= now {
				t.state = StateReady
			}
		case StateBlocked:
			if t.hasDeadline && t.deadline <= now {
				s.mutexes.dropWaiterLocked(t)
				s.wakeLocked(t, false)
			}
		}
		return true
	})
}

func (s *Scheduler) idleLocked() StepResult {
	var (
		live     bool
		has      bool
		deadline time.Duration
	)
	s.tasks.Each(func(_ resource.Handle, t *Task) bool {
		live = true
		if t.suspended {
			return true
		}
		var d time.Duration
		var ok bool
		switch t.state {
		case StateDelayed:
			d, ok = t.wakeAt, true
		case StateBlocked:
			d, ok = t.deadline, t.hasDeadline
		}
		if ok && (!has || d < deadline) {
			deadline, has = d, true
		}
		return true
	})
	if !live {
		return StepResult{Status: StepDone}
	}
	return StepResult{Status: StepIdle, Deadline: deadline, HasDeadline: has}
}

// callerLocked returns the task making a blocking call, which must be the running task.
func (s *Scheduler) callerLocked(ctx context.Context) (*Task, error) {
	t, ok := TaskFromContext(ctx)
	if !ok {
		return nil, ErrNoTask
	}
	if t.killed || t.state == StateDeleted {
		return nil, ErrTaskDeleted
	}
	if t != s.current {
		return nil, fmt.Errorf("rtos: task %d is not the running task", t.id)
	}
	return t, nil
}

// Current returns the running task, if the call comes from one.
func (s *Scheduler) Current(ctx context.Context) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.callerLocked(ctx)
	return t, err == nil
}

// Yield lets the scheduler pick again. The caller stays Ready, so it runs
// again immediately unless a task with higher priority, or equal priority
// and earlier creation, is Ready.
func (s *Scheduler) Yield(ctx context.Context) error {
	s.mu.Lock()
	t, err := s.callerLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	t.state = StateReady
	s.mu.Unlock()
	return s.park(t)
}

// Delay parks the caller until the clock has advanced by d. d <= 0 yields.
func (s *Scheduler) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return s.Yield(ctx)
	}
	s.mu.Lock()
	t, err := s.callerLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	t.state = StateDelayed
	t.wakeAt = s.clock.Now() + d
	s.mu.Unlock()
	return s.park(t)
}

// DelayUntil parks the caller until the clock reaches deadline. A deadline
// already in the past returns immediately without yielding.
func (s *Scheduler) DelayUntil(ctx context.Context, deadline time.Duration) error {
	s.mu.Lock()
	t, err := s.callerLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if deadline <= s.clock.Now() {
		s.mu.Unlock()
		return nil
	}
	t.state = StateDelayed
	t.wakeAt = deadline
	s.mu.Unlock()
	return s.park(t)
}

// Block parks the caller until Wake is called for it or timeout elapses
// (timeout < 0 waits forever). It returns the value passed to Wake, or false
// on timeout.
func (s *Scheduler) Block(ctx context.Context, reason BlockReason, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	t, err := s.callerLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.blockLocked(t, reason, 0, timeout)
	s.mu.Unlock()

	if err := s.park(t); err != nil {
		return false, err
	}
	return t.wakeResult, nil
}

func (s *Scheduler) blockLocked(t *Task, reason BlockReason, on resource.Handle, timeout time.Duration) {
	t.state = StateBlocked
	t.reason = reason
	t.blockedOn = on
	t.wakeResult = false
	t.hasDeadline = timeout >= 0
	if t.hasDeadline {
		t.deadline = s.clock.Now() + timeout
	}
}

// Wake makes a blocked task Ready, delivering ok as the result of its
// blocking call. It reports false if the task is not blocked.
func (s *Scheduler) Wake(id TaskID, ok bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, found := s.tasks.Get(resource.Handle(id))
	if !found {
		return false
	}
	s.mutexes.dropWaiterLocked(t)
	return s.wakeLocked(t, ok)
}

func (s *Scheduler) wakeLocked(t *Task, ok bool) bool {
	if t.state != StateBlocked {
		return false
	}
	t.state = StateReady
	t.wakeResult = ok
	t.reason = BlockNone
	t.blockedOn = 0
	t.hasDeadline = false
	return true
}

// Delete removes a task in any state. Mutexes it owns are released to their
// next waiter and it leaves every wait queue. If a task deletes itself the
// call returns ErrTaskDeleted and the task must unwind. Deleting an unknown
// id is a harmless no-op that returns ErrNoSuchTask.
func (s *Scheduler) Delete(ctx context.Context, id TaskID) error {
	s.mu.Lock()
	t, ok := s.tasks.Get(resource.Handle(id))
	if !ok {
		s.mu.Unlock()
		Logger().Warn("delete of unknown task", zap.Uint32("task", uint32(id)))
		return ErrNoSuchTask
	}
	caller, _ := TaskFromContext(ctx)
	self := caller == t
	s.deleteLocked(t, t.started && !self)
	s.mu.Unlock()

	if self {
		return ErrTaskDeleted
	}
	s.reap(t)
	return nil
}

// deleteLocked marks t deleted. kill is set when t's goroutine is parked
// and must be released to unwind.
func (s *Scheduler) deleteLocked(t *Task, kill bool) {
	t.state = StateDeleted
	t.suspended = false
	t.byAll = false
	s.mutexes.releaseTaskLocked(t)
	if kill {
		t.killed = true
	}
	if !t.started {
		close(t.done)
	}
	s.tasks.Remove(resource.Handle(t.id))
	Logger().Debug("task deleted", zap.Uint32("task", uint32(t.id)), zap.String("name", t.name))
}

// reap waits for a killed task's goroutine to finish unwinding.
func (s *Scheduler) reap(t *Task) {
	if t.killed {
		t.wake <- wakeKill
	}
	<-t.done
}

// Suspend stops a task from being scheduled until Resume. A task may suspend
// itself, in which case the call returns once it is resumed.
func (s *Scheduler) Suspend(ctx context.Context, id TaskID) error {
	s.mu.Lock()
	t, ok := s.tasks.Get(resource.Handle(id))
	if !ok {
		s.mu.Unlock()
		return ErrNoSuchTask
	}
	t.suspended = true
	t.byAll = false
	caller, _ := TaskFromContext(ctx)
	if caller != t {
		s.mu.Unlock()
		return nil
	}
	if _, err := s.callerLocked(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	t.state = StateReady
	s.mu.Unlock()
	return s.park(t)
}

// Resume makes a suspended task schedulable again.
func (s *Scheduler) Resume(id TaskID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks.Get(resource.Handle(id))
	if !ok {
		return ErrNoSuchTask
	}
	t.suspended = false
	t.byAll = false
	return nil
}

// SuspendAll suspends every task except the caller, which keeps running.
func (s *Scheduler) SuspendAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	caller, _ := TaskFromContext(ctx)
	s.tasks.Each(func(_ resource.Handle, t *Task) bool {
		if t != caller && !t.suspended {
			t.suspended = true
			t.byAll = true
		}
		return true
	})
}

// ResumeAll undoes SuspendAll. Tasks suspended individually stay suspended.
func (s *Scheduler) ResumeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks.Each(func(_ resource.Handle, t *Task) bool {
		if t.byAll {
			t.suspended = false
			t.byAll = false
		}
		return true
	})
}

// RemoveAll deletes every task. When called from a task, the caller goes
// last and the call returns ErrTaskDeleted.
func (s *Scheduler) RemoveAll(ctx context.Context) error {
	s.mu.Lock()
	caller, _ := TaskFromContext(ctx)
	var victims []*Task
	self := false
	s.tasks.Each(func(_ resource.Handle, t *Task) bool {
		if t == caller {
			self = true
		} else {
			victims = append(victims, t)
		}
		return true
	})
	for _, t := range victims {
		s.deleteLocked(t, t.started)
	}
	if self {
		s.deleteLocked(caller, false)
	}
	s.mu.Unlock()

	for _, t := range victims {
		s.reap(t)
	}
	if self {
		return ErrTaskDeleted
	}
	return nil
}

// Close deletes all tasks, unwinding their goroutines. It must not be called
// while a Step is in progress.
func (s *Scheduler) Close() error {
	if err := s.RemoveAll(context.Background()); err != nil {
		return err
	}
	return s.tasks.Close()
}

// Lookup returns a live task. The pointer may only be used by the running
// task or between steps.
func (s *Scheduler) Lookup(id TaskID) (*Task, bool) {
	return s.tasks.Get(resource.Handle(id))
}

// TaskState returns the state of id: Deleted for ids that existed, Invalid
// for ids never issued.
func (s *Scheduler) TaskState(id TaskID) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks.Get(resource.Handle(id)); ok {
		return t.State()
	}
	if s.tasks.Issued(resource.Handle(id)) {
		return StateDeleted
	}
	return StateInvalid
}

// SetPriority changes a task's priority. It takes effect at the next scheduling decision.
func (s *Scheduler) SetPriority(id TaskID, priority uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks.Get(resource.Handle(id))
	if !ok {
		return ErrNoSuchTask
	}
	t.priority = priority
	return nil
}

// FindByName returns the earliest-created live task with the given name.
func (s *Scheduler) FindByName(name string) (TaskID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Task
	s.tasks.Each(func(_ resource.Handle, t *Task) bool {
		if t.name == name {
			found = t
			return false
		}
		return true
	})
	if found == nil {
		return 0, false
	}
	return found.id, true
}

// Count returns the number of live tasks.
func (s *Scheduler) Count() int {
	return s.tasks.Len()
}

// Tasks returns a snapshot of every live task, ordered by id.
func (s *Scheduler) Tasks() []TaskSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskSnapshot
	s.tasks.Each(func(_ resource.Handle, t *Task) bool {
		out = append(out, t.snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
