package rtos

import (
	"context"
	"time"

	"github.com/vexide/pros-simulator/resource"
)

// TaskID identifies a task. IDs are issued from 1 upward and never reused.
type TaskID uint32

// Task priorities as defined by PROS.
const (
	PriorityMin     uint32 = 1
	PriorityDefault uint32 = 8
	PriorityMax     uint32 = 16
)

// NumLocalStorage is the number of task-local storage slots per task.
const NumLocalStorage = 5

// State is the scheduling state of a task.
type State int

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateDelayed
	StateSuspended
	StateDeleted
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateDelayed:
		return "delayed"
	case StateSuspended:
		return "suspended"
	case StateDeleted:
		return "deleted"
	default:
		return "invalid"
	}
}

// Pros returns the PROS task_state_e value. Delayed tasks report as blocked.
func (s State) Pros() uint32 {
	switch s {
	case StateRunning:
		return 0
	case StateReady:
		return 1
	case StateBlocked, StateDelayed:
		return 2
	case StateSuspended:
		return 3
	case StateDeleted:
		return 4
	default:
		return 5
	}
}

// BlockReason describes what a blocked task waits for.
type BlockReason int

const (
	BlockNone BlockReason = iota
	BlockMutex
)

// Entry is the body of a task. It runs on its own goroutine but only while
// the scheduler has handed it control. It should return the error of any
// scheduler call that fails, so a deleted task unwinds promptly.
type Entry func(ctx context.Context) error

type wakeSignal int

const (
	wakeRun wakeSignal = iota
	wakeKill
)

// Task is a logical thread of robot code.
type Task struct {
	entry       Entry
	attachments map[any]any
	wake        chan wakeSignal
	done        chan struct{}
	name        string
	local       [NumLocalStorage]uint32
	wakeAt      time.Duration
	deadline    time.Duration
	seq         uint64
	id          TaskID
	priority    uint32
	state       State
	reason      BlockReason
	blockedOn   resource.Handle
	hasDeadline bool
	wakeResult  bool
	suspended   bool
	byAll       bool
	started     bool
	killed      bool
}

func (t *Task) ID() TaskID       { return t.id }
func (t *Task) Name() string     { return t.name }
func (t *Task) Priority() uint32 { return t.priority }

// State returns the effective state. A suspended task reports Suspended
// whatever it was doing before.
func (t *Task) State() State {
	if t.suspended && t.state != StateRunning && t.state != StateDeleted {
		return StateSuspended
	}
	return t.state
}

// Local returns task-local slot i, or 0 for an invalid index.
func (t *Task) Local(i int32) uint32 {
	if i < 0 || i >= NumLocalStorage {
		return 0
	}
	return t.local[i]
}

// SetLocal stores v in slot i. It reports false for an invalid index.
func (t *Task) SetLocal(i int32, v uint32) bool {
	if i < 0 || i >= NumLocalStorage {
		return false
	}
	t.local[i] = v
	return true
}

// Attach stores host-side data on the task, e.g. its errno cell.
func (t *Task) Attach(key, value any) {
	if t.attachments == nil {
		t.attachments = make(map[any]any)
	}
	t.attachments[key] = value
}

// Attached returns data stored with Attach.
func (t *Task) Attached(key any) (any, bool) {
	v, ok := t.attachments[key]
	return v, ok
}

// TaskSnapshot is a consistent copy of a task's public fields.
type TaskSnapshot struct {
	Name     string
	ID       TaskID
	Priority uint32
	State    State
}

func (t *Task) snapshot() TaskSnapshot {
	return TaskSnapshot{Name: t.name, ID: t.id, Priority: t.priority, State: t.State()}
}

type taskKey struct{}

func withTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

// TaskFromContext returns the task whose goroutine is executing, if any.
func TaskFromContext(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskKey{}).(*Task)
	return t, ok
}
