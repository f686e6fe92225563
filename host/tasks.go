package host

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/rtos"
)

var taskFunctions = []function{
	{name: "task_create", typ: sig(5, 1), fn: taskCreate},
	{name: "delay", typ: sig(1, 0), fn: taskDelay},
	{name: "task_delay", typ: sig(1, 0), fn: taskDelay},
	{name: "task_delay_until", typ: sig(2, 0), fn: taskDelayUntil},
	{name: "task_get_current", typ: sig(0, 1), fn: taskGetCurrent},
	{name: "task_get_name", typ: sig(1, 1), fn: taskGetName},
	{name: "task_delete", typ: sig(1, 0), fn: taskDelete},
	{name: "task_get_state", typ: sig(1, 1), fn: taskGetState},
	{name: "task_get_priority", typ: sig(1, 1), fn: taskGetPriority},
	{name: "task_set_priority", typ: sig(2, 0), fn: taskSetPriority},
	{name: "task_get_count", typ: sig(0, 1), fn: taskGetCount},
	{name: "task_get_by_name", typ: sig(1, 1), fn: taskGetByName},
	{name: "task_suspend", typ: sig(1, 0), fn: taskSuspend},
	{name: "task_resume", typ: sig(1, 0), fn: taskResume},
	{name: "millis", typ: sig(0, 1), fn: taskMillis},
	{name: "rtos_suspend_all", typ: sig(0, 0), fn: rtosSuspendAll},
	{name: "rtos_resume_all", typ: sig(0, 1), fn: rtosResumeAll},
	{name: "rtos_remove_all", typ: sig(0, 0), fn: rtosRemoveAll},
}

// clampPriority keeps a requested priority inside the PROS range.
func (h *Host) clampPriority(prio uint32) uint32 {
	switch {
	case prio < rtos.PriorityMin:
		h.warn(fmt.Sprintf("task priority %d below minimum, using %d", prio, rtos.PriorityMin))
		return rtos.PriorityMin
	case prio > rtos.PriorityMax:
		h.warn(fmt.Sprintf("task priority %d above maximum, using %d", prio, rtos.PriorityMax))
		return rtos.PriorityMax
	}
	return prio
}

// task_create(fn, arg, prio, stack_depth, name) -> task
func taskCreate(ctx context.Context, h *Host, stack []uint64) {
	fn, arg := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	prio := h.clampPriority(api.DecodeU32(stack[2]))
	depth := api.DecodeU32(stack[3]) & 0xffff
	var name string
	if ptr := api.DecodeU32(stack[4]); ptr != 0 {
		name = h.readString(ptr)
	}

	size := h.stackSize
	if depth > 0 {
		size = depth * 4
	}
	id, err := h.spawn(ctx, name, prio, size, func(ctx context.Context) error {
		return h.prog.CallTask(ctx, fn, arg)
	})
	if err != nil {
		Logger().Warn("task_create failed", zap.String("name", name), zap.Error(err))
		h.setErrno(ctx, ENOMEM)
		stack[0] = 0
		return
	}
	stack[0] = api.EncodeU32(uint32(id))
}

func taskDelay(ctx context.Context, h *Host, stack []uint64) {
	unwind(h.sched.Delay(ctx, millis(api.DecodeU32(stack[0]))))
}

// task_delay_until(prev_time *uint32, delta) waits until *prev_time + delta
// and advances *prev_time by delta.
func taskDelayUntil(ctx context.Context, h *Host, stack []uint64) {
	ptr, delta := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	if ptr == 0 {
		h.setErrno(ctx, EINVAL)
		return
	}
	target := h.readU32(ptr) + delta
	unwind(h.sched.DelayUntil(ctx, millis(target)))
	h.writeU32(ptr, target)
}

func taskGetCurrent(ctx context.Context, h *Host, stack []uint64) {
	stack[0] = api.EncodeU32(uint32(h.caller(ctx)))
}

type nameKey struct{}

// task_get_name returns a pointer to a copy of the name owned by the host.
// The copy is made once per task and released when the task exits.
func taskGetName(ctx context.Context, h *Host, stack []uint64) {
	t, ok := h.task(ctx, api.DecodeU32(stack[0]))
	if !ok {
		h.setErrno(ctx, EINVAL)
		stack[0] = 0
		return
	}
	if v, ok := t.Attached(nameKey{}); ok {
		stack[0] = api.EncodeU32(v.(uint32))
		return
	}
	ptr := h.allocString(ctx, t, t.Name())
	t.Attach(nameKey{}, ptr)
	stack[0] = api.EncodeU32(ptr)
}

func taskDelete(ctx context.Context, h *Host, stack []uint64) {
	handle := api.DecodeU32(stack[0])
	id := rtos.TaskID(handle)
	if handle == 0 {
		id = h.caller(ctx)
	}
	err := h.sched.Delete(ctx, id)
	if stderrors.Is(err, rtos.ErrNoSuchTask) {
		h.bus.Publish(event.Warning(fmt.Sprintf("task_delete: no task %d", handle)))
		h.setErrno(ctx, EINVAL)
		return
	}
	unwind(err)
}

func taskGetState(ctx context.Context, h *Host, stack []uint64) {
	handle := api.DecodeU32(stack[0])
	id := rtos.TaskID(handle)
	if handle == 0 {
		id = h.caller(ctx)
	}
	stack[0] = api.EncodeU32(h.sched.TaskState(id).Pros())
}

func taskGetPriority(ctx context.Context, h *Host, stack []uint64) {
	t, ok := h.task(ctx, api.DecodeU32(stack[0]))
	if !ok {
		h.setErrno(ctx, EINVAL)
		stack[0] = 0
		return
	}
	stack[0] = api.EncodeU32(t.Priority())
}

func taskSetPriority(ctx context.Context, h *Host, stack []uint64) {
	t, ok := h.task(ctx, api.DecodeU32(stack[0]))
	if !ok {
		h.setErrno(ctx, EINVAL)
		return
	}
	h.fail(ctx, h.sched.SetPriority(t.ID(), h.clampPriority(api.DecodeU32(stack[1]))))
}

func taskGetCount(_ context.Context, h *Host, stack []uint64) {
	stack[0] = api.EncodeU32(uint32(h.sched.Count()))
}

func taskGetByName(_ context.Context, h *Host, stack []uint64) {
	id, _ := h.sched.FindByName(h.readString(api.DecodeU32(stack[0])))
	stack[0] = api.EncodeU32(uint32(id))
}

func taskSuspend(ctx context.Context, h *Host, stack []uint64) {
	t, ok := h.task(ctx, api.DecodeU32(stack[0]))
	if !ok {
		h.setErrno(ctx, EINVAL)
		return
	}
	err := h.sched.Suspend(ctx, t.ID())
	if stderrors.Is(err, rtos.ErrNoSuchTask) {
		h.setErrno(ctx, EINVAL)
		return
	}
	unwind(err)
}

func taskResume(ctx context.Context, h *Host, stack []uint64) {
	handle := api.DecodeU32(stack[0])
	if handle == 0 {
		h.setErrno(ctx, EINVAL)
		return
	}
	h.fail(ctx, h.sched.Resume(rtos.TaskID(handle)))
}

func taskMillis(_ context.Context, h *Host, stack []uint64) {
	stack[0] = api.EncodeU32(h.sched.Clock().Millis())
}

func rtosSuspendAll(ctx context.Context, h *Host, _ []uint64) {
	h.sched.SuspendAll(ctx)
}

func rtosResumeAll(_ context.Context, h *Host, stack []uint64) {
	h.sched.ResumeAll()
	stack[0] = 0
}

func rtosRemoveAll(ctx context.Context, h *Host, _ []uint64) {
	unwind(h.sched.RemoveAll(ctx))
}
