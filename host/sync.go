package host

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/resource"
	"github.com/vexide/pros-simulator/rtos"
)

var syncFunctions = []function{
	{name: "mutex_create", typ: sig(0, 1), fn: mutexCreate},
	{name: "mutex_delete", typ: sig(1, 0), fn: mutexDelete},
	{name: "mutex_give", typ: sig(1, 1), fn: mutexGive},
	{name: "mutex_take", typ: sig(2, 1), fn: mutexTake},
	{name: "pvTaskGetThreadLocalStoragePointer", typ: sig(2, 1), fn: tlsGet},
	{name: "vTaskSetThreadLocalStoragePointer", typ: sig(3, 0), fn: tlsSet},
}

func mutexCreate(_ context.Context, h *Host, stack []uint64) {
	stack[0] = api.EncodeU32(uint32(h.sched.Mutexes().Create()))
}

func mutexDelete(ctx context.Context, h *Host, stack []uint64) {
	handle := api.DecodeU32(stack[0])
	if err := h.sched.Mutexes().Delete(resource.Handle(handle)); err != nil {
		h.warn(fmt.Sprintf("mutex_delete: no mutex %d", handle), zap.Uint32("mutex", handle))
		h.setErrno(ctx, EINVAL)
	}
}

func mutexGive(ctx context.Context, h *Host, stack []uint64) {
	err := h.sched.Mutexes().Give(ctx, resource.Handle(api.DecodeU32(stack[0])))
	stack[0] = boolResult(!h.fail(ctx, err))
}

// mutex_take(mutex, timeout_ms) blocks until the mutex is acquired or the
// timeout elapses. TimeoutMax waits forever.
func mutexTake(ctx context.Context, h *Host, stack []uint64) {
	handle := resource.Handle(api.DecodeU32(stack[0]))
	timeout := rtos.WaitForever
	if ms := api.DecodeU32(stack[1]); ms != TimeoutMax {
		timeout = millis(ms)
	}
	ok, err := h.sched.Mutexes().Take(ctx, handle, timeout)
	if stderrors.Is(err, rtos.ErrTaskDeleted) {
		unwind(err)
	}
	if h.fail(ctx, err) {
		stack[0] = 0
		return
	}
	stack[0] = boolResult(ok)
}

// pvTaskGetThreadLocalStoragePointer(task, index) -> value. Unknown tasks
// and indices read as 0.
func tlsGet(ctx context.Context, h *Host, stack []uint64) {
	t, ok := h.task(ctx, api.DecodeU32(stack[0]))
	if !ok {
		stack[0] = 0
		return
	}
	stack[0] = api.EncodeU32(t.Local(api.DecodeI32(stack[1])))
}

func tlsSet(ctx context.Context, h *Host, stack []uint64) {
	t, ok := h.task(ctx, api.DecodeU32(stack[0]))
	if !ok {
		return
	}
	index := api.DecodeI32(stack[1])
	if !t.SetLocal(index, api.DecodeU32(stack[2])) {
		Logger().Debug("ignoring out of range thread local storage index", zap.Int32("index", index))
	}
}
