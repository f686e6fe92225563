package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	simulator "github.com/vexide/pros-simulator"
	"github.com/vexide/pros-simulator/engine"
	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
	"github.com/vexide/pros-simulator/rtos"
	"github.com/vexide/pros-simulator/state"
	"github.com/vexide/pros-simulator/wasm"
)

// errno values used by PROS.
const (
	EPERM  int32 = 1
	ENXIO  int32 = 6
	ENOMEM int32 = 12
	EACCES int32 = 13
	ENODEV int32 = 19
	EINVAL int32 = 22
)

const (
	// ProsErr is returned by int-valued PROS functions on failure.
	ProsErr int32 = math.MaxInt32
	// TimeoutMax waits forever when passed as a timeout.
	TimeoutMax uint32 = 0xffffffff
)

// maxString bounds C strings read from guest memory.
const maxString = 4096

type handler func(ctx context.Context, h *Host, stack []uint64)

type function struct {
	fn   handler
	name string
	typ  wasm.FuncType
}

// sig is a signature of i32 parameters and results, which covers every
// PROS function on wasm32.
func sig(params, results int) wasm.FuncType {
	ft := wasm.FuncType{
		Params:  make([]wasm.ValType, params),
		Results: make([]wasm.ValType, results),
	}
	for i := range ft.Params {
		ft.Params[i] = wasm.ValI32
	}
	for i := range ft.Results {
		ft.Results[i] = wasm.ValI32
	}
	return ft
}

func allFunctions() []function {
	var fns []function
	fns = append(fns, llemuFunctions()...)
	fns = append(fns, taskFunctions...)
	fns = append(fns, syncFunctions...)
	fns = append(fns, miscFunctions...)
	return fns
}

// Config tunes the host.
type Config struct {
	// StackSize is the shadow stack given to tasks created without a stack
	// depth. 0 means engine.DefaultStackSize.
	StackSize uint32
}

// Host implements the PROS API on top of the scheduler and simulated state.
// Its functions run on task goroutines while they hold the scheduler's
// baton, so the state they touch needs no locking.
type Host struct {
	sched     *rtos.Scheduler
	state     *state.State
	bus       *event.Bus
	caps      *Capabilities
	funcs     map[string]function
	prog      *engine.Instance
	mem       simulator.Memory
	alloc     simulator.Allocator
	stacks    *engine.StackSwitcher
	pool      blockPool
	errnoCell uint32
	stackSize uint32
}

// New creates a host. Bind must be called once the program is linked.
func New(sched *rtos.Scheduler, st *state.State, bus *event.Bus, cfg Config) *Host {
	h := &Host{
		sched:     sched,
		state:     st,
		bus:       bus,
		funcs:     make(map[string]function),
		stackSize: cfg.StackSize,
	}
	if h.stackSize == 0 {
		h.stackSize = engine.DefaultStackSize
	}
	var names []string
	for _, f := range allFunctions() {
		h.funcs[f.name] = f
		names = append(names, f.name)
	}
	h.caps = NewCapabilities(names)
	sched.Subscribe(h)
	return h
}

// Capabilities returns the import table the host was built with.
func (h *Host) Capabilities() *Capabilities { return h.caps }

// Resolution is the outcome of checking a program's imports.
type Resolution struct {
	Funcs []engine.HostFunc
	// Unsupported lists recognized PROS functions the program imports but
	// the simulator does not implement, in import order.
	Unsupported []string
}

// Resolve matches the program's imports against the capability table.
// Unrecognized imports fail with an *errors.UnrecognizedImportsError listing
// all of them. An implemented function imported with the wrong signature
// fails too.
func (h *Host) Resolve(m *wasm.Module) (*Resolution, error) {
	res := &Resolution{}
	seen := make(map[string]bool)
	var unknown []string

	for _, imp := range m.Imports {
		if imp.Module == EnvModule && imp.Kind == wasm.KindMemory && imp.Name == engine.MemoryName {
			continue
		}
		if imp.Module == EnvModule && imp.Kind == wasm.KindTable && imp.Name == engine.TableName {
			continue
		}
		key := imp.Module + "#" + imp.Name
		if imp.Kind != wasm.KindFunc {
			unknown = append(unknown, key)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		switch h.caps.Lookup(imp.Module, imp.Name) {
		case Implemented:
			f := h.funcs[imp.Name]
			got, ok := m.FuncType(importedFuncIndex(m, imp))
			if !ok || !got.Equal(f.typ) {
				return nil, errors.New(errors.PhaseLoad, errors.KindInvalidData).
					Path(imp.Module, imp.Name).
					Detail("imported as %s, expected %s", got, f.typ).
					Build()
			}
			res.Funcs = append(res.Funcs, engine.HostFunc{Name: f.name, Type: f.typ, Fn: h.wrap(f)})
		case Unsupported:
			ft, ok := m.FuncType(importedFuncIndex(m, imp))
			if !ok {
				return nil, errors.Load(fmt.Sprintf("import %s has an invalid type", key), nil)
			}
			res.Funcs = append(res.Funcs, engine.HostFunc{Name: imp.Name, Type: ft, Fn: unsupportedStub(imp.Name)})
			res.Unsupported = append(res.Unsupported, imp.Name)
		default:
			unknown = append(unknown, key)
		}
	}

	if len(unknown) > 0 {
		return nil, errors.NewUnrecognizedImportsError(unknown)
	}
	return res, nil
}

// importedFuncIndex returns the function index of a function import.
func importedFuncIndex(m *wasm.Module, target wasm.Import) uint32 {
	var idx uint32
	for _, imp := range m.Imports {
		if imp.Kind != wasm.KindFunc {
			continue
		}
		if imp.Module == target.Module && imp.Name == target.Name {
			return idx
		}
		idx++
	}
	return idx
}

func unsupportedStub(name string) api.GoModuleFunc {
	return func(context.Context, api.Module, []uint64) {
		panic(errors.Unsupported(name))
	}
}

func (h *Host) wrap(f function) api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		f.fn(ctx, h, stack)
	}
}

// Bind attaches the linked program. Host functions that touch guest memory
// or call back into the program need it.
func (h *Host) Bind(inst *engine.Instance) {
	h.prog = inst
	if mem := inst.Memory(); mem != nil {
		h.mem = mem
	}
	if alloc := inst.Allocator(); alloc != nil {
		h.alloc = alloc
	}
	h.stacks = inst.Stacks()
}

// SpawnExport starts a task that calls a () -> () export of the program.
// Entrypoint tasks never overlap, so they all run on the stack the program
// was instantiated with.
func (h *Host) SpawnExport(name, export string, priority uint32) rtos.TaskID {
	id := h.sched.Spawn(name, priority, func(ctx context.Context) error {
		return h.prog.CallExport(ctx, export)
	})
	if id != 0 && h.stacks != nil && h.stacks.Enabled() {
		if t, ok := h.sched.Lookup(id); ok {
			h.stacks.Assign(t, h.stacks.Initial())
		}
	}
	return id
}

// SpawnCallback starts a task that calls the function pointer fn with no
// arguments, as LCD button callbacks are invoked.
func (h *Host) SpawnCallback(ctx context.Context, name string, fn uint32) (rtos.TaskID, error) {
	return h.spawn(ctx, name, rtos.PriorityDefault, h.stackSize, func(ctx context.Context) error {
		return h.prog.CallVoid(ctx, fn)
	})
}

// spawn creates a task with a shadow stack of its own. The stack returns
// to the pool when the task exits.
func (h *Host) spawn(ctx context.Context, name string, priority, stackSize uint32, entry rtos.Entry) (rtos.TaskID, error) {
	var stack block
	if h.stacks != nil && h.stacks.Enabled() && h.alloc != nil {
		stack.size = (stackSize + engine.StackAlign - 1) &^ (engine.StackAlign - 1)
		stack.align = engine.StackAlign
		base, err := h.allocTask(ctx, nil, stack.size, stack.align)
		if err != nil {
			return 0, err
		}
		stack.addr = base
	}
	id := h.sched.Spawn(name, priority, entry)
	if id == 0 {
		if stack.size != 0 {
			h.pool.put(stack)
		}
		return 0, errors.InvalidInput(errors.PhaseHost, "scheduler is closed")
	}
	if stack.size != 0 {
		if t, ok := h.sched.Lookup(id); ok {
			own(t, stack)
			h.stacks.Assign(t, stack.addr+stack.size)
		}
	}
	return id, nil
}

func (h *Host) memory() simulator.Memory {
	if h.mem == nil {
		panic(errors.InvalidInput(errors.PhaseHost, "program has no linear memory"))
	}
	return h.mem
}

// readString reads a C string argument. A bad pointer traps the caller.
func (h *Host) readString(ptr uint32) string {
	s, err := h.memory().ReadCString(ptr, maxString)
	if err != nil {
		panic(err)
	}
	return s
}

func (h *Host) readU32(ptr uint32) uint32 {
	v, err := h.memory().ReadU32(ptr)
	if err != nil {
		panic(err)
	}
	return v
}

func (h *Host) writeU32(ptr, v uint32) {
	if err := h.memory().WriteU32(ptr, v); err != nil {
		panic(err)
	}
}

// allocString copies s into guest memory owned by t. The copy is never
// reused when t is nil.
func (h *Host) allocString(ctx context.Context, t *rtos.Task, s string) uint32 {
	if h.alloc == nil {
		panic(errors.InvalidInput(errors.PhaseHost, "program has no linear memory"))
	}
	ptr, err := h.allocTask(ctx, t, uint32(len(s)+1), 1)
	if err != nil {
		panic(err)
	}
	if err := h.memory().WriteCString(ptr, s); err != nil {
		panic(err)
	}
	return ptr
}

type errnoKey struct{}

// errnoAddr returns the calling task's errno cell, allocating it on first
// use. Calls made outside any task share one cell.
func (h *Host) errnoAddr(ctx context.Context) uint32 {
	t, ok := rtos.TaskFromContext(ctx)
	if ok {
		if v, ok := t.Attached(errnoKey{}); ok {
			return v.(uint32)
		}
	} else if h.errnoCell != 0 {
		return h.errnoCell
	}

	if h.alloc == nil {
		panic(errors.InvalidInput(errors.PhaseHost, "program has no linear memory"))
	}
	var owner *rtos.Task
	if ok {
		owner = t
	}
	ptr, err := h.allocTask(ctx, owner, 4, 4)
	if err != nil {
		panic(err)
	}
	h.writeU32(ptr, 0)
	if ok {
		t.Attach(errnoKey{}, ptr)
	} else {
		h.errnoCell = ptr
	}
	return ptr
}

func (h *Host) setErrno(ctx context.Context, code int32) {
	h.writeU32(h.errnoAddr(ctx), uint32(code))
}

// fail sets errno for err and reports whether there was an error.
func (h *Host) fail(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	h.setErrno(ctx, errnoFor(err))
	return true
}

func errnoFor(err error) int32 {
	switch {
	case stderrors.Is(err, state.ErrNotInitialized):
		return ENXIO
	case stderrors.Is(err, rtos.ErrNotOwner):
		return EPERM
	case stderrors.Is(err, rtos.ErrNoTask):
		return EACCES
	default:
		return EINVAL
	}
}

// unwind aborts the host call when a blocking scheduler call failed. A
// deleted task unwinds its wasm stack this way.
func unwind(err error) {
	if err != nil {
		panic(err)
	}
}

// warn reports API misuse to the log and to the frontend.
func (h *Host) warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
	h.bus.Publish(event.Warning(msg))
}

func (h *Host) caller(ctx context.Context) rtos.TaskID {
	if t, ok := rtos.TaskFromContext(ctx); ok {
		return t.ID()
	}
	return 0
}

// task resolves a task handle argument. Handle 0 is the caller.
func (h *Host) task(ctx context.Context, handle uint32) (*rtos.Task, bool) {
	if handle == 0 {
		t, ok := rtos.TaskFromContext(ctx)
		return t, ok
	}
	return h.sched.Lookup(rtos.TaskID(handle))
}

func millis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func boolResult(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
