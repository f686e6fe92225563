package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	simulator "github.com/vexide/pros-simulator"
	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/wasm"
)

// Module names used when linking a robot program.
const (
	HostModule       = "pros_host"
	EnvModule        = "env"
	RobotModule      = "robot"
	TrampolineModule = "trampoline"

	MemoryName = "memory"
	TableName  = "__indirect_function_table"

	callTaskExport = "call_task"
	callVoidExport = "call_void"
)

// StartError is returned by Link when the program's start function traps
// or exits. Err is the error the function failed with, stack trace included.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return "robot module start function failed: " + e.Err.Error()
}

func (e *StartError) Unwrap() error { return e.Err }

// startFailure picks out errors raised by the start function itself, as
// opposed to import resolution. wazero returns exits unwrapped and wraps
// everything else as "start <func> failed: <cause>".
func startFailure(err error) (error, bool) {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return exit, true
	}
	if !strings.HasPrefix(err.Error(), "start ") {
		return nil, false
	}
	if cause := stderrors.Unwrap(err); cause != nil {
		return cause, true
	}
	return err, true
}

// HostFunc is a Go function provided to the program under an env import name.
type HostFunc struct {
	Fn   api.GoModuleFunc
	Name string
	Type wasm.FuncType
}

// Instance is a linked robot program.
type Instance struct {
	engine     *Engine
	robot      api.Module
	trampoline api.Module
	memory     *Memory
	alloc      simulator.Allocator
	stacks     *StackSwitcher
	exports    map[string]api.FunctionDefinition
}

// Link instantiates the host functions, the synthesized env module, the
// program and its call trampoline. bin is the program binary, which must
// already export its stack pointer (see wasm.ExportStackPointer), and m
// its parsed form.
func (e *Engine) Link(ctx context.Context, m *wasm.Module, bin []byte, funcs []HostFunc) (*Instance, error) {
	if err := e.instantiateHost(ctx, funcs); err != nil {
		return nil, err
	}

	envBin, err := buildEnv(m)
	if err != nil {
		return nil, err
	}
	env, err := e.runtime.InstantiateWithConfig(ctx, envBin, wazero.NewModuleConfig().WithName(EnvModule))
	if err != nil {
		return nil, errors.Instantiation(EnvModule, err)
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Load("compile robot module", err)
	}
	robot, err := e.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(RobotModule).WithStartFunctions())
	if err != nil {
		if m.HasStart() {
			if cause, ok := startFailure(err); ok {
				return nil, &StartError{Err: cause}
			}
		}
		return nil, errors.Instantiation(RobotModule, err)
	}

	inst := &Instance{
		engine:  e,
		robot:   robot,
		exports: compiled.ExportedFunctions(),
	}

	mem := robot.Memory()
	if mem == nil {
		mem = env.ExportedMemory(MemoryName)
	}
	if mem != nil {
		inst.memory = NewMemory(mem)
		inst.alloc = NewAllocator(robot, inst.memory)
	}

	if sp, ok := robot.ExportedGlobal(wasm.StackPointerName).(api.MutableGlobal); ok {
		inst.stacks = NewStackSwitcher(sp)
	} else {
		Logger().Debug("program has no exported stack pointer; tasks share one stack")
		inst.stacks = NewStackSwitcher(nil)
	}

	var tableSource string
	if ex, ok := m.Export(TableName); ok && ex.Kind == wasm.KindTable {
		tableSource = RobotModule
	} else if importsEnvTable(m) {
		tableSource = EnvModule
	}
	if tableSource != "" {
		tramp, err := e.runtime.InstantiateWithConfig(ctx, buildTrampoline(tableSource),
			wazero.NewModuleConfig().WithName(TrampolineModule))
		if err != nil {
			return nil, errors.Instantiation(TrampolineModule, err)
		}
		inst.trampoline = tramp
	} else {
		Logger().Debug("program has no function table; function pointers cannot be called")
	}

	Logger().Debug("linked robot program",
		zap.Int("host_funcs", len(funcs)),
		zap.String("table", tableSource),
		zap.Bool("guest_allocator", isGuestAllocator(inst.alloc)))
	return inst, nil
}

func (e *Engine) instantiateHost(ctx context.Context, funcs []HostFunc) error {
	hb := e.runtime.NewHostModuleBuilder(HostModule)
	for _, f := range funcs {
		params, err := ValueTypes(f.Type.Params)
		if err != nil {
			return errors.Load(fmt.Sprintf("host function %s", f.Name), err)
		}
		results, err := ValueTypes(f.Type.Results)
		if err != nil {
			return errors.Load(fmt.Sprintf("host function %s", f.Name), err)
		}
		hb.NewFunctionBuilder().
			WithGoModuleFunction(f.Fn, params, results).
			WithName(f.Name).
			Export(f.Name)
	}
	if _, err := hb.Instantiate(ctx); err != nil {
		return errors.Instantiation(HostModule, err)
	}
	return nil
}

// buildEnv generates the env module: every env function import re-exported
// from the host module, plus the memory and table the program expects env
// to provide.
func buildEnv(m *wasm.Module) ([]byte, error) {
	b := wasm.NewBuilder()
	seen := make(map[string]bool)
	for _, imp := range m.ImportsOf(wasm.KindFunc) {
		if imp.Module != EnvModule || seen[imp.Name] {
			continue
		}
		seen[imp.Name] = true
		if imp.TypeIdx >= uint32(len(m.Types)) {
			return nil, errors.Load(fmt.Sprintf("import env#%s has invalid type index %d", imp.Name, imp.TypeIdx), nil)
		}
		idx := b.ImportFunc(HostModule, imp.Name, m.Types[imp.TypeIdx])
		b.Export(imp.Name, wasm.KindFunc, idx)
	}
	for _, imp := range m.Imports {
		if imp.Module != EnvModule {
			continue
		}
		switch {
		case imp.Kind == wasm.KindMemory && imp.Name == MemoryName:
			b.Export(MemoryName, wasm.KindMemory, b.Memory(*imp.Memory))
		case imp.Kind == wasm.KindTable && imp.Name == TableName:
			b.Export(TableName, wasm.KindTable, b.Table(*imp.Table))
		}
	}
	return b.Bytes(), nil
}

func importsEnvTable(m *wasm.Module) bool {
	for _, imp := range m.ImportsOf(wasm.KindTable) {
		if imp.Module == EnvModule && imp.Name == TableName {
			return true
		}
	}
	return false
}

// buildTrampoline generates call_task(fn, arg) and call_void(fn), which
// call function pointers through the program's table.
func buildTrampoline(tableModule string) []byte {
	i32 := wasm.ValI32
	b := wasm.NewBuilder()
	table := b.ImportTable(tableModule, TableName, wasm.TableType{ElemType: wasm.ValFuncRef})

	taskSig := b.Type(wasm.FuncType{Params: []wasm.ValType{i32}})
	voidSig := b.Type(wasm.FuncType{})

	callTask := b.Func(wasm.FuncType{Params: []wasm.ValType{i32, i32}}, nil,
		wasm.Code(nil).LocalGet(1).LocalGet(0).CallIndirect(taskSig, table).End())
	callVoid := b.Func(wasm.FuncType{Params: []wasm.ValType{i32}}, nil,
		wasm.Code(nil).LocalGet(0).CallIndirect(voidSig, table).End())

	b.Export(callTaskExport, wasm.KindFunc, callTask)
	b.Export(callVoidExport, wasm.KindFunc, callVoid)
	return b.Bytes()
}

func isGuestAllocator(a simulator.Allocator) bool {
	_, ok := a.(*GuestAllocator)
	return ok
}

// Memory returns the program's linear memory, or nil if it has none.
func (i *Instance) Memory() *Memory { return i.memory }

// Allocator returns the allocator for host-owned guest data.
func (i *Instance) Allocator() simulator.Allocator { return i.alloc }

// Stacks returns the shadow-stack switcher to install in the scheduler.
func (i *Instance) Stacks() *StackSwitcher { return i.stacks }

// Module returns the program's module instance.
func (i *Instance) Module() api.Module { return i.robot }

// HasExport reports whether the program exports a function with no
// parameters and no results under name.
func (i *Instance) HasExport(name string) bool {
	def, ok := i.exports[name]
	return ok && len(def.ParamTypes()) == 0 && len(def.ResultTypes()) == 0
}

// CallExport calls a () -> () export on the calling goroutine.
func (i *Instance) CallExport(ctx context.Context, name string) error {
	fn := i.robot.ExportedFunction(name)
	if fn == nil {
		return errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	_, err := fn.Call(ctx)
	return err
}

// CallTask calls fn(arg) through the function table, as a task entry.
func (i *Instance) CallTask(ctx context.Context, fn, arg uint32) error {
	if i.trampoline == nil {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("program has no function table; cannot call function pointer %d", fn).
			Build()
	}
	_, err := i.trampoline.ExportedFunction(callTaskExport).Call(ctx, uint64(fn), uint64(arg))
	return err
}

// CallVoid calls fn() through the function table, as used for callbacks.
func (i *Instance) CallVoid(ctx context.Context, fn uint32) error {
	if i.trampoline == nil {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Detail("program has no function table; cannot call function pointer %d", fn).
			Build()
	}
	_, err := i.trampoline.ExportedFunction(callVoidExport).Call(ctx, uint64(fn))
	return err
}

// Close releases every module of the program.
func (i *Instance) Close(ctx context.Context) error {
	return i.engine.Close(ctx)
}
