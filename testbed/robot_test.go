package testbed

import (
	"github.com/vexide/pros-simulator/wasm"
)

const stackTop = 1 << 16

// robot assembles a small C-style robot program: PROS imports by name, an
// imported memory, a function table and a shadow stack pointer.
type robot struct {
	b       *wasm.Builder
	imports map[string]uint32
	table   []uint32
	data    []datum
	nextStr int32
}

type datum struct {
	off  int32
	text string
}

func sig(params, results int) wasm.FuncType {
	var ft wasm.FuncType
	for i := 0; i < params; i++ {
		ft.Params = append(ft.Params, wasm.ValI32)
	}
	for i := 0; i < results; i++ {
		ft.Results = append(ft.Results, wasm.ValI32)
	}
	return ft
}

// signatures of the PROS functions the scenarios use.
var signatures = map[string]wasm.FuncType{
	"puts":                  sig(1, 1),
	"delay":                 sig(1, 0),
	"millis":                sig(0, 1),
	"exit":                  sig(1, 0),
	"task_create":           sig(5, 1),
	"mutex_create":          sig(0, 1),
	"mutex_take":            sig(2, 1),
	"mutex_give":            sig(1, 1),
	"controller_get_analog": sig(2, 1),
	"lcd_initialize":        sig(0, 1),
	"lcd_set_text":          sig(2, 1),
}

func newRobot(names ...string) *robot {
	r := &robot{b: wasm.NewBuilder(), imports: make(map[string]uint32), nextStr: 1024}
	for _, name := range append([]string{"puts"}, names...) {
		r.imports[name] = r.b.ImportFunc("env", name, signatures[name])
	}
	r.b.ImportMemory("env", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 2}})
	return r
}

func (r *robot) call(name string) uint32 { return r.imports[name] }

func (r *robot) str(s string) int32 {
	off := r.nextStr
	r.data = append(r.data, datum{off: off, text: s})
	r.nextStr += int32(len(s)) + 1
	return off
}

func (r *robot) say(s string) wasm.Code {
	return wasm.Code(nil).I32Const(r.str(s)).Call(r.call("puts")).Drop()
}

func (r *robot) delay(ms int32) wasm.Code {
	return wasm.Code(nil).I32Const(ms).Call(r.call("delay"))
}

func (r *robot) entry(name string, body ...wasm.Code) {
	r.b.Export(name, wasm.KindFunc, r.b.Func(wasm.FuncType{}, []wasm.ValType{wasm.ValI32}, join(body).End()))
}

// task adds a task function, which takes its argument as local 0, to the
// table and returns its table index.
func (r *robot) task(body ...wasm.Code) int32 {
	r.table = append(r.table, r.b.Func(sig(1, 0), nil, join(body).End()))
	return int32(len(r.table))
}

func (r *robot) bytes() []byte {
	tbl := r.b.Table(wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: uint32(len(r.table) + 1)}})
	r.b.Export("__indirect_function_table", wasm.KindTable, tbl)
	if len(r.table) > 0 {
		r.b.Elem(1, r.table...)
	}
	r.b.Global(wasm.GlobalType{ValType: wasm.ValI32, Mutable: true}, wasm.ConstI32(stackTop))
	for _, d := range r.data {
		r.b.Data(d.off, append([]byte(d.text), 0))
	}
	return r.b.Bytes()
}

func join(parts []wasm.Code) wasm.Code {
	var out wasm.Code
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// taskCreate starts fn with no argument and drops the handle.
func (r *robot) taskCreate(fn, prio, name int32) wasm.Code {
	return wasm.Code(nil).
		I32Const(fn).I32Const(0).I32Const(prio).I32Const(0).I32Const(name).
		Call(r.call("task_create")).Drop()
}

// taskCreateArg starts fn with local 0 as its argument.
func (r *robot) taskCreateArg(fn, prio int32) wasm.Code {
	return wasm.Code(nil).
		I32Const(fn).LocalGet(0).I32Const(prio).I32Const(0).I32Const(0).
		Call(r.call("task_create")).Drop()
}

func (r *robot) createMutex() wasm.Code {
	return wasm.Code(nil).Call(r.call("mutex_create")).LocalSet(0)
}

// takeLocal takes the mutex in local 0 without waiting.
func (r *robot) takeLocal() wasm.Code {
	return wasm.Code(nil).LocalGet(0).I32Const(0).Call(r.call("mutex_take")).Drop()
}

// takeArg waits forever for the mutex passed as the task argument.
func (r *robot) takeArg() wasm.Code {
	return wasm.Code(nil).LocalGet(0).I32Const(-1).Call(r.call("mutex_take")).Drop()
}

func (r *robot) giveLocal() wasm.Code {
	return wasm.Code(nil).LocalGet(0).Call(r.call("mutex_give")).Drop()
}

func (r *robot) exitWithAnalog(controller, channel int32) wasm.Code {
	return wasm.Code(nil).
		I32Const(controller).I32Const(channel).Call(r.call("controller_get_analog")).
		Call(r.call("exit"))
}

func (r *robot) exit(code int32) wasm.Code {
	return wasm.Code(nil).I32Const(code).Call(r.call("exit"))
}

func (r *robot) lcdInit() wasm.Code {
	return wasm.Code(nil).Call(r.call("lcd_initialize")).Drop()
}

func (r *robot) lcdText(line, text int32) wasm.Code {
	return wasm.Code(nil).I32Const(line).I32Const(text).Call(r.call("lcd_set_text")).Drop()
}
