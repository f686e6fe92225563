package engine

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/rtos"
	"github.com/vexide/pros-simulator/wasm"
)

var (
	i32      = wasm.ValI32
	void     = wasm.FuncType{}
	millisTy = wasm.FuncType{Results: []wasm.ValType{i32}}
	taskTy   = wasm.FuncType{Params: []wasm.ValType{i32}}
)

// exportedTable builds a program that owns its function table:
//
//	table[1] = store_millis(ptr)  *ptr = millis()
//	table[2] = noop()
//	table[3] = crash()            unreachable
func exportedTable(withMemalign bool) []byte {
	b := wasm.NewBuilder()
	millis := b.ImportFunc("env", "millis", millisTy)
	b.ImportMemory("env", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	table := b.Table(wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 4}})
	sp := b.Global(wasm.GlobalType{ValType: i32, Mutable: true}, wasm.ConstI32(4096))

	store := b.Func(taskTy, nil, wasm.Code(nil).LocalGet(0).Call(millis).I32Store(0).End())
	noop := b.Func(void, nil, wasm.Code(nil).End())
	crash := b.Func(void, nil, wasm.Code(nil).Unreachable().End())
	b.Elem(1, store, noop, crash)

	b.Export("opcontrol", wasm.KindFunc, noop)
	b.Export("crash", wasm.KindFunc, crash)
	b.Export(TableName, wasm.KindTable, table)
	b.Export(wasm.StackPointerName, wasm.KindGlobal, sp)
	if withMemalign {
		memalign := b.Func(wasm.FuncType{Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32}}, nil,
			wasm.Code(nil).I32Const(2048).End())
		b.Export(MemalignExport, wasm.KindFunc, memalign)
	}
	return b.Bytes()
}

// importedTable builds a program that expects env to provide its table.
// table[1] increments the i32 at address 0.
func importedTable() []byte {
	b := wasm.NewBuilder()
	b.ImportTable("env", TableName, wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}})
	b.ImportMemory("env", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 1, Max: 4, HasMax: true}})
	inc := b.Func(void, nil, wasm.Code(nil).
		I32Const(0).
		I32Const(0).I32Load(0).I32Const(1).I32Add().
		I32Store(0).
		End())
	b.Elem(1, inc)
	b.Export("initialize", wasm.KindFunc, inc)
	return b.Bytes()
}

func millisFunc(v int32) HostFunc {
	return HostFunc{
		Name: "millis",
		Type: millisTy,
		Fn: func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = api.EncodeI32(v)
		},
	}
}

func link(t *testing.T, bin []byte, funcs ...HostFunc) *Instance {
	t.Helper()
	ctx := context.Background()
	m, err := wasm.Parse(bin)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := New(ctx, nil)
	inst, err := e.Link(ctx, m, bin, funcs)
	if err != nil {
		_ = e.Close(ctx)
		t.Fatalf("Link: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close(ctx) })
	return inst
}

func TestLink_ExportedTable(t *testing.T) {
	ctx := context.Background()
	inst := link(t, exportedTable(false), millisFunc(1234))

	if err := inst.CallTask(ctx, 1, 64); err != nil {
		t.Fatalf("CallTask: %v", err)
	}
	v, err := inst.Memory().ReadI32(64)
	if err != nil || v != 1234 {
		t.Fatalf("*64 = %d, %v", v, err)
	}

	if !inst.HasExport("opcontrol") || inst.HasExport("autonomous") {
		t.Fatal("HasExport disagrees with the program's exports")
	}
	if err := inst.CallExport(ctx, "opcontrol"); err != nil {
		t.Fatalf("CallExport: %v", err)
	}
	if err := inst.CallExport(ctx, "autonomous"); err == nil {
		t.Fatal("CallExport of a missing export succeeded")
	}
}

func TestLink_Traps(t *testing.T) {
	ctx := context.Background()
	inst := link(t, exportedTable(false), millisFunc(0))

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{"unreachable", func() error { return inst.CallVoid(ctx, 3) }, "unreachable"},
		{"signature mismatch", func() error { return inst.CallTask(ctx, 2, 0) }, "indirect call type mismatch"},
		{"null entry", func() error { return inst.CallVoid(ctx, 0) }, "invalid table access"},
		{"past table end", func() error { return inst.CallVoid(ctx, 99) }, "invalid table access"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("expected a trap")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLink_ImportedTable(t *testing.T) {
	ctx := context.Background()
	inst := link(t, importedTable())

	for i := 0; i < 2; i++ {
		if err := inst.CallVoid(ctx, 1); err != nil {
			t.Fatalf("CallVoid: %v", err)
		}
	}
	if v, _ := inst.Memory().ReadU32(0); v != 2 {
		t.Fatalf("counter = %d, want 2", v)
	}
	if inst.Stacks().Enabled() {
		t.Fatal("program without a stack pointer has an enabled switcher")
	}
}

func TestLink_MissingHostFunction(t *testing.T) {
	ctx := context.Background()
	bin := exportedTable(false)
	m, err := wasm.Parse(bin)
	if err != nil {
		t.Fatal(err)
	}
	e := New(ctx, nil)
	defer e.Close(ctx)

	_, err = e.Link(ctx, m, bin, nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindInstantiation}) {
		t.Fatalf("Link without host functions = %v", err)
	}
}

// startProgram builds a program whose start function runs body.
func startProgram(body wasm.Code) []byte {
	b := wasm.NewBuilder()
	b.ImportFunc("env", "exit", taskTy)
	b.ImportMemory("env", "memory", wasm.MemoryType{Limits: wasm.Limits{Min: 1}})
	start := b.Func(void, nil, body.End())
	b.Export("opcontrol", wasm.KindFunc, start)
	b.Start(start)
	return b.Bytes()
}

func TestLink_StartFunction(t *testing.T) {
	ctx := context.Background()
	exit := HostFunc{
		Name: "exit",
		Type: taskTy,
		Fn: func(_ context.Context, _ api.Module, stack []uint64) {
			panic(sys.NewExitError(api.DecodeU32(stack[0])))
		},
	}

	tests := []struct {
		name string
		body wasm.Code
		want string
	}{
		// Function 0 is the exit import.
		{"trap", wasm.Code(nil).Unreachable(), "wasm error: unreachable"},
		{"exit", wasm.Code(nil).I32Const(3).Call(0), "module closed with exit_code(3)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := startProgram(tt.body)
			m, err := wasm.Parse(bin)
			if err != nil {
				t.Fatal(err)
			}
			e := New(ctx, nil)
			defer e.Close(ctx)

			_, err = e.Link(ctx, m, bin, []HostFunc{exit})
			var start *StartError
			if !stderrors.As(err, &start) {
				t.Fatalf("Link = %v, want a start error", err)
			}
			if !strings.HasPrefix(start.Err.Error(), tt.want) {
				t.Fatalf("start error %q does not begin with %q", start.Err, tt.want)
			}
		})
	}

	// A clean start function links normally.
	link(t, startProgram(wasm.Code(nil)), exit)
}

func TestPageAllocator(t *testing.T) {
	ctx := context.Background()
	inst := link(t, exportedTable(false), millisFunc(0))

	alloc, ok := inst.Allocator().(*PageAllocator)
	if !ok {
		t.Fatalf("allocator = %T, want *PageAllocator", inst.Allocator())
	}
	before := inst.Memory().Size()

	a, err := alloc.Alloc(ctx, 100, 16)
	if err != nil {
		t.Fatal(err)
	}
	b, err := alloc.Alloc(ctx, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if a < before || a%16 != 0 {
		t.Fatalf("first block at %d, memory was %d bytes", a, before)
	}
	if b < a+100 || b%8 != 0 {
		t.Fatalf("second block at %d overlaps first at %d", b, a)
	}
	if inst.Memory().Size() <= before {
		t.Fatal("memory did not grow")
	}
	if _, err := alloc.Alloc(ctx, 4, 3); err == nil {
		t.Fatal("non power of two alignment accepted")
	}

	big, err := alloc.Alloc(ctx, 3*wasm.PageSize, 16)
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Memory().Write(big+3*wasm.PageSize-1, []byte{1}); err != nil {
		t.Fatalf("last byte of large block not writable: %v", err)
	}
}

func TestGuestAllocator(t *testing.T) {
	inst := link(t, exportedTable(true), millisFunc(0))

	if _, ok := inst.Allocator().(*GuestAllocator); !ok {
		t.Fatalf("allocator = %T, want *GuestAllocator", inst.Allocator())
	}
	p, err := inst.Allocator().Alloc(context.Background(), 64, 16)
	if err != nil || p != 2048 {
		t.Fatalf("Alloc = %d, %v", p, err)
	}
}

func TestMemory_CString(t *testing.T) {
	inst := link(t, exportedTable(false), millisFunc(0))
	mem := inst.Memory()

	if err := mem.WriteCString(100, "hello"); err != nil {
		t.Fatal(err)
	}
	if s, err := mem.ReadCString(100, 40); err != nil || s != "hello" {
		t.Fatalf("ReadCString = %q, %v", s, err)
	}
	if _, err := mem.ReadCString(100, 3); err == nil {
		t.Fatal("string longer than max accepted")
	}
	if _, err := mem.ReadCString(mem.Size(), 10); err == nil {
		t.Fatal("read past memory accepted")
	}
	if err := mem.WriteU32(mem.Size()-2, 1); err == nil {
		t.Fatal("straddling write accepted")
	}
}

func TestStackSwitcher(t *testing.T) {
	inst := link(t, exportedTable(false), millisFunc(0))
	st := inst.Stacks()
	if !st.Enabled() || st.Initial() != 4096 {
		t.Fatalf("switcher enabled=%v initial=%d", st.Enabled(), st.Initial())
	}
	sp := inst.Module().ExportedGlobal(wasm.StackPointerName).(api.MutableGlobal)

	a, b := &rtos.Task{}, &rtos.Task{}
	st.Assign(a, 4096)
	st.Assign(b, 70000)

	st.SwitchIn(a)
	sp.Set(4000)
	st.SwitchOut(a)

	st.SwitchIn(b)
	if got := uint32(sp.Get()); got != 70000 {
		t.Fatalf("b starts with sp %d", got)
	}
	st.SwitchOut(b)

	st.SwitchIn(a)
	if got := uint32(sp.Get()); got != 4000 {
		t.Fatalf("a resumed with sp %d, want 4000", got)
	}

	unassigned := &rtos.Task{}
	st.SwitchIn(unassigned)
	if got := uint32(sp.Get()); got != 4000 {
		t.Fatalf("unassigned task changed sp to %d", got)
	}
}

func TestValueTypes(t *testing.T) {
	got, err := ValueTypes([]wasm.ValType{wasm.ValI32, wasm.ValI64, wasm.ValF32, wasm.ValF64})
	if err != nil {
		t.Fatal(err)
	}
	want := []api.ValueType{api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("type %d = %v, want %v", i, got[i], want[i])
		}
	}
	if _, err := ValueTypes([]wasm.ValType{wasm.ValV128}); err == nil {
		t.Fatal("v128 accepted")
	}
}
