package wasm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tetratelabs/wazero"
)

func TestLEB128(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"u 0", EncodeULEB128(0), []byte{0x00}},
		{"u 127", EncodeULEB128(127), []byte{0x7f}},
		{"u 128", EncodeULEB128(128), []byte{0x80, 0x01}},
		{"u 624485", EncodeULEB128(624485), []byte{0xe5, 0x8e, 0x26}},
		{"s 0", AppendSLEB128(nil, 0), []byte{0x00}},
		{"s -1", AppendSLEB128(nil, -1), []byte{0x7f}},
		{"s 64", AppendSLEB128(nil, 64), []byte{0xc0, 0x00}},
		{"s -123456", AppendSLEB128(nil, -123456), []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Fatalf("got % x, want % x", tt.got, tt.want)
			}
		})
	}

	r := newReader([]byte{0xc0, 0xbb, 0x78, 0xe5, 0x8e, 0x26}, 0)
	if v, err := r.s64(); err != nil || v != -123456 {
		t.Fatalf("s64 = %d, %v", v, err)
	}
	if v, err := r.u32(); err != nil || v != 624485 {
		t.Fatalf("u32 = %d, %v", v, err)
	}
	if _, err := newReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, 0).u32(); !errors.Is(err, ErrOverflow) {
		t.Fatalf("overflow = %v", err)
	}
}

// robotLike builds a module shaped like a compiled robot program.
func robotLike() []byte {
	b := NewBuilder()
	void := FuncType{}
	i32 := FuncType{Params: []ValType{ValI32}, Results: []ValType{ValI32}}
	b.ImportFunc("env", "lcd_initialize", FuncType{Results: []ValType{ValI32}})
	b.ImportMemory("env", "memory", MemoryType{Limits: Limits{Min: 2, Max: 16, HasMax: true}})
	b.Table(TableType{ElemType: ValFuncRef, Limits: Limits{Min: 4}})
	b.Global(GlobalType{ValType: ValI32, Mutable: true}, ConstI32(65536))
	b.Global(GlobalType{ValType: ValI32}, ConstI32(7))
	init := b.Func(void, nil, Code(nil).End())
	b.Func(i32, []ValType{ValI32, ValI32, ValI64}, Code(nil).LocalGet(0).End())
	b.Export("initialize", KindFunc, init)
	b.Export("__indirect_function_table", KindTable, 0)
	return b.Bytes()
}

func TestParse(t *testing.T) {
	m, err := Parse(robotLike())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(m.Imports) != 2 {
		t.Fatalf("imports = %v", m.Imports)
	}
	if imp := m.Imports[1]; imp.Kind != KindMemory || imp.Memory.Limits.Min != 2 || imp.Memory.Limits.Max != 16 {
		t.Fatalf("memory import = %+v", imp)
	}
	if m.NumImported(KindFunc) != 1 || len(m.Funcs) != 2 {
		t.Fatalf("funcs: imported %d defined %d", m.NumImported(KindFunc), len(m.Funcs))
	}
	ft, ok := m.ExportedFuncType("initialize")
	if !ok || len(ft.Params) != 0 || len(ft.Results) != 0 {
		t.Fatalf("initialize type = %v, %v", ft, ok)
	}
	if ft, ok := m.FuncType(0); !ok || ft.String() != "() -> (i32)" {
		t.Fatalf("imported func type = %v", ft)
	}
	if _, ok := m.FuncType(3); ok {
		t.Fatal("FuncType past end should fail")
	}
	if g, ok := m.Global(0); !ok || !g.Type.Mutable {
		t.Fatalf("global 0 = %+v", g)
	}
	if v, ok := m.Globals[0].InitI32(); !ok || v != 65536 {
		t.Fatalf("stack pointer init = %d, %v", v, ok)
	}
	if !bytes.Equal(m.Bytes(), robotLike()) {
		t.Fatal("Bytes does not reproduce the input")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not wasm", []byte("\x7fELF....")},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}},
		{"truncated section", append(append([]byte(nil), header...), SectionType, 0x05, 0x01)},
		{"out of order", append(append([]byte(nil), header...), SectionExport, 0x01, 0x00, SectionType, 0x01, 0x00)},
		{"unknown section", append(append([]byte(nil), header...), 0x2a, 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.data); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := Parse([]byte("hello world")); !errors.Is(err, ErrNotWasm) {
		t.Fatalf("err = %v, want ErrNotWasm", err)
	}
}

func TestAddExport(t *testing.T) {
	b := NewBuilder()
	b.Global(GlobalType{ValType: ValI32, Mutable: true}, ConstI32(1024))
	b.Func(FuncType{}, nil, Code(nil).End())
	m, err := Parse(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Exports) != 0 {
		t.Fatal("builder emitted exports")
	}

	if err := m.AddExport(Export{Name: "g", Kind: KindGlobal, Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddExport(Export{Name: "g", Kind: KindGlobal, Index: 0}); err == nil {
		t.Fatal("duplicate export accepted")
	}

	again, err := Parse(m.Bytes())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if e, ok := again.Export("g"); !ok || e.Kind != KindGlobal {
		t.Fatalf("export lost: %+v", again.Exports)
	}
	var ids []byte
	for _, s := range again.Sections {
		ids = append(ids, s.ID)
	}
	want := []byte{SectionType, SectionFunction, SectionGlobal, SectionExport, SectionCode}
	if !bytes.Equal(ids, want) {
		t.Fatalf("section order = %v, want %v", ids, want)
	}
}

func TestExportStackPointer(t *testing.T) {
	m, err := Parse(robotLike())
	if err != nil {
		t.Fatal(err)
	}
	idx, bin, err := ExportStackPointer(m)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("stack pointer global = %d", idx)
	}

	rewritten, err := Parse(bin)
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := rewritten.Export(StackPointerName); !ok || e.Index != 0 || e.Kind != KindGlobal {
		t.Fatalf("export = %+v, %v", e, ok)
	}

	// Exporting twice is idempotent.
	if idx2, _, err := ExportStackPointer(rewritten); err != nil || idx2 != idx {
		t.Fatalf("second export = %d, %v", idx2, err)
	}

	b := NewBuilder()
	b.Global(GlobalType{ValType: ValI64, Mutable: true}, Code(nil).End())
	noSP, _ := Parse(b.Bytes())
	if _, err := noSP.StackPointer(); !errors.Is(err, ErrNoStackPointer) {
		t.Fatalf("err = %v", err)
	}
}

func TestStackPointer_NameSection(t *testing.T) {
	b := NewBuilder()
	b.Global(GlobalType{ValType: ValI32, Mutable: true}, ConstI32(0))
	b.Global(GlobalType{ValType: ValI32, Mutable: true}, ConstI32(4096))
	bin := b.Bytes()

	var names []byte
	names = appendName(names, "name")
	sub := AppendULEB128(nil, 1)
	sub = AppendULEB128(sub, 1)
	sub = appendName(sub, StackPointerName)
	names = append(names, nameSubsectionGlobal)
	names = AppendULEB128(names, uint32(len(sub)))
	names = append(names, sub...)
	bin = appendSection(bin, SectionCustom, names)

	m, err := Parse(bin)
	if err != nil {
		t.Fatal(err)
	}
	if m.GlobalNames[1] != StackPointerName {
		t.Fatalf("global names = %v", m.GlobalNames)
	}
	if idx, err := m.StackPointer(); err != nil || idx != 1 {
		t.Fatalf("StackPointer = %d, %v", idx, err)
	}
}

func TestBuilder_ValidForWazero(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	b := NewBuilder()
	sig := FuncType{Params: []ValType{ValI32}}
	table := b.Table(TableType{ElemType: ValFuncRef, Limits: Limits{Min: 1}})
	b.Memory(MemoryType{Limits: Limits{Min: 1, Max: 2, HasMax: true}})
	fn := b.Func(FuncType{Params: []ValType{ValI32, ValI32}}, nil,
		Code(nil).LocalGet(1).LocalGet(0).CallIndirect(b.Type(sig), table).End())
	b.Export("call_task", KindFunc, fn)

	compiled, err := rt.CompileModule(ctx, b.Bytes())
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	if _, ok := compiled.ExportedFunctions()["call_task"]; !ok {
		t.Fatal("call_task not exported")
	}
}

func TestBuilder_ImportAfterDefinitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	b := NewBuilder()
	b.Func(FuncType{}, nil, Code(nil).End())
	b.ImportFunc("env", "late", FuncType{})
}

func TestBuilder_Start(t *testing.T) {
	b := NewBuilder()
	b.Global(GlobalType{ValType: ValI32, Mutable: true}, ConstI32(1024))
	fn := b.Func(FuncType{}, nil, Code(nil).End())
	m, err := Parse(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if m.HasStart() {
		t.Fatal("module without a start section reports one")
	}

	b.Start(fn)
	m, err = Parse(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !m.HasStart() {
		t.Fatal("start section missing")
	}

	// Rewriting the export section keeps the start section in place.
	if _, bin, err := ExportStackPointer(m); err != nil {
		t.Fatal(err)
	} else if again, err := Parse(bin); err != nil || !again.HasStart() {
		t.Fatalf("start section lost after rewrite: %v", err)
	}
}
