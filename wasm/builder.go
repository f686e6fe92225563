package wasm

import "fmt"

// Builder assembles small modules from scratch, for glue code generated at
// link time. Imports of a kind must be added before definitions of that
// kind so indices stay stable.
type Builder struct {
	types    []FuncType
	imports  []Import
	funcs    []builtFunc
	tables   []TableType
	memories []MemoryType
	globals  []Global
	exports  []Export
	elems    []segment
	data     []segment
	start    *uint32
	imported [5]uint32
}

// segment is an active element or data segment for index 0 at a constant offset.
type segment struct {
	funcs  []uint32
	bytes  []byte
	offset int32
}

type builtFunc struct {
	locals  []ValType
	body    []byte
	typeIdx uint32
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Type interns a signature and returns its type index.
func (b *Builder) Type(ft FuncType) uint32 {
	for i, t := range b.types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	b.types = append(b.types, ft)
	return uint32(len(b.types) - 1)
}

func (b *Builder) addImport(imp Import, defined int) uint32 {
	if defined > 0 {
		panic(fmt.Sprintf("wasm: %s import %s#%s added after definitions", KindName(imp.Kind), imp.Module, imp.Name))
	}
	b.imports = append(b.imports, imp)
	idx := b.imported[imp.Kind]
	b.imported[imp.Kind]++
	return idx
}

// ImportFunc imports a function and returns its function index.
func (b *Builder) ImportFunc(module, name string, ft FuncType) uint32 {
	return b.addImport(Import{Module: module, Name: name, Kind: KindFunc, TypeIdx: b.Type(ft)}, len(b.funcs))
}

// ImportTable imports a table and returns its table index.
func (b *Builder) ImportTable(module, name string, t TableType) uint32 {
	return b.addImport(Import{Module: module, Name: name, Kind: KindTable, Table: &t}, len(b.tables))
}

// ImportMemory imports a memory and returns its memory index.
func (b *Builder) ImportMemory(module, name string, mt MemoryType) uint32 {
	return b.addImport(Import{Module: module, Name: name, Kind: KindMemory, Memory: &mt}, len(b.memories))
}

// ImportGlobal imports a global and returns its global index.
func (b *Builder) ImportGlobal(module, name string, g GlobalType) uint32 {
	return b.addImport(Import{Module: module, Name: name, Kind: KindGlobal, Global: &g}, len(b.globals))
}

// Func defines a function. body must end with OpEnd.
func (b *Builder) Func(ft FuncType, locals []ValType, body []byte) uint32 {
	b.funcs = append(b.funcs, builtFunc{typeIdx: b.Type(ft), locals: locals, body: body})
	return b.imported[KindFunc] + uint32(len(b.funcs)-1)
}

// Table defines a table.
func (b *Builder) Table(t TableType) uint32 {
	b.tables = append(b.tables, t)
	return b.imported[KindTable] + uint32(len(b.tables)-1)
}

// Memory defines a linear memory.
func (b *Builder) Memory(mt MemoryType) uint32 {
	b.memories = append(b.memories, mt)
	return b.imported[KindMemory] + uint32(len(b.memories)-1)
}

// Global defines a global with a constant initializer ending in OpEnd.
func (b *Builder) Global(g GlobalType, init []byte) uint32 {
	b.globals = append(b.globals, Global{Type: g, Init: init})
	return b.imported[KindGlobal] + uint32(len(b.globals)-1)
}

// Export exports a definition under name.
func (b *Builder) Export(name string, kind byte, idx uint32) {
	b.exports = append(b.exports, Export{Name: name, Kind: kind, Index: idx})
}

// Start makes fn the module's start function.
func (b *Builder) Start(fn uint32) {
	b.start = &fn
}

// Elem places funcs into table 0 starting at offset.
func (b *Builder) Elem(offset int32, funcs ...uint32) {
	b.elems = append(b.elems, segment{offset: offset, funcs: funcs})
}

// Data places data into memory 0 at offset.
func (b *Builder) Data(offset int32, data []byte) {
	b.data = append(b.data, segment{offset: offset, bytes: data})
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := append([]byte(nil), header...)

	if len(b.types) > 0 {
		body := AppendULEB128(nil, uint32(len(b.types)))
		for _, t := range b.types {
			body = appendFuncType(body, t)
		}
		out = appendSection(out, SectionType, body)
	}

	if len(b.imports) > 0 {
		body := AppendULEB128(nil, uint32(len(b.imports)))
		for _, imp := range b.imports {
			body = appendName(body, imp.Module)
			body = appendName(body, imp.Name)
			body = append(body, imp.Kind)
			switch imp.Kind {
			case KindFunc:
				body = AppendULEB128(body, imp.TypeIdx)
			case KindTable:
				body = append(body, byte(imp.Table.ElemType))
				body = appendLimits(body, imp.Table.Limits)
			case KindMemory:
				body = appendLimits(body, imp.Memory.Limits)
			case KindGlobal:
				body = appendGlobalType(body, *imp.Global)
			}
		}
		out = appendSection(out, SectionImport, body)
	}

	if len(b.funcs) > 0 {
		body := AppendULEB128(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			body = AppendULEB128(body, f.typeIdx)
		}
		out = appendSection(out, SectionFunction, body)
	}

	if len(b.tables) > 0 {
		body := AppendULEB128(nil, uint32(len(b.tables)))
		for _, t := range b.tables {
			body = append(body, byte(t.ElemType))
			body = appendLimits(body, t.Limits)
		}
		out = appendSection(out, SectionTable, body)
	}

	if len(b.memories) > 0 {
		body := AppendULEB128(nil, uint32(len(b.memories)))
		for _, mt := range b.memories {
			body = appendLimits(body, mt.Limits)
		}
		out = appendSection(out, SectionMemory, body)
	}

	if len(b.globals) > 0 {
		body := AppendULEB128(nil, uint32(len(b.globals)))
		for _, g := range b.globals {
			body = appendGlobalType(body, g.Type)
			body = append(body, g.Init...)
		}
		out = appendSection(out, SectionGlobal, body)
	}

	if len(b.exports) > 0 {
		out = appendSection(out, SectionExport, encodeExports(b.exports))
	}

	if b.start != nil {
		out = appendSection(out, SectionStart, AppendULEB128(nil, *b.start))
	}

	if len(b.elems) > 0 {
		body := AppendULEB128(nil, uint32(len(b.elems)))
		for _, e := range b.elems {
			body = append(body, 0x00)
			body = append(body, ConstI32(e.offset)...)
			body = AppendULEB128(body, uint32(len(e.funcs)))
			for _, f := range e.funcs {
				body = AppendULEB128(body, f)
			}
		}
		out = appendSection(out, SectionElement, body)
	}

	if len(b.funcs) > 0 {
		body := AppendULEB128(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			fn := appendLocals(nil, f.locals)
			fn = append(fn, f.body...)
			body = AppendULEB128(body, uint32(len(fn)))
			body = append(body, fn...)
		}
		out = appendSection(out, SectionCode, body)
	}

	if len(b.data) > 0 {
		body := AppendULEB128(nil, uint32(len(b.data)))
		for _, d := range b.data {
			body = append(body, 0x00)
			body = append(body, ConstI32(d.offset)...)
			body = AppendULEB128(body, uint32(len(d.bytes)))
			body = append(body, d.bytes...)
		}
		out = appendSection(out, SectionData, body)
	}

	return out
}

// appendLocals run-length encodes local declarations.
func appendLocals(dst []byte, locals []ValType) []byte {
	type run struct {
		n uint32
		t ValType
	}
	var runs []run
	for _, l := range locals {
		if len(runs) > 0 && runs[len(runs)-1].t == l {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{n: 1, t: l})
	}
	dst = AppendULEB128(dst, uint32(len(runs)))
	for _, r := range runs {
		dst = AppendULEB128(dst, r.n)
		dst = append(dst, byte(r.t))
	}
	return dst
}

// Code is an instruction sequence under construction.
type Code []byte

func (c Code) LocalGet(i uint32) Code {
	return AppendULEB128(append(c, OpLocalGet), i)
}

func (c Code) GlobalGet(i uint32) Code {
	return AppendULEB128(append(c, OpGlobalGet), i)
}

func (c Code) GlobalSet(i uint32) Code {
	return AppendULEB128(append(c, OpGlobalSet), i)
}

func (c Code) I32Const(v int32) Code {
	return AppendSLEB128(append(c, OpI32Const), int64(v))
}

func (c Code) Call(fn uint32) Code {
	return AppendULEB128(append(c, OpCall), fn)
}

// CallIndirect calls through table with the signature at typeIdx. The
// table element index must be on top of the stack.
func (c Code) CallIndirect(typeIdx, table uint32) Code {
	c = AppendULEB128(append(c, OpCallIndirect), typeIdx)
	return AppendULEB128(c, table)
}

func (c Code) LocalSet(i uint32) Code {
	return AppendULEB128(append(c, OpLocalSet), i)
}

func (c Code) Drop() Code   { return append(c, OpDrop) }
func (c Code) Return() Code { return append(c, OpReturn) }

// Block and Loop open a structured block with no parameters or results.
// Close them with End.
func (c Code) Block() Code { return append(c, OpBlock, blockEmpty) }
func (c Code) Loop() Code  { return append(c, OpLoop, blockEmpty) }

func (c Code) Br(depth uint32) Code {
	return AppendULEB128(append(c, OpBr), depth)
}

func (c Code) BrIf(depth uint32) Code {
	return AppendULEB128(append(c, OpBrIf), depth)
}

func (c Code) I32Add() Code  { return append(c, OpI32Add) }
func (c Code) I32Sub() Code  { return append(c, OpI32Sub) }
func (c Code) I32DivS() Code { return append(c, OpI32DivS) }
func (c Code) I32Eqz() Code  { return append(c, OpI32Eqz) }
func (c Code) I32LtS() Code  { return append(c, OpI32LtS) }

// I32Load loads from the address on the stack plus offset, 4-byte aligned.
func (c Code) I32Load(offset uint32) Code {
	return AppendULEB128(append(c, OpI32Load, 2), offset)
}

// I32Store stores the value on top of the stack at the address below it plus offset.
func (c Code) I32Store(offset uint32) Code {
	return AppendULEB128(append(c, OpI32Store, 2), offset)
}

func (c Code) Unreachable() Code {
	return append(c, OpUnreachable)
}

func (c Code) End() Code {
	return append(c, OpEnd)
}

// ConstI32 is the constant expression i32.const v.
func ConstI32(v int32) []byte {
	return Code(nil).I32Const(v).End()
}
