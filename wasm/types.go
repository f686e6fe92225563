package wasm

import (
	"fmt"
	"strings"
)

// ValType is a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures match exactly.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

func (f FuncType) String() string {
	join := func(vs []ValType) string {
		s := make([]string, len(vs))
		for i, v := range vs {
			s[i] = v.String()
		}
		return strings.Join(s, ", ")
	}
	return fmt.Sprintf("(%s) -> (%s)", join(f.Params), join(f.Results))
}

// Limits bound the size of a memory (in pages) or table (in elements).
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
	Shared bool
}

// TableType describes a table.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global variable.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a defined global. Init holds the raw constant expression,
// including its terminating end opcode.
type Global struct {
	Init []byte
	Type GlobalType
}

// InitI32 returns the initial value if Init is a plain i32.const.
func (g Global) InitI32() (int32, bool) {
	if len(g.Init) < 3 || g.Init[0] != OpI32Const || g.Init[len(g.Init)-1] != OpEnd {
		return 0, false
	}
	r := newReader(g.Init[1:len(g.Init)-1], 0)
	v, err := r.s64()
	if err != nil || !r.done() {
		return 0, false
	}
	return int32(v), true
}

// Import is an imported function, table, memory, global or tag.
// Exactly one of the type fields applies, selected by Kind.
type Import struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	Module  string
	Name    string
	TypeIdx uint32
	Kind    byte
}

func (i Import) String() string {
	return fmt.Sprintf("%s %s#%s", KindName(i.Kind), i.Module, i.Name)
}

// Export is an exported definition.
type Export struct {
	Name  string
	Index uint32
	Kind  byte
}

// Section is a raw section. Offset is where its body starts in the
// original binary, or -1 for a section created after parsing.
type Section struct {
	Data   []byte
	ID     byte
	Offset int
}

// Module is the parsed shape of a binary module. Only the sections needed
// to link a module are decoded; all sections are kept raw so the binary
// can be reassembled.
type Module struct {
	GlobalNames map[uint32]string
	Types       []FuncType
	Imports     []Import
	Funcs       []uint32
	Tables      []TableType
	Memories    []MemoryType
	Globals     []Global
	Exports     []Export
	Sections    []Section
}

// NumImported counts imports of the given kind.
func (m *Module) NumImported(kind byte) uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// ImportsOf returns the imports of the given kind in index order.
func (m *Module) ImportsOf(kind byte) []Import {
	var out []Import
	for _, imp := range m.Imports {
		if imp.Kind == kind {
			out = append(out, imp)
		}
	}
	return out
}

// HasStart reports whether the module has a start function, which runs
// during instantiation.
func (m *Module) HasStart() bool {
	for _, sec := range m.Sections {
		if sec.ID == SectionStart {
			return true
		}
	}
	return false
}

// Export looks up an export by name.
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// FuncType returns the signature of function index idx, which counts
// imported functions first.
func (m *Module) FuncType(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	imported := m.ImportsOf(KindFunc)
	switch {
	case idx < uint32(len(imported)):
		typeIdx = imported[idx].TypeIdx
	case idx-uint32(len(imported)) < uint32(len(m.Funcs)):
		typeIdx = m.Funcs[idx-uint32(len(imported))]
	default:
		return FuncType{}, false
	}
	if typeIdx >= uint32(len(m.Types)) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// ExportedFuncType returns the signature of an exported function.
func (m *Module) ExportedFuncType(name string) (FuncType, bool) {
	e, ok := m.Export(name)
	if !ok || e.Kind != KindFunc {
		return FuncType{}, false
	}
	return m.FuncType(e.Index)
}

// Global returns global index idx, which counts imported globals first.
// Imported globals have no initializer.
func (m *Module) Global(idx uint32) (Global, bool) {
	imported := m.ImportsOf(KindGlobal)
	if idx < uint32(len(imported)) {
		return Global{Type: *imported[idx].Global}, true
	}
	idx -= uint32(len(imported))
	if idx >= uint32(len(m.Globals)) {
		return Global{}, false
	}
	return m.Globals[idx], true
}

// Bytes reassembles the binary from its sections.
func (m *Module) Bytes() []byte {
	size := len(header)
	for _, s := range m.Sections {
		size += len(s.Data) + 6
	}
	out := make([]byte, 0, size)
	out = append(out, header...)
	for _, s := range m.Sections {
		out = appendSection(out, s.ID, s.Data)
	}
	return out
}
