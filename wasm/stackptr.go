package wasm

import "errors"

// StackPointerName is the conventional name of the shadow-stack pointer
// global emitted by LLVM for wasm32 targets.
const StackPointerName = "__stack_pointer"

// ErrNoStackPointer is returned when no shadow-stack pointer can be found.
var ErrNoStackPointer = errors.New("wasm: module has no shadow-stack pointer global")

// StackPointer locates the shadow-stack pointer global. It prefers an
// export or a name-section entry called __stack_pointer and falls back to
// the first defined mutable i32 global, which is where LLVM places it.
func (m *Module) StackPointer() (uint32, error) {
	if e, ok := m.Export(StackPointerName); ok && e.Kind == KindGlobal {
		return e.Index, nil
	}
	for idx, name := range m.GlobalNames {
		if name != StackPointerName {
			continue
		}
		if g, ok := m.Global(idx); ok && g.Type.ValType == ValI32 && g.Type.Mutable {
			return idx, nil
		}
	}
	imported := m.NumImported(KindGlobal)
	for i, g := range m.Globals {
		if g.Type.ValType == ValI32 && g.Type.Mutable {
			return imported + uint32(i), nil
		}
	}
	return 0, ErrNoStackPointer
}

// ExportStackPointer makes sure the shadow-stack pointer is exported as
// __stack_pointer, so the host can save and restore it per task. It
// returns the global index and the possibly rewritten binary.
func ExportStackPointer(m *Module) (uint32, []byte, error) {
	idx, err := m.StackPointer()
	if err != nil {
		return 0, nil, err
	}
	if e, ok := m.Export(StackPointerName); ok {
		if e.Kind != KindGlobal || e.Index != idx {
			return 0, nil, errors.New("wasm: __stack_pointer is exported with the wrong kind")
		}
		return idx, m.Bytes(), nil
	}
	if err := m.AddExport(Export{Name: StackPointerName, Kind: KindGlobal, Index: idx}); err != nil {
		return 0, nil, err
	}
	return idx, m.Bytes(), nil
}
