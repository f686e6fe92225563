package wasm

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrNotWasm is returned for input without the binary module header.
var ErrNotWasm = errors.New("not a WebAssembly binary module")

// Parse decodes the linking-relevant parts of a binary module: types,
// imports, function declarations, tables, memories, globals, exports and
// the global names subsection of the name section.
func Parse(data []byte) (*Module, error) {
	if len(data) < len(header) || !bytes.Equal(data[:4], header[:4]) {
		return nil, ErrNotWasm
	}
	if !bytes.Equal(data[4:8], header[4:]) {
		return nil, fmt.Errorf("wasm: unsupported binary version %x", data[4:8])
	}

	m := &Module{}
	r := newReader(data, 0)
	r.pos = len(header)
	lastRank := 0

	for !r.done() {
		id, err := r.readByte()
		if err != nil {
			return nil, r.fail("", err)
		}
		size, err := r.u32()
		if err != nil {
			return nil, r.fail("", err)
		}
		start := r.offset()
		body, err := r.readBytes(int(size))
		if err != nil {
			return nil, r.fail(sectionName(id), err)
		}

		if id != SectionCustom {
			rank := sectionRank(id)
			if rank == 0 {
				return nil, &ParseError{Err: fmt.Errorf("unknown section id %d", id), Position: start}
			}
			if rank <= lastRank {
				return nil, &ParseError{Err: errors.New("section out of order or duplicated"), Section: sectionName(id), Position: start}
			}
			lastRank = rank
		}

		m.Sections = append(m.Sections, Section{ID: id, Data: body, Offset: start})
		if err := m.decodeSection(id, newReader(body, start)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Module) decodeSection(id byte, r *reader) error {
	var err error
	switch id {
	case SectionType:
		err = m.decodeTypes(r)
	case SectionImport:
		err = m.decodeImports(r)
	case SectionFunction:
		err = decodeVec(r, func() error {
			idx, err := r.u32()
			m.Funcs = append(m.Funcs, idx)
			return err
		})
	case SectionTable:
		err = decodeVec(r, func() error {
			t, err := decodeTableType(r)
			m.Tables = append(m.Tables, t)
			return err
		})
	case SectionMemory:
		err = decodeVec(r, func() error {
			l, err := decodeLimits(r)
			m.Memories = append(m.Memories, MemoryType{Limits: l})
			return err
		})
	case SectionGlobal:
		err = decodeVec(r, func() error {
			g, err := decodeGlobal(r)
			m.Globals = append(m.Globals, g)
			return err
		})
	case SectionExport:
		err = m.decodeExports(r)
	case SectionCustom:
		m.decodeCustom(r)
		return nil
	default:
		return nil
	}
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return err
		}
		return r.fail(sectionName(id), err)
	}
	if !r.done() {
		return r.fail(sectionName(id), errors.New("trailing bytes"))
	}
	return nil
}

func decodeVec(r *reader, item func() error) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := item(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) decodeTypes(r *reader) error {
	return decodeVec(r, func() error {
		form, err := r.readByte()
		if err != nil {
			return err
		}
		if form != funcTypeForm {
			return fmt.Errorf("unsupported type form 0x%02x", form)
		}
		var ft FuncType
		if ft.Params, err = decodeValTypes(r); err != nil {
			return err
		}
		if ft.Results, err = decodeValTypes(r); err != nil {
			return err
		}
		m.Types = append(m.Types, ft)
		return nil
	})
}

func decodeValTypes(r *reader) ([]ValType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(n) > len(r.buf)-r.pos {
		return nil, errors.New("value type count exceeds section")
	}
	vs := make([]ValType, n)
	for i := range vs {
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		vs[i] = ValType(b)
	}
	return vs, nil
}

func (m *Module) decodeImports(r *reader) error {
	return decodeVec(r, func() error {
		var imp Import
		var err error
		if imp.Module, err = r.name(); err != nil {
			return err
		}
		if imp.Name, err = r.name(); err != nil {
			return err
		}
		if imp.Kind, err = r.readByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = r.u32()
		case KindTable:
			var t TableType
			t, err = decodeTableType(r)
			imp.Table = &t
		case KindMemory:
			var l Limits
			l, err = decodeLimits(r)
			imp.Memory = &MemoryType{Limits: l}
		case KindGlobal:
			var g GlobalType
			g, err = decodeGlobalType(r)
			imp.Global = &g
		case KindTag:
			if _, err = r.readByte(); err == nil {
				imp.TypeIdx, err = r.u32()
			}
		default:
			err = fmt.Errorf("unknown import kind 0x%02x", imp.Kind)
		}
		if err != nil {
			return err
		}
		m.Imports = append(m.Imports, imp)
		return nil
	})
}

func (m *Module) decodeExports(r *reader) error {
	return decodeVec(r, func() error {
		var e Export
		var err error
		if e.Name, err = r.name(); err != nil {
			return err
		}
		if e.Kind, err = r.readByte(); err != nil {
			return err
		}
		if e.Index, err = r.u32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, e)
		return nil
	})
}

func decodeLimits(r *reader) (Limits, error) {
	flags, err := r.readByte()
	if err != nil {
		return Limits{}, err
	}
	var l Limits
	switch flags {
	case limitsMin:
	case limitsMinMax:
		l.HasMax = true
	case limitsShared:
		l.Shared = true
	case limitsSharedMax:
		l.Shared, l.HasMax = true, true
	default:
		return Limits{}, fmt.Errorf("unsupported limits flags 0x%02x", flags)
	}
	if l.Min, err = r.u32(); err != nil {
		return Limits{}, err
	}
	if l.HasMax {
		if l.Max, err = r.u32(); err != nil {
			return Limits{}, err
		}
	}
	return l, nil
}

func decodeTableType(r *reader) (TableType, error) {
	elem, err := r.readByte()
	if err != nil {
		return TableType{}, err
	}
	l, err := decodeLimits(r)
	return TableType{ElemType: ValType(elem), Limits: l}, err
}

func decodeGlobalType(r *reader) (GlobalType, error) {
	vt, err := r.readByte()
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.readByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: ValType(vt), Mutable: mut == 1}, nil
}

func decodeGlobal(r *reader) (Global, error) {
	gt, err := decodeGlobalType(r)
	if err != nil {
		return Global{}, err
	}
	init, err := skipConstExpr(r)
	if err != nil {
		return Global{}, err
	}
	return Global{Type: gt, Init: init}, nil
}

// skipConstExpr consumes a constant expression and returns its raw bytes.
func skipConstExpr(r *reader) ([]byte, error) {
	start := r.pos
	for {
		op, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			return r.buf[start:r.pos], nil
		case OpI32Const, OpI64Const:
			_, err = r.s64()
		case OpF32Const:
			_, err = r.readBytes(4)
		case OpF64Const:
			_, err = r.readBytes(8)
		case OpGlobalGet, OpRefFunc:
			_, err = r.u32()
		case OpRefNull:
			_, err = r.readByte()
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		default:
			return nil, fmt.Errorf("unsupported opcode 0x%02x in constant expression", op)
		}
		if err != nil {
			return nil, err
		}
	}
}

// decodeCustom reads the global names subsection of the name section.
// Malformed name sections are ignored, as engines do.
func (m *Module) decodeCustom(r *reader) {
	name, err := r.name()
	if err != nil || name != "name" {
		return
	}
	for !r.done() {
		id, err := r.readByte()
		if err != nil {
			return
		}
		size, err := r.u32()
		if err != nil {
			return
		}
		body, err := r.readBytes(int(size))
		if err != nil {
			return
		}
		if id != nameSubsectionGlobal {
			continue
		}
		sub := newReader(body, 0)
		names := make(map[uint32]string)
		err = decodeVec(sub, func() error {
			idx, err := sub.u32()
			if err != nil {
				return err
			}
			n, err := sub.name()
			names[idx] = n
			return err
		})
		if err == nil {
			m.GlobalNames = names
		}
	}
}

const nameSubsectionGlobal byte = 7

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	case SectionTag:
		return "tag"
	default:
		return fmt.Sprintf("section %d", id)
	}
}
