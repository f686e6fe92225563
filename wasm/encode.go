package wasm

import "fmt"

// AddExport appends an export and rewrites the export section, creating
// it if the module had none.
func (m *Module) AddExport(e Export) error {
	if _, exists := m.Export(e.Name); exists {
		return fmt.Errorf("wasm: export %q already exists", e.Name)
	}
	m.Exports = append(m.Exports, e)
	m.setSection(SectionExport, encodeExports(m.Exports))
	return nil
}

// setSection replaces the section with the given id or inserts it at its
// ordered position.
func (m *Module) setSection(id byte, body []byte) {
	for i := range m.Sections {
		if m.Sections[i].ID == id {
			m.Sections[i] = Section{ID: id, Data: body, Offset: -1}
			return
		}
	}
	rank := sectionRank(id)
	at := len(m.Sections)
	for i, s := range m.Sections {
		if s.ID != SectionCustom && sectionRank(s.ID) > rank {
			at = i
			break
		}
	}
	m.Sections = append(m.Sections, Section{})
	copy(m.Sections[at+1:], m.Sections[at:])
	m.Sections[at] = Section{ID: id, Data: body, Offset: -1}
}

func encodeExports(exports []Export) []byte {
	body := AppendULEB128(nil, uint32(len(exports)))
	for _, e := range exports {
		body = appendName(body, e.Name)
		body = append(body, e.Kind)
		body = AppendULEB128(body, e.Index)
	}
	return body
}

func appendValTypes(dst []byte, vs []ValType) []byte {
	dst = AppendULEB128(dst, uint32(len(vs)))
	for _, v := range vs {
		dst = append(dst, byte(v))
	}
	return dst
}

func appendFuncType(dst []byte, ft FuncType) []byte {
	dst = append(dst, funcTypeForm)
	dst = appendValTypes(dst, ft.Params)
	return appendValTypes(dst, ft.Results)
}

func appendLimits(dst []byte, l Limits) []byte {
	var flags byte
	switch {
	case l.Shared && l.HasMax:
		flags = limitsSharedMax
	case l.Shared:
		flags = limitsShared
	case l.HasMax:
		flags = limitsMinMax
	default:
		flags = limitsMin
	}
	dst = append(dst, flags)
	dst = AppendULEB128(dst, l.Min)
	if l.HasMax {
		dst = AppendULEB128(dst, l.Max)
	}
	return dst
}

func appendGlobalType(dst []byte, g GlobalType) []byte {
	mut := byte(0)
	if g.Mutable {
		mut = 1
	}
	return append(dst, byte(g.ValType), mut)
}
