package wasm

// Magic and Version open every binary module.
var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Section IDs. Sections appear in a fixed order, custom sections anywhere.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// sectionRank gives the position a section must take in a module. The tag
// and data count sections have IDs out of order with where they go.
func sectionRank(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}

// Import and export descriptor kinds.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

// KindName returns a readable name for an import or export kind.
func KindName(kind byte) string {
	switch kind {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Value types.
const (
	ValI32     ValType = 0x7F
	ValI64     ValType = 0x7E
	ValF32     ValType = 0x7D
	ValF64     ValType = 0x7C
	ValV128    ValType = 0x7B
	ValFuncRef ValType = 0x70
	ValExtern  ValType = 0x6F
)

const funcTypeForm byte = 0x60

// Limits flags.
const (
	limitsMin       byte = 0x00
	limitsMinMax    byte = 0x01
	limitsShared    byte = 0x02
	limitsSharedMax byte = 0x03
)

// Opcodes used by generated code and constant expressions.
const (
	OpUnreachable  byte = 0x00
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpEnd          byte = 0x0B
	OpBr           byte = 0x0C
	OpBrIf         byte = 0x0D
	OpReturn       byte = 0x0F
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop         byte = 0x1A
	OpLocalGet     byte = 0x20
	OpLocalSet     byte = 0x21
	OpGlobalGet    byte = 0x23
	OpGlobalSet    byte = 0x24
	OpI32Load      byte = 0x28
	OpI32Store     byte = 0x36
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
	OpF32Const     byte = 0x43
	OpF64Const     byte = 0x44
	OpI32Eqz       byte = 0x45
	OpI32LtS       byte = 0x48
	OpI32Add       byte = 0x6A
	OpI32Sub       byte = 0x6B
	OpI32Mul       byte = 0x6C
	OpI32DivS      byte = 0x6D
	OpI64Add       byte = 0x7C
	OpI64Sub       byte = 0x7D
	OpI64Mul       byte = 0x7E
	OpRefNull      byte = 0xD0
	OpRefFunc      byte = 0xD2
)

// blockEmpty is the block type of a block with no parameters or results.
const blockEmpty byte = 0x40

// PageSize is the size of a linear memory page.
const PageSize = 65536
