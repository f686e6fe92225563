package simulator

import "context"

// Memory is a view of a robot program's linear memory. Offsets are guest
// pointers. All accessors fail instead of trapping on out-of-bounds access.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
	ReadI32(offset uint32) (int32, error)
	WriteU8(offset uint32, value uint8) error
	WriteU32(offset uint32, value uint32) error
	WriteI32(offset uint32, value int32) error

	// ReadCString reads a NUL-terminated string of at most max bytes,
	// excluding the terminator.
	ReadCString(offset uint32, max uint32) (string, error)

	// WriteCString writes s followed by a NUL byte.
	WriteCString(offset uint32, s string) error
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator hands out guest memory for host-owned data such as errno
// cells, task stacks and strings returned to robot code.
type Allocator interface {
	Alloc(ctx context.Context, size, align uint32) (uint32, error)
}
