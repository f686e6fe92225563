package engine

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"

	simulator "github.com/vexide/pros-simulator"
	"github.com/vexide/pros-simulator/errors"
)

// Memory wraps wazero memory to implement simulator.Memory
type Memory struct {
	mem api.Memory
}

// NewMemory wraps mem.
func NewMemory(mem api.Memory) *Memory {
	return &Memory{mem: mem}
}

func (m *Memory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseHost, offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseHost, offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseHost, offset, 1)
	}
	return v, nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseHost, offset, 4)
	}
	return v, nil
}

func (m *Memory) ReadI32(offset uint32) (int32, error) {
	v, err := m.ReadU32(offset)
	return int32(v), err
}

func (m *Memory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return errors.OutOfBounds(errors.PhaseHost, offset, 1)
	}
	return nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseHost, offset, 4)
	}
	return nil
}

func (m *Memory) WriteI32(offset uint32, value int32) error {
	return m.WriteU32(offset, uint32(value))
}

// ReadCString reads up to max bytes, stopping at the first NUL. A string
// that runs off the end of memory or past max without a terminator is an
// error.
func (m *Memory) ReadCString(offset uint32, max uint32) (string, error) {
	size := m.mem.Size()
	if offset >= size {
		return "", errors.OutOfBounds(errors.PhaseHost, offset, 1)
	}
	n := size - offset
	if uint64(n) > uint64(max)+1 {
		n = max + 1
	}
	data, ok := m.mem.Read(offset, n)
	if !ok {
		return "", errors.OutOfBounds(errors.PhaseHost, offset, n)
	}
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		if n > max {
			return "", errors.InvalidInput(errors.PhaseHost, "string exceeds maximum length")
		}
		return "", errors.OutOfBounds(errors.PhaseHost, offset, n)
	}
	return string(data[:end]), nil
}

func (m *Memory) WriteCString(offset uint32, s string) error {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return m.Write(offset, buf)
}

// Grow adds pages and returns the previous size in pages.
func (m *Memory) Grow(pages uint32) (uint32, bool) {
	return m.mem.Grow(pages)
}

func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Compile-time check that Memory implements simulator.Memory and MemorySizer
var _ simulator.Memory = (*Memory)(nil)
var _ simulator.MemorySizer = (*Memory)(nil)
