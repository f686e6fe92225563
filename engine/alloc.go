package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	simulator "github.com/vexide/pros-simulator"
	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/wasm"
)

// MemalignExport is the optional guest allocator export, called as
// wasm_memalign(align, size) -> ptr.
const MemalignExport = "wasm_memalign"

// NewAllocator returns the guest's own allocator when the module exports a
// well-typed wasm_memalign, and a PageAllocator otherwise.
func NewAllocator(mod api.Module, mem *Memory) simulator.Allocator {
	if fn := mod.ExportedFunction(MemalignExport); fn != nil {
		def := fn.Definition()
		params, results := def.ParamTypes(), def.ResultTypes()
		if len(params) == 2 && params[0] == api.ValueTypeI32 && params[1] == api.ValueTypeI32 &&
			len(results) == 1 && results[0] == api.ValueTypeI32 {
			return &GuestAllocator{mod: mod}
		}
		Logger().Warn("ignoring wasm_memalign export with unexpected signature")
	}
	return &PageAllocator{mem: mem}
}

// GuestAllocator allocates through the program's wasm_memalign export.
type GuestAllocator struct {
	mod api.Module
}

func (a *GuestAllocator) Alloc(ctx context.Context, size, align uint32) (uint32, error) {
	// api.Function is not safe for concurrent use, so every caller gets its own.
	fn := a.mod.ExportedFunction(MemalignExport)
	res, err := fn.Call(ctx, uint64(align), uint64(size))
	if err != nil {
		return 0, errors.New(errors.PhaseHost, errors.KindAllocation).
			Detail("wasm_memalign(%d, %d) failed", align, size).
			Cause(err).
			Build()
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(errors.PhaseHost, size, align)
	}
	return ptr, nil
}

// PageAllocator bump-allocates from pages the host grows for itself.
// Memory is never freed, which suits the small, long-lived allocations
// the host makes.
type PageAllocator struct {
	mem  *Memory
	next uint32
	end  uint32
	mu   sync.Mutex
}

func (a *PageAllocator) Alloc(_ context.Context, size, align uint32) (uint32, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, errors.InvalidInput(errors.PhaseHost, "alignment must be a power of two")
	}
	if size == 0 {
		size = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := alignUp(uint64(a.next), align)
	if a.end == 0 || start+uint64(size) > uint64(a.end) {
		need := uint64(size) + uint64(align)
		pages := (need + wasm.PageSize - 1) / wasm.PageSize
		prev, ok := a.mem.Grow(uint32(pages))
		if !ok {
			return 0, errors.AllocationFailed(errors.PhaseHost, size, align)
		}
		base := uint64(prev) * wasm.PageSize
		end := base + pages*wasm.PageSize
		if end > 1<<32-1 {
			return 0, errors.AllocationFailed(errors.PhaseHost, size, align)
		}
		Logger().Debug("reserved host pages", zap.Uint64("pages", pages), zap.Uint64("base", base))
		a.next, a.end = uint32(base), uint32(end)
		start = alignUp(base, align)
	}
	a.next = uint32(start + uint64(size))
	return uint32(start), nil
}

func alignUp(v uint64, align uint32) uint64 {
	a := uint64(align)
	return (v + a - 1) &^ (a - 1)
}

var _ simulator.Allocator = (*GuestAllocator)(nil)
var _ simulator.Allocator = (*PageAllocator)(nil)
