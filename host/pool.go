package host

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/resource"
	"github.com/vexide/pros-simulator/rtos"
)

// block is a region of guest memory the host allocated on behalf of a task:
// its shadow stack, errno cell or name copy.
type block struct {
	addr  uint32
	size  uint32
	align uint32
}

type blockKey struct {
	size  uint32
	align uint32
}

type ownedKey struct{}

// blockPool holds regions released by exited tasks. Neither guest allocator
// has a free the host can call, so regions are handed out again to
// requests of the same size and alignment.
type blockPool struct {
	mu   sync.Mutex
	free map[blockKey][]uint32
}

func (p *blockPool) get(size, align uint32) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := blockKey{size: size, align: align}
	list := p.free[k]
	if len(list) == 0 {
		return 0, false
	}
	addr := list[len(list)-1]
	p.free[k] = list[:len(list)-1]
	return addr, true
}

func (p *blockPool) put(b block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.free == nil {
		p.free = make(map[blockKey][]uint32)
	}
	k := blockKey{size: b.size, align: b.align}
	p.free[k] = append(p.free[k], b.addr)
}

// count returns the number of regions waiting to be reused.
func (p *blockPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, list := range p.free {
		n += len(list)
	}
	return n
}

// allocTask allocates guest memory that returns to the pool when t exits.
// A nil t allocates memory that is never reused.
func (h *Host) allocTask(ctx context.Context, t *rtos.Task, size, align uint32) (uint32, error) {
	addr, ok := h.pool.get(size, align)
	if !ok {
		var err error
		if addr, err = h.alloc.Alloc(ctx, size, align); err != nil {
			return 0, err
		}
	}
	if t != nil {
		own(t, block{addr: addr, size: size, align: align})
	}
	return addr, nil
}

func own(t *rtos.Task, b block) {
	v, _ := t.Attached(ownedKey{})
	blocks, _ := v.([]block)
	t.Attach(ownedKey{}, append(blocks, b))
}

// OnResourceEvent returns a dropped task's memory to the pool. A dropped
// task never runs guest code again, so its regions are free as soon as it
// leaves the task table.
func (h *Host) OnResourceEvent(e resource.Event[*rtos.Task]) {
	if e.Type != resource.EventDropped || e.Value == nil {
		return
	}
	v, ok := e.Value.Attached(ownedKey{})
	if !ok {
		return
	}
	blocks, _ := v.([]block)
	for _, b := range blocks {
		h.pool.put(b)
	}
	e.Value.Attach(ownedKey{}, []block(nil))
	Logger().Debug("task memory released",
		zap.Uint32("task", uint32(e.Value.ID())),
		zap.Int("regions", len(blocks)))
}

var _ resource.Observer[*rtos.Task] = (*Host)(nil)
