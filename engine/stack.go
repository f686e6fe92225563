package engine

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/vexide/pros-simulator/rtos"
)

// DefaultStackSize is the shadow stack given to tasks that do not ask for
// a size.
const DefaultStackSize = 16 * 1024

// StackAlign is the alignment of shadow stacks required by the wasm32 C ABI.
const StackAlign = 16

type stackKey struct{}

type taskStack struct {
	sp uint32
}

// StackSwitcher gives each task its own region of the C shadow stack by
// saving and restoring __stack_pointer around context switches. It
// implements rtos.Switcher.
type StackSwitcher struct {
	sp      api.MutableGlobal
	initial uint32
}

// NewStackSwitcher wraps the stack pointer global. A nil global yields a
// switcher that does nothing.
func NewStackSwitcher(sp api.MutableGlobal) *StackSwitcher {
	s := &StackSwitcher{sp: sp}
	if sp != nil {
		s.initial = uint32(sp.Get())
	}
	return s
}

// Enabled reports whether the program has a stack pointer to switch.
func (s *StackSwitcher) Enabled() bool { return s.sp != nil }

// Initial is the stack pointer the program was instantiated with.
func (s *StackSwitcher) Initial() uint32 { return s.initial }

// Assign sets the stack pointer t starts with. top is one past the highest
// byte of its region, since the stack grows down.
func (s *StackSwitcher) Assign(t *rtos.Task, top uint32) {
	t.Attach(stackKey{}, &taskStack{sp: top})
}

func (s *StackSwitcher) SwitchIn(t *rtos.Task) {
	if s.sp == nil {
		return
	}
	if st, ok := stackOf(t); ok {
		s.sp.Set(uint64(st.sp))
	}
}

func (s *StackSwitcher) SwitchOut(t *rtos.Task) {
	if s.sp == nil {
		return
	}
	if st, ok := stackOf(t); ok {
		st.sp = uint32(s.sp.Get())
	}
}

func stackOf(t *rtos.Task) (*taskStack, bool) {
	v, ok := t.Attached(stackKey{})
	if !ok {
		return nil, false
	}
	st, ok := v.(*taskStack)
	return st, ok
}

var _ rtos.Switcher = (*StackSwitcher)(nil)
