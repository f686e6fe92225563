package rtos

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/resource"
)

var (
	ErrNoSuchMutex = errors.New("no such mutex")
	ErrNotOwner    = errors.New("mutex not held by caller")
)

// WaitForever is the Take timeout that never expires.
const WaitForever time.Duration = -1

// Mutex is a non-recursive lock owned by at most one task. Waiters are
// granted the lock highest priority first, FIFO among equals.
type Mutex struct {
	waiters []*Task
	owner   TaskID
}

// MutexPool holds the mutexes created by robot code. It shares the
// scheduler's lock, so ownership changes and task wake-ups are atomic.
type MutexPool struct {
	s     *Scheduler
	table *resource.Table[*Mutex]
}

func newMutexPool(s *Scheduler) *MutexPool {
	return &MutexPool{s: s, table: resource.NewTable[*Mutex]()}
}

// Create allocates an unowned mutex.
func (p *MutexPool) Create() resource.Handle {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.table.Insert(&Mutex{})
}

// Delete frees a mutex. Tasks waiting on it wake with a failed take.
func (p *MutexPool) Delete(h resource.Handle) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	m, ok := p.table.Remove(h)
	if !ok {
		return ErrNoSuchMutex
	}
	for _, w := range m.waiters {
		p.s.wakeLocked(w, false)
	}
	m.waiters = nil
	m.owner = 0
	return nil
}

// Take acquires h for the calling task. A zero timeout fails at once when
// the mutex is held, WaitForever never gives up. It reports whether the
// mutex was acquired.
//
// Taking a mutex the caller already holds is not an error: the caller waits
// like any other contender.
func (p *MutexPool) Take(ctx context.Context, h resource.Handle, timeout time.Duration) (bool, error) {
	s := p.s
	s.mu.Lock()
	t, err := s.callerLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	m, ok := p.table.Get(h)
	if !ok {
		s.mu.Unlock()
		return false, ErrNoSuchMutex
	}
	if m.owner == 0 {
		m.owner = t.id
		s.mu.Unlock()
		return true, nil
	}
	if m.owner == t.id {
		Logger().Warn("task re-took a mutex it already holds",
			zap.Uint32("task", uint32(t.id)),
			zap.Uint32("mutex", uint32(h)))
	}
	if timeout == 0 {
		s.mu.Unlock()
		return false, nil
	}
	m.waiters = append(m.waiters, t)
	s.blockLocked(t, BlockMutex, h, timeout)
	s.mu.Unlock()

	if err := s.park(t); err != nil {
		return false, err
	}
	return t.wakeResult, nil
}

// Give releases h. Ownership passes straight to the best waiter, which
// becomes Ready; the caller keeps running.
func (p *MutexPool) Give(ctx context.Context, h resource.Handle) error {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.callerLocked(ctx)
	if err != nil {
		return err
	}
	m, ok := p.table.Get(h)
	if !ok {
		return ErrNoSuchMutex
	}
	if m.owner != t.id {
		return ErrNotOwner
	}
	p.handOffLocked(m)
	return nil
}

// Owner returns the holder of h, 0 if free.
func (p *MutexPool) Owner(h resource.Handle) (TaskID, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	m, ok := p.table.Get(h)
	if !ok {
		return 0, ErrNoSuchMutex
	}
	return m.owner, nil
}

// Waiters returns the tasks queued on h in arrival order.
func (p *MutexPool) Waiters(h resource.Handle) []TaskID {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	m, ok := p.table.Get(h)
	if !ok {
		return nil
	}
	ids := make([]TaskID, len(m.waiters))
	for i, w := range m.waiters {
		ids[i] = w.id
	}
	return ids
}

// Len returns the number of live mutexes.
func (p *MutexPool) Len() int {
	return p.table.Len()
}

func (p *MutexPool) handOffLocked(m *Mutex) {
	m.owner = 0
	if len(m.waiters) == 0 {
		return
	}
	best := 0
	for i, w := range m.waiters[1:] {
		if w.priority > m.waiters[best].priority {
			best = i + 1
		}
	}
	next := m.waiters[best]
	m.waiters = append(m.waiters[:best], m.waiters[best+1:]...)
	m.owner = next.id
	p.s.wakeLocked(next, true)
}

// dropWaiterLocked removes t from the queue of the mutex it waits on.
func (p *MutexPool) dropWaiterLocked(t *Task) {
	if t.state != StateBlocked || t.reason != BlockMutex {
		return
	}
	if m, ok := p.table.Get(t.blockedOn); ok {
		m.waiters = removeTask(m.waiters, t)
	}
}

// releaseTaskLocked frees every mutex t holds and takes it off every queue.
func (p *MutexPool) releaseTaskLocked(t *Task) {
	p.table.Each(func(_ resource.Handle, m *Mutex) bool {
		m.waiters = removeTask(m.waiters, t)
		if m.owner == t.id {
			p.handOffLocked(m)
		}
		return true
	})
}

func removeTask(list []*Task, t *Task) []*Task {
	for i, w := range list {
		if w == t {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
