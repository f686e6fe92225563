package resource

import (
	"sort"
	"sync"
)

// Table maps monotonically increasing handles to values.
// Handles are never reused, so a stale handle can never alias a newer entry.
type Table[T any] struct {
	entries   map[Handle]T
	observers []Observer[T]
	next      Handle
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

var _ TypedTable[int] = (*Table[int])(nil)

// NewTable creates an empty table. The first handle issued is 1.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		entries: make(map[Handle]T),
		next:    1,
	}
}

// Insert adds a value and returns its handle, or 0 once the table is closed.
func (t *Table[T]) Insert(value T) Handle {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	h := t.next
	t.next++
	t.entries[h] = value
	t.mu.Unlock()

	t.notify(Event[T]{Type: EventCreated, Handle: h, Value: value})
	return h
}

// InsertFunc adds the value built by fn, which receives the handle the value
// will be stored under. Observers see the finished value. It returns 0 once
// the table is closed, without calling fn.
func (t *Table[T]) InsertFunc(fn func(Handle) T) Handle {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0
	}
	h := t.next
	t.next++
	value := fn(h)
	t.entries[h] = value
	t.mu.Unlock()

	t.notify(Event[T]{Type: EventCreated, Handle: h, Value: value})
	return h
}

// Issued reports whether h was ever handed out, including removed handles.
func (t *Table[T]) Issued(h Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return h != 0 && h < t.next
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(handle Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[handle]
	return v, ok
}

// Remove drops a value and returns (value, true) if found.
func (t *Table[T]) Remove(handle Handle) (T, bool) {
	t.mu.Lock()
	v, ok := t.entries[handle]
	if !ok {
		t.mu.Unlock()
		var zero T
		return zero, false
	}
	delete(t.entries, handle)
	t.mu.Unlock()

	if d, ok := any(v).(Dropper); ok {
		d.Drop()
	}
	t.notify(Event[T]{Type: EventDropped, Handle: handle, Value: v})
	return v, true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Each iterates over live entries in handle order until fn returns false.
// fn may remove entries; it sees a snapshot taken before iteration.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.mu.RLock()
	handles := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		handles = append(handles, h)
	}
	values := make(map[Handle]T, len(t.entries))
	for _, h := range handles {
		values[h] = t.entries[h]
	}
	t.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	for _, h := range handles {
		if !fn(h, values[h]) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table[T]) Subscribe(o Observer[T]) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Clear drops all entries.
func (t *Table[T]) Clear() {
	var handles []Handle
	t.Each(func(h Handle, _ T) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close drops all entries and stops accepting inserts.
func (t *Table[T]) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Clear()
	return nil
}

func (t *Table[T]) notify(e Event[T]) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
