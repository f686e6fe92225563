package resource

// Handle is an opaque reference to a value in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Event types for lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a lifecycle event for a table entry.
type Event[T any] struct {
	Value  T
	Handle Handle
	Type   EventType
}

// Observer receives notifications about table lifecycle events.
type Observer[T any] interface {
	OnResourceEvent(Event[T])
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc[T any] func(Event[T])

// OnResourceEvent calls f(e).
func (f ObserverFunc[T]) OnResourceEvent(e Event[T]) {
	f(e)
}

// TypedTable provides type-safe access to values of a specific type.
type TypedTable[T any] interface {
	// Insert adds a value and returns its handle.
	Insert(value T) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (T, bool)

	// Remove drops a value and returns (value, true) if found.
	Remove(handle Handle) (T, bool)

	// Len returns the number of live entries.
	Len() int

	// Each iterates over all live entries in handle order.
	Each(func(Handle, T) bool)
}

// Dropper is optionally implemented by values that need cleanup on removal.
type Dropper interface {
	Drop()
}
