// Package resource provides handle tables for host-side objects that robot
// code refers to by integer id, such as mutexes.
//
// # Handle Table
//
// A Table maps integer handles to Go values:
//
//	table := resource.NewTable[*Mutex]()
//
//	// Insert a value, get a handle
//	handle := table.Insert(m)
//
//	// Retrieve value by handle
//	m, ok := table.Get(handle)
//
//	// Remove and get value
//	m, ok := table.Remove(handle)
//
// Handle 0 is never issued, matching the NULL handle convention of the C API.
// Handles grow monotonically and are never reused.
//
// # Observers
//
// Observers receive EventCreated and EventDropped notifications. Values that
// implement Dropper have Drop called when removed.
package resource
