// Package state holds the simulated hardware: the LCD, the controllers and
// the competition phase.
//
// State has no locks. It is mutated only by the running task's host calls or
// by inbound messages applied between scheduler steps, and those never overlap.
package state

// State is the process-scoped simulated hardware.
type State struct {
	Display     Display
	Controllers Controllers
	Competition Competition
}

// New returns state with the LCD off, both controllers disconnected and no phase set.
func New() *State {
	return &State{}
}
