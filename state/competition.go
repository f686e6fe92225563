package state

import "github.com/vexide/pros-simulator/event"

// Competition status bits returned by competition_get_status.
const (
	StatusDisabled   uint8 = 1 << 0
	StatusAutonomous uint8 = 1 << 1
	StatusConnected  uint8 = 1 << 2
)

// Competition tracks the phase set by the field controller. It starts unset.
type Competition struct {
	phase event.Phase
	set   bool
}

// Set records a new phase. It returns the previous phase, whether one had
// been set, and whether anything changed.
func (c *Competition) Set(p event.Phase) (prev event.Phase, wasSet, changed bool) {
	prev, wasSet = c.phase, c.set
	changed = !wasSet || prev != p
	c.phase, c.set = p, true
	return prev, wasSet, changed
}

// Phase returns the current phase and whether one has been set.
func (c *Competition) Phase() (event.Phase, bool) {
	return c.phase, c.set
}

// Status returns the PROS status bitmask. Before any phase is set the robot reads as disabled.
func (c *Competition) Status() uint8 {
	if !c.set {
		return StatusDisabled
	}
	var s uint8
	switch c.phase.Mode {
	case event.ModeDisabled:
		s |= StatusDisabled
	case event.ModeAutonomous:
		s |= StatusAutonomous
	}
	if c.phase.Connected {
		s |= StatusConnected
	}
	return s
}

func (c *Competition) IsDisabled() bool   { return c.Status()&StatusDisabled != 0 }
func (c *Competition) IsAutonomous() bool { return c.Status()&StatusAutonomous != 0 }
func (c *Competition) IsConnected() bool  { return c.Status()&StatusConnected != 0 }
