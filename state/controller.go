package state

import (
	"errors"

	"github.com/vexide/pros-simulator/event"
)

// ErrInvalidChannel is returned for an unknown controller id, axis or button.
var ErrInvalidChannel = errors.New("invalid controller channel")

// Controller ids.
const (
	ControllerMaster  uint32 = 0
	ControllerPartner uint32 = 1
)

// Analog channels.
const (
	AnalogLeftX uint32 = iota
	AnalogLeftY
	AnalogRightX
	AnalogRightY
)

// Digital channels.
const (
	DigitalL1 uint32 = iota + 6
	DigitalL2
	DigitalR1
	DigitalR2
	DigitalUp
	DigitalDown
	DigitalLeft
	DigitalRight
	DigitalX
	DigitalB
	DigitalY
	DigitalA
)

// BatteryFull is reported for both capacity and level of a connected controller.
const BatteryFull int32 = 100

type controller struct {
	state     event.ControllerState
	newPress  event.DigitalState
	connected bool
}

// Controllers holds the master and partner controller snapshots.
type Controllers struct {
	slots [2]controller
}

// Update replaces both snapshots. nil disconnects a controller. Buttons that
// went from released to pressed get their new-press flag set; flags already
// set stay set until read.
func (c *Controllers) Update(master, partner *event.ControllerState) {
	for i, next := range []*event.ControllerState{master, partner} {
		slot := &c.slots[i]
		if next == nil {
			*slot = controller{}
			continue
		}
		prev := slot.state.Digital
		if !slot.connected {
			prev = event.DigitalState{}
		}
		for ch := DigitalL1; ch <= DigitalA; ch++ {
			was := digital(&prev, ch)
			now := digital(&next.Digital, ch)
			if *now && !*was {
				*digital(&slot.newPress, ch) = true
			}
		}
		slot.state = *next
		slot.connected = true
	}
}

func (c *Controllers) slot(id uint32) (*controller, error) {
	if id > ControllerPartner {
		return nil, ErrInvalidChannel
	}
	return &c.slots[id], nil
}

// IsConnected reports whether controller id is attached.
func (c *Controllers) IsConnected(id uint32) (bool, error) {
	s, err := c.slot(id)
	if err != nil {
		return false, err
	}
	return s.connected, nil
}

// Analog returns an axis value. A disconnected controller reads 0.
func (c *Controllers) Analog(id, channel uint32) (int32, error) {
	s, err := c.slot(id)
	if err != nil {
		return 0, err
	}
	a := s.state.Analog
	var v int8
	switch channel {
	case AnalogLeftX:
		v = a.LeftX
	case AnalogLeftY:
		v = a.LeftY
	case AnalogRightX:
		v = a.RightX
	case AnalogRightY:
		v = a.RightY
	default:
		return 0, ErrInvalidChannel
	}
	return int32(v), nil
}

// Digital returns whether a button is held. A disconnected controller reads false.
func (c *Controllers) Digital(id, button uint32) (bool, error) {
	s, err := c.slot(id)
	if err != nil {
		return false, err
	}
	b := digital(&s.state.Digital, button)
	if b == nil {
		return false, ErrInvalidChannel
	}
	return *b, nil
}

// DigitalNewPress reports whether the button was pressed since the last call
// for that button, and clears the flag.
func (c *Controllers) DigitalNewPress(id, button uint32) (bool, error) {
	s, err := c.slot(id)
	if err != nil {
		return false, err
	}
	b := digital(&s.newPress, button)
	if b == nil {
		return false, ErrInvalidChannel
	}
	pressed := *b
	*b = false
	return pressed, nil
}

// Battery returns the battery capacity, which is also reported as the level.
func (c *Controllers) Battery(id uint32) (int32, error) {
	s, err := c.slot(id)
	if err != nil {
		return 0, err
	}
	if !s.connected {
		return 0, nil
	}
	return BatteryFull, nil
}

// Snapshot returns the current state of a controller, or nil if disconnected.
func (c *Controllers) Snapshot(id uint32) *event.ControllerState {
	s, err := c.slot(id)
	if err != nil || !s.connected {
		return nil
	}
	st := s.state
	return &st
}

func digital(d *event.DigitalState, button uint32) *bool {
	switch button {
	case DigitalL1:
		return &d.L1
	case DigitalL2:
		return &d.L2
	case DigitalR1:
		return &d.R1
	case DigitalR2:
		return &d.R2
	case DigitalUp:
		return &d.Up
	case DigitalDown:
		return &d.Down
	case DigitalLeft:
		return &d.Left
	case DigitalRight:
		return &d.Right
	case DigitalX:
		return &d.X
	case DigitalB:
		return &d.B
	case DigitalY:
		return &d.Y
	case DigitalA:
		return &d.A
	}
	return nil
}
