package event

import (
	"fmt"
	"strings"
)

// LCD geometry of the emulated legacy display.
const (
	LcdHeight = 8
	LcdWidth  = 40
)

// Lines is a full snapshot of the LCD contents, top to bottom.
type Lines [LcdHeight]string

// Mode is the competition mode the field controller puts the robot in.
type Mode string

const (
	ModeDisabled   Mode = "disabled"
	ModeAutonomous Mode = "autonomous"
	ModeOpcontrol  Mode = "opcontrol"
)

// Phase is the competition phase. Connected reports whether a field or
// competition switch is attached, and is orthogonal to Mode.
type Phase struct {
	Mode      Mode `json:"mode"`
	Connected bool `json:"connected"`
}

// Validate checks that the mode is known.
func (p Phase) Validate() error {
	switch p.Mode {
	case ModeDisabled, ModeAutonomous, ModeOpcontrol:
		return nil
	}
	return fmt.Errorf("unknown competition mode %q", p.Mode)
}

func (p Phase) String() string {
	if p.Connected {
		return string(p.Mode) + " (connected)"
	}
	return string(p.Mode)
}

// AnalogState holds the joystick axes, each in [-127, 127].
type AnalogState struct {
	LeftX  int8 `json:"left_x"`
	LeftY  int8 `json:"left_y"`
	RightX int8 `json:"right_x"`
	RightY int8 `json:"right_y"`
}

// DigitalState holds the controller buttons.
type DigitalState struct {
	L1    bool `json:"l1"`
	L2    bool `json:"l2"`
	R1    bool `json:"r1"`
	R2    bool `json:"r2"`
	Up    bool `json:"up"`
	Down  bool `json:"down"`
	Left  bool `json:"left"`
	Right bool `json:"right"`
	X     bool `json:"x"`
	B     bool `json:"b"`
	Y     bool `json:"y"`
	A     bool `json:"a"`
}

// ControllerState is a full snapshot of one controller.
type ControllerState struct {
	Analog  AnalogState  `json:"analog"`
	Digital DigitalState `json:"digital"`
}

// Frame is one entry of a guest call-stack backtrace, innermost first.
type Frame struct {
	Function string   `json:"function"`
	Source   []string `json:"source,omitempty"`
}

// FormatBacktrace renders frames one per line, with source locations indented.
func FormatBacktrace(frames []Frame) string {
	var b strings.Builder
	for i, f := range frames {
		fmt.Fprintf(&b, "%3d: %s\n", i, f.Function)
		for _, s := range f.Source {
			b.WriteString("       at ")
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// TaskInfo identifies a task in lifecycle events.
type TaskInfo struct {
	Name     string `json:"name"`
	ID       uint32 `json:"id"`
	Priority uint32 `json:"priority"`
}

// Colors is the LCD foreground/background pair, RGBA.
type Colors struct {
	Foreground uint32 `json:"foreground"`
	Background uint32 `json:"background"`
}
