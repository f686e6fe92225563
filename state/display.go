package state

import (
	"errors"
	"strings"

	"github.com/vexide/pros-simulator/event"
)

var (
	ErrNotInitialized     = errors.New("lcd not initialized")
	ErrAlreadyInitialized = errors.New("lcd already initialized")
	ErrLineOutOfRange     = errors.New("lcd line out of range")
	ErrTextTooLong        = errors.New("text too long for lcd")
	ErrButtonOutOfRange   = errors.New("lcd button out of range")
)

// Button masks returned by ReadButtons.
const (
	ButtonLeft   uint8 = 4
	ButtonCenter uint8 = 2
	ButtonRight  uint8 = 1
)

// Display is the legacy 8-line LCD emulator.
type Display struct {
	lines       event.Lines
	callbacks   [3]uint32
	buttons     [3]bool
	colors      event.Colors
	initialized bool
}

// Initialize turns the display on.
func (d *Display) Initialize() error {
	if d.initialized {
		return ErrAlreadyInitialized
	}
	d.initialized = true
	return nil
}

func (d *Display) IsInitialized() bool {
	return d.initialized
}

// Shutdown turns the display off and blanks it. Registered callbacks are kept.
func (d *Display) Shutdown() error {
	if !d.initialized {
		return ErrNotInitialized
	}
	d.initialized = false
	d.lines = event.Lines{}
	return nil
}

// SetText replaces a whole line.
func (d *Display) SetText(line int32, text string) error {
	return d.WriteAt(line, 0, text)
}

// WriteAt writes text into line starting at column. Text before column is
// kept (space padded if the line is shorter); text after the write is dropped.
func (d *Display) WriteAt(line, column int32, text string) error {
	if err := d.checkLine(line); err != nil {
		return err
	}
	if column < 0 || int(column)+len(text) > event.LcdWidth {
		return ErrTextTooLong
	}

	cur := d.lines[line]
	if len(cur) < int(column) {
		cur += strings.Repeat(" ", int(column)-len(cur))
	}
	d.lines[line] = cur[:column] + text
	return nil
}

// Clear blanks every line.
func (d *Display) Clear() error {
	if !d.initialized {
		return ErrNotInitialized
	}
	d.lines = event.Lines{}
	return nil
}

// ClearLine blanks one line.
func (d *Display) ClearLine(line int32) error {
	if err := d.checkLine(line); err != nil {
		return err
	}
	d.lines[line] = ""
	return nil
}

// Lines returns a copy of the display contents.
func (d *Display) Lines() event.Lines {
	return d.lines
}

func (d *Display) checkLine(line int32) error {
	if !d.initialized {
		return ErrNotInitialized
	}
	if line < 0 || line >= event.LcdHeight {
		return ErrLineOutOfRange
	}
	return nil
}

// SetCallback registers the function-table index to invoke when button is pressed.
// 0 unregisters.
func (d *Display) SetCallback(button int, fn uint32) error {
	if !d.initialized {
		return ErrNotInitialized
	}
	if button < 0 || button > 2 {
		return ErrButtonOutOfRange
	}
	d.callbacks[button] = fn
	return nil
}

// Callback returns the registered callback for button, or 0.
func (d *Display) Callback(button int) uint32 {
	if button < 0 || button > 2 {
		return 0
	}
	return d.callbacks[button]
}

// SetButtons replaces the button latches and returns the buttons that went
// from released to pressed.
func (d *Display) SetButtons(buttons [3]bool) []int {
	var pressed []int
	for i, down := range buttons {
		if down && !d.buttons[i] {
			pressed = append(pressed, i)
		}
	}
	d.buttons = buttons
	return pressed
}

// SetButton updates a single latch. It reports whether the button was newly pressed.
func (d *Display) SetButton(button int, down bool) (bool, error) {
	if button < 0 || button > 2 {
		return false, ErrButtonOutOfRange
	}
	next := d.buttons
	next[button] = down
	return len(d.SetButtons(next)) > 0, nil
}

// Buttons returns the current latches, left to right.
func (d *Display) Buttons() [3]bool {
	return d.buttons
}

// ReadButtons returns the latches as a PROS button mask.
func (d *Display) ReadButtons() uint8 {
	var mask uint8
	if d.buttons[0] {
		mask |= ButtonLeft
	}
	if d.buttons[1] {
		mask |= ButtonCenter
	}
	if d.buttons[2] {
		mask |= ButtonRight
	}
	return mask
}

// SetColors updates the foreground and background colors.
func (d *Display) SetColors(c event.Colors) {
	d.colors = c
}

func (d *Display) Colors() event.Colors {
	return d.colors
}
