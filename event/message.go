package event

import (
	"encoding/json"
	"fmt"

	"github.com/vexide/pros-simulator/errors"
)

// MessageType tags an inbound message.
type MessageType string

const (
	MessageButtonPress      MessageType = "button_press"
	MessageButtonRelease    MessageType = "button_release"
	MessageLcdButtons       MessageType = "lcd_buttons"
	MessageControllerUpdate MessageType = "controller_update"
	MessagePhaseChange      MessageType = "phase_change"
)

// Message is a stimulus from the frontend: simulated hardware input.
type Message struct {
	Button  *int             `json:"button,omitempty"`
	Buttons *[3]bool         `json:"buttons,omitempty"`
	Master  *ControllerState `json:"master,omitempty"`
	Partner *ControllerState `json:"partner,omitempty"`
	Phase   *Phase           `json:"phase,omitempty"`
	Type    MessageType      `json:"type"`
}

// ButtonPress presses LCD button 0 (left), 1 (center) or 2 (right).
func ButtonPress(button int) Message {
	return Message{Type: MessageButtonPress, Button: &button}
}

// ButtonRelease releases an LCD button.
func ButtonRelease(button int) Message {
	return Message{Type: MessageButtonRelease, Button: &button}
}

// LcdButtons sets all three LCD buttons at once.
func LcdButtons(buttons [3]bool) Message {
	return Message{Type: MessageLcdButtons, Buttons: &buttons}
}

// ControllerUpdate replaces both controller snapshots. nil means disconnected.
func ControllerUpdate(master, partner *ControllerState) Message {
	return Message{Type: MessageControllerUpdate, Master: master, Partner: partner}
}

// PhaseChange moves the robot to a new competition phase.
func PhaseChange(phase Phase) Message {
	return Message{Type: MessagePhaseChange, Phase: &phase}
}

// Validate checks that the payload required by the message type is present and in range.
func (m Message) Validate() error {
	switch m.Type {
	case MessageButtonPress, MessageButtonRelease:
		if m.Button == nil {
			return errors.Protocol(fmt.Sprintf("%s requires a button index", m.Type), nil)
		}
		if *m.Button < 0 || *m.Button > 2 {
			return errors.Protocol(fmt.Sprintf("button index %d out of range [0, 2]", *m.Button), nil)
		}
	case MessageLcdButtons:
		if m.Buttons == nil {
			return errors.Protocol("lcd_buttons requires a buttons array", nil)
		}
	case MessageControllerUpdate:
	case MessagePhaseChange:
		if m.Phase == nil {
			return errors.Protocol("phase_change requires a phase", nil)
		}
		if err := m.Phase.Validate(); err != nil {
			return errors.Protocol("invalid phase", err)
		}
	case "":
		return errors.Protocol("message has no type", nil)
	default:
		return errors.Protocol(fmt.Sprintf("unknown message type %q", m.Type), nil)
	}
	return nil
}

// DecodeMessage parses and validates a single JSON message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errors.Protocol("decode message", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
