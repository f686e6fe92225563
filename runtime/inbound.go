package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/event"
)

// applyInbound drains the frontend's messages and applies them in order.
func (s *Simulator) applyInbound(ctx context.Context) {
	for _, msg := range s.bus.Drain() {
		s.apply(ctx, msg)
	}
}

func (s *Simulator) apply(ctx context.Context, msg event.Message) {
	if err := msg.Validate(); err != nil {
		s.warn(fmt.Sprintf("rejected %s message: %v", msg.Type, err), zap.Error(err))
		return
	}
	Logger().Debug("inbound message", zap.String("type", string(msg.Type)))

	switch msg.Type {
	case event.MessageButtonPress, event.MessageButtonRelease:
		button := *msg.Button
		rising, err := s.state.Display.SetButton(button, msg.Type == event.MessageButtonPress)
		if err != nil {
			s.warn(fmt.Sprintf("rejected %s message: %v", msg.Type, err))
			return
		}
		s.bus.Publish(event.LcdButtonsChanged(s.state.Display.Buttons()))
		if rising {
			s.pressed(ctx, button)
		}

	case event.MessageLcdButtons:
		rising := s.state.Display.SetButtons(*msg.Buttons)
		s.bus.Publish(event.LcdButtonsChanged(s.state.Display.Buttons()))
		for _, button := range rising {
			s.pressed(ctx, button)
		}

	case event.MessageControllerUpdate:
		s.state.Controllers.Update(msg.Master, msg.Partner)

	case event.MessagePhaseChange:
		prev, wasSet, changed := s.state.Competition.Set(*msg.Phase)
		if !changed {
			return
		}
		s.bus.Publish(event.PhaseChanged(*msg.Phase))
		s.gate.phaseChanged(ctx, prev, wasSet, *msg.Phase)
	}
}

// pressed runs the callback registered for an LCD button, if any.
func (s *Simulator) pressed(ctx context.Context, button int) {
	if !s.state.Display.IsInitialized() {
		return
	}
	fn := s.state.Display.Callback(button)
	if fn == 0 {
		return
	}
	name := fmt.Sprintf("LCD Button %d Callback", button)
	if _, err := s.host.SpawnCallback(ctx, name, fn); err != nil {
		s.warn(fmt.Sprintf("failed to start LCD button %d callback: %v", button, err))
	}
}
