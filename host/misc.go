package host

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/vexide/pros-simulator/errors"
	"github.com/vexide/pros-simulator/event"
)

var miscFunctions = []function{
	{name: "controller_get_analog", typ: sig(2, 1), fn: controllerGetAnalog},
	{name: "controller_get_digital", typ: sig(2, 1), fn: controllerGetDigital},
	{name: "controller_get_digital_new_press", typ: sig(2, 1), fn: controllerGetDigitalNewPress},
	{name: "controller_is_connected", typ: sig(1, 1), fn: controllerIsConnected},
	{name: "controller_get_battery_capacity", typ: sig(1, 1), fn: controllerGetBattery},
	{name: "controller_get_battery_level", typ: sig(1, 1), fn: controllerGetBattery},
	{name: "competition_get_status", typ: sig(0, 1), fn: competitionGetStatus},
	{name: "competition_is_autonomous", typ: sig(0, 1), fn: competitionIsAutonomous},
	{name: "competition_is_disabled", typ: sig(0, 1), fn: competitionIsDisabled},
	{name: "competition_is_connected", typ: sig(0, 1), fn: competitionIsConnected},
	{name: "__errno", typ: sig(0, 1), fn: errnoLocation},
	{name: "sim_abort", typ: sig(1, 0), fn: simAbort},
	{name: "puts", typ: sig(1, 1), fn: puts},
	{name: "exit", typ: sig(1, 0), fn: exit},
}

// intResult encodes an int32 PROS result, or sets errno and returns ProsErr.
func (h *Host) intResult(ctx context.Context, v int32, err error) uint64 {
	if h.fail(ctx, err) {
		return api.EncodeI32(ProsErr)
	}
	return api.EncodeI32(v)
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func controllerGetAnalog(ctx context.Context, h *Host, stack []uint64) {
	v, err := h.state.Controllers.Analog(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	stack[0] = h.intResult(ctx, v, err)
}

func controllerGetDigital(ctx context.Context, h *Host, stack []uint64) {
	down, err := h.state.Controllers.Digital(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	stack[0] = h.intResult(ctx, boolInt(down), err)
}

func controllerGetDigitalNewPress(ctx context.Context, h *Host, stack []uint64) {
	pressed, err := h.state.Controllers.DigitalNewPress(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
	stack[0] = h.intResult(ctx, boolInt(pressed), err)
}

func controllerIsConnected(ctx context.Context, h *Host, stack []uint64) {
	ok, err := h.state.Controllers.IsConnected(api.DecodeU32(stack[0]))
	stack[0] = h.intResult(ctx, boolInt(ok), err)
}

func controllerGetBattery(ctx context.Context, h *Host, stack []uint64) {
	v, err := h.state.Controllers.Battery(api.DecodeU32(stack[0]))
	stack[0] = h.intResult(ctx, v, err)
}

func competitionGetStatus(_ context.Context, h *Host, stack []uint64) {
	stack[0] = uint64(h.state.Competition.Status())
}

func competitionIsAutonomous(_ context.Context, h *Host, stack []uint64) {
	stack[0] = boolResult(h.state.Competition.IsAutonomous())
}

func competitionIsDisabled(_ context.Context, h *Host, stack []uint64) {
	stack[0] = boolResult(h.state.Competition.IsDisabled())
}

func competitionIsConnected(_ context.Context, h *Host, stack []uint64) {
	stack[0] = boolResult(h.state.Competition.IsConnected())
}

func errnoLocation(ctx context.Context, h *Host, stack []uint64) {
	stack[0] = api.EncodeU32(h.errnoAddr(ctx))
}

func simAbort(_ context.Context, h *Host, stack []uint64) {
	panic(errors.Abort(h.readString(api.DecodeU32(stack[0]))))
}

func puts(_ context.Context, h *Host, stack []uint64) {
	msg := h.readString(api.DecodeU32(stack[0]))
	Logger().Debug("console", zap.String("message", msg))
	h.bus.Publish(event.ConsoleMessage(msg))
	stack[0] = 1
}

// exit ends the whole run, not just the calling task.
func exit(_ context.Context, _ *Host, stack []uint64) {
	panic(sys.NewExitError(api.DecodeU32(stack[0])))
}
