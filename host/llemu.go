package host

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/vexide/pros-simulator/event"
)

func llemuFunctions() []function {
	fns := []function{
		{name: "lcd_initialize", typ: sig(0, 1), fn: lcdInitialize},
		{name: "lcd_is_initialized", typ: sig(0, 1), fn: lcdIsInitialized},
		{name: "lcd_shutdown", typ: sig(0, 1), fn: lcdShutdown},
		{name: "lcd_set_text", typ: sig(2, 1), fn: lcdSetText},
		{name: "lcd_clear", typ: sig(0, 1), fn: lcdClear},
		{name: "lcd_clear_line", typ: sig(1, 1), fn: lcdClearLine},
		{name: "lcd_read_buttons", typ: sig(0, 1), fn: lcdReadButtons},
		{name: "lcd_set_text_color", typ: sig(1, 1), fn: lcdSetTextColor},
		{name: "lcd_set_background_color", typ: sig(1, 1), fn: lcdSetBackgroundColor},
	}
	for button := 0; button < 3; button++ {
		fns = append(fns, function{
			name: fmt.Sprintf("lcd_register_btn%d_cb", button),
			typ:  sig(1, 1),
			fn:   lcdRegisterCallback(button),
		})
	}
	return fns
}

func lcdInitialize(_ context.Context, h *Host, stack []uint64) {
	if err := h.state.Display.Initialize(); err != nil {
		stack[0] = 0
		return
	}
	h.bus.Publish(event.LcdInitialized())
	stack[0] = 1
}

func lcdIsInitialized(_ context.Context, h *Host, stack []uint64) {
	stack[0] = boolResult(h.state.Display.IsInitialized())
}

func lcdShutdown(ctx context.Context, h *Host, stack []uint64) {
	if h.fail(ctx, h.state.Display.Shutdown()) {
		stack[0] = 0
		return
	}
	h.bus.Publish(event.LcdShutdown())
	stack[0] = 1
}

// lcdUpdated publishes the display after a successful change, or sets errno.
func (h *Host) lcdUpdated(ctx context.Context, err error) uint64 {
	if h.fail(ctx, err) {
		return 0
	}
	h.bus.Publish(event.LcdUpdated(h.state.Display.Lines()))
	return 1
}

func lcdSetText(ctx context.Context, h *Host, stack []uint64) {
	line := api.DecodeI32(stack[0])
	text := h.readString(api.DecodeU32(stack[1]))
	stack[0] = h.lcdUpdated(ctx, h.state.Display.SetText(line, text))
}

func lcdClear(ctx context.Context, h *Host, stack []uint64) {
	stack[0] = h.lcdUpdated(ctx, h.state.Display.Clear())
}

func lcdClearLine(ctx context.Context, h *Host, stack []uint64) {
	stack[0] = h.lcdUpdated(ctx, h.state.Display.ClearLine(api.DecodeI32(stack[0])))
}

func lcdReadButtons(ctx context.Context, h *Host, stack []uint64) {
	if !h.state.Display.IsInitialized() {
		h.setErrno(ctx, ENXIO)
		stack[0] = 0
		return
	}
	stack[0] = uint64(h.state.Display.ReadButtons())
}

func lcdRegisterCallback(button int) handler {
	return func(ctx context.Context, h *Host, stack []uint64) {
		err := h.state.Display.SetCallback(button, api.DecodeU32(stack[0]))
		stack[0] = boolResult(!h.fail(ctx, err))
	}
}

func lcdSetTextColor(ctx context.Context, h *Host, stack []uint64) {
	color := api.DecodeU32(stack[0])
	stack[0] = h.setColors(ctx, func(c *event.Colors) { c.Foreground = color })
}

func lcdSetBackgroundColor(ctx context.Context, h *Host, stack []uint64) {
	color := api.DecodeU32(stack[0])
	stack[0] = h.setColors(ctx, func(c *event.Colors) { c.Background = color })
}

func (h *Host) setColors(ctx context.Context, update func(*event.Colors)) uint64 {
	if !h.state.Display.IsInitialized() {
		h.setErrno(ctx, ENXIO)
		return 0
	}
	colors := h.state.Display.Colors()
	update(&colors)
	h.state.Display.SetColors(colors)
	h.bus.Publish(event.LcdColorsUpdated(colors))
	return 1
}
