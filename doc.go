// Package simulator runs PROS robot programs compiled to WebAssembly
// without robot hardware.
//
// A robot program is a core WebAssembly module that imports the PROS C API
// from the "env" namespace. The simulator links those imports to Go
// implementations backed by a simulated LCD, controllers, competition
// phase and a cooperative FreeRTOS-style scheduler, then runs the program's
// competition entrypoints as tasks.
//
// # Architecture Overview
//
//	simulator/          Root package with the Memory and Allocator interfaces
//	├── runtime/        Load, run and finish a robot program; phase gating
//	├── engine/         wazero integration: linking, memory, allocators, stacks
//	├── host/           PROS API implementations and the capability table
//	├── rtos/           Tasks, scheduler, mutexes, simulated clock
//	├── state/          LCD, controllers and competition phase
//	├── event/          Inbound messages, outbound events, NDJSON codec, bus
//	├── diag/           Trap classification and backtraces
//	├── wasm/           Binary module parsing and glue-module building
//	├── resource/       Handle tables
//	├── errors/         Structured error types
//	├── config/         YAML configuration
//	├── recorder/       SQLite event recording and replay
//	└── cmd/prossim/    Command line, stdio server and terminal UI
//
// # Quick Start
//
//	sim := runtime.New(runtime.Options{})
//	defer sim.Close(ctx)
//
//	if err := sim.Load(ctx, wasmBytes); err != nil {
//		return err
//	}
//	sim.Bus().Send(event.PhaseChange(event.Phase{Mode: event.ModeOpcontrol}))
//	sim.Bus().CloseInbound()
//	res, err := sim.Run(ctx)
//
// Outbound events can be consumed concurrently with sim.Bus().Next.
package simulator
