// Package runtime runs PROS robot programs.
//
// # Quick Start
//
//	ctx := context.Background()
//	sim := runtime.New(runtime.Options{})
//	defer sim.Close(ctx)
//
//	if err := sim.Load(ctx, wasmBytes); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Nothing runs until the first phase change.
//	_ = sim.Bus().Send(event.PhaseChange(event.Phase{Mode: event.ModeOpcontrol}))
//
//	go sim.Bus().Consume(ctx, printEvent)
//	res, err := sim.Run(ctx)
//
// # Loading
//
// Load publishes robot_code_loading, then checks the program's imports
// against the host's capability table. Unrecognized imports and programs
// without any entrypoint fail the load with robot_code_error. Recognized
// but unsupported imports produce one unimplemented_api_warning each and
// only fault if they are called. A successful load ends with
// robot_code_starting.
//
// # Competition Phases
//
// The simulator plays the role of the PROS system daemon. The first phase
// change starts "initialize"; once it returns, the entrypoint for the
// current phase is started:
//
//	competition_initialize   disabled, newly connected to a field
//	disabled                 disabled
//	autonomous               autonomous
//	opcontrol                operator control
//
// Every later phase change deletes the running competition task before
// starting the next one. Missing entrypoints are skipped with a warning.
//
// # Run Termination
//
// Run returns when robot code calls exit, when no task remains and the
// frontend has closed its input, when every remaining task is blocked with
// nothing left to wake it, or when the context is cancelled. Faults inside
// a task are reported as abort_occurred and end only that task.
//
// # Thread Safety
//
// Bus may be used from any goroutine. Load, Run and Close must be called
// from one goroutine.
package runtime
