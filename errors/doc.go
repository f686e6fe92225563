// Package errors provides structured error types for the PROS simulator.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The taxonomy mirrors how the simulator reacts to a failure:
//
//   - KindUnsupported: a recognized PROS API the simulator does not implement was called.
//   - UnrecognizedImportsError: the module imports unknown names; loading fails.
//   - KindAbort, KindOutOfBounds: explicit aborts and bad guest pointers; the offending task ends.
//   - KindAllocation: the guest allocator could not serve a host request.
//   - PhaseProtocol errors: malformed frontend messages; rejected with a warning.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseConfig, errors.KindInvalidInput).
//		Path("clock", "quantum").
//		Value(q).
//		Detail("must not be negative").
//		Build()
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
