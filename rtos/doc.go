// Package rtos emulates the FreeRTOS task model that PROS robot code runs on.
//
// A Scheduler owns a set of tasks and a simulated Clock. Tasks are
// cooperative: exactly one runs at a time, and it keeps running until it
// delays, blocks on a mutex, yields, suspends or deletes itself, or returns.
// Selection is strict priority, ties broken by creation order.
//
// Time is driven by a Pacer. RealTime follows the wall clock. Virtual jumps
// straight to the next wake-up when every task is waiting, which makes runs
// deterministic and fast in tests.
//
//	s := rtos.NewScheduler(rtos.WithPacer(&rtos.Virtual{}))
//	s.Spawn("worker", rtos.PriorityDefault, func(ctx context.Context) error {
//		return s.Delay(ctx, 10*time.Millisecond)
//	})
//	for {
//		res, err := s.Step(ctx)
//		...
//	}
package rtos
