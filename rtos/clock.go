package rtos

import (
	"context"
	"sync/atomic"
	"time"
)

// Clock is the simulated monotonic clock. It starts at zero and never goes
// backward. Safe for concurrent reads.
type Clock struct {
	now atomic.Int64
}

// NewClock returns a clock at zero.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the simulated time since the start of the run.
func (c *Clock) Now() time.Duration {
	return time.Duration(c.now.Load())
}

// Millis returns Now in whole milliseconds, wrapping like the 32-bit PROS counter.
func (c *Clock) Millis() uint32 {
	return uint32(c.Now() / time.Millisecond)
}

// AdvanceTo moves the clock to t. It reports false and leaves the clock
// unchanged if t is in the past.
func (c *Clock) AdvanceTo(t time.Duration) bool {
	for {
		cur := c.now.Load()
		if int64(t) < cur {
			return false
		}
		if c.now.CompareAndSwap(cur, int64(t)) {
			return true
		}
	}
}

// AdvanceBy moves the clock forward by d. Negative d is ignored.
func (c *Clock) AdvanceBy(d time.Duration) {
	if d > 0 {
		c.now.Add(int64(d))
	}
}

// Pacer decides how simulated time relates to real time.
type Pacer interface {
	// Tick is called at the start of every scheduling step.
	Tick(c *Clock)

	// Idle is called when no task is ready. It returns once simulated time
	// has reached deadline (if hasDeadline), wake fires, or ctx is done.
	Idle(ctx context.Context, c *Clock, deadline time.Duration, hasDeadline bool, wake <-chan struct{}) error
}

// RealTime keeps the simulated clock equal to wall-clock time elapsed since
// the first tick.
type RealTime struct {
	start time.Time
}

// NewRealTime creates a real-time pacer.
func NewRealTime() *RealTime {
	return &RealTime{}
}

func (p *RealTime) Tick(c *Clock) {
	if p.start.IsZero() {
		p.start = time.Now().Add(-c.Now())
	}
	c.AdvanceTo(time.Since(p.start))
}

func (p *RealTime) Idle(ctx context.Context, c *Clock, deadline time.Duration, hasDeadline bool, wake <-chan struct{}) error {
	if !hasDeadline {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
			return nil
		}
	}

	p.Tick(c)
	wait := deadline - c.Now()
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-timer.C:
	}
	p.Tick(c)
	return nil
}

// Virtual runs simulated time independently of the wall clock. Each step
// advances the clock by Quantum, and idle periods are skipped entirely by
// jumping to the next deadline.
type Virtual struct {
	Quantum time.Duration
}

func (p *Virtual) Tick(c *Clock) {
	c.AdvanceBy(p.Quantum)
}

func (p *Virtual) Idle(ctx context.Context, c *Clock, deadline time.Duration, hasDeadline bool, wake <-chan struct{}) error {
	if hasDeadline {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.AdvanceTo(deadline)
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	}
}
