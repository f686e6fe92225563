package event

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrInboundClosed is returned by Send after CloseInbound.
var ErrInboundClosed = errors.New("inbound queue closed")

// Bus is the pair of unbounded, ordered queues connecting the simulator to a
// frontend. Inbound messages may be sent from any goroutine and are drained
// by the simulator loop at step boundaries. Outbound events are published by
// the simulator and consumed in generation order.
type Bus struct {
	now      func() uint32
	wake     chan struct{}
	outReady chan struct{}
	runID    string
	inbound  []Message
	outbound []Event
	seq      uint64
	mu       sync.Mutex
	inClosed bool
	outClose bool
}

// NewBus creates a bus that stamps events with runID and the simulated time
// reported by now. now may be nil.
func NewBus(runID string, now func() uint32) *Bus {
	return &Bus{
		runID:    runID,
		now:      now,
		wake:     make(chan struct{}, 1),
		outReady: make(chan struct{}, 1),
	}
}

// SetClock replaces the time source used to stamp events.
func (b *Bus) SetClock(now func() uint32) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// RunID returns the id stamped on every event.
func (b *Bus) RunID() string {
	return b.runID
}

// Send enqueues an inbound message.
func (b *Bus) Send(m Message) error {
	b.mu.Lock()
	if b.inClosed {
		b.mu.Unlock()
		return ErrInboundClosed
	}
	b.inbound = append(b.inbound, m)
	b.mu.Unlock()
	signal(b.wake)
	return nil
}

// CloseInbound marks the end of frontend input. Pending messages are still drained.
func (b *Bus) CloseInbound() {
	b.mu.Lock()
	b.inClosed = true
	b.mu.Unlock()
	signal(b.wake)
}

// InboundClosed reports whether CloseInbound was called.
func (b *Bus) InboundClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inClosed
}

// Drain removes and returns all pending inbound messages in arrival order.
func (b *Bus) Drain() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.inbound
	b.inbound = nil
	return msgs
}

// Wake is signaled whenever an inbound message arrives or the inbound queue closes.
func (b *Bus) Wake() <-chan struct{} {
	return b.wake
}

// Publish stamps ev and appends it to the outbound queue. Events published
// after CloseOutbound are dropped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.outClose {
		b.mu.Unlock()
		return
	}
	b.seq++
	ev.Seq = b.seq
	ev.RunID = b.runID
	if b.now != nil {
		ev.TimeMs = b.now()
	}
	b.outbound = append(b.outbound, ev)
	b.mu.Unlock()
	signal(b.outReady)
}

// CloseOutbound ends the outbound stream. Consumers see io.EOF once the
// queue is empty.
func (b *Bus) CloseOutbound() {
	b.mu.Lock()
	b.outClose = true
	b.mu.Unlock()
	signal(b.outReady)
}

// Next blocks until an event is available and removes it. It returns io.EOF
// after CloseOutbound once every event has been consumed.
func (b *Bus) Next(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if len(b.outbound) > 0 {
			ev := b.outbound[0]
			b.outbound[0] = Event{}
			b.outbound = b.outbound[1:]
			more := len(b.outbound) > 0
			b.mu.Unlock()
			if more {
				signal(b.outReady)
			}
			return ev, nil
		}
		closed := b.outClose
		b.mu.Unlock()
		if closed {
			return Event{}, io.EOF
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-b.outReady:
		}
	}
}

// Events removes and returns all pending outbound events without blocking.
func (b *Bus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	evs := b.outbound
	b.outbound = nil
	return evs
}

// Consume feeds every outbound event to each sink in order until the stream
// ends or ctx is done. It returns nil on a clean end of stream.
func (b *Bus) Consume(ctx context.Context, sinks ...func(Event) error) error {
	for {
		ev, err := b.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, sink := range sinks {
			if err := sink(ev); err != nil {
				return err
			}
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
