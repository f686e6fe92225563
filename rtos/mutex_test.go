package rtos

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestMutex_HandOffByPriority(t *testing.T) {
	s := NewScheduler()
	h := s.Mutexes().Create()
	var r recorder

	s.Spawn("owner", 10, func(ctx context.Context) error {
		if ok, err := s.Mutexes().Take(ctx, h, WaitForever); !ok || err != nil {
			return errors.New("owner could not take a free mutex")
		}
		r.add("owner")
		if err := s.Delay(ctx, time.Millisecond); err != nil {
			return err
		}
		return s.Mutexes().Give(ctx, h)
	})
	waiter := func(name string) Entry {
		return func(ctx context.Context) error {
			ok, err := s.Mutexes().Take(ctx, h, WaitForever)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New(name + " woke without the mutex")
			}
			if owner, _ := s.Mutexes().Owner(h); owner == 0 {
				return errors.New(name + " is not the owner")
			}
			r.add(name)
			return s.Mutexes().Give(ctx, h)
		}
	}
	s.Spawn("w1", 5, waiter("w1"))
	s.Spawn("w2", 7, waiter("w2"))
	s.Spawn("w3", 5, waiter("w3"))

	for _, res := range drain(t, s) {
		if res.Fault != nil {
			t.Fatalf("task %s faulted: %v", res.Task.Name, res.Fault)
		}
	}

	want := []string{"owner", "w2", "w1", "w3"}
	if !reflect.DeepEqual(r.log, want) {
		t.Fatalf("acquisition order = %v, want %v", r.log, want)
	}
	if owner, _ := s.Mutexes().Owner(h); owner != 0 {
		t.Fatalf("mutex still owned by %d", owner)
	}
}

func TestMutex_GiveByNonOwner(t *testing.T) {
	s := NewScheduler()
	h := s.Mutexes().Create()
	var holder TaskID
	var errs []error

	holder = s.Spawn("holder", 8, func(ctx context.Context) error {
		errs = append(errs, s.Mutexes().Give(ctx, h))
		if _, err := s.Mutexes().Take(ctx, h, 0); err != nil {
			return err
		}
		return s.Delay(ctx, time.Millisecond)
	})
	s.Spawn("other", 4, func(ctx context.Context) error {
		errs = append(errs, s.Mutexes().Give(ctx, h))
		if owner, _ := s.Mutexes().Owner(h); owner != holder {
			return errors.New("failed give changed the owner")
		}
		return nil
	})

	for _, res := range drain(t, s) {
		if res.Fault != nil {
			t.Fatalf("task %s faulted: %v", res.Task.Name, res.Fault)
		}
	}
	if len(errs) != 2 {
		t.Fatalf("got %d give results", len(errs))
	}
	for i, err := range errs {
		if !errors.Is(err, ErrNotOwner) {
			t.Errorf("give %d = %v, want ErrNotOwner", i, err)
		}
	}
}

func TestMutex_Timeouts(t *testing.T) {
	s := NewScheduler()
	h := s.Mutexes().Create()
	var (
		immediate, retake, timed bool
		timedAt                  time.Duration
		waitersAfter             []TaskID
	)

	s.Spawn("holder", 10, func(ctx context.Context) error {
		if _, err := s.Mutexes().Take(ctx, h, 0); err != nil {
			return err
		}
		var err error
		retake, err = s.Mutexes().Take(ctx, h, 0)
		if err != nil {
			return err
		}
		return s.Delay(ctx, 10*time.Millisecond)
	})
	s.Spawn("poller", 6, func(ctx context.Context) error {
		var err error
		immediate, err = s.Mutexes().Take(ctx, h, 0)
		return err
	})
	s.Spawn("timed", 5, func(ctx context.Context) error {
		var err error
		timed, err = s.Mutexes().Take(ctx, h, 3*time.Millisecond)
		timedAt = s.Clock().Now()
		waitersAfter = s.Mutexes().Waiters(h)
		return err
	})

	drain(t, s)

	if retake {
		t.Error("owner re-take with zero timeout succeeded")
	}
	if immediate {
		t.Error("zero-timeout take of a held mutex succeeded")
	}
	if timed {
		t.Error("timed take succeeded while the mutex was held")
	}
	if timedAt != 3*time.Millisecond {
		t.Errorf("timed take returned at %v, want 3ms", timedAt)
	}
	if len(waitersAfter) != 0 {
		t.Errorf("timed-out waiter still queued: %v", waitersAfter)
	}
}

func TestMutex_DeleteOwnerWakesNextWaiter(t *testing.T) {
	s := NewScheduler()
	h := s.Mutexes().Create()
	var (
		ownerAfter TaskID
		stateAfter State
		waiterID   TaskID
		waiterGot  bool
	)

	holder := s.Spawn("holder", 5, func(ctx context.Context) error {
		if _, err := s.Mutexes().Take(ctx, h, 0); err != nil {
			return err
		}
		_, err := s.Block(ctx, BlockNone, WaitForever)
		return err
	})
	waiterID = s.Spawn("waiter", 4, func(ctx context.Context) error {
		var err error
		waiterGot, err = s.Mutexes().Take(ctx, h, WaitForever)
		return err
	})
	s.Spawn("killer", 3, func(ctx context.Context) error {
		if err := s.Delete(ctx, holder); err != nil {
			return err
		}
		ownerAfter, _ = s.Mutexes().Owner(h)
		stateAfter = s.TaskState(waiterID)
		return nil
	})

	for _, res := range drain(t, s) {
		if res.Fault != nil {
			t.Fatalf("task %s faulted: %v", res.Task.Name, res.Fault)
		}
	}

	if ownerAfter != waiterID {
		t.Fatalf("owner after delete = %d, want %d", ownerAfter, waiterID)
	}
	if stateAfter != StateReady {
		t.Fatalf("waiter state after delete = %v, want ready", stateAfter)
	}
	if !waiterGot {
		t.Fatal("waiter's take failed")
	}
}

func TestMutex_DeleteWakesWaitersWithFailure(t *testing.T) {
	s := NewScheduler()
	h := s.Mutexes().Create()
	var (
		got      = true
		afterErr error
	)

	s.Spawn("holder", 5, func(ctx context.Context) error {
		if _, err := s.Mutexes().Take(ctx, h, 0); err != nil {
			return err
		}
		if err := s.Delay(ctx, time.Millisecond); err != nil {
			return err
		}
		return s.Mutexes().Delete(h)
	})
	s.Spawn("waiter", 4, func(ctx context.Context) error {
		var err error
		got, err = s.Mutexes().Take(ctx, h, WaitForever)
		if err != nil {
			return err
		}
		_, afterErr = s.Mutexes().Take(ctx, h, 0)
		return nil
	})

	drain(t, s)

	if got {
		t.Fatal("waiter acquired a deleted mutex")
	}
	if !errors.Is(afterErr, ErrNoSuchMutex) {
		t.Fatalf("take of deleted mutex = %v", afterErr)
	}
	if s.Mutexes().Len() != 0 {
		t.Fatalf("%d mutexes left", s.Mutexes().Len())
	}
	if err := s.Mutexes().Delete(h); !errors.Is(err, ErrNoSuchMutex) {
		t.Fatalf("double delete = %v", err)
	}
}
