package batch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/testutil"
)

func TestWaitUntilTerminal_RunningThenSucceeded(t *testing.T) {
	for _, k := range []int{0, 1, 3, 7} {
		inv := &testutil.StubInvoker{Statuses: testutil.Running(k)}
		clock := testutil.NewFakeClock()
		w := batch.Waiter{Interval: 2 * time.Second, Deadline: time.Minute, Clock: clock}

		st, err := w.WaitUntilTerminal(context.Background(), inv, batch.JobHandle{ID: "j"})
		if err != nil {
			t.Fatalf("k=%d: unexpected error: %v", k, err)
		}
		if st.Status != batch.StatusSucceeded {
			t.Fatalf("k=%d: status = %s, want SUCCEEDED", k, st.Status)
		}
		if inv.StatusCalls != k+1 {
			t.Fatalf("k=%d: status checks = %d, want %d", k, inv.StatusCalls, k+1)
		}
		if len(clock.Sleeps) != k {
			t.Fatalf("k=%d: sleeps = %d, want %d", k, len(clock.Sleeps), k)
		}
		for _, d := range clock.Sleeps {
			if d != 2*time.Second {
				t.Fatalf("k=%d: slept %s, want fixed 2s", k, d)
			}
		}
	}
}

func TestWaitUntilTerminal_FailedIsTerminal(t *testing.T) {
	inv := &testutil.StubInvoker{Statuses: []batch.JobState{
		{Status: batch.StatusPending},
		{Status: batch.StatusFailed, Detail: "bad input"},
	}}
	w := batch.Waiter{Interval: time.Second, Deadline: time.Minute, Clock: testutil.NewFakeClock()}

	st, err := w.WaitUntilTerminal(context.Background(), inv, batch.JobHandle{ID: "j"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Status != batch.StatusFailed || st.Detail != "bad input" {
		t.Fatalf("state = %+v", st)
	}
	if inv.StatusCalls != 2 {
		t.Fatalf("status checks = %d, want 2", inv.StatusCalls)
	}
}

func TestWaitUntilTerminal_TimeoutNoPollAfterDeadline(t *testing.T) {
	inv := &testutil.StubInvoker{Statuses: []batch.JobState{{Status: batch.StatusRunning}}}
	clock := testutil.NewFakeClock()
	start := clock.Now()
	deadline := 10 * time.Second
	w := batch.Waiter{Interval: time.Second, Deadline: deadline, Clock: clock}

	var pollTimes []time.Duration
	w.OnPoll = func(int, batch.JobState) { pollTimes = append(pollTimes, clock.Now().Sub(start)) }

	_, err := w.WaitUntilTerminal(context.Background(), inv, batch.JobHandle{ID: "j"})
	if !errors.Is(err, batch.ErrTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if elapsed := clock.Now().Sub(start); elapsed < deadline {
		t.Fatalf("timed out after %s, before deadline %s", elapsed, deadline)
	}
	for _, pt := range pollTimes {
		if pt >= deadline {
			t.Fatalf("poll issued at %s, at or after deadline", pt)
		}
	}
	if inv.StatusCalls != 10 {
		t.Fatalf("status checks = %d, want 10", inv.StatusCalls)
	}
}

func TestWaitUntilTerminal_StatusErrorIsProviderError(t *testing.T) {
	inv := &testutil.StubInvoker{StatusErr: errors.New("503 unavailable")}
	w := batch.Waiter{Interval: time.Second, Deadline: time.Minute, Clock: testutil.NewFakeClock()}

	_, err := w.WaitUntilTerminal(context.Background(), inv, batch.JobHandle{ID: "j"})
	if !errors.Is(err, batch.ErrProviderError) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if inv.StatusCalls != 1 {
		t.Fatalf("status errors must not be retried, got %d calls", inv.StatusCalls)
	}
}

func TestWaitUntilTerminal_ContextCancelled(t *testing.T) {
	inv := &testutil.StubInvoker{Statuses: []batch.JobState{{Status: batch.StatusRunning}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := batch.Waiter{Interval: time.Second, Deadline: time.Minute, Clock: testutil.NewFakeClock()}

	_, err := w.WaitUntilTerminal(ctx, inv, batch.JobHandle{ID: "j"})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestWaitUntilTerminal_RealClockSleeps(t *testing.T) {
	inv := &testutil.StubInvoker{Statuses: testutil.Running(1)}
	w := batch.Waiter{Interval: 20 * time.Millisecond, Deadline: time.Second}

	start := time.Now()
	st, err := w.WaitUntilTerminal(context.Background(), inv, batch.JobHandle{ID: "j"})
	if err != nil || st.Status != batch.StatusSucceeded {
		t.Fatalf("got %+v, %v", st, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("expected at least one interval of sleep")
	}
}
