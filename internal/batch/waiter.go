package batch

import (
	"context"
	"errors"
	"time"
)

// Clock abstracts time for the polling loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Waiter polls a job at a fixed interval until it reaches a terminal state or
// the deadline passes. Batch jobs are slow and few, so there is no jitter or
// backoff.
type Waiter struct {
	Interval time.Duration
	Deadline time.Duration
	Clock    Clock
	// OnPoll, if set, is called after every status check.
	OnPoll func(attempt int, st JobState)
}

// WaitUntilTerminal polls h until it is terminal. It returns a Timeout error
// once the elapsed time reaches Deadline; no status check is issued after
// that point.
func (w Waiter) WaitUntilTerminal(ctx context.Context, checker StatusChecker, h JobHandle) (JobState, error) {
	clock := w.Clock
	if clock == nil {
		clock = SystemClock
	}
	start := clock.Now()

	for attempt := 1; ; attempt++ {
		st, err := checker.Status(ctx, h)
		if err != nil {
			return JobState{}, ProviderErr(err, "failed to check status of job %s", h.ID)
		}
		if w.OnPoll != nil {
			w.OnPoll(attempt, st)
		}
		if st.Status.Terminal() {
			return st, nil
		}

		if clock.Now().Sub(start) >= w.Deadline {
			return st, newError(CodeTimeout, nil, "job %s did not finish within %s", h.ID, w.Deadline)
		}
		if err := clock.Sleep(ctx, w.Interval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return st, newError(CodeTimeout, err, "wait for job %s abandoned", h.ID)
			}
			return st, ProviderErr(err, "wait for job %s interrupted", h.ID)
		}
		if clock.Now().Sub(start) >= w.Deadline {
			return st, newError(CodeTimeout, nil, "job %s did not finish within %s", h.ID, w.Deadline)
		}
	}
}
