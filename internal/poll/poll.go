// Package poll implements the bounded "check, sleep, check again" loop shared
// by every component that waits on remote state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// ErrTimeout is returned when the deadline elapses before the condition holds.
var ErrTimeout = errors.New("timed out waiting for condition")

// ConditionFunc probes remote state. done=true ends the loop successfully, a
// non-nil error ends it with that error.
type ConditionFunc func(ctx context.Context) (done bool, err error)

// Poller probes a condition at a fixed interval until it holds or Timeout elapses.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration

	// Clock defaults to the real clock.
	Clock clock.Clock
}

// New returns a Poller on the real clock.
func New(interval, timeout time.Duration) Poller {
	return Poller{Interval: interval, Timeout: timeout}
}

func (p Poller) clock() clock.Clock {
	if p.Clock == nil {
		return clock.RealClock{}
	}
	return p.Clock
}

// Deadline returns the deadline a poll started now would honor.
func (p Poller) Deadline() time.Time {
	return p.clock().Now().Add(p.Timeout)
}

// Until runs cond until it reports done, returns an error, or the deadline
// passes. A probe is only issued while now < deadline, each probe is bounded by
// the time remaining, and a done reported at or after the deadline is a timeout.
func (p Poller) Until(ctx context.Context, cond ConditionFunc) error {
	return p.UntilDeadline(ctx, p.Deadline(), cond)
}

// UntilDeadline is Until with an explicit deadline.
func (p Poller) UntilDeadline(ctx context.Context, deadline time.Time, cond ConditionFunc) error {
	clk := p.clock()
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		if !clk.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrTimeout, p.Timeout)
		}

		done, err := p.probe(ctx, clk, deadline, cond)
		if err != nil {
			return err
		}
		if !clk.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrTimeout, p.Timeout)
		}
		if done {
			return nil
		}

		wait := interval
		if remaining := deadline.Sub(clk.Now()); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(wait):
		}
	}
}

// probe runs cond under a context that expires with the poll. A probe cut off
// by that bound reports ErrTimeout rather than its own error.
func (p Poller) probe(ctx context.Context, clk clock.Clock, deadline time.Time, cond ConditionFunc) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, deadline.Sub(clk.Now()))
	defer cancel()

	done, err := cond(probeCtx)
	if err != nil && ctx.Err() == nil && probeCtx.Err() != nil {
		return false, fmt.Errorf("%w after %s", ErrTimeout, p.Timeout)
	}
	return done, err
}
