// Package retry runs a logical call under a bounded attempt budget with a
// deterministic (jitter-free) backoff schedule. Sleeps go through an injectable
// Sleeper so schedules can be asserted without waiting.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/dshills/brsrcheck/internal/errs"
)

// Policy describes a retry schedule: Attempts total attempts (including the
// first), waiting BaseDelay * Multiplier^(n-1) after the n-th failure.
type Policy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
}

// Validate rejects schedules that could never make an attempt or that shrink.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry: attempts must be >= 1, got %d", p.Attempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry: base delay must be > 0, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

// Backoff returns a fresh backoff yielding at most Attempts-1 delays.
func (p Policy) Backoff() goretry.Backoff {
	var b goretry.Backoff
	if p.Multiplier == 2 {
		b = goretry.NewExponential(p.BaseDelay)
	} else {
		n := 0
		base, mult := float64(p.BaseDelay), p.Multiplier
		b = goretry.BackoffFunc(func() (time.Duration, bool) {
			d := time.Duration(base * math.Pow(mult, float64(n)))
			n++
			return d, false
		})
	}
	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return goretry.WithMaxRetries(uint64(retries), b)
}

// Schedule lists the delays the policy would wait, in order.
func (p Policy) Schedule() []time.Duration {
	var out []time.Duration
	b := p.Backoff()
	for {
		d, stop := b.Next()
		if stop {
			return out
		}
		out = append(out, d)
	}
}

// State is the per-call retry bookkeeping handed to observers. Attempt is the
// 1-based attempt that just failed; Delay is the wait before the next one.
type State struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier executes a function under Policy. Site names the call site in
// exhaustion errors; Retryable decides which failures consume another attempt.
type Retrier struct {
	Site      string
	Policy    Policy
	Sleep     Sleeper
	Retryable func(error) bool
	// OnRetry, when set, is called after each retryable failure that will be
	// followed by another attempt.
	OnRetry func(State, error)
}

// Do calls fn until it succeeds, fails with a non-retryable error (returned
// unchanged), or the attempt budget runs out (*errs.RetryExhaustedError
// carrying the last error). A cancelled context during a wait returns the
// context error.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	attempts := r.Policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := r.Policy.Backoff()

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if r.Retryable == nil || !r.Retryable(err) {
			return err
		}
		last = err

		delay, stop := backoff.Next()
		if stop || attempt == attempts {
			break
		}
		if r.OnRetry != nil {
			r.OnRetry(State{Attempt: attempt, MaxAttempts: attempts, Delay: delay}, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: waiting to retry: %w", r.Site, serr)
		}
	}
	return &errs.RetryExhaustedError{Site: r.Site, Attempts: attempts, Err: last}
}
