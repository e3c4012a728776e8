package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/brsrcheck/internal/errs"
)

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

var errRetryable = errors.New("429 Too Many Requests")

func TestPolicy_ScheduleDoubling(t *testing.T) {
	p := Policy{Attempts: 5, BaseDelay: 10 * time.Second, Multiplier: 2}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
	assert.Equal(t, want, p.Schedule())
}

func TestPolicy_ScheduleOnePointFive(t *testing.T) {
	p := Policy{Attempts: 4, BaseDelay: 10 * time.Second, Multiplier: 1.5}
	want := []time.Duration{10 * time.Second, 15 * time.Second, 22500 * time.Millisecond}
	assert.Equal(t, want, p.Schedule())
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, Policy{Attempts: 1, BaseDelay: time.Millisecond, Multiplier: 1}.Validate())
	assert.Error(t, Policy{Attempts: 0, BaseDelay: time.Second, Multiplier: 2}.Validate())
	assert.Error(t, Policy{Attempts: 3, BaseDelay: 0, Multiplier: 2}.Validate())
	assert.Error(t, Policy{Attempts: 3, BaseDelay: time.Second, Multiplier: 0.5}.Validate())
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	s := &recordingSleeper{}
	var seen []State
	r := &Retrier{
		Site:      "model",
		Policy:    Policy{Attempts: 5, BaseDelay: 10 * time.Second, Multiplier: 2},
		Sleep:     s.Sleep,
		Retryable: func(err error) bool { return errors.Is(err, errRetryable) },
		OnRetry:   func(st State, _ error) { seen = append(seen, st) },
	}

	calls := 0
	err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if calls < 3 {
			return errRetryable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, s.delays)
	require.Len(t, seen, 2)
	assert.Equal(t, State{Attempt: 2, MaxAttempts: 5, Delay: 20 * time.Second}, seen[1])
}

func TestDo_ExhaustionMakesNoExtraAttempt(t *testing.T) {
	s := &recordingSleeper{}
	r := &Retrier{
		Site:      "remote",
		Policy:    Policy{Attempts: 4, BaseDelay: 10 * time.Second, Multiplier: 1.5},
		Sleep:     s.Sleep,
		Retryable: func(error) bool { return true },
	}
	calls := 0
	err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errRetryable
	})

	assert.Equal(t, 4, calls, "no (N+1)th attempt")
	assert.Len(t, s.delays, 3, "no sleep after the final attempt")
	assert.True(t, errors.Is(err, errs.ErrTerminalRetry))
	assert.True(t, errors.Is(err, errRetryable), "last error is carried")

	var re *errs.RetryExhaustedError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "remote", re.Site)
	assert.Equal(t, 4, re.Attempts)
}

func TestDo_NonRetryableReturnedImmediately(t *testing.T) {
	s := &recordingSleeper{}
	fatal := errors.New("400 bad request")
	r := &Retrier{
		Policy:    Policy{Attempts: 5, BaseDelay: time.Second, Multiplier: 2},
		Sleep:     s.Sleep,
		Retryable: func(err error) bool { return errors.Is(err, errRetryable) },
	}
	calls := 0
	err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return fatal
	})
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.delays)
}

func TestDo_SingleAttemptPolicy(t *testing.T) {
	s := &recordingSleeper{}
	r := &Retrier{
		Site:      "model",
		Policy:    Policy{Attempts: 1, BaseDelay: time.Second, Multiplier: 2},
		Sleep:     s.Sleep,
		Retryable: func(error) bool { return true },
	}
	err := r.Do(context.Background(), func(context.Context, int) error { return errRetryable })
	assert.True(t, errors.Is(err, errs.ErrTerminalRetry))
	assert.Empty(t, s.delays)
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Retrier{
		Site:      "model",
		Policy:    Policy{Attempts: 3, BaseDelay: time.Hour, Multiplier: 2},
		Retryable: func(error) bool { return true },
	}
	calls := 0
	err := r.Do(ctx, func(context.Context, int) error {
		calls++
		return errRetryable
	})
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, errs.ErrTerminalRetry))
}

func TestContextSleep(t *testing.T) {
	require.NoError(t, ContextSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ContextSleep(ctx, time.Hour), context.Canceled)
}
