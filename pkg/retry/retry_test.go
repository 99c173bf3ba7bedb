package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0,
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{1, 100 * time.Millisecond, "First attempt"},
		{2, 200 * time.Millisecond, "Second attempt"},
		{3, 400 * time.Millisecond, "Third attempt"},
		{4, 800 * time.Millisecond, "Fourth attempt"},
		{5, 1 * time.Second, "Fifth attempt (capped at max)"},
		{6, 1 * time.Second, "Sixth attempt (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			delay := backoff.NextDelay(test.attempt)
			if delay != test.expected {
				t.Errorf("Expected delay %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 10; i++ {
		delays[backoff.NextDelay(2)] = true
	}

	if len(delays) < 2 {
		t.Error("Expected multiple different delays with jitter, but got consistent delays")
	}
}

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errors.New("persistent error")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	if err := Do(op, cfg); err == nil {
		t.Error("Expected error when max attempts exceeded")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	unavailable := errs.Unavailable("ghost", 404, "user not found")

	op := func() error {
		attempts++
		return unavailable
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	err := Do(op, cfg)
	if err != unavailable {
		t.Errorf("Expected unavailable error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	op := func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 100 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     ctx,
	}

	err := Do(op, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts before cancellation, got %d", attempts)
	}
}

func TestUntilNotRateLimited(t *testing.T) {
	attempts := 0
	op := func() (int, error) {
		attempts++
		if attempts < 6 {
			return 0, errs.RateLimited("alice", time.Time{})
		}
		return 42, nil
	}

	tl := logger.NewTestLogger()
	got, err := DoWithResult(op, UntilNotRateLimited(context.Background(), time.Millisecond, tl))
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != 42 || attempts != 6 {
		t.Errorf("Expected 42 after 6 attempts, got %d after %d", got, attempts)
	}
	if len(tl.GetMessagesByLevel("WARN")) != 5 {
		t.Errorf("Expected 5 retry warnings, got %d", len(tl.GetMessagesByLevel("WARN")))
	}
}

func TestUntilNotRateLimitedPassesOtherErrors(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := Do(func() error {
		attempts++
		if attempts == 1 {
			return errs.RateLimited("", time.Time{})
		}
		return boom
	}, UntilNotRateLimited(context.Background(), time.Millisecond, nil))

	if err != boom {
		t.Errorf("Expected boom, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestErrorTypeBackoff(t *testing.T) {
	etb := NewErrorTypeBackoff()

	if eb, ok := etb.GetBackoffForError(errs.ErrorTypeNetwork).(*ExponentialBackoff); ok {
		if eb.BaseDelay != 1*time.Second {
			t.Errorf("Expected network base delay of 1s, got %v", eb.BaseDelay)
		}
	} else {
		t.Error("Expected ExponentialBackoff for network errors")
	}

	if cb, ok := etb.ForError(errs.RateLimited("", time.Time{})).(*ConstantBackoff); ok {
		if cb.Delay != 15*time.Minute {
			t.Errorf("Expected rate limit delay of 15m, got %v", cb.Delay)
		}
	} else {
		t.Error("Expected ConstantBackoff for rate limit errors")
	}

	server := etb.ForError(&errs.Error{Type: errs.ErrorTypeServerError, Code: 503})
	if lb, ok := server.(*LinearBackoff); ok {
		if lb.BaseDelay != 5*time.Second || lb.Increment != 5*time.Second {
			t.Errorf("Expected server errors to back off 5s at a time, got %v + %v", lb.BaseDelay, lb.Increment)
		}
	} else {
		t.Error("Expected LinearBackoff for server errors")
	}

	if etb.ForError(errors.New("x")) != etb.DefaultBackoff {
		t.Error("Expected default backoff for untyped errors")
	}
}

func TestHTTPRetrierOnlyRetriesTransportErrors(t *testing.T) {
	r := NewHTTPRetrier(3, nil).WithBackoff(&ConstantBackoff{Delay: time.Millisecond})

	attempts := 0
	err := r.Do(func() error {
		attempts++
		return &errs.Error{Type: errs.ErrorTypeServerError, Code: 503}
	})
	if err == nil || attempts != 3 {
		t.Errorf("Expected 3 attempts and an error, got %d and %v", attempts, err)
	}

	attempts = 0
	err = r.Do(func() error {
		attempts++
		return errs.RateLimited("", time.Time{})
	})
	if !errs.IsRateLimited(err) || attempts != 1 {
		t.Errorf("Expected rate limit handed back after 1 attempt, got %d and %v", attempts, err)
	}
}

func TestLinearBackoff(t *testing.T) {
	backoff := &LinearBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Increment:    100 * time.Millisecond,
		JitterFactor: 0.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 500 * time.Millisecond},
		{6, 500 * time.Millisecond},
	}

	for _, test := range tests {
		if delay := backoff.NextDelay(test.attempt); delay != test.expected {
			t.Errorf("Attempt %d: expected %v, got %v", test.attempt, test.expected, delay)
		}
	}
}

func TestWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := Wait(context.Background(), 0); err != nil {
		t.Errorf("Expected nil for zero delay, got %v", err)
	}
}
