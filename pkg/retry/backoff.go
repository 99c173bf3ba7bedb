package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "postpulse/pkg/errors"
)

// BackoffStrategy computes the pause before retry number attempt (1-based).
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// jittered caps d at limit (when positive) and spreads it by up to ±factor of itself.
func jittered(d, limit, factor float64) time.Duration {
	if limit > 0 && d > limit {
		d = limit
	}
	if factor > 0 {
		spread := d * factor
		d += rand.Float64()*2*spread - spread
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ExponentialBackoff multiplies BaseDelay by Multiplier on every attempt.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor is the relative spread in [0, 1].
	JitterFactor float64
}

// DefaultExponentialBackoff is used for network failures and untyped errors.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	return jittered(d, float64(eb.MaxDelay), eb.JitterFactor)
}

// LinearBackoff adds Increment to BaseDelay on every attempt. Server errors retry with it.
type LinearBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Increment    time.Duration
	JitterFactor float64
}

func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	return jittered(d, float64(lb.MaxDelay), lb.JitterFactor)
}

// ConstantBackoff waits the same Delay before every retry.
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait sleeps for delay, returning early with ctx's error when it is cancelled.
func Wait(ctx context.Context, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorTypeBackoff picks a strategy by error type.
type ErrorTypeBackoff struct {
	NetworkErrorBackoff BackoffStrategy
	RateLimitBackoff    BackoffStrategy
	ServerErrorBackoff  BackoffStrategy
	DefaultBackoff      BackoffStrategy
}

// NewErrorTypeBackoff returns the strategies the HTTP client retries with.
func NewErrorTypeBackoff() *ErrorTypeBackoff {
	return &ErrorTypeBackoff{
		NetworkErrorBackoff: &ExponentialBackoff{
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.2,
		},
		// The v1.1 API resets budgets on 15 minute windows
		RateLimitBackoff: &ConstantBackoff{Delay: 15 * time.Minute},
		ServerErrorBackoff: &LinearBackoff{
			BaseDelay:    5 * time.Second,
			MaxDelay:     time.Minute,
			Increment:    5 * time.Second,
			JitterFactor: 0.1,
		},
		DefaultBackoff: DefaultExponentialBackoff(),
	}
}

// GetBackoffForError returns the strategy for errorType.
func (etb *ErrorTypeBackoff) GetBackoffForError(errorType errs.ErrorType) BackoffStrategy {
	switch errorType {
	case errs.ErrorTypeNetwork:
		return etb.NetworkErrorBackoff
	case errs.ErrorTypeRateLimit:
		return etb.RateLimitBackoff
	case errs.ErrorTypeServerError:
		return etb.ServerErrorBackoff
	default:
		return etb.DefaultBackoff
	}
}

// ForError picks the strategy for err's type.
func (etb *ErrorTypeBackoff) ForError(err error) BackoffStrategy {
	return etb.GetBackoffForError(errs.TypeOf(err))
}
