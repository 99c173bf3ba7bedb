package ratelimit

import (
	"math"
	"strings"
	"time"

	"postpulse/pkg/errors"
)

// ForStrategy builds the limiter shared by every worker of a batch.
//
// "pace" spaces calls DelayFor(rate) apart. "window" and "bucket" allow rate*window calls per
// window, the way the API counts its own budget, either on a moving window or on a bucket that
// refills once per window.
func ForStrategy(strategy string, ratePerMinute float64, window time.Duration) (Limiter, error) {
	switch strings.ToLower(strategy) {
	case "", "pace":
		p, err := NewPacer(ratePerMinute)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "window", "bucket":
		if _, err := DelayFor(ratePerMinute); err != nil {
			return nil, err
		}
		if window <= 0 {
			return nil, errors.InvalidConfiguration("rate limit window must be positive, got %v", window)
		}
		budget := int(math.Floor(ratePerMinute * window.Minutes()))
		if budget < 1 {
			budget = 1
		}
		if strings.EqualFold(strategy, "bucket") {
			return NewTokenBucket(budget, window), nil
		}
		return NewSlidingWindow(budget, window), nil
	default:
		return nil, errors.InvalidConfiguration("unknown rate limit strategy %q", strategy)
	}
}
