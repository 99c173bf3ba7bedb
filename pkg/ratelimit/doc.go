// Package ratelimit keeps postpulse inside the request budget of the data source.
//
// The budget is expressed as requests per minute. DelayFor turns it into the pause between
// two calls and is what the follow-chain crawler sleeps between steps.
//
// Available Implementations:
//
// Pacer:
//   - Enforces a minimum spacing of DelayFor(rate) between calls
//   - Shared by every collector worker so the budget holds in aggregate
//
// Token Bucket:
//   - Fixed capacity bucket that refills after a specified period
//   - Matches endpoints that publish "N requests per 15 minutes" windows
//
// Sliding Window:
//   - Tracks requests within a moving time window
//
// All limiters implement Limiter. Wait takes a context and returns its error when the caller
// stops while waiting.
//
// Usage:
//
//	delay, err := ratelimit.DelayFor(cfg.RateLimit.ConnectionsPerMinute)
//	if err != nil {
//	    return err
//	}
//
//	pacer, _ := ratelimit.NewPacer(cfg.RateLimit.PostsPerMinute)
//	if err := pacer.Wait(ctx); err != nil {
//	    return err // stopped
//	}
package ratelimit
