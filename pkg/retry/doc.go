// Package retry wraps calls against the data source in retry loops.
//
// Two loops matter to postpulse:
//
//   - The rate-limit loop. When the data source reports that the request budget is spent, the
//     crawler and the timeline fetcher sleep a fixed delay and repeat the same request, with no
//     attempt limit. Only the caller's context ends it.
//   - The transport loop. Network failures and 5xx responses are retried a bounded number of
//     times with exponential backoff inside the HTTP client.
//
// Basic usage:
//
//	// Indefinite rate-limit retry
//	friends, err := retry.DoWithResult(func() ([]models.Account, error) {
//		return source.ListConnections(ctx, handle, 200)
//	}, retry.UntilNotRateLimited(ctx, delay, log))
//
//	// Bounded transport retry
//	retrier := retry.NewHTTPRetrier(3, log)
//	err := retrier.Do(func() error {
//		return c.get(ctx, path, query, &out)
//	})
//
// MaxAttempts of 0 means unlimited.
package retry
