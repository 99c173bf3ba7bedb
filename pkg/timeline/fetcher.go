// Package timeline pages through an account's post history.
package timeline

import (
	"context"
	"fmt"
	"time"

	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
	"postpulse/pkg/metrics"
	"postpulse/pkg/models"
	"postpulse/pkg/ratelimit"
	"postpulse/pkg/retry"
)

// DefaultPageSize is the largest page the timeline endpoint serves.
const DefaultPageSize = 200

// PostSource lists posts of an account, newest first. maxID 0 asks for the most recent page.
type PostSource interface {
	ListPosts(ctx context.Context, handle string, pageSize int, maxID int64) ([]models.RawPost, error)
}

// Options configures a Fetcher.
type Options struct {
	PageSize int
	// Cutoff stops paging after a page whose oldest post is older than it. Zero disables.
	Cutoff time.Time
	// RateLimitWait is the pause after a rate-limit response.
	RateLimitWait time.Duration
}

// Fetcher downloads complete timelines. One Fetcher may be shared by many goroutines; the
// limiter is what keeps them within the request budget together.
type Fetcher struct {
	source  PostSource
	limiter ratelimit.Limiter
	opts    Options
	metrics *metrics.Metrics
	logger  logger.Logger
}

func NewFetcher(source PostSource, limiter ratelimit.Limiter, opts Options, log logger.Logger) (*Fetcher, error) {
	if limiter == nil {
		return nil, errs.InvalidConfiguration("timeline fetcher needs a rate limiter")
	}
	if opts.PageSize <= 0 || opts.PageSize > DefaultPageSize {
		opts.PageSize = DefaultPageSize
	}
	if opts.RateLimitWait <= 0 {
		opts.RateLimitWait = time.Minute
	}
	return &Fetcher{
		source:  source,
		limiter: limiter,
		opts:    opts,
		logger:  logger.OrNop(log).WithField("component", "timeline"),
	}, nil
}

func (f *Fetcher) WithMetrics(m *metrics.Metrics) *Fetcher {
	f.metrics = m
	return f
}

// FetchAll returns every post of handle, newest first.
//
// Rate limits are waited out for as long as it takes. An unavailable account is returned as
// is. When ctx is cancelled between pages the context error is returned without the posts read
// so far.
func (f *Fetcher) FetchAll(ctx context.Context, handle string) ([]models.RawPost, error) {
	start := time.Now()
	log := f.logger.WithField("account", handle)

	rcfg := retry.UntilNotRateLimited(ctx, f.opts.RateLimitWait, nil)
	rcfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		f.metrics.IncRateLimited("list_posts")
		logger.LogRateLimit(log, "list_posts", handle, delay)
	}

	var (
		posts []models.RawPost
		maxID int64
		pages int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cursor := maxID
		page, err := retry.DoWithResult(func() ([]models.RawPost, error) {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return f.source.ListPosts(ctx, handle, f.opts.PageSize, cursor)
		}, rcfg)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errs.IsUnavailable(err) {
				return nil, err
			}
			return nil, fmt.Errorf("list posts of %s (page %d): %w", handle, pages+1, err)
		}
		if len(page) == 0 {
			break
		}

		pages++
		posts = append(posts, page...)

		oldest := page[0]
		for _, p := range page[1:] {
			if p.ID < oldest.ID {
				oldest = p
			}
		}
		log.DebugWithFields("Fetched timeline page", map[string]interface{}{
			"page":   pages,
			"posts":  len(page),
			"max_id": cursor,
		})

		if !f.opts.Cutoff.IsZero() && oldest.CreatedAt.Before(f.opts.Cutoff) {
			break
		}
		if oldest.ID <= 1 {
			break
		}
		maxID = oldest.ID - 1
	}

	logger.LogFetchProgress(log, handle, pages, len(posts))
	f.metrics.ObserveFetch(len(posts), time.Since(start))
	return posts, nil
}
