package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"postpulse/pkg/checkpoint"
	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
	"postpulse/pkg/metrics"
	"postpulse/pkg/models"
	"postpulse/pkg/ratelimit"
	"postpulse/pkg/retry"
)

// ErrFrontierExhausted is returned when both frontiers are empty before the target is met.
var ErrFrontierExhausted = errors.New("crawl frontier exhausted")

// UnavailablePolicy decides what happens to a handle whose connection list cannot be read.
type UnavailablePolicy string

const (
	// PolicySkip marks the handle visited and moves on.
	PolicySkip UnavailablePolicy = "skip"
	// PolicyRequeue pushes the handle into the next generation.
	PolicyRequeue UnavailablePolicy = "requeue"
)

// ParsePolicy converts a configuration value into a policy.
func ParsePolicy(s string) (UnavailablePolicy, error) {
	switch UnavailablePolicy(s) {
	case PolicySkip, "":
		return PolicySkip, nil
	case PolicyRequeue:
		return PolicyRequeue, nil
	default:
		return "", errs.InvalidConfiguration("unknown unavailable policy %q", s)
	}
}

// Options configures a Crawler.
type Options struct {
	// ConnectionsPerMinute is the budget of the connection-list endpoint.
	ConnectionsPerMinute float64
	// ExtraDelay is added to the pacing delay between steps.
	ExtraDelay time.Duration
	// RateLimitWait is the pause after a rate-limit response; 0 uses the step delay.
	RateLimitWait     time.Duration
	PageSize          int
	UnavailablePolicy UnavailablePolicy
	// Rand drives the random picks; nil seeds from the clock.
	Rand *rand.Rand
}

// StepResult describes one processed handle.
type StepResult struct {
	Handle      string
	Connections int
	NewAccounts int
	Selected    []string
	Unavailable bool
	Duration    time.Duration
}

// Crawler walks the follow graph outward from a seed account.
type Crawler struct {
	source  ConnectionSource
	sink    AccountSink
	store   checkpoint.Store
	edges   EdgeRecorder
	metrics *metrics.Metrics
	logger  logger.Logger

	pageSize      int
	stepDelay     time.Duration
	rateLimitWait time.Duration
	policy        UnavailablePolicy
	rng           *rand.Rand
	onStep        func(StepResult, checkpoint.Progress)

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a crawler. The checkpoint store receives the state after every step.
func New(source ConnectionSource, sink AccountSink, store checkpoint.Store, opts Options, log logger.Logger) (*Crawler, error) {
	delay, err := ratelimit.DelayFor(opts.ConnectionsPerMinute)
	if err != nil {
		return nil, err
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.UnavailablePolicy == "" {
		opts.UnavailablePolicy = PolicySkip
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	stepDelay := delay + opts.ExtraDelay
	rateLimitWait := opts.RateLimitWait
	if rateLimitWait <= 0 {
		rateLimitWait = stepDelay
	}

	return &Crawler{
		source:        source,
		sink:          sink,
		store:         store,
		logger:        logger.OrNop(log).WithField("component", "crawler"),
		pageSize:      opts.PageSize,
		stepDelay:     stepDelay,
		rateLimitWait: rateLimitWait,
		policy:        opts.UnavailablePolicy,
		rng:           rng,
		sleep:         retry.Wait,
	}, nil
}

// WithEdgeRecorder attaches a follow-graph sink.
func (c *Crawler) WithEdgeRecorder(r EdgeRecorder) *Crawler {
	c.edges = r
	return c
}

func (c *Crawler) WithMetrics(m *metrics.Metrics) *Crawler {
	c.metrics = m
	return c
}

// OnStep registers a callback Run invokes after every completed step.
func (c *Crawler) OnStep(fn func(StepResult, checkpoint.Progress)) *Crawler {
	c.onStep = fn
	return c
}

// StepDelay is the pause Run takes between two steps.
func (c *Crawler) StepDelay() time.Duration {
	return c.stepDelay
}

// Step expands one handle of the frontier and checkpoints the result.
//
// Once the connection request has been sent, the step runs to completion even if ctx is
// cancelled: the request, the account writes and the checkpoint use a context that ignores
// cancellation. Cancellation is only observed while waiting out a rate limit, in which case the
// handle goes back into the frontier and the state is left as it was.
func (c *Crawler) Step(ctx context.Context, state *checkpoint.CrawlState) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if state.Frontier.Len() == 0 {
		if state.NextFrontier.Len() == 0 {
			return StepResult{}, ErrFrontierExhausted
		}
		state.Frontier, state.NextFrontier = state.NextFrontier, checkpoint.NewAccountSet()
	}

	start := time.Now()
	handle, _ := state.Frontier.PopMin()
	result := StepResult{Handle: handle}
	work := context.WithoutCancel(ctx)

	rcfg := retry.UntilNotRateLimited(ctx, c.rateLimitWait, nil)
	rcfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.metrics.IncRateLimited("list_connections")
		logger.LogRateLimit(c.logger, "list_connections", handle, delay)
	}
	connections, err := retry.DoWithResult(func() ([]models.Account, error) {
		return c.source.ListConnections(work, handle, c.pageSize)
	}, rcfg)

	switch errs.Classify(err) {
	case errs.OutcomeOK:
	case errs.OutcomeUnavailable:
		return c.unavailable(work, state, result, start, err)
	default:
		state.Frontier.Add(handle)
		c.metrics.ObserveStep("error", time.Since(start), 0)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return result, ctxErr
		}
		return result, fmt.Errorf("list connections of %s: %w", handle, err)
	}
	result.Connections = len(connections)

	for _, account := range connections {
		if state.Downloaded.Has(account.Handle) {
			continue
		}
		if err := c.sink.SaveAccount(work, account); err != nil {
			state.Frontier.Add(handle)
			c.metrics.ObserveStep("error", time.Since(start), result.NewAccounts)
			return result, fmt.Errorf("save account %s: %w", account.Handle, err)
		}
		state.Downloaded.Add(account.Handle)
		result.NewAccounts++
	}

	if c.edges != nil && len(connections) > 0 {
		if err := c.edges.RecordFollows(work, handle, connections); err != nil {
			c.metrics.IncGraphError()
			c.logger.WithError(err).WithField("account", handle).Warn("Failed to record follow edges")
		}
	}

	result.Selected = selectDiverse(candidates(connections, state.Visited), state.Visited, c.rng)
	for _, h := range result.Selected {
		state.NextFrontier.Add(h)
	}

	c.advance(state, handle)
	if err := c.store.Save(work, state); err != nil {
		return result, fmt.Errorf("checkpoint after %s: %w", handle, err)
	}

	result.Duration = time.Since(start)
	c.metrics.ObserveStep("ok", result.Duration, result.NewAccounts)
	c.metrics.SetFrontier(state.Frontier.Len(), state.NextFrontier.Len())
	return result, nil
}

func (c *Crawler) unavailable(ctx context.Context, state *checkpoint.CrawlState, result StepResult, start time.Time, cause error) (StepResult, error) {
	result.Unavailable = true
	log := c.logger.WithError(cause).WithFields(map[string]interface{}{
		"account": result.Handle,
		"policy":  string(c.policy),
	})

	if c.policy == PolicyRequeue {
		state.NextFrontier.Add(result.Handle)
		if state.Frontier.Len() == 0 {
			state.Frontier, state.NextFrontier = state.NextFrontier, checkpoint.NewAccountSet()
		}
		log.Warn("Connections unavailable, requeued for the next generation")
	} else {
		c.advance(state, result.Handle)
		log.Warn("Connections unavailable, skipping account")
	}

	if err := c.store.Save(ctx, state); err != nil {
		return result, fmt.Errorf("checkpoint after %s: %w", result.Handle, err)
	}

	result.Duration = time.Since(start)
	c.metrics.ObserveStep("unavailable", result.Duration, 0)
	c.metrics.SetFrontier(state.Frontier.Len(), state.NextFrontier.Len())
	return result, nil
}

// advance rotates the generations when the current one is used up and marks handle visited.
func (c *Crawler) advance(state *checkpoint.CrawlState, handle string) {
	if state.Frontier.Len() == 0 {
		state.Frontier, state.NextFrontier = state.NextFrontier, checkpoint.NewAccountSet()
	}
	state.Visited.Add(handle)
}

// Run steps until the download target is met, sleeping the step delay between steps.
// The stop signal is honoured between steps and while sleeping; the checkpoint is deleted once
// the target is reached.
func (c *Crawler) Run(ctx context.Context, state *checkpoint.CrawlState) error {
	logger.LogComponentStart(c.logger, "crawler", state.Progress().Fields())

	for !state.Done() {
		if err := ctx.Err(); err != nil {
			logger.LogComponentStop(c.logger, "crawler", "stopped")
			return err
		}

		result, err := c.Step(ctx, state)
		if err != nil {
			if errors.Is(err, ErrFrontierExhausted) {
				if state.Target <= 0 {
					break
				}
				c.logger.WarnWithFields("Frontier exhausted before reaching the target", state.Progress().Fields())
			}
			logger.LogComponentStop(c.logger, "crawler", err.Error())
			return err
		}
		logger.LogCrawlStep(c.logger, result.Handle, result.Connections, len(result.Selected), state.Downloaded.Len(), state.Target)
		if c.onStep != nil {
			c.onStep(result, state.Progress())
		}

		if state.Done() {
			break
		}
		if err := c.sleep(ctx, c.stepDelay); err != nil {
			logger.LogComponentStop(c.logger, "crawler", "stopped")
			return err
		}
	}

	if err := c.store.Delete(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("discard checkpoint: %w", err)
	}
	logger.LogComponentStop(c.logger, "crawler", "target reached")
	return nil
}
