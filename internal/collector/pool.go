// Package collector downloads the timelines of a set of accounts with a pool of workers.
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"postpulse/pkg/classifier"
	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
	"postpulse/pkg/metrics"
	"postpulse/pkg/models"
)

// Outcome is what happened to one account.
type Outcome string

const (
	OutcomeFetched     Outcome = "fetched"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeFailed      Outcome = "failed"
)

// Job is a single account whose timeline should be collected
type Job struct {
	Handle string
}

// Result represents the result of a collection job
type Result struct {
	Job      Job
	Outcome  Outcome
	Posts    int
	Relevant int
	Error    error
	Duration time.Duration
}

// TimelineFetcher returns an account's whole timeline. Implementations wait on the shared
// rate limiter themselves, so the pool adds no pacing of its own.
type TimelineFetcher interface {
	FetchAll(ctx context.Context, handle string) ([]models.RawPost, error)
}

// PostStore is the part of storage.Store the pool writes to.
type PostStore interface {
	HasPosts(ctx context.Context, handle string) (bool, error)
	SaveRawPosts(ctx context.Context, handle string, posts []models.RawPost) error
	SavePosts(ctx context.Context, handle string, posts []models.Post) error
}

// WorkerPool manages concurrent collection workers
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	fetcher     TimelineFetcher
	store       PostStore
	classifier  *classifier.Classifier
	metrics     *metrics.Metrics
	logger      logger.Logger
}

// NewWorkerPool creates a pool bound to ctx. Cancelling ctx stops the workers after their
// current request.
func NewWorkerPool(
	ctx context.Context,
	numWorkers int,
	fetcher TimelineFetcher,
	store PostStore,
	cls *classifier.Classifier,
	log logger.Logger,
) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if cls == nil {
		cls = classifier.New()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job, numWorkers*2),
		resultQueue: make(chan Result, numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		fetcher:     fetcher,
		store:       store,
		classifier:  cls,
		logger:      log.WithField("component", "collector"),
	}
}

func (wp *WorkerPool) WithMetrics(m *metrics.Metrics) *WorkerPool {
	wp.metrics = m
	return wp
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for the workers and closes Results.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Info("Worker pool stopped")
}

// Abort cancels in-flight work. Stop must still be called.
func (wp *WorkerPool) Abort() {
	wp.cancel()
}

// Submit adds a job to the queue, blocking while it is full.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Results returns the result channel. It is closed by Stop.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		if wp.ctx.Err() != nil {
			return
		}

		result := wp.processJob(job, id)
		if wp.ctx.Err() != nil && result.Outcome == OutcomeFailed {
			// interrupted, not failed
			return
		}

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}
	log := wp.logger.WithFields(map[string]interface{}{
		"worker_id": workerID,
		"account":   job.Handle,
	})

	finish := func(outcome Outcome, err error) Result {
		result.Outcome = outcome
		result.Error = err
		result.Duration = time.Since(start)
		wp.metrics.IncCollected(string(outcome))
		return result
	}

	done, err := wp.store.HasPosts(wp.ctx, job.Handle)
	if err != nil {
		log.WithError(err).Error("Failed to check stored timeline")
		return finish(OutcomeFailed, fmt.Errorf("check stored posts: %w", err))
	}
	if done {
		log.Debug("Timeline already collected")
		return finish(OutcomeSkipped, nil)
	}

	raws, err := wp.fetcher.FetchAll(wp.ctx, job.Handle)
	if err != nil {
		if errs.IsUnavailable(err) {
			log.WithError(err).Warn("Account unavailable, skipping")
			return finish(OutcomeUnavailable, err)
		}
		if wp.ctx.Err() == nil {
			log.WithError(err).Error("Failed to fetch timeline")
		}
		return finish(OutcomeFailed, fmt.Errorf("fetch timeline: %w", err))
	}

	posts := wp.classifier.LabelAll(raws)
	// processed posts are written last: their presence marks the account as collected
	if err := wp.store.SaveRawPosts(wp.ctx, job.Handle, raws); err != nil {
		log.WithError(err).Error("Failed to save raw posts")
		return finish(OutcomeFailed, fmt.Errorf("save raw posts: %w", err))
	}
	if err := wp.store.SavePosts(wp.ctx, job.Handle, posts); err != nil {
		log.WithError(err).Error("Failed to save posts")
		return finish(OutcomeFailed, fmt.Errorf("save posts: %w", err))
	}

	result.Posts = len(posts)
	for _, p := range posts {
		if p.Relevant {
			result.Relevant++
		}
	}
	log.DebugWithFields("Timeline collected", map[string]interface{}{
		"posts":    result.Posts,
		"relevant": result.Relevant,
		"duration": time.Since(start),
	})
	return finish(OutcomeFetched, nil)
}

// Summary totals the results of a collection run.
type Summary struct {
	Fetched     int `json:"fetched"`
	Skipped     int `json:"skipped"`
	Unavailable int `json:"unavailable"`
	Failed      int `json:"failed"`
	Posts       int `json:"posts"`
	Relevant    int `json:"relevant"`
	// UnavailableAccounts and FailedAccounts are sorted.
	UnavailableAccounts []string `json:"unavailable_accounts,omitempty"`
	FailedAccounts      []string `json:"failed_accounts,omitempty"`
}

func (s *Summary) add(r Result) {
	switch r.Outcome {
	case OutcomeFetched:
		s.Fetched++
		s.Posts += r.Posts
		s.Relevant += r.Relevant
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeUnavailable:
		s.Unavailable++
		s.UnavailableAccounts = append(s.UnavailableAccounts, r.Job.Handle)
	case OutcomeFailed:
		s.Failed++
		s.FailedAccounts = append(s.FailedAccounts, r.Job.Handle)
	}
}

// Fields returns the summary as log fields.
func (s Summary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"fetched":     s.Fetched,
		"skipped":     s.Skipped,
		"unavailable": s.Unavailable,
		"failed":      s.Failed,
		"posts":       s.Posts,
		"relevant":    s.Relevant,
	}
}

// Collect runs a pool over handles and waits for it. Unavailable accounts and per-account
// failures are counted, not returned. A configuration error (for example a rejected token)
// aborts the run since every other account would fail the same way; so does ctx.
func Collect(ctx context.Context, pool *WorkerPool, handles []string) (Summary, error) {
	var summary Summary
	var fatal error

	pool.Start()
	go func() {
		defer pool.Stop()
		for _, h := range handles {
			if err := pool.Submit(Job{Handle: h}); err != nil {
				return
			}
		}
	}()

	for r := range pool.Results() {
		summary.add(r)
		if fatal == nil && r.Outcome == OutcomeFailed && errs.IsInvalidConfiguration(r.Error) {
			fatal = r.Error
			pool.Abort()
		}
	}

	sort.Strings(summary.UnavailableAccounts)
	sort.Strings(summary.FailedAccounts)
	pool.logger.InfoWithFields("Collection finished", summary.Fields())

	if fatal != nil {
		return summary, fatal
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}
