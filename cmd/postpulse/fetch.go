package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"postpulse/internal/collector"
	"postpulse/pkg/classifier"
	"postpulse/pkg/config"
	"postpulse/pkg/ratelimit"
	"postpulse/pkg/storage"
	"postpulse/pkg/timeline"
)

var (
	// Fetch command flags
	fetchAccounts []string
	fetchWorkers  int
	fetchCutoff   string
	fetchMetrics  bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [cohort]",
	Short: "Collect and classify the timelines of a cohort",
	Long: `Download the complete timeline of every account of a cohort, label each post as
relevant or not, and store both the raw and the labelled posts.

Accounts whose timeline is already stored are skipped, so an interrupted fetch can be
run again. Accounts that are protected, suspended or deleted are skipped and reported.
All workers share one request budget.`,
	Example: `  # Collect the popular cohort
  postpulse fetch popular

  # Collect the news hub account before selecting the news cohort
  postpulse fetch --account TwitterNews

  # Only page back to 2020 with 8 workers
  postpulse fetch random --cutoff 2020-01-01 --workers 8`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringSliceVarP(&fetchAccounts, "account", "a", nil, "collect these accounts (repeatable, comma separated)")
	fetchCmd.Flags().IntVarP(&fetchWorkers, "workers", "w", 0, "number of concurrent timeline fetches")
	fetchCmd.Flags().StringVar(&fetchCutoff, "cutoff", "", "stop paging past posts older than this date (YYYY-MM-DD)")
	fetchCmd.Flags().BoolVar(&fetchMetrics, "metrics", false, "serve Prometheus metrics while fetching")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if len(args) == 0 && len(fetchAccounts) == 0 {
		return errors.New("name a cohort or pass --account")
	}

	a, err := newApp(ctx, map[string]interface{}{
		"workers": fetchWorkers,
		"cutoff":  fetchCutoff,
		"metrics": fetchMetrics,
	}, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var cohort string
	if len(args) > 0 {
		cohort = args[0]
	}
	handles, err := fetchHandles(cmd, a.store, cohort, fetchAccounts)
	if err != nil {
		return err
	}

	fetcher, err := newTimelineFetcher(a)
	if err != nil {
		return err
	}
	pool := collector.NewWorkerPool(ctx, a.cfg.Fetch.Workers, fetcher, a.store,
		classifier.New(a.cfg.Classifier.ExtraKeywords...), a.log).WithMetrics(a.metrics)

	printer.Info("Accounts", strconv.Itoa(len(handles)))
	printer.Info("Workers", strconv.Itoa(a.cfg.Fetch.Workers))

	summary, err := collector.Collect(ctx, pool, handles)
	printFetchSummary(summary)
	if err != nil {
		if ctx.Err() != nil {
			printer.Warning("Fetch interrupted, run the command again to continue")
			return nil
		}
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d accounts failed: %s", summary.Failed, strings.Join(summary.FailedAccounts, ", "))
	}
	printer.Success("Fetch finished")
	return nil
}

// fetchHandles lists the cohort's accounts followed by the extra accounts, without repeats.
func fetchHandles(cmd *cobra.Command, store storage.Store, cohort string, extra []string) ([]string, error) {
	var handles []string
	if cohort != "" {
		c, err := store.LoadCohort(cmd.Context(), cohort)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("cohort %s does not exist; select it with `postpulse sample`", cohort)
			}
			return nil, err
		}
		handles = c.Accounts
	}
	return mergeHandles(handles, extra), nil
}

func mergeHandles(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, h := range list {
			h = strings.TrimPrefix(strings.TrimSpace(h), "@")
			if h == "" || seen[h] {
				continue
			}
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

func newTimelineFetcher(a *app) (*timeline.Fetcher, error) {
	limiter, err := ratelimit.ForStrategy(a.cfg.RateLimit.PostsStrategy, a.cfg.RateLimit.PostsPerMinute, a.cfg.RateLimit.Window)
	if err != nil {
		return nil, err
	}
	cutoff, err := config.ParseDate(a.cfg.Fetch.Cutoff)
	if err != nil {
		return nil, err
	}
	fetcher, err := timeline.NewFetcher(a.client(), limiter, timeline.Options{
		PageSize:      a.cfg.Fetch.PageSize,
		Cutoff:        cutoff,
		RateLimitWait: a.cfg.RateLimit.RateLimitWait,
	}, a.log)
	if err != nil {
		return nil, err
	}
	return fetcher.WithMetrics(a.metrics), nil
}

func printFetchSummary(s collector.Summary) {
	printer.Table([]string{"Fetched", "Skipped", "Unavailable", "Failed", "Posts", "Relevant"}, [][]string{{
		strconv.Itoa(s.Fetched),
		strconv.Itoa(s.Skipped),
		strconv.Itoa(s.Unavailable),
		strconv.Itoa(s.Failed),
		strconv.Itoa(s.Posts),
		strconv.Itoa(s.Relevant),
	}})
	if len(s.UnavailableAccounts) > 0 {
		printer.Warning("Unavailable", strings.Join(s.UnavailableAccounts, ", "))
	}
}
