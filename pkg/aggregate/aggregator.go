// Package aggregate reduces the classified post histories of a cohort into per-account and
// per-date series.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
	"postpulse/pkg/models"
)

// PostLoader reads the processed posts of one account.
type PostLoader interface {
	LoadPosts(ctx context.Context, handle string) ([]models.Post, error)
}

// Options tunes an aggregation run.
type Options struct {
	// Since drops posts created at or before it.
	Since time.Time
	// Start and End bound the per-date series, End excluded. Zero values span the data.
	Start time.Time
	End   time.Time

	FrequencyWindow int
	FrequencyMode   SmoothMode

	// PopularityPoolDays pools the per-account ratios of this many trailing days into each
	// day's value.
	PopularityPoolDays int
	PopularityWindow   int
	PopularityFilter   SmoothMode
}

// DefaultOptions returns the settings used by the analysis command.
func DefaultOptions() Options {
	return Options{
		Since:              time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		FrequencyWindow:    3,
		FrequencyMode:      SmoothTrailingMean,
		PopularityPoolDays: 1,
		PopularityWindow:   10,
		PopularityFilter:   SmoothTrailingMean,
	}
}

func (o Options) Validate() error {
	if o.FrequencyWindow < 0 || o.PopularityWindow < 0 {
		return errs.InvalidConfiguration("smoothing windows cannot be negative")
	}
	if o.PopularityPoolDays < 0 {
		return errs.InvalidConfiguration("popularity pool cannot be negative, got %d", o.PopularityPoolDays)
	}
	switch o.FrequencyMode {
	case "", SmoothTrailingMean, SmoothCenteredMean:
	default:
		return errs.InvalidConfiguration("unknown frequency smoothing %q", o.FrequencyMode)
	}
	switch o.PopularityFilter {
	case "", SmoothTrailingMean, SmoothFIR:
	default:
		return errs.InvalidConfiguration("unknown popularity filter %q", o.PopularityFilter)
	}
	if !o.Start.IsZero() && !o.End.IsZero() && !o.Start.Before(o.End) {
		return errs.InvalidConfiguration("series start %s must be before end %s",
			o.Start.Format("2006-01-02"), o.End.Format("2006-01-02"))
	}
	return nil
}

// AccountValue is one account's value in a ranking.
type AccountValue struct {
	Account string  `json:"account"`
	Value   float64 `json:"value"`
}

// Result holds everything computed for one cohort.
type Result struct {
	Cohort   string `json:"cohort"`
	Accounts int    `json:"accounts"`

	// Frequency and Popularity are sorted by value, highest first.
	Frequency  []AccountValue `json:"frequency"`
	Popularity []AccountValue `json:"popularity"`
	// NoPosts lists accounts without any post in the window.
	NoPosts []string `json:"no_posts"`
	// Ignored lists accounts left out of Popularity.
	Ignored []string `json:"ignored"`

	Dates                  []time.Time `json:"dates"`
	DateFrequency          []float64   `json:"date_frequency"`
	DateFrequencySmoothed  []float64   `json:"date_frequency_smoothed"`
	DatePopularity         []float64   `json:"date_popularity"`
	DatePopularitySmoothed []float64   `json:"date_popularity_smoothed"`
}

// Values returns the values of a ranking in order.
func Values(list []AccountValue) []float64 {
	out := make([]float64, len(list))
	for i, v := range list {
		out[i] = v.Value
	}
	return out
}

// Aggregator computes cohort series from stored posts.
type Aggregator struct {
	loader PostLoader
	opts   Options
	logger logger.Logger
}

func New(loader PostLoader, opts Options, log logger.Logger) (*Aggregator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		loader: loader,
		opts:   opts,
		logger: logger.OrNop(log).WithField("component", "aggregate"),
	}, nil
}

type dayCounts struct {
	relevant int
	all      int
}

// accountDays is what one account contributes to the per-date series.
type accountDays struct {
	allMean float64
	// relevantMean maps a day to the mean popularity of the account's relevant posts on it.
	relevantMean map[time.Time]float64
}

// Aggregate loads every account's posts and computes the cohort's rankings and series.
func (a *Aggregator) Aggregate(ctx context.Context, cohort string, handles []string) (*Result, error) {
	res := &Result{Cohort: cohort, Accounts: len(handles)}
	counts := make(map[time.Time]*dayCounts)
	var contributions []accountDays
	var first, last time.Time

	for i, handle := range handles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 && i%100 == 0 {
			a.logger.DebugWithFields("Aggregating cohort", map[string]interface{}{
				"cohort":   cohort,
				"accounts": i,
			})
		}

		all, err := a.loader.LoadPosts(ctx, handle)
		if err != nil {
			return nil, fmt.Errorf("load posts of %s: %w", handle, err)
		}
		posts := a.window(all)
		if len(posts) == 0 {
			res.NoPosts = append(res.NoPosts, handle)
			res.Ignored = append(res.Ignored, handle)
			continue
		}

		relevant, popAll, popRelevant := 0, 0, 0
		daySum := make(map[time.Time]int)
		dayN := make(map[time.Time]int)
		for _, p := range posts {
			d := Day(p.CreatedAt)
			if first.IsZero() || d.Before(first) {
				first = d
			}
			if d.After(last) {
				last = d
			}

			c := counts[d]
			if c == nil {
				c = &dayCounts{}
				counts[d] = c
			}
			c.all++
			popAll += p.Popularity
			if p.Relevant {
				c.relevant++
				relevant++
				popRelevant += p.Popularity
				daySum[d] += p.Popularity
				dayN[d]++
			}
		}

		res.Frequency = append(res.Frequency, AccountValue{handle, float64(relevant) / float64(len(posts))})

		allMean := float64(popAll) / float64(len(posts))
		if relevant == 0 || allMean == 0 {
			res.Ignored = append(res.Ignored, handle)
			continue
		}
		relevantMean := float64(popRelevant) / float64(relevant)
		res.Popularity = append(res.Popularity, AccountValue{handle, relevantMean / allMean})

		ad := accountDays{allMean: allMean, relevantMean: make(map[time.Time]float64, len(daySum))}
		for d, s := range daySum {
			ad.relevantMean[d] = float64(s) / float64(dayN[d])
		}
		contributions = append(contributions, ad)
	}

	sortDescending(res.Frequency)
	sortDescending(res.Popularity)

	start, end := a.opts.Start, a.opts.End
	if start.IsZero() {
		start = first
	}
	if end.IsZero() && !last.IsZero() {
		end = last.AddDate(0, 0, 1)
	}
	// Without data and without an explicit start there is no range to build.
	if !start.IsZero() && !end.IsZero() {
		res.Dates = DateRange(start, end)
	}

	if err := a.dateSeries(res, counts, contributions); err != nil {
		return nil, err
	}

	a.logger.InfoWithFields("Cohort aggregated", map[string]interface{}{
		"cohort":     cohort,
		"accounts":   len(handles),
		"no_posts":   len(res.NoPosts),
		"ignored":    len(res.Ignored),
		"popularity": len(res.Popularity),
		"days":       len(res.Dates),
	})
	return res, nil
}

// window drops reposts and posts at or before Since.
func (a *Aggregator) window(posts []models.Post) []models.Post {
	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if p.Repost {
			continue
		}
		if !a.opts.Since.IsZero() && !p.CreatedAt.After(a.opts.Since) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (a *Aggregator) dateSeries(res *Result, counts map[time.Time]*dayCounts, contributions []accountDays) error {
	relevant := make([]float64, len(res.Dates))
	all := make([]float64, len(res.Dates))
	for i, d := range res.Dates {
		if c := counts[d]; c != nil {
			relevant[i] = float64(c.relevant)
			all[i] = float64(c.all)
		}
	}
	res.DateFrequency = DivideZeros(relevant, all)

	var err error
	res.DateFrequencySmoothed, err = Smooth(a.opts.FrequencyMode, res.DateFrequency, a.opts.FrequencyWindow)
	if err != nil {
		return err
	}

	pool := a.opts.PopularityPoolDays
	if pool < 1 {
		pool = 1
	}
	daySum := make([]float64, len(res.Dates))
	dayN := make([]int, len(res.Dates))
	for i, d := range res.Dates {
		for _, c := range contributions {
			if m, ok := c.relevantMean[d]; ok {
				daySum[i] += m / c.allMean
				dayN[i]++
			}
		}
	}

	res.DatePopularity = make([]float64, len(res.Dates))
	for i := range res.Dates {
		sum, n := 0.0, 0
		for j := i; j >= 0 && j > i-pool; j-- {
			sum += daySum[j]
			n += dayN[j]
		}
		if n == 0 {
			res.DatePopularity[i] = 1
		} else {
			res.DatePopularity[i] = sum / float64(n)
		}
	}

	res.DatePopularitySmoothed, err = Smooth(a.opts.PopularityFilter, res.DatePopularity, a.opts.PopularityWindow)
	return err
}

func sortDescending(list []AccountValue) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Value > list[j].Value
	})
}
