package aggregate

import (
	"time"

	"github.com/google/uuid"
)

// FrequencyStatsFloor excludes accounts that barely posted about the topic from the frequency
// statistics.
const FrequencyStatsFloor = 0.0005

// TopN returns the first n entries of a sorted ranking.
func TopN(list []AccountValue, n int) []AccountValue {
	if n < 0 || n >= len(list) {
		n = len(list)
	}
	return append([]AccountValue(nil), list[:n]...)
}

// Summary counts how a cohort's accounts fall out of the rankings.
type Summary struct {
	TotalAccounts int `json:"total_accounts"`
	// WithoutPosts counts accounts with no post in the window.
	WithoutPosts int `json:"without_posts"`
	// NeverRelevant counts ranked accounts whose frequency is zero.
	NeverRelevant int `json:"never_relevant"`
	// BelowOnePercent counts ranked accounts with a frequency under 1 %.
	BelowOnePercent   int `json:"below_one_percent"`
	PopularityIgnored int `json:"popularity_ignored"`
}

func Summarize(r *Result) Summary {
	s := Summary{
		TotalAccounts:     r.Accounts,
		WithoutPosts:      len(r.NoPosts),
		PopularityIgnored: len(r.Ignored),
	}
	for _, f := range r.Frequency {
		if f.Value == 0 {
			s.NeverRelevant++
		}
		if f.Value < 0.01 {
			s.BelowOnePercent++
		}
	}
	return s
}

// StatsPair holds statistics of a sample with and without its outliers.
type StatsPair struct {
	Raw             *Statistics `json:"raw,omitempty"`
	WithoutOutliers *Statistics `json:"without_outliers,omitempty"`
}

// DateSeries is a per-date series ready for plotting.
type DateSeries struct {
	Dates    []string  `json:"dates"`
	Raw      []float64 `json:"raw"`
	Smoothed []float64 `json:"smoothed"`
}

// Report is the structured output of one cohort analysis.
type Report struct {
	ID              string         `json:"id"`
	Cohort          string         `json:"cohort"`
	GeneratedAt     time.Time      `json:"generated_at"`
	Summary         Summary        `json:"summary"`
	TopFrequency    []AccountValue `json:"top_frequency"`
	TopPopularity   []AccountValue `json:"top_popularity"`
	FrequencyStats  StatsPair      `json:"frequency_stats"`
	PopularityStats StatsPair      `json:"popularity_stats"`
	DateFrequency   DateSeries     `json:"date_frequency"`
	DatePopularity  DateSeries     `json:"date_popularity"`
}

// BuildReport assembles the report of r. Statistics of an empty sample are left out.
func BuildReport(r *Result, topN int, outlierThreshold float64) *Report {
	dates := make([]string, len(r.Dates))
	for i, d := range r.Dates {
		dates[i] = d.Format("2006-01-02")
	}

	var freqs []float64
	for _, f := range r.Frequency {
		if f.Value > FrequencyStatsFloor {
			freqs = append(freqs, f.Value)
		}
	}

	return &Report{
		ID:              uuid.NewString(),
		Cohort:          r.Cohort,
		GeneratedAt:     time.Now().UTC(),
		Summary:         Summarize(r),
		TopFrequency:    TopN(r.Frequency, topN),
		TopPopularity:   TopN(r.Popularity, topN),
		FrequencyStats:  describePair(freqs, outlierThreshold),
		PopularityStats: describePair(Values(r.Popularity), outlierThreshold),
		DateFrequency:   DateSeries{Dates: dates, Raw: r.DateFrequency, Smoothed: r.DateFrequencySmoothed},
		DatePopularity:  DateSeries{Dates: dates, Raw: r.DatePopularity, Smoothed: r.DatePopularitySmoothed},
	}
}

func describePair(points []float64, threshold float64) StatsPair {
	var pair StatsPair
	if s, err := Describe(points); err == nil {
		pair.Raw = &s
	}
	if s, err := Describe(RemoveOutliers(points, threshold)); err == nil {
		pair.WithoutOutliers = &s
	}
	return pair
}
