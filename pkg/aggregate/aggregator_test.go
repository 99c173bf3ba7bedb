package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
	"postpulse/pkg/models"
)

type mapLoader map[string][]models.Post

func (m mapLoader) LoadPosts(ctx context.Context, handle string) ([]models.Post, error) {
	if handle == "broken" {
		return nil, errors.New("corrupt record")
	}
	return m[handle], nil
}

var (
	day1 = time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
)

func post(day time.Time, relevant bool, popularity int) models.Post {
	return models.Post{Relevant: relevant, Popularity: popularity, CreatedAt: day.Add(10 * time.Hour)}
}

func fixture() mapLoader {
	return mapLoader{
		"alice": {
			post(day1, true, 10),
			post(day1, false, 2),
			post(day2, false, 0),
			post(day3, true, 6),
			{Relevant: true, Popularity: 1000, Repost: true, CreatedAt: day2},
			post(time.Date(2019, 12, 30, 0, 0, 0, 0, time.UTC), true, 500),
		},
		"bob": {
			post(day2, false, 3),
			post(day2, false, 1),
		},
		"carol": {
			{Relevant: true, Popularity: 5, Repost: true, CreatedAt: day1},
		},
		"dave": {
			post(day1, true, 0),
			post(day2, false, 0),
		},
	}
}

var handles = []string{"alice", "bob", "carol", "dave"}

func aggregate(t *testing.T, opts Options) *Result {
	t.Helper()
	a, err := New(fixture(), opts, logger.NewTestLogger())
	require.NoError(t, err)
	res, err := a.Aggregate(context.Background(), "popular", handles)
	require.NoError(t, err)
	return res
}

func TestAggregatePerAccount(t *testing.T) {
	res := aggregate(t, DefaultOptions())

	assert.Equal(t, "popular", res.Cohort)
	assert.Equal(t, 4, res.Accounts)
	assert.Equal(t, []AccountValue{{"alice", 0.5}, {"dave", 0.5}, {"bob", 0}}, res.Frequency)

	require.Len(t, res.Popularity, 1)
	assert.Equal(t, "alice", res.Popularity[0].Account)
	assert.InDelta(t, 8/4.5, res.Popularity[0].Value, 1e-9)

	assert.Equal(t, []string{"carol"}, res.NoPosts)
	assert.Equal(t, []string{"bob", "carol", "dave"}, res.Ignored)
}

func TestAggregateSingleAccountRatio(t *testing.T) {
	loader := mapLoader{"erin": {post(day1, true, 10), post(day1, false, 5), post(day2, false, 5)}}
	a, err := New(loader, DefaultOptions(), nil)
	require.NoError(t, err)
	res, err := a.Aggregate(context.Background(), "single", []string{"erin"})
	require.NoError(t, err)

	require.Len(t, res.Frequency, 1)
	assert.InDelta(t, 1.0/3, res.Frequency[0].Value, 1e-9)
	require.Len(t, res.Popularity, 1)
	assert.InDelta(t, 1.5, res.Popularity[0].Value, 1e-9)
	assert.Empty(t, res.NoPosts)
	assert.Empty(t, res.Ignored)
}

func TestAggregatePerDate(t *testing.T) {
	res := aggregate(t, DefaultOptions())

	assert.Equal(t, []time.Time{day1, day2, day3}, res.Dates)
	assert.InDeltaSlice(t, []float64{2.0 / 3, 0, 1}, res.DateFrequency, 1e-9)
	assert.InDeltaSlice(t, []float64{2.0 / 3, 1.0 / 3, 5.0 / 9}, res.DateFrequencySmoothed, 1e-9)

	p1, p3 := 10/4.5, 6/4.5
	assert.InDeltaSlice(t, []float64{p1, 1, p3}, res.DatePopularity, 1e-9)
	assert.InDeltaSlice(t, []float64{p1, (p1 + 1) / 2, (p1 + 1 + p3) / 3}, res.DatePopularitySmoothed, 1e-9)
}

func TestAggregatePooledPopularity(t *testing.T) {
	opts := DefaultOptions()
	opts.PopularityPoolDays = 7
	opts.PopularityWindow = 1
	res := aggregate(t, opts)

	p1, p3 := 10/4.5, 6/4.5
	assert.InDeltaSlice(t, []float64{p1, p1, (p1 + p3) / 2}, res.DatePopularity, 1e-9)
	assert.Equal(t, res.DatePopularity, res.DatePopularitySmoothed)
}

func TestAggregateExplicitRange(t *testing.T) {
	opts := DefaultOptions()
	opts.Start = day1.AddDate(0, 0, -1)
	opts.End = day3
	opts.FrequencyWindow = 1
	res := aggregate(t, opts)

	require.Len(t, res.Dates, 3)
	assert.InDeltaSlice(t, []float64{0, 2.0 / 3, 0}, res.DateFrequency, 1e-9)
	assert.Equal(t, 1.0, res.DatePopularity[0])
}

func TestAggregateEmptyCohort(t *testing.T) {
	a, err := New(mapLoader{}, DefaultOptions(), nil)
	require.NoError(t, err)
	res, err := a.Aggregate(context.Background(), "empty", []string{"nobody"})
	require.NoError(t, err)

	assert.Empty(t, res.Frequency)
	assert.Empty(t, res.Dates)
	assert.Equal(t, []string{"nobody"}, res.NoPosts)
}

func TestAggregateEmptyCohortWithEnd(t *testing.T) {
	opts := DefaultOptions()
	opts.End = time.Date(2021, 11, 25, 0, 0, 0, 0, time.UTC)
	a, err := New(mapLoader{}, opts, nil)
	require.NoError(t, err)
	res, err := a.Aggregate(context.Background(), "empty", []string{"nobody"})
	require.NoError(t, err)

	assert.Empty(t, res.Dates)
	assert.Empty(t, res.DateFrequency)
	assert.Equal(t, []string{"nobody"}, res.NoPosts)

	opts.Start = time.Date(2021, 11, 20, 0, 0, 0, 0, time.UTC)
	a, err = New(mapLoader{}, opts, nil)
	require.NoError(t, err)
	res, err = a.Aggregate(context.Background(), "empty", []string{"nobody"})
	require.NoError(t, err)
	assert.Len(t, res.Dates, 5)
}

func TestAggregateErrors(t *testing.T) {
	a, err := New(fixture(), DefaultOptions(), nil)
	require.NoError(t, err)

	_, err = a.Aggregate(context.Background(), "x", []string{"alice", "broken"})
	assert.ErrorContains(t, err, "corrupt record")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Aggregate(ctx, "x", handles)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsValidate(t *testing.T) {
	opts := DefaultOptions()
	opts.FrequencyMode = SmoothFIR
	_, err := New(fixture(), opts, nil)
	assert.True(t, errs.IsInvalidConfiguration(err))

	opts = DefaultOptions()
	opts.Start, opts.End = day3, day1
	assert.True(t, errs.IsInvalidConfiguration(opts.Validate()))

	opts = DefaultOptions()
	opts.PopularityFilter = SmoothCenteredMean
	assert.Error(t, opts.Validate())
}

func TestBuildReport(t *testing.T) {
	res := aggregate(t, DefaultOptions())
	report := BuildReport(res, 2, DefaultOutlierThreshold)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "popular", report.Cohort)
	assert.Len(t, report.TopFrequency, 2)
	assert.Equal(t, Summary{
		TotalAccounts:     4,
		WithoutPosts:      1,
		NeverRelevant:     1,
		BelowOnePercent:   1,
		PopularityIgnored: 3,
	}, report.Summary)

	require.NotNil(t, report.FrequencyStats.Raw)
	assert.Equal(t, 2, report.FrequencyStats.Raw.Count)
	require.NotNil(t, report.PopularityStats.Raw)
	assert.Equal(t, 1, report.PopularityStats.Raw.Count)

	assert.Equal(t, []string{"2021-03-01", "2021-03-02", "2021-03-03"}, report.DateFrequency.Dates)
	assert.Equal(t, res.DatePopularitySmoothed, report.DatePopularity.Smoothed)
}

func TestBuildReportEmpty(t *testing.T) {
	report := BuildReport(&Result{Cohort: "none"}, 20, DefaultOutlierThreshold)
	assert.Nil(t, report.PopularityStats.Raw)
	assert.Nil(t, report.FrequencyStats.WithoutOutliers)
	assert.Empty(t, report.TopPopularity)
}

func TestTopN(t *testing.T) {
	list := []AccountValue{{"a", 3}, {"b", 2}, {"c", 1}}
	assert.Len(t, TopN(list, 2), 2)
	assert.Len(t, TopN(list, 20), 3)
	assert.Len(t, TopN(list, -1), 3)
}
