package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpulse/pkg/checkpoint"
	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
	"postpulse/pkg/metrics"
	"postpulse/pkg/models"
)

type fakeSource struct {
	mu          sync.Mutex
	graph       map[string][]models.Account
	rateLimited map[string]int
	unavailable map[string]bool
	calls       []string
	onCall      func(handle string)
}

func (f *fakeSource) ListConnections(ctx context.Context, handle string, pageSize int) ([]models.Account, error) {
	f.mu.Lock()
	f.calls = append(f.calls, handle)
	hook := f.onCall
	remaining := f.rateLimited[handle]
	if remaining > 0 {
		f.rateLimited[handle] = remaining - 1
	}
	f.mu.Unlock()

	if hook != nil {
		hook(handle)
	}
	if remaining != 0 {
		return nil, errs.RateLimited(handle, time.Now())
	}
	if f.unavailable[handle] {
		return nil, errs.Unavailable(handle, 401, "not authorized")
	}
	return f.graph[handle], nil
}

type fakeSink struct {
	saved  []string
	failOn string
}

func (f *fakeSink) SaveAccount(ctx context.Context, a models.Account) error {
	if a.Handle == f.failOn {
		return errors.New("disk full")
	}
	f.saved = append(f.saved, a.Handle)
	return nil
}

type memStore struct {
	state   *checkpoint.CrawlState
	saves   int
	deleted bool
}

func (m *memStore) Load(ctx context.Context) (*checkpoint.CrawlState, error) { return m.state, nil }
func (m *memStore) Save(ctx context.Context, s *checkpoint.CrawlState) error {
	data, err := s.Serialize()
	if err != nil {
		return err
	}
	m.state, err = checkpoint.Deserialize(data)
	m.saves++
	return err
}
func (m *memStore) Delete(ctx context.Context) error { m.deleted = true; m.state = nil; return nil }
func (m *memStore) Exists(ctx context.Context) (bool, error) { return m.state != nil, nil }

type failingEdges struct{}

func (failingEdges) RecordFollows(ctx context.Context, from string, to []models.Account) error {
	return errors.New("graph down")
}

func accounts(prefix string, n int) []models.Account {
	out := make([]models.Account, n)
	for i := range out {
		out[i] = models.Account{Handle: fmt.Sprintf("%s%02d", prefix, i), Followers: (i + 1) * 100}
	}
	return out
}

func newTestCrawler(t *testing.T, src ConnectionSource, sink AccountSink, store checkpoint.Store, policy UnavailablePolicy, log logger.Logger) *Crawler {
	t.Helper()
	c, err := New(src, sink, store, Options{
		ConnectionsPerMinute: 60000,
		RateLimitWait:        time.Millisecond,
		UnavailablePolicy:    policy,
		Rand:                 rand.New(rand.NewSource(7)),
	}, log)
	require.NoError(t, err)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New(&fakeSource{}, &fakeSink{}, &memStore{}, Options{ConnectionsPerMinute: 0}, nil)
	assert.True(t, errs.IsInvalidConfiguration(err))
}

func TestStepDelay(t *testing.T) {
	c, err := New(&fakeSource{}, &fakeSink{}, &memStore{}, Options{ConnectionsPerMinute: 1, ExtraDelay: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, 61*time.Second, c.StepDelay())
	assert.Equal(t, 61*time.Second, c.rateLimitWait)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	p, err = ParsePolicy("requeue")
	require.NoError(t, err)
	assert.Equal(t, PolicyRequeue, p)

	_, err = ParsePolicy("explode")
	assert.True(t, errs.IsInvalidConfiguration(err))
}

func TestStepExpandsSeed(t *testing.T) {
	src := &fakeSource{graph: map[string][]models.Account{"seed": accounts("a", 10)}}
	sink := &fakeSink{}
	store := &memStore{}
	state, err := checkpoint.New("seed", 100)
	require.NoError(t, err)

	result, err := newTestCrawler(t, src, sink, store, PolicySkip, nil).Step(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, "seed", result.Handle)
	assert.Equal(t, 10, result.Connections)
	assert.Equal(t, 10, result.NewAccounts)
	assert.Len(t, result.Selected, 6)
	assert.Len(t, sink.saved, 10)

	assert.True(t, state.Visited.Has("seed"))
	assert.Equal(t, 10, state.Downloaded.Len())
	// The seed generation is used up so the selection became the current frontier.
	assert.Equal(t, 6, state.Frontier.Len())
	assert.Equal(t, 0, state.NextFrontier.Len())
	assert.Equal(t, 1, store.saves)
	assert.True(t, state.Frontier.Equal(store.state.Frontier))
}

func TestStepSkipsAlreadyDownloaded(t *testing.T) {
	src := &fakeSource{graph: map[string][]models.Account{"seed": accounts("a", 4)}}
	sink := &fakeSink{}
	state, err := checkpoint.New("seed", 100)
	require.NoError(t, err)
	state.Downloaded.Add("a00")
	state.Downloaded.Add("a01")

	result, err := newTestCrawler(t, src, sink, &memStore{}, PolicySkip, nil).Step(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewAccounts)
	assert.Equal(t, []string{"a02", "a03"}, sink.saved)
}

func TestStepWaitsOutRateLimit(t *testing.T) {
	src := &fakeSource{
		graph:       map[string][]models.Account{"seed": accounts("a", 2)},
		rateLimited: map[string]int{"seed": 2},
	}
	m := metrics.New(prometheus.NewRegistry())
	log := logger.NewTestLogger()
	state, err := checkpoint.New("seed", 100)
	require.NoError(t, err)

	c := newTestCrawler(t, src, &fakeSink{}, &memStore{}, PolicySkip, log).WithMetrics(m)
	result, err := c.Step(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, 2, result.NewAccounts)
	assert.Equal(t, []string{"seed", "seed", "seed"}, src.calls)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RateLimited.WithLabelValues("list_connections")))
	assert.Len(t, log.GetMessagesByLevel("WARN"), 2)
}

func TestStepCancelledDuringRateLimitRestoresFrontier(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		graph:       map[string][]models.Account{"seed": accounts("a", 2)},
		rateLimited: map[string]int{"seed": -1},
		onCall:      func(string) { cancel() },
	}
	store := &memStore{}
	state, err := checkpoint.New("seed", 100)
	require.NoError(t, err)

	_, err = newTestCrawler(t, src, &fakeSink{}, store, PolicySkip, nil).Step(ctx, state)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	assert.True(t, state.Frontier.Has("seed"))
	assert.Equal(t, 0, state.Visited.Len())
	assert.Equal(t, 0, store.saves)
}

func TestStepUnavailableSkip(t *testing.T) {
	src := &fakeSource{unavailable: map[string]bool{"ghost": true}}
	store := &memStore{}
	state, err := checkpoint.New("ghost", 10)
	require.NoError(t, err)
	state.NextFrontier.Add("next")

	result, err := newTestCrawler(t, src, &fakeSink{}, store, PolicySkip, nil).Step(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, result.Unavailable)
	assert.True(t, state.Visited.Has("ghost"))
	assert.True(t, state.Frontier.Has("next"))
	assert.Equal(t, 1, store.saves)
}

func TestStepUnavailableRequeue(t *testing.T) {
	src := &fakeSource{unavailable: map[string]bool{"ghost": true}}
	state, err := checkpoint.New("ghost", 10)
	require.NoError(t, err)
	state.Frontier.Add("other")

	result, err := newTestCrawler(t, src, &fakeSink{}, &memStore{}, PolicyRequeue, nil).Step(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, result.Unavailable)
	assert.False(t, state.Visited.Has("ghost"))
	assert.True(t, state.NextFrontier.Has("ghost"))
	assert.True(t, state.Frontier.Has("other"))
}

func TestStepFatalErrorRestoresFrontier(t *testing.T) {
	src := &fakeSource{graph: map[string][]models.Account{"seed": accounts("a", 3)}}
	sink := &fakeSink{failOn: "a01"}
	store := &memStore{}
	state, err := checkpoint.New("seed", 10)
	require.NoError(t, err)

	_, err = newTestCrawler(t, src, sink, store, PolicySkip, nil).Step(context.Background(), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.True(t, state.Frontier.Has("seed"))
	assert.False(t, state.Visited.Has("seed"))
	assert.True(t, state.Downloaded.Has("a00"))
	assert.Equal(t, 0, store.saves)
}

func TestStepEdgeErrorsAreNotFatal(t *testing.T) {
	src := &fakeSource{graph: map[string][]models.Account{"seed": accounts("a", 3)}}
	m := metrics.New(prometheus.NewRegistry())
	log := logger.NewTestLogger()
	state, err := checkpoint.New("seed", 10)
	require.NoError(t, err)

	c := newTestCrawler(t, src, &fakeSink{}, &memStore{}, PolicySkip, log).
		WithEdgeRecorder(failingEdges{}).
		WithMetrics(m)
	_, err = c.Step(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.GraphErrors))
	assert.True(t, log.HasMessage("Failed to record follow edges"))
}

func TestStepExhausted(t *testing.T) {
	state, err := checkpoint.New("seed", 10)
	require.NoError(t, err)
	state.Frontier = checkpoint.NewAccountSet()

	_, err = newTestCrawler(t, &fakeSource{}, &fakeSink{}, &memStore{}, PolicySkip, nil).Step(context.Background(), state)
	assert.ErrorIs(t, err, ErrFrontierExhausted)
}

func TestRunReachesTargetAndDeletesCheckpoint(t *testing.T) {
	graph := map[string][]models.Account{"seed": accounts("a", 4)}
	for _, a := range accounts("a", 4) {
		graph[a.Handle] = accounts(a.Handle+"-", 3)
	}
	src := &fakeSource{graph: graph}
	sink := &fakeSink{}
	store := &memStore{}
	state, err := checkpoint.New("seed", 12)
	require.NoError(t, err)

	var observed []checkpoint.Progress
	c := newTestCrawler(t, src, sink, store, PolicySkip, nil).OnStep(func(r StepResult, p checkpoint.Progress) {
		observed = append(observed, p)
	})
	require.NoError(t, c.Run(context.Background(), state))

	assert.True(t, state.Done())
	assert.GreaterOrEqual(t, len(sink.saved), 12)
	assert.True(t, store.deleted)
	require.Len(t, observed, store.saves)
	assert.Equal(t, state.Downloaded.Len(), observed[len(observed)-1].Downloaded)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	graph := map[string][]models.Account{"seed": accounts("a", 4)}
	for _, a := range accounts("a", 4) {
		graph[a.Handle] = accounts(a.Handle+"-", 3)
	}
	src := &fakeSource{graph: graph}
	store := &memStore{}
	state, err := checkpoint.New("seed", 1000)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestCrawler(t, src, &fakeSink{}, store, PolicySkip, nil)
	steps := 0
	c.sleep = func(ctx context.Context, d time.Duration) error {
		steps++
		if steps == 2 {
			cancel()
		}
		return ctx.Err()
	}

	err = c.Run(ctx, state)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, store.deleted)
	assert.Equal(t, 2, store.saves)
	assert.Equal(t, 2, state.Visited.Len())
}

func TestRunUnboundedEndsOnExhaustion(t *testing.T) {
	src := &fakeSource{graph: map[string][]models.Account{"seed": accounts("a", 2)}}
	store := &memStore{}
	state, err := checkpoint.New("seed", 0)
	require.NoError(t, err)

	require.NoError(t, newTestCrawler(t, src, &fakeSink{}, store, PolicySkip, nil).Run(context.Background(), state))
	assert.True(t, store.deleted)
	assert.Equal(t, 3, state.Visited.Len())
}

func TestCandidatesFilterAndSort(t *testing.T) {
	conns := []models.Account{
		{Handle: "big", Followers: 900},
		{Handle: "locked", Followers: 50, Protected: true},
		{Handle: "seen", Followers: 10},
		{Handle: "small", Followers: 20},
		{Handle: "mid", Followers: 500},
	}
	got := candidates(conns, checkpoint.NewAccountSet("seen"))

	var handles []string
	for _, a := range got {
		handles = append(handles, a.Handle)
	}
	assert.Equal(t, []string{"small", "mid", "big"}, handles)
}

func TestSelectDiverse(t *testing.T) {
	t.Run("few candidates are all taken", func(t *testing.T) {
		got := selectDiverse(accounts("a", 2), checkpoint.NewAccountSet(), rand.New(rand.NewSource(1)))
		assert.Equal(t, []string{"a00", "a01"}, got)
	})

	t.Run("six distinct with the most followed filling up", func(t *testing.T) {
		sorted := accounts("a", 20)
		got := selectDiverse(sorted, checkpoint.NewAccountSet(), rand.New(rand.NewSource(42)))
		require.Len(t, got, 6)

		seen := map[string]bool{}
		for _, h := range got {
			assert.False(t, seen[h], "duplicate %s", h)
			seen[h] = true
		}
		assert.True(t, seen["a19"])
	})

	t.Run("same seed same selection", func(t *testing.T) {
		sorted := accounts("a", 20)
		a := selectDiverse(sorted, checkpoint.NewAccountSet(), rand.New(rand.NewSource(3)))
		b := selectDiverse(sorted, checkpoint.NewAccountSet(), rand.New(rand.NewSource(3)))
		assert.Equal(t, a, b)
	})

	t.Run("fewer than six candidates", func(t *testing.T) {
		got := selectDiverse(accounts("a", 5), checkpoint.NewAccountSet(), rand.New(rand.NewSource(9)))
		assert.Len(t, got, 5)
	})
}
