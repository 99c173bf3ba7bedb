package sample

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpulse/pkg/logger"
	"postpulse/pkg/models"
	"postpulse/pkg/storage"
)

const directoryHTML = `<html><body>
<table>
  <tr><th>#</th><th>Account</th><th>Followers</th></tr>
  <tr><td>1</td><td><a href="https://twitter.com/cnnbrk">@cnnbrk</a></td><td>3,000,000</td></tr>
  <tr><td>2</td><td><a href="https://twitter.com/nytimes">@nytimes</a></td><td>2,500,000</td></tr>
  <tr><td>3</td><td><a href="https://twitter.com/bbcbreaking">@bbcbreaking</a></td><td>2,000,000</td></tr>
  <tr><td>4</td><td>no link here</td><td>1</td></tr>
</table>
<p><a href="https://twitter.com/ignored">@ignored</a></p>
</body></html>`

func TestRank(t *testing.T) {
	ranked := Rank([]models.Account{
		{Handle: "b", Followers: 10, Posts: 5, Lang: "en"},
		{Handle: "a", Followers: 10, Posts: 7, StatusLang: "ja"},
		{Handle: "c", Followers: 900},
	})

	require.Len(t, ranked, 3)
	assert.Equal(t, "c", ranked[0].Handle)
	assert.Equal(t, "a", ranked[1].Handle)
	assert.Equal(t, "ja", ranked[1].Lang)
	assert.Equal(t, "b", ranked[2].Handle)

	assert.Equal(t, 1, Position(ranked, "c"))
	assert.Equal(t, 3, Position(ranked, "b"))
	assert.Equal(t, -1, Position(ranked, "zz"))
}

func testCriteria() Criteria {
	return Criteria{Languages: []string{"en", "zh", "ja"}, CohortSize: 3, MinFollowers: 150, MinPosts: 1000, MaxPosts: 3250}
}

func TestSelect(t *testing.T) {
	var ranked []Ranked
	// ten popular speakers, then a mix of eligible and ineligible ones
	for i := 0; i < 10; i++ {
		ranked = append(ranked, Ranked{Handle: fmt.Sprintf("top%d", i), Followers: 100000 - i, Posts: 5000, Lang: "en-gb"})
	}
	ranked = append(ranked,
		Ranked{Handle: "french", Followers: 99999, Posts: 2000, Lang: "fr"},
		Ranked{Handle: "nolang", Followers: 99998, Posts: 2000},
		Ranked{Handle: "ok1", Followers: 500, Posts: 2000, Lang: "zh-cn"},
		Ranked{Handle: "ok2", Followers: 151, Posts: 1001, Lang: "ja"},
		Ranked{Handle: "few", Followers: 150, Posts: 2000, Lang: "en"},
		Ranked{Handle: "quiet", Followers: 500, Posts: 1000, Lang: "en"},
		Ranked{Handle: "loud", Followers: 500, Posts: 3250, Lang: "en"},
	)
	sortRanked(ranked)

	now := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	sel := Select(ranked, testCriteria(), rand.New(rand.NewSource(1)), now)

	assert.Equal(t, []string{"top0", "top1", "top2"}, sel.Popular.Accounts)
	assert.Equal(t, PopularCohort, sel.Popular.Name)
	assert.Equal(t, now, sel.Random.CreatedAt)

	// top3..top9 have too many posts; only ok1 and ok2 qualify
	assert.Equal(t, 2, sel.Eligible)
	assert.ElementsMatch(t, []string{"ok1", "ok2"}, sel.Random.Accounts)
	for _, h := range sel.Random.Accounts {
		assert.NotContains(t, sel.Popular.Accounts, h)
	}
	require.NoError(t, sel.Popular.Validate())
	require.NoError(t, sel.Random.Validate())
}

func TestSelectRandomIsSeeded(t *testing.T) {
	var ranked []Ranked
	for i := 0; i < 50; i++ {
		ranked = append(ranked, Ranked{Handle: fmt.Sprintf("u%02d", i), Followers: 1000 - i, Posts: 2000, Lang: "en"})
	}
	c := testCriteria()

	a := Select(ranked, c, rand.New(rand.NewSource(42)), time.Time{})
	b := Select(ranked, c, rand.New(rand.NewSource(42)), time.Time{})
	assert.Equal(t, a.Random.Accounts, b.Random.Accounts)
	assert.Len(t, a.Random.Accounts, 3)
	assert.Equal(t, 47, a.Eligible)
}

func sortRanked(r []Ranked) {
	accounts := make([]models.Account, len(r))
	for i, x := range r {
		accounts[i] = models.Account{Handle: x.Handle, Followers: x.Followers, Posts: x.Posts, Lang: x.Lang}
	}
	copy(r, Rank(accounts))
}

func newStore(t *testing.T) *storage.FileStore {
	t.Helper()
	s, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSamplerSelectCohorts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for i := 0; i < 8; i++ {
		require.NoError(t, store.SaveAccount(ctx, models.Account{
			Handle: fmt.Sprintf("user%d", i), ID: fmt.Sprint(i), Followers: 1000 * (i + 1), Posts: 1500, Lang: "en",
		}))
	}

	log := logger.NewTestLogger()
	s := NewSampler(store, testCriteria(), 7, log)
	sel, err := s.SelectCohorts(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"user7", "user6", "user5"}, sel.Popular.Accounts)
	assert.Len(t, sel.Random.Accounts, 3)

	stored, err := store.LoadCohort(ctx, RandomCohort)
	require.NoError(t, err)
	assert.Equal(t, sel.Random.Accounts, stored.Accounts)

	_, err = s.SelectCohorts(ctx, false)
	assert.ErrorIs(t, err, ErrCohortExists)

	again, err := s.SelectCohorts(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, sel.Popular.Accounts, again.Popular.Accounts)
	assert.True(t, log.HasMessage("Cohorts selected"))
}

func TestSamplerWarnsOnSmallPool(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SaveAccount(ctx, models.Account{Handle: "solo", ID: "1", Followers: 10, Lang: "en"}))

	log := logger.NewTestLogger()
	sel, err := NewSampler(store, testCriteria(), 1, log).SelectCohorts(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, sel.Popular.Accounts)
	assert.Empty(t, sel.Random.Accounts)
	assert.Len(t, log.GetMessagesByLevel("WARN"), 1)
}

func TestParseDirectory(t *testing.T) {
	handles, err := ParseDirectory(strings.NewReader(directoryHTML))
	require.NoError(t, err)
	assert.Equal(t, []string{"cnnbrk", "nytimes", "bbcbreaking"}, handles)
}

func TestRepostedHandles(t *testing.T) {
	posts := []models.RawPost{
		{Text: "RT @CNN: Breaking news"},
		{Text: "Our morning roundup"},
		{Text: "RT @nytimes: Something"},
		{Text: "rt @lower: not a repost prefix"},
		{Text: "RT @: empty"},
	}
	assert.Equal(t, []string{"CNN", "nytimes"}, RepostedHandles(posts))
}

func TestMergeNews(t *testing.T) {
	merged := MergeNews("TwitterNews", []string{"NYTimes", "CNN", "CNN"}, []string{"nytimes", "cnnbrk", "twitternews", "cnnbrk"})
	assert.Equal(t, []string{"CNN", "NYTimes", "TwitterNews", "cnnbrk"}, merged)
	assert.Equal(t, []string{}, MergeNews("", nil, nil))
}

type pageFetcher struct {
	body string
	err  error
	urls []string
}

func (p *pageFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	p.urls = append(p.urls, url)
	return []byte(p.body), p.err
}

func TestSelectNews(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SaveRawPosts(ctx, "TwitterNews", []models.RawPost{
		{ID: 2, Text: "RT @NYTimes: Vaccines arrive", CreatedAt: time.Now()},
		{ID: 1, Text: "hello", CreatedAt: time.Now()},
	}))

	fetcher := &pageFetcher{body: directoryHTML}
	s := NewSampler(store, testCriteria(), 1, nil)

	cohort, err := s.SelectNews(ctx, fetcher, "TwitterNews", "https://example.com/list", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"NYTimes", "TwitterNews", "bbcbreaking", "cnnbrk"}, cohort.Accounts)
	assert.Equal(t, []string{"https://example.com/list"}, fetcher.urls)

	_, err = s.SelectNews(ctx, fetcher, "TwitterNews", "https://example.com/list", false)
	assert.ErrorIs(t, err, ErrCohortExists)
}

func TestSelectNewsNeedsHubTimeline(t *testing.T) {
	s := NewSampler(newStore(t), testCriteria(), 1, nil)
	_, err := s.SelectNews(context.Background(), &pageFetcher{}, "TwitterNews", "", false)
	assert.ErrorContains(t, err, "collect it first")
}

func TestSelectNewsDirectoryFailure(t *testing.T) {
	s := NewSampler(newStore(t), testCriteria(), 1, nil)
	_, err := s.SelectNews(context.Background(), &pageFetcher{err: errors.New("timeout")}, "", "https://example.com", false)
	assert.ErrorContains(t, err, "timeout")
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SavePosts(ctx, "cnn", []models.Post{{CreatedAt: time.Now()}}))
	require.NoError(t, store.SavePosts(ctx, "empty", []models.Post{}))

	kept, err := FilterAvailable(ctx, store, []string{"cnn", "gone", "empty"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cnn", "empty"}, kept)

	s := NewSampler(store, testCriteria(), 1, nil)
	pruned, dropped, err := s.Prune(ctx, models.Cohort{Name: NewsCohort, Accounts: []string{"cnn", "gone", "empty"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, dropped)
	assert.Equal(t, []string{"cnn", "empty"}, pruned.Accounts)

	stored, err := store.LoadCohort(ctx, NewsCohort)
	require.NoError(t, err)
	assert.Equal(t, pruned.Accounts, stored.Accounts)
}
