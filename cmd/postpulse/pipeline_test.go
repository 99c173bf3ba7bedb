package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpulse/pkg/aggregate"
	"postpulse/pkg/storage"
	"postpulse/pkg/twitter"
)

const testToken = "test-bearer-token-0123456789"

// mockAPI serves the three REST endpoints from an in-memory follow graph.
type mockAPI struct {
	server    *httptest.Server
	follows   map[string][]string
	followers map[string]int
	requests  int32
}

// newMockAPI serves follows. Accounts closer to seed have more followers.
func newMockAPI(seed string, follows map[string][]string) *mockAPI {
	m := &mockAPI{follows: follows, followers: map[string]int{seed: 5000}}
	n := 1000
	queue := []string{seed}
	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]
		for _, to := range follows[from] {
			if _, ok := m.followers[to]; !ok {
				m.followers[to] = n
				n -= 10
				queue = append(queue, to)
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(twitter.FriendsListEndpoint, m.handleFriends)
	mux.HandleFunc(twitter.UserTimelineEndpoint, m.handleTimeline)
	mux.HandleFunc(twitter.UsersShowEndpoint, m.handleShow)
	m.server = httptest.NewServer(m.authorize(mux))
	return m
}

func (m *mockAPI) Close() { m.server.Close() }

func (m *mockAPI) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&m.requests, 1)
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"errors":[{"code":89,"message":"Invalid or expired token."}]}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *mockAPI) user(handle string) map[string]interface{} {
	return map[string]interface{}{
		"id_str":          fmt.Sprintf("%d", len(handle)*1000+m.followers[handle]),
		"screen_name":     handle,
		"name":            strings.ToUpper(handle),
		"followers_count": m.followers[handle],
		"friends_count":   len(m.follows[handle]),
		"statuses_count":  2,
		"lang":            "en",
		"created_at":      "Mon Jan 02 15:04:05 +0000 2012",
	}
}

func (m *mockAPI) handleFriends(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("screen_name")
	users := []map[string]interface{}{}
	for _, h := range m.follows[handle] {
		users = append(users, m.user(h))
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"users": users, "next_cursor": 0})
}

func (m *mockAPI) handleShow(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(m.user(r.URL.Query().Get("screen_name")))
}

// handleTimeline returns two posts on the newest page and nothing older.
func (m *mockAPI) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("max_id") != "" {
		fmt.Fprint(w, `[]`)
		return
	}
	day := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	json.NewEncoder(w).Encode([]map[string]interface{}{
		{"id_str": "20", "full_text": "Booster shot appointments open today", "favorite_count": 8, "retweet_count": 2, "lang": "en", "created_at": day.Add(time.Hour).Format(time.RubyDate)},
		{"id_str": "10", "full_text": "Good morning", "favorite_count": 1, "retweet_count": 0, "lang": "en", "created_at": day.Format(time.RubyDate)},
	})
}

func TestCrawlSampleFetchAnalyze(t *testing.T) {
	follows := map[string][]string{"hub": {"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}}
	for i := 1; i <= 8; i++ {
		follows[fmt.Sprintf("a%d", i)] = []string{fmt.Sprintf("b%d1", i), fmt.Sprintf("b%d2", i)}
	}
	api := newMockAPI("hub", follows)
	defer api.Close()

	mr := miniredis.RunT(t)
	dataDir := t.TempDir()

	cfgPath := filepath.Join(t.TempDir(), "postpulse.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`source:
  base_url: %s
  bearer_token: %s
  timeout: 5s
rate_limit:
  connections_per_minute: 60000
  posts_per_minute: 60000
  extra_delay: 0s
crawl:
  target: 10
  checkpoint_backend: redis
  random_seed: 7
redis:
  addr: %s
storage:
  backend: file
  directory: %s
logging:
  level: error
`, api.server.URL, testToken, mr.Addr(), dataDir)), 0644))

	_, err := executeCommand(t, "--config", cfgPath, "--no-color", "crawl", "hub")
	require.NoError(t, err)
	assert.Empty(t, mr.Keys(), "checkpoint is discarded once the target is reached")

	_, err = executeCommand(t, "--config", cfgPath, "--no-color", "sample", "select")
	require.NoError(t, err)

	_, err = executeCommand(t, "--config", cfgPath, "--no-color", "fetch", "popular", "--workers", "3")
	require.NoError(t, err)

	// A second fetch skips every collected account.
	before := atomic.LoadInt32(&api.requests)
	_, err = executeCommand(t, "--config", cfgPath, "--no-color", "fetch", "popular")
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&api.requests))

	out, err := executeCommand(t, "--config", cfgPath, "--no-color", "analyze", "popular", "--json")
	require.NoError(t, err)

	var report aggregate.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 10, report.Summary.TotalAccounts)
	assert.Zero(t, report.Summary.WithoutPosts)
	for _, f := range report.TopFrequency {
		assert.InDelta(t, 0.5, f.Value, 1e-9, f.Account)
	}

	store, err := storage.NewFileStore(dataDir)
	require.NoError(t, err)
	defer store.Close()
	accounts, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 10)
	cohort, err := store.LoadCohort(context.Background(), "popular")
	require.NoError(t, err)
	assert.Equal(t, "a1", cohort.Accounts[0])
}

func TestCrawlRejectsBadToken(t *testing.T) {
	api := newMockAPI("hub", map[string][]string{"hub": {"a1"}})
	defer api.Close()

	t.Setenv("POSTPULSE_BEARER_TOKEN", "wrong-token-wrong-token")
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	cfgPath := filepath.Join(t.TempDir(), "postpulse.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`source:
  base_url: %s
storage:
  directory: %s
logging:
  level: error
`, api.server.URL, t.TempDir())), 0644))

	_, err := executeCommand(t, "--config", cfgPath, "crawl", "hub")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed account hub")
}
