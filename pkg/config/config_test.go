package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "postpulse/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1.0, cfg.RateLimit.ConnectionsPerMinute)
	assert.Equal(t, time.Second, cfg.RateLimit.ExtraDelay)
	assert.Equal(t, 200, cfg.Crawl.PageSize)
	assert.Equal(t, "skip", cfg.Crawl.UnavailablePolicy)
	assert.Equal(t, "2020-01-01", cfg.Analysis.Since)
	assert.Equal(t, 3, cfg.Analysis.FrequencyWindow)
	assert.Equal(t, 10, cfg.Analysis.PopularityWindow)
	assert.Equal(t, []string{"en", "zh", "ja"}, cfg.Sample.Languages)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("POSTPULSE_BEARER_TOKEN", "env-token")
	t.Setenv("POSTPULSE_CONNECTIONS_PER_MINUTE", "0.5")
	t.Setenv("POSTPULSE_TARGET", "300")
	t.Setenv("POSTPULSE_WORKERS", "8")
	t.Setenv("POSTPULSE_GRAPH_ENABLED", "true")
	t.Setenv("POSTPULSE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env-token", cfg.Source.BearerToken)
	assert.Equal(t, 0.5, cfg.RateLimit.ConnectionsPerMinute)
	assert.Equal(t, 300, cfg.Crawl.Target)
	assert.Equal(t, 8, cfg.Fetch.Workers)
	assert.True(t, cfg.Graph.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("POSTPULSE_TARGET", "lots")
	t.Setenv("POSTPULSE_METRICS_ENABLED", "maybe")

	err := DefaultConfig().LoadFromEnv()
	require.Error(t, err)
	assert.True(t, errs.IsInvalidConfiguration(err))
	assert.Contains(t, err.Error(), "POSTPULSE_TARGET")
	assert.Contains(t, err.Error(), "POSTPULSE_METRICS_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero rate", func(c *Config) { c.RateLimit.ConnectionsPerMinute = 0 }, "connections per minute"},
		{"unknown strategy", func(c *Config) { c.RateLimit.PostsStrategy = "leaky" }, "posts strategy"},
		{"window without size", func(c *Config) { c.RateLimit.PostsStrategy = "window"; c.RateLimit.Window = 0 }, "rate limit window"},
		{"page size too large", func(c *Config) { c.Crawl.PageSize = 500 }, "crawl page size"},
		{"bad policy", func(c *Config) { c.Crawl.UnavailablePolicy = "retry" }, "unavailable policy"},
		{"postgres without url", func(c *Config) { c.Storage.Backend = "postgres" }, "postgres URL"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage backend"},
		{"bad since", func(c *Config) { c.Analysis.Since = "01/01/2020" }, "analysis since"},
		{"bad filter", func(c *Config) { c.Analysis.PopularityFilter = "iir" }, "popularity filter"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"graph without uri", func(c *Config) { c.Graph.Enabled = true; c.Graph.URI = "" }, "graph URI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsInvalidConfiguration(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.PostsPerMinute = -1
	cfg.Fetch.Workers = 0
	cfg.Sample.CohortSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "posts per minute")
	assert.Contains(t, err.Error(), "fetch workers")
	assert.Contains(t, err.Error(), "cohort size")
}

func TestRequireSource(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, errs.IsInvalidConfiguration(cfg.RequireSource()))

	cfg.Source.BearerToken = "abc"
	assert.NoError(t, cfg.RequireSource())
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()

	cfg.MergeCommandLineFlags(map[string]interface{}{
		"seed":      "nasa",
		"target":    50,
		"rate":      2.0,
		"workers":   7,
		"storage":   "badger",
		"graph":     true,
		"log-level": "error",
		"since":     "",
	})

	assert.Equal(t, "nasa", cfg.Crawl.Seed)
	assert.Equal(t, 50, cfg.Crawl.Target)
	assert.Equal(t, 2.0, cfg.RateLimit.ConnectionsPerMinute)
	assert.Equal(t, 7, cfg.Fetch.Workers)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.True(t, cfg.Graph.Enabled)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "2020-01-01", cfg.Analysis.Since, "empty flag must not override")
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Crawl.Seed = "who"
	cfg.Fetch.Workers = 6
	cfg.Classifier.ExtraKeywords = []string{"omicron"}
	cfg.RateLimit.ExtraDelay = 2500 * time.Millisecond
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "who", loaded.Crawl.Seed)
	assert.Equal(t, 6, loaded.Fetch.Workers)
	assert.Equal(t, []string{"omicron"}, loaded.Classifier.ExtraKeywords)
	assert.Equal(t, 2500*time.Millisecond, loaded.RateLimit.ExtraDelay)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crawl:
  seed: fromfile
  target: 10
fetch:
  workers: 2
`), 0600))

	t.Setenv("POSTPULSE_TARGET", "20")

	cfg, err := Load(path, map[string]interface{}{"workers": 5})
	require.NoError(t, err)

	assert.Equal(t, "fromfile", cfg.Crawl.Seed)
	assert.Equal(t, 20, cfg.Crawl.Target, "env beats file")
	assert.Equal(t, 5, cfg.Fetch.Workers, "flags beat file")
}

func TestLoadReportsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl: [not, a, map"), 0600))

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2021-11-25")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 11, 25, 0, 0, 0, 0, time.UTC), d)

	zero, err := ParseDate("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = ParseDate("25.11.2021")
	assert.True(t, errs.IsInvalidConfiguration(err))
}
