package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	errs "postpulse/pkg/errors"
)

// DateLayout is the layout of the date-valued options (since, start, end, cutoff).
const DateLayout = "2006-01-02"

// Config holds all configuration options for postpulse
type Config struct {
	Source     SourceConfig     `yaml:"source" json:"source"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Crawl      CrawlConfig      `yaml:"crawl" json:"crawl"`
	Fetch      FetchConfig      `yaml:"fetch" json:"fetch"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Graph      GraphConfig      `yaml:"graph" json:"graph"`
	Sample     SampleConfig     `yaml:"sample" json:"sample"`
	Analysis   AnalysisConfig   `yaml:"analysis" json:"analysis"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SourceConfig describes the social-media API
type SourceConfig struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	BearerToken string        `yaml:"bearer_token" json:"-"`
	UserAgent   string        `yaml:"user_agent" json:"user_agent"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	// MaxRetries bounds retries of network and 5xx failures; rate limits are retried separately.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// RateLimitConfig holds the request budgets of the data source
type RateLimitConfig struct {
	ConnectionsPerMinute float64 `yaml:"connections_per_minute" json:"connections_per_minute"`
	PostsPerMinute       float64 `yaml:"posts_per_minute" json:"posts_per_minute"`
	// ExtraDelay is added on top of the connection pacing between crawl steps.
	ExtraDelay time.Duration `yaml:"extra_delay" json:"extra_delay"`
	// RateLimitWait is the pause after a rate-limit response; 0 uses the pacing delay.
	RateLimitWait time.Duration `yaml:"rate_limit_wait" json:"rate_limit_wait"`
	// PostsStrategy shapes the timeline budget: pace, window or bucket.
	PostsStrategy string        `yaml:"posts_strategy" json:"posts_strategy"`
	Window        time.Duration `yaml:"window" json:"window"`
}

// CrawlConfig holds the follow-chain walk settings
type CrawlConfig struct {
	Seed              string `yaml:"seed" json:"seed"`
	Target            int    `yaml:"target" json:"target"`
	PageSize          int    `yaml:"page_size" json:"page_size"`
	UnavailablePolicy string `yaml:"unavailable_policy" json:"unavailable_policy"`
	// CheckpointBackend is "file" or "redis"
	CheckpointBackend string `yaml:"checkpoint_backend" json:"checkpoint_backend"`
	CheckpointName    string `yaml:"checkpoint_name" json:"checkpoint_name"`
	// RandomSeed fixes the diversity picks; 0 seeds from the clock.
	RandomSeed int64 `yaml:"random_seed" json:"random_seed"`
}

// FetchConfig holds timeline collection settings
type FetchConfig struct {
	Workers  int    `yaml:"workers" json:"workers"`
	PageSize int    `yaml:"page_size" json:"page_size"`
	Cutoff   string `yaml:"cutoff" json:"cutoff"`
}

// StorageConfig selects where records live
type StorageConfig struct {
	// Backend is "file", "badger" or "postgres"
	Backend     string `yaml:"backend" json:"backend"`
	Directory   string `yaml:"directory" json:"directory"`
	PostgresURL string `yaml:"postgres_url" json:"-"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// GraphConfig holds the follow-graph export settings
type GraphConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	URI      string `yaml:"uri" json:"uri"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Database string `yaml:"database" json:"database"`
}

// SampleConfig holds cohort selection settings
type SampleConfig struct {
	Languages        []string `yaml:"languages" json:"languages"`
	CohortSize       int      `yaml:"cohort_size" json:"cohort_size"`
	MinFollowers     int      `yaml:"min_followers" json:"min_followers"`
	MinPosts         int      `yaml:"min_posts" json:"min_posts"`
	MaxPosts         int      `yaml:"max_posts" json:"max_posts"`
	NewsHub          string   `yaml:"news_hub" json:"news_hub"`
	NewsDirectoryURL string   `yaml:"news_directory_url" json:"news_directory_url"`
	RandomSeed       int64    `yaml:"random_seed" json:"random_seed"`
}

// AnalysisConfig holds aggregation settings
type AnalysisConfig struct {
	Since              string  `yaml:"since" json:"since"`
	Start              string  `yaml:"start" json:"start"`
	End                string  `yaml:"end" json:"end"`
	FrequencyWindow    int     `yaml:"frequency_window" json:"frequency_window"`
	FrequencyMode      string  `yaml:"frequency_mode" json:"frequency_mode"`
	PopularityPoolDays int     `yaml:"popularity_pool_days" json:"popularity_pool_days"`
	PopularityWindow   int     `yaml:"popularity_window" json:"popularity_window"`
	PopularityFilter   string  `yaml:"popularity_filter" json:"popularity_filter"`
	OutlierThreshold   float64 `yaml:"outlier_threshold" json:"outlier_threshold"`
	TopN               int     `yaml:"top_n" json:"top_n"`
}

type ClassifierConfig struct {
	ExtraKeywords []string `yaml:"extra_keywords" json:"extra_keywords"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	JSON    bool   `yaml:"json" json:"json"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:    "https://api.twitter.com",
			UserAgent:  "postpulse/1.0",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		RateLimit: RateLimitConfig{
			// friends/list allows 15 calls per 15 minutes
			ConnectionsPerMinute: 1,
			// user_timeline allows 1500 calls per 15 minutes with app auth
			PostsPerMinute: 100,
			ExtraDelay:     time.Second,
			PostsStrategy:  "pace",
			Window:         15 * time.Minute,
		},
		Crawl: CrawlConfig{
			Target:            2000,
			PageSize:          200,
			UnavailablePolicy: "skip",
			CheckpointBackend: "file",
			CheckpointName:    "default",
		},
		Fetch: FetchConfig{
			Workers:  4,
			PageSize: 200,
		},
		Storage: StorageConfig{
			Backend:   "file",
			Directory: "./data",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "postpulse:",
		},
		Graph: GraphConfig{
			URI:      "neo4j://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		Sample: SampleConfig{
			Languages:        []string{"en", "zh", "ja"},
			CohortSize:       500,
			MinFollowers:     150,
			MinPosts:         1000,
			MaxPosts:         3250,
			NewsHub:          "TwitterNews",
			NewsDirectoryURL: "https://memeburn.com/2010/09/the-100-most-influential-news-media-twitter-accounts/",
		},
		Analysis: AnalysisConfig{
			Since:              "2020-01-01",
			FrequencyWindow:    3,
			FrequencyMode:      "trailing",
			PopularityPoolDays: 1,
			PopularityWindow:   10,
			PopularityFilter:   "trailing",
			OutlierThreshold:   3.5,
			TopN:               20,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func envString(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func envInt(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func envFloat(dst func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func envBool(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var envBindings = []envBinding{
	{"POSTPULSE_BEARER_TOKEN", envString(func(c *Config) *string { return &c.Source.BearerToken })},
	{"POSTPULSE_API_BASE_URL", envString(func(c *Config) *string { return &c.Source.BaseURL })},
	{"POSTPULSE_CONNECTIONS_PER_MINUTE", envFloat(func(c *Config) *float64 { return &c.RateLimit.ConnectionsPerMinute })},
	{"POSTPULSE_POSTS_PER_MINUTE", envFloat(func(c *Config) *float64 { return &c.RateLimit.PostsPerMinute })},
	{"POSTPULSE_SEED", envString(func(c *Config) *string { return &c.Crawl.Seed })},
	{"POSTPULSE_TARGET", envInt(func(c *Config) *int { return &c.Crawl.Target })},
	{"POSTPULSE_CHECKPOINT_BACKEND", envString(func(c *Config) *string { return &c.Crawl.CheckpointBackend })},
	{"POSTPULSE_WORKERS", envInt(func(c *Config) *int { return &c.Fetch.Workers })},
	{"POSTPULSE_STORAGE_BACKEND", envString(func(c *Config) *string { return &c.Storage.Backend })},
	{"POSTPULSE_DATA_DIR", envString(func(c *Config) *string { return &c.Storage.Directory })},
	{"POSTPULSE_POSTGRES_URL", envString(func(c *Config) *string { return &c.Storage.PostgresURL })},
	{"POSTPULSE_REDIS_ADDR", envString(func(c *Config) *string { return &c.Redis.Addr })},
	{"POSTPULSE_REDIS_PASSWORD", envString(func(c *Config) *string { return &c.Redis.Password })},
	{"POSTPULSE_GRAPH_ENABLED", envBool(func(c *Config) *bool { return &c.Graph.Enabled })},
	{"POSTPULSE_NEO4J_URI", envString(func(c *Config) *string { return &c.Graph.URI })},
	{"POSTPULSE_NEO4J_USER", envString(func(c *Config) *string { return &c.Graph.Username })},
	{"POSTPULSE_NEO4J_PASSWORD", envString(func(c *Config) *string { return &c.Graph.Password })},
	{"POSTPULSE_METRICS_ENABLED", envBool(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"POSTPULSE_METRICS_ADDR", envString(func(c *Config) *string { return &c.Metrics.Addr })},
	{"POSTPULSE_LOG_LEVEL", envString(func(c *Config) *string { return &c.Logging.Level })},
	{"POSTPULSE_LOG_FILE", envString(func(c *Config) *string { return &c.Logging.File })},
}

// LoadFromEnv loads configuration from POSTPULSE_* environment variables.
// Malformed numbers and booleans are reported together.
func (c *Config) LoadFromEnv() error {
	var problems []error
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", b.name, err))
		}
	}
	if len(problems) > 0 {
		return errs.Wrap(errs.ErrorTypeInvalidConfiguration, errors.Join(problems...), "invalid environment")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".postpulse.yaml",
		".postpulse.yml",
		filepath.Join(home, ".config", "postpulse", "config.yaml"),
		filepath.Join(home, ".config", "postpulse", "config.yml"),
		filepath.Join(home, ".postpulse.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}

func checkDate(name, value string, errs *[]error) {
	if value == "" {
		return
	}
	if _, err := time.Parse(DateLayout, value); err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a YYYY-MM-DD date, got %q", name, value))
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var problems []error

	if c.RateLimit.ConnectionsPerMinute <= 0 {
		problems = append(problems, errors.New("connections per minute must be positive"))
	}
	if c.RateLimit.PostsPerMinute <= 0 {
		problems = append(problems, errors.New("posts per minute must be positive"))
	}
	if c.RateLimit.ExtraDelay < 0 || c.RateLimit.RateLimitWait < 0 {
		problems = append(problems, errors.New("delays cannot be negative"))
	}
	if !oneOf(c.RateLimit.PostsStrategy, "", "pace", "window", "bucket") {
		problems = append(problems, fmt.Errorf("posts strategy must be pace, window or bucket, got %q", c.RateLimit.PostsStrategy))
	}
	if c.RateLimit.PostsStrategy != "" && c.RateLimit.PostsStrategy != "pace" && c.RateLimit.Window <= 0 {
		problems = append(problems, errors.New("rate limit window must be positive"))
	}
	if c.Source.MaxRetries < 0 {
		problems = append(problems, errors.New("max retries cannot be negative"))
	}

	if c.Crawl.PageSize <= 0 || c.Crawl.PageSize > 200 {
		problems = append(problems, errors.New("crawl page size must be between 1 and 200"))
	}
	if !oneOf(c.Crawl.UnavailablePolicy, "skip", "requeue") {
		problems = append(problems, fmt.Errorf("unavailable policy must be skip or requeue, got %q", c.Crawl.UnavailablePolicy))
	}
	if !oneOf(c.Crawl.CheckpointBackend, "file", "redis") {
		problems = append(problems, fmt.Errorf("checkpoint backend must be file or redis, got %q", c.Crawl.CheckpointBackend))
	}
	if c.Crawl.CheckpointName == "" {
		problems = append(problems, errors.New("checkpoint name is required"))
	}

	if c.Fetch.Workers <= 0 || c.Fetch.Workers > 32 {
		problems = append(problems, errors.New("fetch workers must be between 1 and 32"))
	}
	if c.Fetch.PageSize <= 0 || c.Fetch.PageSize > 200 {
		problems = append(problems, errors.New("fetch page size must be between 1 and 200"))
	}
	checkDate("fetch cutoff", c.Fetch.Cutoff, &problems)

	switch strings.ToLower(c.Storage.Backend) {
	case "file", "badger":
		if c.Storage.Directory == "" {
			problems = append(problems, errors.New("storage directory is required"))
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			problems = append(problems, errors.New("postgres URL is required for the postgres backend"))
		}
	default:
		problems = append(problems, fmt.Errorf("storage backend must be file, badger or postgres, got %q", c.Storage.Backend))
	}

	if strings.EqualFold(c.Crawl.CheckpointBackend, "redis") && c.Redis.Addr == "" {
		problems = append(problems, errors.New("redis address is required for the redis checkpoint backend"))
	}
	if c.Graph.Enabled && c.Graph.URI == "" {
		problems = append(problems, errors.New("graph URI is required when graph export is enabled"))
	}

	if c.Sample.CohortSize <= 0 {
		problems = append(problems, errors.New("cohort size must be positive"))
	}
	if c.Sample.MinPosts > c.Sample.MaxPosts {
		problems = append(problems, errors.New("sample min posts exceeds max posts"))
	}

	checkDate("analysis since", c.Analysis.Since, &problems)
	checkDate("analysis start", c.Analysis.Start, &problems)
	checkDate("analysis end", c.Analysis.End, &problems)
	if c.Analysis.FrequencyWindow <= 0 || c.Analysis.PopularityWindow <= 0 || c.Analysis.PopularityPoolDays <= 0 {
		problems = append(problems, errors.New("analysis windows must be positive"))
	}
	if !oneOf(c.Analysis.FrequencyMode, "trailing", "centered") {
		problems = append(problems, fmt.Errorf("frequency mode must be trailing or centered, got %q", c.Analysis.FrequencyMode))
	}
	if !oneOf(c.Analysis.PopularityFilter, "trailing", "fir") {
		problems = append(problems, fmt.Errorf("popularity filter must be trailing or fir, got %q", c.Analysis.PopularityFilter))
	}
	if c.Analysis.OutlierThreshold <= 0 {
		problems = append(problems, errors.New("outlier threshold must be positive"))
	}

	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		problems = append(problems, errors.New("invalid log level"))
	}

	if len(problems) > 0 {
		return errs.Wrap(errs.ErrorTypeInvalidConfiguration, errors.Join(problems...), "configuration is invalid")
	}
	return nil
}

// RequireSource reports whether the settings needed to call the API are present.
func (c *Config) RequireSource() error {
	if c.Source.BearerToken == "" {
		return errs.InvalidConfiguration("API bearer token is required (run `postpulse auth login` or set POSTPULSE_BEARER_TOKEN)")
	}
	if c.Source.BaseURL == "" {
		return errs.InvalidConfiguration("API base URL is required")
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Keys are the cobra flag names; zero values mean "flag not set".
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["seed"].(string); ok && v != "" {
		c.Crawl.Seed = v
	}
	if v, ok := flags["target"].(int); ok && v != 0 {
		c.Crawl.Target = v
	}
	if v, ok := flags["unavailable-policy"].(string); ok && v != "" {
		c.Crawl.UnavailablePolicy = v
	}
	if v, ok := flags["checkpoint"].(string); ok && v != "" {
		c.Crawl.CheckpointName = v
	}
	if v, ok := flags["rate"].(float64); ok && v > 0 {
		c.RateLimit.ConnectionsPerMinute = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Fetch.Workers = v
	}
	if v, ok := flags["cutoff"].(string); ok && v != "" {
		c.Fetch.Cutoff = v
	}
	if v, ok := flags["storage"].(string); ok && v != "" {
		c.Storage.Backend = v
	}
	if v, ok := flags["data-dir"].(string); ok && v != "" {
		c.Storage.Directory = v
	}
	if v, ok := flags["graph"].(bool); ok && v {
		c.Graph.Enabled = true
	}
	if v, ok := flags["metrics"].(bool); ok && v {
		c.Metrics.Enabled = true
	}
	if v, ok := flags["since"].(string); ok && v != "" {
		c.Analysis.Since = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// godotenv never overrides variables that are already set
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".postpulse.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ParseDate parses an optional YYYY-MM-DD option; the empty string yields the zero time.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, errs.InvalidConfiguration("invalid date %q: %v", value, err)
	}
	return t, nil
}
