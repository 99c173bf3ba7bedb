package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"postpulse/pkg/auth"
	"postpulse/pkg/config"
	"postpulse/pkg/logger"
	"postpulse/pkg/metrics"
	"postpulse/pkg/storage"
	"postpulse/pkg/twitter"
)

// app bundles what a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	store   storage.Store
	metrics *metrics.Metrics
	server  *metrics.Server
}

// loadConfig loads configuration with the global flags merged in and initializes logging.
func loadConfig(flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if noColor {
		cfg.Logging.NoColor = true
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// resolveToken fills in the bearer token from the token store when configuration has none.
func resolveToken(cfg *config.Config) error {
	if cfg.Source.BearerToken != "" {
		return nil
	}
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}
	token, err := manager.Resolve(profile)
	if err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			return cfg.RequireSource()
		}
		return err
	}
	cfg.Source.BearerToken = token.BearerToken
	logger.GetLogger().WithField("profile", token.Profile).Debug("Using stored API token")
	return nil
}

// newApp loads configuration, opens storage and, when enabled, starts the metrics server.
// withSource also resolves the API token.
func newApp(ctx context.Context, flags map[string]interface{}, withSource bool) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	log := logger.GetLogger()

	if withSource {
		if err := resolveToken(cfg); err != nil {
			return nil, err
		}
		if err := cfg.RequireSource(); err != nil {
			return nil, err
		}
	}

	store, err := storage.Open(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}

	a := &app{cfg: cfg, log: log, store: store}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.metrics = metrics.New(reg)
		a.server = metrics.NewServer(cfg.Metrics.Addr, reg, log)
		a.server.Start()
	}
	return a, nil
}

func (a *app) client() *twitter.Client {
	return twitter.NewClient(a.cfg.Source, a.log).WithMetrics(a.metrics)
}

// pageClient fetches pages outside the API. It never carries the bearer token.
func (a *app) pageClient() *twitter.Client {
	return twitter.NewClient(config.SourceConfig{
		UserAgent:  a.cfg.Source.UserAgent,
		Timeout:    a.cfg.Source.Timeout,
		MaxRetries: a.cfg.Source.MaxRetries,
	}, a.log)
}

func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.WithError(err).Warn("Metrics server shutdown failed")
		}
		cancel()
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close storage")
	}
}
