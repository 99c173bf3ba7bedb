package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"postpulse/pkg/checkpoint"
	"postpulse/pkg/config"
	"postpulse/pkg/crawler"
	"postpulse/pkg/graph"
	"postpulse/pkg/logger"
	"postpulse/pkg/ui"
)

var (
	// Crawl command flags
	crawlTarget       int
	crawlPolicy       string
	crawlCheckpoint   string
	crawlRate         float64
	crawlGraph        bool
	crawlMetrics      bool
	crawlForceRestart bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl [seed]",
	Short: "Discover accounts by walking follow chains from a seed account",
	Long: `Walk the follow graph outward from a seed account, saving every account seen.

Each step reads the connection list of one account, saves the accounts it has not
seen yet and picks up to six of them (three at random, then the most followed) to
expand in the next generation. The walk stops once the download target is reached.

State is checkpointed after every step. Running the command again resumes from the
checkpoint; the seed argument is only needed for a fresh crawl.`,
	Example: `  # Start a crawl from a seed account
  postpulse crawl nytimes --target 2000

  # Resume an interrupted crawl
  postpulse crawl

  # Throw the old checkpoint away and start over
  postpulse crawl nytimes --force-restart

  # Export the follow graph to Neo4j and serve metrics while crawling
  postpulse crawl nytimes --graph --metrics`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().IntVarP(&crawlTarget, "target", "t", 0, "number of accounts to download, negative for unbounded; replaces the target of a resumed crawl (default from config)")
	crawlCmd.Flags().StringVar(&crawlPolicy, "unavailable-policy", "", "what to do with accounts whose connections cannot be read (skip, requeue)")
	crawlCmd.Flags().StringVar(&crawlCheckpoint, "checkpoint", "", "checkpoint name, to keep several crawls apart")
	crawlCmd.Flags().Float64Var(&crawlRate, "rate", 0, "connection-list requests per minute")
	crawlCmd.Flags().BoolVar(&crawlGraph, "graph", false, "record follow edges in Neo4j")
	crawlCmd.Flags().BoolVar(&crawlMetrics, "metrics", false, "serve Prometheus metrics while crawling")
	crawlCmd.Flags().BoolVar(&crawlForceRestart, "force-restart", false, "delete an existing checkpoint and start from the seed")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	flags := map[string]interface{}{
		"target":             crawlTarget,
		"unavailable-policy": crawlPolicy,
		"checkpoint":         crawlCheckpoint,
		"rate":               crawlRate,
		"graph":              crawlGraph,
		"metrics":            crawlMetrics,
	}
	if len(args) > 0 {
		flags["seed"] = strings.TrimPrefix(strings.TrimSpace(args[0]), "@")
	}

	a, err := newApp(ctx, flags, true)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	store, closeStore, err := openCheckpoint(ctx, cfg, a.log)
	if err != nil {
		return err
	}
	defer closeStore()

	if crawlForceRestart {
		if err := store.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
		printer.Warning("Existing checkpoint deleted")
	}

	state, err := loadOrCreateState(ctx, store, cfg.Crawl, crawlTarget)
	if err != nil {
		return err
	}

	policy, err := crawler.ParsePolicy(cfg.Crawl.UnavailablePolicy)
	if err != nil {
		return err
	}
	opts := crawler.Options{
		ConnectionsPerMinute: cfg.RateLimit.ConnectionsPerMinute,
		ExtraDelay:           cfg.RateLimit.ExtraDelay,
		RateLimitWait:        cfg.RateLimit.RateLimitWait,
		PageSize:             cfg.Crawl.PageSize,
		UnavailablePolicy:    policy,
	}
	if cfg.Crawl.RandomSeed != 0 {
		opts.Rand = rand.New(rand.NewSource(cfg.Crawl.RandomSeed))
	}

	client := a.client()
	if state.Visited.Len() == 0 {
		seed, err := client.LookupAccount(ctx, state.Seed)
		if err != nil {
			return fmt.Errorf("failed to look up seed account %s: %w", state.Seed, err)
		}
		printer.Info("Seed followers", fmt.Sprintf("%d", seed.Followers))
	}

	c, err := crawler.New(client, a.store, store, opts, a.log)
	if err != nil {
		return err
	}
	c.WithMetrics(a.metrics)

	var edges *graph.EdgeWriter
	if cfg.Graph.Enabled {
		runner, err := graph.NewNeo4jRunner(cfg.Graph)
		if err != nil {
			return err
		}
		defer runner.Close(context.WithoutCancel(ctx))
		if err := runner.Verify(ctx); err != nil {
			return fmt.Errorf("neo4j is not reachable at %s: %w", cfg.Graph.URI, err)
		}
		edges = graph.NewEdgeWriter(runner, a.log)
		if err := edges.EnsureSchema(ctx); err != nil {
			return err
		}
		c.WithEdgeRecorder(edges)
	}

	progress := state.Progress()
	printer.Info("Seed", state.Seed)
	printer.Info("Target", targetLabel(state.Target))
	printer.Info("Step delay", c.StepDelay().String())
	if progress.Visited > 0 {
		printer.Info("Resuming run", fmt.Sprintf("%s (%d accounts downloaded)", progress.RunID, progress.Downloaded))
	}

	tracker := ui.NewCrawlTracker(progress)
	c.OnStep(func(_ crawler.StepResult, p checkpoint.Progress) {
		printer.Line(tracker.Line(p))
	})

	err = c.Run(ctx, state)
	switch {
	case err == nil:
		printer.Success(fmt.Sprintf("Crawl finished: %d accounts downloaded", state.Downloaded.Len()))
	case errors.Is(err, context.Canceled):
		printer.Warning("Crawl interrupted, run the command again to resume")
		return nil
	case errors.Is(err, crawler.ErrFrontierExhausted):
		printer.Warning("No accounts left to expand", fmt.Sprintf("%d of %d downloaded", state.Downloaded.Len(), state.Target))
		return err
	default:
		return err
	}

	if edges != nil {
		accounts, follows, err := edges.Counts(context.WithoutCancel(ctx))
		if err != nil {
			a.log.WithError(err).Warn("Failed to count graph")
		} else {
			printer.Info("Follow graph", fmt.Sprintf("%d accounts, %d follow edges", accounts, follows))
		}
	}
	return nil
}

func targetLabel(target int) string {
	if target <= 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d accounts", target)
}

// openCheckpoint returns the configured checkpoint store and a function releasing it.
func openCheckpoint(ctx context.Context, cfg *config.Config, log logger.Logger) (checkpoint.Store, func(), error) {
	name := cfg.Crawl.CheckpointName
	if strings.EqualFold(cfg.Crawl.CheckpointBackend, "redis") {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis is not reachable at %s: %w", cfg.Redis.Addr, err)
		}
		return checkpoint.NewRedisStore(client, cfg.Redis.KeyPrefix, name, log), func() { client.Close() }, nil
	}

	store, err := checkpoint.NewFileStore(name, log)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

// loadOrCreateState resumes from the checkpoint or starts a new crawl from the seed.
// A non-zero target replaces the one saved in a resumed checkpoint.
func loadOrCreateState(ctx context.Context, store checkpoint.Store, cfg config.CrawlConfig, target int) (*checkpoint.CrawlState, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if state != nil {
		if cfg.Seed != "" && !strings.EqualFold(cfg.Seed, state.Seed) {
			return nil, fmt.Errorf("checkpoint %q belongs to a crawl from %s; use --force-restart or another --checkpoint to crawl from %s",
				cfg.CheckpointName, state.Seed, cfg.Seed)
		}
		if target != 0 && target != state.Target {
			printer.Warning("Download target changed from %s to %s", targetLabel(state.Target), targetLabel(target))
			state.Target = target
		}
		return state, nil
	}

	if cfg.Seed == "" {
		return nil, errors.New("no checkpoint to resume; pass a seed account to start a crawl")
	}
	return checkpoint.New(cfg.Seed, cfg.Target)
}
