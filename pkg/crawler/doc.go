// Package crawler implements the follow-chain walk that builds an account sample.
//
// Starting from a seed account, each step pops one handle from the current frontier, lists the
// accounts it follows, persists every profile not seen before and selects up to six of the
// connections for the next generation: three at random and the rest from the most followed.
// The walk state is checkpointed after every step so a stopped crawl resumes where it left off.
//
// Typical use:
//
//	c, err := crawler.New(client, store, checkpoints, crawler.Options{
//	    ConnectionsPerMinute: cfg.RateLimit.ConnectionsPerMinute,
//	    ExtraDelay:           cfg.RateLimit.ExtraDelay,
//	    PageSize:             cfg.Crawl.PageSize,
//	}, log)
//	if err != nil {
//	    return err
//	}
//	return c.WithMetrics(m).Run(ctx, state)
package crawler
