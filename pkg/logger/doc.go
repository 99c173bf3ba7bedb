// Package logger provides the structured logging interface used across postpulse.
//
// It wraps zerolog behind a small Logger interface so components can be handed a logger
// (or a TestLogger in tests) instead of reaching for a global.
//
// Console output is written to stderr with coloured, abbreviated levels. When a log file is
// configured, lines go to both the console and the file. JSON mode writes raw zerolog lines.
//
// Basic Usage:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "crawler")
//	log.InfoWithFields("Crawl resumed", map[string]interface{}{
//	    "downloaded": len(state.Downloaded),
//	    "frontier":   len(state.Frontier),
//	})
//
// Domain helpers (LogRateLimit, LogCrawlStep, LogFetchProgress) keep field names consistent
// between the crawler, the timeline fetcher and the collector.
package logger
