package storage

import (
	"context"
	"path/filepath"
	"strings"

	"postpulse/pkg/config"
	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
)

// Open returns the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileStore(cfg.Directory)
	case "badger":
		return OpenBadger(filepath.Join(cfg.Directory, "badger"), log)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, errs.InvalidConfiguration("postgres storage needs a connection URL")
		}
		return OpenPostgres(ctx, cfg.PostgresURL)
	default:
		return nil, errs.InvalidConfiguration("unknown storage backend %q", cfg.Backend)
	}
}
