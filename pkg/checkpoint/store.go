package checkpoint

import "context"

// Store persists the state of one named walk.
type Store interface {
	// Load returns nil, nil when no checkpoint exists.
	Load(ctx context.Context) (*CrawlState, error)
	Save(ctx context.Context, state *CrawlState) error
	Delete(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
}
