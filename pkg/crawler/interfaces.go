package crawler

import (
	"context"

	"postpulse/pkg/models"
)

// ConnectionSource lists the accounts a handle follows.
type ConnectionSource interface {
	ListConnections(ctx context.Context, handle string, pageSize int) ([]models.Account, error)
}

// AccountSink persists account profiles.
type AccountSink interface {
	SaveAccount(ctx context.Context, account models.Account) error
}

// EdgeRecorder receives the follow edges discovered by each step.
type EdgeRecorder interface {
	RecordFollows(ctx context.Context, from string, to []models.Account) error
}
