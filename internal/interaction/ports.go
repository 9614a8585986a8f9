package interaction

import (
	"context"

	"autorun/internal/account"
	"autorun/internal/autorun"
)

// Platform performs the per-item actions against an external platform. Every
// call may fail independently.
type Platform interface {
	CreateComment(ctx context.Context, acct *account.Account, workID, authorID, content string) (bool, error)
	Like(ctx context.Context, acct *account.Account, workID, authorID string) (bool, error)
	Favorite(ctx context.Context, acct *account.Account, workID string) (bool, error)
}

type PlatformResolver interface {
	Resolve(platformType string) (Platform, error)
}

// Suggester produces comment text from a seed. An empty result counts as a failure.
type Suggester interface {
	Suggest(ctx context.Context, seed string) (string, error)
}

// Notifier is a best-effort user notification channel.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

type History interface {
	HasProcessed(ctx context.Context, k Key) (bool, error)
	RecordProcessed(ctx context.Context, rec Record) (*Record, error)
}

type JobStore interface {
	CreateExecutionRecord(ctx context.Context, j *autorun.Job) (*autorun.Record, error)
	SetExecutionRecordStatus(ctx context.Context, id uint64, status, note string) error
}
