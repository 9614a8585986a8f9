package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 900 * time.Second

var ErrNotHeld = errors.New("lock not held")

// Lease identifies one successful acquisition. Refresh and Release only act
// when the stored token still matches.
type Lease struct {
	Key   string
	Token string
}

type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
	Refresh(ctx context.Context, l Lease, ttl time.Duration) error
	Release(ctx context.Context, l Lease) error
	Held(ctx context.Context, key string) (bool, error)
}

func newToken() string {
	return uuid.NewString()
}
