package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// compare-and-expire / compare-and-delete so a run can never touch a lease
// that expired and was taken by someone else.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	l := Lease{Key: key, Token: newToken()}
	ok, err := r.client.SetNX(ctx, key, l.Token, ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	return l, true, nil
}

func (r *Redis) Refresh(ctx context.Context, l Lease, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, r.client, []string{l.Key}, l.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis refresh %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, l Lease) error {
	n, err := releaseScript.Run(ctx, r.client, []string{l.Key}, l.Token).Int64()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) Held(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
