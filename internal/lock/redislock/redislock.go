// Package redislock is a single-key mutual exclusion lock on Redis SET NX with
// token-checked release.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var errInvalidTTL = errors.New("redislock: ttl must be positive")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker acquires locks on one Redis client.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// New returns a Locker. prefix is prepended to every key.
func New(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock sets key if absent. The returned unlock deletes it only while this holder's
// token is still stored, so an expired lock taken over by another replica survives.
func (locker *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("%w: %s", errInvalidTTL, ttl)
	}
	fullKey := locker.prefix + key
	token := uuid.NewString()
	acquired, err := locker.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redislock: acquire %s: %w", fullKey, err)
	}
	if !acquired {
		return nil, false, nil
	}
	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, locker.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redislock: release %s: %w", fullKey, err)
		}
		return nil
	}
	return unlock, true, nil
}
