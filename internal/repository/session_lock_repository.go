package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const sessionLeasePrefix = "attempt:lease:"

// SessionLockRepository tracks which live session currently owns an
// in-progress attempt. A second browser tab resuming the same attempt steals
// the lease; the displaced session sees its own token gone and goes stale.
type SessionLockRepository struct {
	Redis *redis.Client
}

func NewSessionLockRepository(rdb *redis.Client) *SessionLockRepository {
	return &SessionLockRepository{Redis: rdb}
}

// Acquire takes the lease for sessionToken, returning the token of the
// previous holder when the lease was taken over rather than fresh.
func (r *SessionLockRepository) Acquire(ctx context.Context, attemptID uint, sessionToken string, ttl time.Duration) (string, error) {
	key := leaseKey(attemptID)
	prev, err := r.Redis.GetSet(ctx, key, sessionToken).Result()
	if err != nil && err != redis.Nil {
		return "", err
	}
	if err := r.Redis.Expire(ctx, key, ttl).Err(); err != nil {
		return "", err
	}
	if prev == sessionToken {
		return "", nil
	}
	return prev, nil
}

// Holder returns the current lease owner, or empty when none.
func (r *SessionLockRepository) Holder(ctx context.Context, attemptID uint) (string, error) {
	v, err := r.Redis.Get(ctx, leaseKey(attemptID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// Release drops the lease if sessionToken still owns it.
func (r *SessionLockRepository) Release(ctx context.Context, attemptID uint, sessionToken string) error {
	key := leaseKey(attemptID)
	holder, err := r.Redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != sessionToken {
		return nil
	}
	return r.Redis.Del(ctx, key).Err()
}

func leaseKey(attemptID uint) string {
	return fmt.Sprintf("%s%d", sessionLeasePrefix, attemptID)
}
