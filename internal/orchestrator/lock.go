package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld means another cycle for the same user is still running.
// ErrCooldownActive means the previous cycle finished too recently. Both are
// expected scheduling outcomes, not failures; the caller reschedules.
var (
	ErrLockHeld       = errors.New("analysis lock held")
	ErrCooldownActive = errors.New("analysis cooldown active")
)

// CycleLock serializes analysis cycles per user through Redis. The lock key
// carries a TTL so a crashed run cannot wedge the user forever; the cooldown
// key enforces minimum spacing between completed runs.
type CycleLock struct {
	client   *redis.Client
	ttl      time.Duration
	cooldown time.Duration
}

// NewCycleLock creates the per-user cycle lock
func NewCycleLock(client *redis.Client, ttl, cooldown time.Duration) *CycleLock {
	return &CycleLock{client: client, ttl: ttl, cooldown: cooldown}
}

func lockKey(userID string) string     { return "cryptum:cycle:lock:" + userID }
func cooldownKey(userID string) string { return "cryptum:cycle:cooldown:" + userID }

// Acquire takes the exclusive analysis lock for a user. Returns a release
// function that must be called when the cycle ends; releasing also arms the
// cooldown window.
func (l *CycleLock) Acquire(ctx context.Context, userID string) (func(), error) {
	exists, err := l.client.Exists(ctx, cooldownKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cooldown check for %s: %w", userID, err)
	}
	if exists > 0 {
		return nil, ErrCooldownActive
	}

	ok, err := l.client.SetNX(ctx, lockKey(userID), time.Now().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock acquire for %s: %w", userID, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// Release must not inherit a cancelled cycle context
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.client.Set(ctx, cooldownKey(userID), "1", l.cooldown)
		l.client.Del(ctx, lockKey(userID))
	}
	return release, nil
}
