package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("remote session is in use by another process")

// SessionLocker keeps two processes from driving the same remote account.
type SessionLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewSessionLocker locks "lock:remote-session:<account>" for at most ttl.
// Acquisition polls for up to wait before giving up; zero fails at once.
func NewSessionLocker(client *redis.Client, account string, ttl, wait time.Duration) *SessionLocker {
	return &SessionLocker{
		client: client,
		key:    fmt.Sprintf("lock:remote-session:%s", account),
		ttl:    ttl,
		wait:   wait,
		poll:   100 * time.Millisecond,
	}
}

func (l *SessionLocker) Key() string { return l.key }

// WithSessionLock runs fn while holding the lock. fn's context expires with
// the lock.
func (l *SessionLocker) WithSessionLock(ctx context.Context, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	if err := l.acquire(ctx, token); err != nil {
		return err
	}

	defer func() {
		// release even if ctx is already done
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.release(relCtx, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

func (l *SessionLocker) acquire(ctx context.Context, token string) error {
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *SessionLocker) release(ctx context.Context, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{l.key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release session lock: %w", err)
	}
	return nil
}
