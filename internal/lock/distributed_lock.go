package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockFailed is returned when the lock could not be acquired within the
// retry budget.
var ErrLockFailed = errors.New("failed to acquire distributed lock")

// DistributedLock is a Redis SETNX lock with an expiry so a crashed holder
// cannot deadlock the key. The value identifies the holder; unlock verifies
// it via a Lua script so one client can never release another's lock.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func New(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{client: client, key: key, value: value, expiration: expiration}
}

// TryLock attempts a single non-blocking acquire.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock until it wins, the context ends, or retries run out.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock only if we still hold it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// WithdrawalLocker serializes withdrawals per user. Different users proceed
// concurrently; two requests for the same wallet queue behind one key.
type WithdrawalLocker struct {
	client *redis.Client
}

func NewWithdrawalLocker(client *redis.Client) *WithdrawalLocker {
	return &WithdrawalLocker{client: client}
}

// Acquire blocks until the per-user lock is held and returns its release
// function.
func (wl *WithdrawalLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	l := New(wl.client, "withdraw:lock:user:"+userID, uuid.NewString(), 30*time.Second)
	if err := l.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, err
	}
	return func() { _ = l.Unlock(context.Background()) }, nil
}
