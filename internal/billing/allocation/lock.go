package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL       = 30 * time.Second
	lockRetryWait = 50 * time.Millisecond
	lockMaxWait   = 10 * time.Second
)

// releaseScript deletes the lock only when it still holds our token, so
// an expired lock reacquired by another settler is never released here.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// PayerLock serialises settlements per member through redis. Concurrent
// settlers of different members never contend.
type PayerLock struct {
	client *redis.Client
}

// NewPayerLock wraps the redis client; a nil client disables locking.
func NewPayerLock(client *redis.Client) *PayerLock {
	return &PayerLock{client: client}
}

func lockKey(memberID int64) string {
	return fmt.Sprintf("billing:settle:%d:lock", memberID)
}

// Acquire blocks until the member's settle lock is held, the context is
// done or the maximum wait elapses. The returned func releases the lock.
func (l *PayerLock) Acquire(ctx context.Context, memberID int64) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}

	key := lockKey(memberID)
	token := uuid.NewString()
	deadline := time.Now().Add(lockMaxWait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("settle lock for member %d: timed out waiting", memberID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}
}
