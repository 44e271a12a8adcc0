package capacity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ms-reservations/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var errLockBusy = errors.New("lock busy")

// unlockScript deletes the key only if it still carries our token, so an expired
// lock that another process re-acquired is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a cross-process per-event lock built on SETNX with a TTL.
type RedisLocker struct {
	Client  redis.Cmdable
	Prefix  string
	TTL     time.Duration
	Retries int
	// Wait bounds the first backoff interval.
	Wait time.Duration
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration, retries int) *RedisLocker {
	return &RedisLocker{
		Client:  client,
		Prefix:  "capacity_lock:",
		TTL:     ttl,
		Retries: retries,
		Wait:    20 * time.Millisecond,
	}
}

func (r *RedisLocker) key(name string) string {
	return r.Prefix + name
}

// TryLock makes one attempt. acquired is false when someone else holds the key.
func (r *RedisLocker) TryLock(ctx context.Context, name string) (unlock func(), acquired bool, err error) {
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, r.key(name), token, r.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return r.unlocker(name, token), true, nil
}

func (r *RedisLocker) Lock(ctx context.Context, eventID string) (func(), error) {
	token := uuid.NewString()
	key := r.key(eventID)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.Wait
	bo.MaxInterval = 10 * r.Wait
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.Retries)), ctx)

	err := backoff.Retry(func() error {
		ok, err := r.Client.SetNX(ctx, key, token, r.TTL).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		return nil
	}, policy)

	switch {
	case err == nil:
		return r.unlocker(eventID, token), nil
	case errors.Is(err, errLockBusy):
		return nil, fmt.Errorf("lock event %s: %w", eventID, domain.ErrCapacityConflict)
	default:
		return nil, fmt.Errorf("lock event %s: %w", eventID, err)
	}
}

func (r *RedisLocker) unlocker(name, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, r.Client, []string{r.key(name)}, token).Err()
		})
	}
}
