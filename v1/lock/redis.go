package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Locker on a single Redis deployment with SET NX PX and a
// compare-and-delete release script.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis returns a Redis locker using client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// TryLock implements Locker.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock implements Locker.
func (r *Redis) Unlock(ctx context.Context, key, token string) error {
	err := unlockScript.Run(ctx, r.client, []string{key}, token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
