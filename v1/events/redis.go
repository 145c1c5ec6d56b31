package events

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-aside/v1/logger"
)

const redisChannelPrefix = "aside:events:"

// Redis carries events over Redis pub/sub, one channel per key.
type Redis struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// NewRedis returns a Redis bus using client. A nil logger discards
// decode failures.
func NewRedis(client redis.UniversalClient, log *zap.Logger) *Redis {
	return &Redis{client: client, log: logger.OrNop(log)}
}

// Publish implements Publisher.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, redisChannelPrefix+ev.Key, data).Err()
}

// Watch implements Watcher. The subscription is confirmed before Watch
// returns, so events published afterwards are delivered.
func (r *Redis) Watch(ctx context.Context, key string) (<-chan Event, error) {
	var ps *redis.PubSub
	if key == AllKeys {
		ps = r.client.PSubscribe(ctx, redisChannelPrefix+"*")
	} else {
		ps = r.client.Subscribe(ctx, redisChannelPrefix+key)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("events: redis subscribe %q: %w", key, err)
	}

	out := make(chan Event, watchBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decode([]byte(m.Payload))
				if err != nil {
					r.log.Warn("dropping malformed event", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
