package events

import (
	"context"
	"encoding/base64"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-aside/v1/logger"
)

const natsSubjectPrefix = "aside.events."

// NATS carries events over core NATS subjects. Keys are base64url encoded
// into a single subject token.
type NATS struct {
	conn *nats.Conn
	log  *zap.Logger
}

// NewNATS returns a NATS bus on conn.
func NewNATS(conn *nats.Conn, log *zap.Logger) *NATS {
	return &NATS{conn: conn, log: logger.OrNop(log)}
}

func natsSubject(key string) string {
	if key == AllKeys {
		return natsSubjectPrefix + ">"
	}
	return natsSubjectPrefix + base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Publish implements Publisher.
func (n *NATS) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(natsSubject(ev.Key), data)
}

// Watch implements Watcher.
func (n *NATS) Watch(ctx context.Context, key string) (<-chan Event, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(natsSubject(key), msgs)
	if err != nil {
		return nil, fmt.Errorf("events: nats subscribe %q: %w", key, err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("events: nats flush: %w", err)
	}

	out := make(chan Event, watchBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				ev, err := decode(m.Data)
				if err != nil {
					n.log.Warn("dropping malformed event", zap.String("subject", m.Subject), zap.Error(err))
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
