package lock

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	nats "github.com/nats-io/nats.go"
)

// NATS implements Locker on a JetStream key-value bucket. The bucket TTL is
// the lock validity, so every lock in a bucket shares the same expiry; the
// ttl passed to TryLock is ignored.
type NATS struct {
	kv  nats.KeyValue
	ttl time.Duration
}

// NewNATS binds to bucket, creating it with the given ttl when missing.
func NewNATS(js nats.JetStreamContext, bucket string, ttl time.Duration) (*NATS, error) {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
			TTL:     ttl,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("lock: nats bucket %q: %w", bucket, err)
	}
	return &NATS{kv: kv, ttl: ttl}, nil
}

// TTL returns the bucket-wide lock validity.
func (n *NATS) TTL() time.Duration { return n.ttl }

// TryLock implements Locker. The token is the revision of the created entry.
func (n *NATS) TryLock(ctx context.Context, key string, _ time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	rev, err := n.kv.Create(natsKey(key), nil)
	if wrongRevision(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strconv.FormatUint(rev, 10), true, nil
}

// Unlock implements Locker. The delete only applies while the entry is still
// at the revision that was granted.
func (n *NATS) Unlock(ctx context.Context, key, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rev, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return fmt.Errorf("lock: invalid nats token %q: %w", token, err)
	}
	err = n.kv.Delete(natsKey(key), nats.LastRevision(rev))
	if err == nil || errors.Is(err, nats.ErrKeyNotFound) || wrongRevision(err) {
		return nil
	}
	return err
}

// wrongRevision reports a failed revision precondition: the entry exists on
// create, or has moved past the revision we hold on delete.
func wrongRevision(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

// natsKey maps an arbitrary lock name onto the KV key charset.
func natsKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}
