package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedup is a DedupStore backed by a shared Redis instance, for
// deployments where multiple producer processes submit occurrences.
//
// Each fingerprint maps to a key with a TTL equal to the dedup window;
// SET NX makes check-and-record a single atomic step, and Redis expiry
// replaces the lazy cleanup of the in-memory store.
type RedisDedup struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisDedup creates a RedisDedup. Keys are written as
// "<prefix>:dedup:<fingerprint>".
func NewRedisDedup(client *redis.Client, prefix string, window time.Duration) *RedisDedup {
	return &RedisDedup{
		client: client,
		prefix: prefix,
		window: window,
	}
}

// CheckAndRecord implements DedupStore.
func (d *RedisDedup) CheckAndRecord(ctx context.Context, fingerprint string) (bool, error) {
	if d.window <= 0 {
		return false, nil
	}

	key := fmt.Sprintf("%s:dedup:%s", d.prefix, fingerprint)
	set, err := d.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check %s: %w", fingerprint, err)
	}

	// SetNX returns false when the key already exists, i.e. a live record.
	return !set, nil
}

// Forget implements DedupStore.
func (d *RedisDedup) Forget(ctx context.Context, fingerprint string) error {
	if d.window <= 0 {
		return nil
	}

	key := fmt.Sprintf("%s:dedup:%s", d.prefix, fingerprint)
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup forget %s: %w", fingerprint, err)
	}
	return nil
}

// Close implements DedupStore. The underlying client is shared with the
// queue backend, so it is not closed here.
func (d *RedisDedup) Close() error {
	return nil
}
