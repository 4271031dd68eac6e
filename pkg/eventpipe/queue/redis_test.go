package queue

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// newTestRedisQueue connects to the Redis instance named by
// EVENTPIPE_REDIS_ADDR, skipping the test when none is configured.
// Each test gets a unique key prefix so runs never interfere.
func newTestRedisQueue(t *testing.T, cfg Config) *RedisQueue {
	t.Helper()

	addr := os.Getenv("EVENTPIPE_REDIS_ADDR")
	if addr == "" {
		t.Skip("EVENTPIPE_REDIS_ADDR not set; skipping redis backend tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := "eventpipe-test-" + uuid.New().String()[:8]
	q := NewRedisQueue(client, prefix, cfg)

	require.NoError(t, q.Ping(context.Background()))

	t.Cleanup(func() {
		ctx := context.Background()
		keys, err := client.Keys(ctx, prefix+":*").Result()
		if err == nil && len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return q
}

func TestRedisQueuePushPopComplete(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t, Config{})

	low := event.New("github.pr_opened", "github", event.P2, nil)
	high := event.New("monitoring.error_detected", "log-watcher", event.P0,
		map[string]any{"error_code": "AI5001"})

	require.NoError(t, q.Push(ctx, low))
	require.NoError(t, q.Push(ctx, high))

	evt, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, high.ID, evt.ID)
	assert.Equal(t, event.StatusProcessing, evt.Status)
	assert.Equal(t, "AI5001", evt.Payload["error_code"])

	processing, err := q.ProcessingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processing)

	require.NoError(t, q.Complete(ctx, evt.ID))
	require.NoError(t, q.Complete(ctx, evt.ID)) // idempotent

	processing, err = q.ProcessingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, processing)

	evt, err = q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, low.ID, evt.ID)
}

func TestRedisQueueFailAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t, Config{MaxRetries: 1})

	require.NoError(t, q.Push(ctx, event.New("custom.x", "test", event.P1, nil)))

	evt, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, evt))

	retried, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, 1, retried.RetryCount)

	require.NoError(t, q.Fail(ctx, retried))

	dlq, err := q.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dlq)

	evt, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, evt)
}

func TestRedisQueuePopKeepsBlobIntact(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t, Config{})

	// Payload shapes a JSON re-encode would mangle: an empty array and a
	// precise float. The stored processing blob must be the pushed bytes.
	evt := event.New("custom.x", "test", event.P1, map[string]any{
		"tags":    []any{},
		"elapsed": 0.1234567890123456,
	})
	pushed, err := evt.Marshal()
	require.NoError(t, err)

	require.NoError(t, q.Push(ctx, evt))

	got, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.StatusProcessing, got.Status)
	assert.Equal(t, []any{}, got.Payload["tags"])
	assert.Equal(t, 0.1234567890123456, got.Payload["elapsed"])

	blob, err := q.client.HGet(ctx, q.processingDataKey(), evt.ID).Result()
	require.NoError(t, err)
	assert.Equal(t, string(pushed), blob)
}

func TestRedisQueueRecover(t *testing.T) {
	ctx := context.Background()
	q := newTestRedisQueue(t, Config{})

	require.NoError(t, q.Push(ctx, event.New("custom.x", "test", event.P1, nil)))
	_, err := q.Pop(ctx)
	require.NoError(t, err)

	reclaimed, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	evt, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, 1, evt.RetryCount)
}
