package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// RedisQueue is a Queue backed by a shared Redis instance, for deployments
// where multiple worker processes drain the same lanes.
//
// Layout under the configured prefix:
//
//	<prefix>:queue:p0..p3   lane lists of serialized events
//	<prefix>:processing     list of in-flight event ids (iteration order)
//	<prefix>:processing_data hash of event id -> serialized event
//	<prefix>:dlq            list of dead-lettered serialized events
//
// The processing set is deliberately two structures: the id list preserves
// insertion order for Recover, the hash gives O(1) blob lookup by id for
// Complete and Fail. Collapsing them into one list of blobs would make
// id-based removal impossible.
//
// Pop runs as a Lua script so lane-removal and processing-insert are one
// atomic step; two workers racing Pop never receive the same event.
type RedisQueue struct {
	client *redis.Client
	prefix string
	cfg    Config
}

// popScript atomically moves the head of a lane into the processing set and
// returns the blob. The script only decodes to validate and extract the id;
// the stored and returned blob is the original bytes untouched, because a
// cjson re-encode is lossy (number precision, empty arrays become objects).
// A blob that does not decode is diverted to the DLQ and reported as
// corrupt so the caller can keep scanning.
//
// KEYS[1] lane list, KEYS[2] processing id list, KEYS[3] processing hash,
// KEYS[4] dlq list.
var popScript = redis.NewScript(`
local blob = redis.call('LPOP', KEYS[1])
if not blob then
    return nil
end
local ok, evt = pcall(cjson.decode, blob)
if not ok or type(evt) ~= 'table' or type(evt['id']) ~= 'string' then
    redis.call('RPUSH', KEYS[4], blob)
    return {'corrupt', blob}
end
redis.call('RPUSH', KEYS[2], evt['id'])
redis.call('HSET', KEYS[3], evt['id'], blob)
return {'ok', blob}
`)

// NewRedisQueue creates a RedisQueue over an existing client. The caller
// owns the client; Close does not release it.
func NewRedisQueue(client *redis.Client, prefix string, cfg Config) *RedisQueue {
	if prefix == "" {
		prefix = "eventpipe"
	}
	return &RedisQueue{
		client: client,
		prefix: prefix,
		cfg:    cfg.withDefaults(),
	}
}

// Ping verifies the backend is reachable. Call at startup: an unreachable
// store is a fatal configuration error, not something to retry into.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue backend unreachable: %w", err)
	}
	return nil
}

func (q *RedisQueue) laneKey(p event.Priority) string {
	return fmt.Sprintf("%s:queue:%s", q.prefix, p)
}

func (q *RedisQueue) processingKey() string {
	return q.prefix + ":processing"
}

func (q *RedisQueue) processingDataKey() string {
	return q.prefix + ":processing_data"
}

func (q *RedisQueue) dlqKey() string {
	return q.prefix + ":dlq"
}

// Push implements Queue. The lane bound is checked before the append; under
// concurrent producers the bound is best-effort, which is acceptable for a
// backpressure signal.
func (q *RedisQueue) Push(ctx context.Context, evt *event.Event) error {
	blob, err := evt.Marshal()
	if err != nil {
		return &BackendError{Op: "push", Err: err}
	}

	key := q.laneKey(evt.Priority)
	if q.cfg.MaxLaneDepth > 0 {
		depth, err := q.client.LLen(ctx, key).Result()
		if err != nil {
			return &BackendError{Op: "push", Err: err}
		}
		if depth >= int64(q.cfg.MaxLaneDepth) {
			return ErrQueueFull
		}
	}

	if err := q.client.RPush(ctx, key, blob).Err(); err != nil {
		return &BackendError{Op: "push", Err: err}
	}
	return nil
}

// Pop implements Queue.
func (q *RedisQueue) Pop(ctx context.Context) (*event.Event, error) {
	for _, lane := range event.Lanes {
		for {
			keys := []string{
				q.laneKey(lane),
				q.processingKey(),
				q.processingDataKey(),
				q.dlqKey(),
			}
			res, err := popScript.Run(ctx, q.client, keys).Result()
			if errors.Is(err, redis.Nil) {
				break // lane empty, try the next one
			}
			if err != nil {
				return nil, &BackendError{Op: "pop", Err: err}
			}

			parts, ok := res.([]any)
			if !ok || len(parts) != 2 {
				return nil, &BackendError{Op: "pop", Err: fmt.Errorf("unexpected script result %T", res)}
			}
			state, _ := parts[0].(string)
			blob, _ := parts[1].(string)

			if state == "corrupt" {
				// Diverted to the DLQ inside the script; keep scanning.
				continue
			}

			evt, err := event.Unmarshal([]byte(blob))
			if err != nil {
				return nil, &BackendError{Op: "pop", Err: err}
			}
			evt.Status = event.StatusProcessing
			return evt, nil
		}
	}

	return nil, nil
}

// Complete implements Queue.
func (q *RedisQueue) Complete(ctx context.Context, eventID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, eventID)
	pipe.HDel(ctx, q.processingDataKey(), eventID)
	if _, err := pipe.Exec(ctx); err != nil {
		return &BackendError{Op: "complete", Err: err}
	}
	return nil
}

// Fail implements Queue.
func (q *RedisQueue) Fail(ctx context.Context, evt *event.Event) error {
	var next *event.Event
	var targetKey string

	if evt.RetryCount >= q.cfg.MaxRetries {
		next = prepareDeadLetter(evt)
		targetKey = q.dlqKey()
	} else {
		next = prepareRetry(evt)
		targetKey = q.laneKey(next.Priority)
	}

	blob, err := next.Marshal()
	if err != nil {
		return &BackendError{Op: "fail", Err: err}
	}

	if targetKey == q.dlqKey() && q.cfg.OnDeadLetter != nil {
		q.cfg.OnDeadLetter(next.Clone())
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, evt.ID)
	pipe.HDel(ctx, q.processingDataKey(), evt.ID)
	pipe.RPush(ctx, targetKey, blob)
	if _, err := pipe.Exec(ctx); err != nil {
		return &BackendError{Op: "fail", Err: err}
	}
	return nil
}

// Recover implements Queue. Iterates the processing id list in insertion
// order; blobs that no longer decode are diverted to the DLQ.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, &BackendError{Op: "recover", Err: err}
	}

	count := 0
	for _, id := range ids {
		blob, err := q.client.HGet(ctx, q.processingDataKey(), id).Result()
		if errors.Is(err, redis.Nil) {
			// Id without a blob: nothing to restore, just drop the id.
			if err := q.client.LRem(ctx, q.processingKey(), 1, id).Err(); err != nil {
				return count, &BackendError{Op: "recover", Err: err}
			}
			continue
		}
		if err != nil {
			return count, &BackendError{Op: "recover", Err: err}
		}

		evt, err := event.Unmarshal([]byte(blob))
		if err != nil {
			pipe := q.client.TxPipeline()
			pipe.LRem(ctx, q.processingKey(), 1, id)
			pipe.HDel(ctx, q.processingDataKey(), id)
			pipe.RPush(ctx, q.dlqKey(), blob)
			if _, pipeErr := pipe.Exec(ctx); pipeErr != nil {
				return count, &BackendError{Op: "recover", Err: pipeErr}
			}
			continue
		}

		retry := prepareRetry(evt)
		retryBlob, err := retry.Marshal()
		if err != nil {
			return count, &BackendError{Op: "recover", Err: err}
		}

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processingKey(), 1, id)
		pipe.HDel(ctx, q.processingDataKey(), id)
		pipe.RPush(ctx, q.laneKey(retry.Priority), retryBlob)
		if _, err := pipe.Exec(ctx); err != nil {
			return count, &BackendError{Op: "recover", Err: err}
		}
		count++
	}

	return count, nil
}

// PendingCount implements Queue.
func (q *RedisQueue) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for _, lane := range event.Lanes {
		n, err := q.client.LLen(ctx, q.laneKey(lane)).Result()
		if err != nil {
			return 0, &BackendError{Op: "count", Err: err}
		}
		total += int(n)
	}
	return total, nil
}

// ProcessingCount implements Queue.
func (q *RedisQueue) ProcessingCount(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, &BackendError{Op: "count", Err: err}
	}
	return int(n), nil
}

// DeadLetterCount implements Queue.
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.dlqKey()).Result()
	if err != nil {
		return 0, &BackendError{Op: "count", Err: err}
	}
	return int(n), nil
}

// Close implements Queue. The client is shared and owned by the caller.
func (q *RedisQueue) Close() error {
	return nil
}
