// Package queue provides durable priority-lane FIFO storage for events,
// with an explicit processing set and crash recovery.
//
// Three backends satisfy the Queue contract:
//   - MemoryQueue: in-process lanes, for tests and ephemeral deployments.
//   - FileQueue: directory-per-state layout, one JSON file per event,
//     atomic rename between directories. Single-node durable storage.
//   - RedisQueue: lane lists plus a processing id-list and id->blob hash
//     in a shared Redis instance, for multi-process deployments.
//
// All operations are single atomic steps from an external observer's view:
// a live event is visible in exactly one of its pending lane or the
// processing set, never both and never neither. Recover restores that
// invariant after an unclean shutdown.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueFull indicates a bounded lane rejected a push.
	ErrQueueFull = errors.New("queue lane is full")

	// ErrQueueClosed indicates the queue has been closed.
	ErrQueueClosed = errors.New("queue is closed")
)

// BackendError wraps a storage-layer failure. Callers should retry with
// backoff or surface the error; it is never safe to silently drop.
type BackendError struct {
	Op  string // "push", "pop", "complete", "fail", "recover"
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("queue backend %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Queue is the durable priority-lane store.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Push appends the event to the tail of its priority lane.
	// Never blocks waiting for a consumer. Returns ErrQueueFull when the
	// lane bound is reached, or a *BackendError on storage failure.
	Push(ctx context.Context, evt *event.Event) error

	// Pop scans lanes in strict P0..P3 order and removes the head of the
	// first non-empty lane, moving it into the processing set atomically.
	// Returns (nil, nil) when every lane is empty.
	Pop(ctx context.Context) (*event.Event, error)

	// Complete permanently removes the event from the processing set.
	// Idempotent: unknown or already-completed ids are a no-op.
	Complete(ctx context.Context, eventID string) error

	// Fail removes the event from the processing set. At or beyond the
	// retry bound the event moves to the DLQ as-is; otherwise retryCount
	// is incremented, status set to retrying, and the event re-enqueued
	// at the tail of its original lane.
	Fail(ctx context.Context, evt *event.Event) error

	// Recover re-queues every event stranded in the processing set by a
	// prior process, incrementing retryCount and setting status retrying.
	// Must run once at startup before any Pop. Returns the reclaim count.
	Recover(ctx context.Context) (int, error)

	// PendingCount returns the number of events across all pending lanes.
	PendingCount(ctx context.Context) (int, error)

	// ProcessingCount returns the size of the processing set.
	ProcessingCount(ctx context.Context) (int, error)

	// DeadLetterCount returns the number of dead-lettered events.
	DeadLetterCount(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Config holds backend-independent queue settings.
type Config struct {
	// MaxRetries is the retry bound before dead-lettering. Default 3.
	MaxRetries int

	// MaxLaneDepth bounds each pending lane; Push returns ErrQueueFull
	// beyond it. The bound applies to producers only: Fail and Recover
	// re-enqueue past it, since rejecting an already-admitted event would
	// lose it. 0 means unbounded. Default 10000.
	MaxLaneDepth int

	// OnDeadLetter is called with the final event state just before it is
	// written to the DLQ. Used to feed the archive store.
	OnDeadLetter func(evt *event.Event)
}

// DefaultConfig provides the standard queue settings.
var DefaultConfig = Config{
	MaxRetries:   3,
	MaxLaneDepth: 10000,
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultConfig.MaxRetries
	}
	if c.MaxLaneDepth < 0 {
		c.MaxLaneDepth = 0
	}
	return c
}

// prepareRetry flips a failed event into its retrying form.
func prepareRetry(evt *event.Event) *event.Event {
	retry := evt.Clone()
	retry.RetryCount++
	retry.Status = event.StatusRetrying
	return retry
}

// prepareDeadLetter flips a failed event into its terminal DLQ form.
func prepareDeadLetter(evt *event.Event) *event.Event {
	dead := evt.Clone()
	dead.Status = event.StatusFailed
	return dead
}
