package queue

import (
	"context"
	"sync"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// MemoryQueue is an in-process Queue. State does not survive a restart, so
// Recover only reclaims events stranded by a consumer that popped and never
// reported back within the same process. Suitable for tests and ephemeral
// single-process deployments.
type MemoryQueue struct {
	mu         sync.Mutex
	cfg        Config
	lanes      [4][]*event.Event
	processing map[string]*event.Event
	dlq        []*event.Event
	closed     bool
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	return &MemoryQueue{
		cfg:        cfg.withDefaults(),
		processing: make(map[string]*event.Event),
	}
}

// Push implements Queue.
func (q *MemoryQueue) Push(_ context.Context, evt *event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	lane := evt.Priority
	if q.cfg.MaxLaneDepth > 0 && len(q.lanes[lane]) >= q.cfg.MaxLaneDepth {
		return ErrQueueFull
	}

	q.lanes[lane] = append(q.lanes[lane], evt.Clone())
	return nil
}

// Pop implements Queue.
func (q *MemoryQueue) Pop(_ context.Context) (*event.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	for _, lane := range event.Lanes {
		if len(q.lanes[lane]) == 0 {
			continue
		}
		evt := q.lanes[lane][0]
		q.lanes[lane] = q.lanes[lane][1:]
		evt.Status = event.StatusProcessing
		q.processing[evt.ID] = evt
		return evt.Clone(), nil
	}

	return nil, nil
}

// Complete implements Queue.
func (q *MemoryQueue) Complete(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	delete(q.processing, eventID)
	return nil
}

// Fail implements Queue. The successor state is recorded before the
// processing entry is dropped, so the event never becomes invisible to
// both delivery and recovery. Retry re-enqueues bypass the lane bound:
// the event was already admitted once and rejecting it here would lose it.
func (q *MemoryQueue) Fail(_ context.Context, evt *event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if evt.RetryCount >= q.cfg.MaxRetries {
		dead := prepareDeadLetter(evt)
		if q.cfg.OnDeadLetter != nil {
			q.cfg.OnDeadLetter(dead.Clone())
		}
		q.dlq = append(q.dlq, dead)
		delete(q.processing, evt.ID)
		return nil
	}

	retry := prepareRetry(evt)
	q.lanes[retry.Priority] = append(q.lanes[retry.Priority], retry)
	delete(q.processing, evt.ID)
	return nil
}

// Recover implements Queue. Each stranded event is re-laned before its
// processing entry is removed; the lane bound does not apply.
func (q *MemoryQueue) Recover(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	count := 0
	for id, evt := range q.processing {
		retry := prepareRetry(evt)
		q.lanes[retry.Priority] = append(q.lanes[retry.Priority], retry)
		delete(q.processing, id)
		count++
	}
	return count, nil
}

// PendingCount implements Queue.
func (q *MemoryQueue) PendingCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, lane := range q.lanes {
		total += len(lane)
	}
	return total, nil
}

// ProcessingCount implements Queue.
func (q *MemoryQueue) ProcessingCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing), nil
}

// DeadLetterCount implements Queue.
func (q *MemoryQueue) DeadLetterCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq), nil
}

// DeadLetters returns a snapshot of the DLQ, newest last.
func (q *MemoryQueue) DeadLetters() []*event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*event.Event, len(q.dlq))
	for i, evt := range q.dlq {
		out[i] = evt.Clone()
	}
	return out
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
