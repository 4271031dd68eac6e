package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/observability"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/queue"
)

// Config configures the worker loop.
type Config struct {
	// PollInterval is the idle sleep between empty polls. Default 1s.
	PollInterval time.Duration

	// Logger receives structured progress logs; nil disables logging.
	Logger *slog.Logger

	// Metrics records handler outcomes; nil means no-op.
	Metrics observability.MetricsRecorder

	// Spans traces handler dispatch; nil means no-op.
	Spans observability.SpanManager
}

// DefaultConfig provides the standard worker settings.
var DefaultConfig = Config{
	PollInterval: time.Second,
}

// Worker is the single logical consumer for a queue instance. It polls
// lanes in strict priority order, dispatches each event to its registered
// handler, and reports the outcome back to the queue. Multiple worker
// processes may share a RedisQueue; Pop's atomicity guarantees no event is
// delivered to two of them.
type Worker struct {
	queue    queue.Queue
	registry *Registry
	cfg      Config
}

// New creates a worker over the given queue and handler registry.
func New(q queue.Queue, registry *Registry, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	return &Worker{queue: q, registry: registry, cfg: cfg}
}

// Run recovers stranded events and then polls until ctx is cancelled.
// Handler failures never abort the loop; backend errors are logged and the
// loop backs off by one poll interval before retrying.
func (w *Worker) Run(ctx context.Context) error {
	reclaimed, err := w.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover stranded events: %w", err)
	}
	if reclaimed > 0 {
		observability.LogRecovery(w.cfg.Logger, reclaimed)
	}
	w.cfg.Metrics.RecordRecovery(ctx, reclaimed)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := w.ProcessOnce(ctx)
		if err != nil {
			observability.LogBackendError(w.cfg.Logger, err)
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if !processed {
			if !w.sleep(ctx) {
				return ctx.Err()
			}
		}
	}
}

// RunIterations processes at most n events, stopping early when the queue
// drains or a backend error occurs. Returns the number processed.
func (w *Worker) RunIterations(ctx context.Context, n int) (int, error) {
	processed := 0
	for i := 0; i < n; i++ {
		ok, err := w.ProcessOnce(ctx)
		if err != nil {
			return processed, err
		}
		if !ok {
			break
		}
		processed++
	}
	return processed, nil
}

// ProcessOnce pops and dispatches a single event.
// Returns false when every lane is empty. Handler failures are converted
// into Fail calls and reported as processed, not as errors.
func (w *Worker) ProcessOnce(ctx context.Context) (bool, error) {
	evt, err := w.queue.Pop(ctx)
	if err != nil {
		return false, err
	}
	if evt == nil {
		return false, nil
	}

	logger := observability.EnrichLogger(w.cfg.Logger, evt.ID, evt.Priority.String(), evt.RetryCount)
	observability.LogDispatch(logger, evt.EventType)

	handlerErr := w.dispatch(ctx, evt)
	if handlerErr != nil {
		observability.LogHandlerFailure(logger, evt.EventType, handlerErr)
		if err := w.queue.Fail(ctx, evt); err != nil {
			return true, err
		}
		w.cfg.Metrics.RecordEventFailed(ctx, evt.EventType, evt.Priority.String())
		return true, nil
	}

	if err := w.queue.Complete(ctx, evt.ID); err != nil {
		return true, err
	}
	observability.LogCompleted(logger, evt.EventType)
	w.cfg.Metrics.RecordEventCompleted(ctx, evt.EventType, evt.Priority.String())
	return true, nil
}

// dispatch invokes the registered handler, converting a missing handler or
// a panic into an ordinary error so the event takes the retry path.
func (w *Worker) dispatch(ctx context.Context, evt *event.Event) (err error) {
	handler, ok := w.registry.Lookup(evt.EventType)
	if !ok {
		return fmt.Errorf("no handler registered for event type %q", evt.EventType)
	}

	ctx, span := w.cfg.Spans.StartHandleSpan(ctx, evt)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		w.cfg.Metrics.RecordHandlerLatency(ctx, evt.EventType, time.Since(start), err)
		w.cfg.Spans.EndSpanWithError(span, err)
	}()

	return handler.Handle(ctx, evt)
}

// sleep waits one poll interval; returns false if ctx was cancelled.
func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
