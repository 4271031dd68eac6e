package eventpipe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/archive"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/config"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/observability"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/queue"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/trigger"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/worker"
)

// Pipeline is the producer-side entry point: it owns the trigger filter,
// the dedup store and the queue backend, and hands out workers bound to
// the same queue.
type Pipeline struct {
	filter  *trigger.Filter
	dedup   trigger.DedupStore
	queue   queue.Queue
	store   archive.Store
	redisC  *redis.Client
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	pollInt time.Duration
}

// Option configures a Pipeline during Open.
type Option func(*Pipeline)

// WithLogger sets the structured logger. nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
// Defaults to NoopMetrics; pass observability.NewMetricsRecorder() to
// enable OTel metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithSpanManager sets the trace span manager.
// Defaults to NoopSpanManager; pass observability.NewSpanManager() to
// enable OTel tracing.
func WithSpanManager(s observability.SpanManager) Option {
	return func(p *Pipeline) {
		p.spans = s
	}
}

// WithDedupStore overrides the dedup store chosen from settings.
func WithDedupStore(d trigger.DedupStore) Option {
	return func(p *Pipeline) {
		p.dedup = d
	}
}

// WithQueue overrides the queue backend chosen from settings.
func WithQueue(q queue.Queue) Option {
	return func(p *Pipeline) {
		p.queue = q
	}
}

// WithArchive overrides the dead-letter archive chosen from settings.
func WithArchive(s archive.Store) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

// Open builds a Pipeline from settings: filter, dedup store, queue backend
// and optional dead-letter archive. The Redis backend is verified reachable
// before Open returns; an unreachable Redis is a configuration error.
func Open(settings config.Settings, opts ...Option) (*Pipeline, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	minSev, err := settings.Filter.MinSeverityLevel()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		pollInt: time.Duration(settings.Worker.PollIntervalMS) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.filter = trigger.NewFilter(trigger.FilterConfig{
		EnabledEventTypes: settings.Filter.EnabledEventTypes,
		AllowedActors:     settings.Filter.AllowedActors,
		IgnoredErrorCodes: settings.Filter.IgnoredErrorCodes,
		MinSeverity:       minSev,
	}, p.logger)

	if p.store == nil && settings.Archive.Enabled {
		if settings.Archive.Path != "" {
			store, err := archive.NewSQLiteStore(settings.Archive.Path)
			if err != nil {
				return nil, fmt.Errorf("open archive: %w", err)
			}
			p.store = store
		} else {
			p.store = archive.NewMemoryStore()
		}
	}

	qcfg := queue.Config{
		MaxRetries:   settings.Queue.MaxRetries,
		MaxLaneDepth: settings.Queue.MaxLaneDepth,
		OnDeadLetter: p.onDeadLetter,
	}

	window := time.Duration(settings.Dedup.WindowSeconds) * time.Second

	if p.queue == nil {
		switch settings.Queue.Backend {
		case config.BackendMemory:
			p.queue = queue.NewMemoryQueue(qcfg)

		case config.BackendFile:
			fq, err := queue.NewFileQueue(settings.Queue.Dir, qcfg)
			if err != nil {
				return nil, fmt.Errorf("open file queue: %w", err)
			}
			p.queue = fq

		case config.BackendRedis:
			p.redisC = redis.NewClient(&redis.Options{
				Addr:     settings.Queue.RedisAddr,
				Password: settings.Queue.RedisPassword,
				DB:       settings.Queue.RedisDB,
			})
			rq := queue.NewRedisQueue(p.redisC, settings.Queue.KeyPrefix, qcfg)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rq.Ping(ctx); err != nil {
				p.redisC.Close()
				return nil, err
			}
			p.queue = rq
			if p.dedup == nil {
				p.dedup = trigger.NewRedisDedup(p.redisC, settings.Queue.KeyPrefix, window)
			}
		}
	}

	if p.dedup == nil {
		p.dedup = trigger.NewMemoryDedup(window)
	}

	return p, nil
}

// onDeadLetter is the queue's dead-letter callback: it logs the terminal
// failure and, when an archive is configured, persists the full event.
func (p *Pipeline) onDeadLetter(evt *event.Event) {
	observability.LogDeadLetter(p.logger, evt.ID, evt.EventType, evt.RetryCount)
	if p.store == nil {
		return
	}

	body, err := evt.Marshal()
	if err != nil {
		observability.LogBackendError(p.logger, fmt.Errorf("archive marshal %s: %w", evt.ID, err))
		return
	}
	rec := &archive.Record{
		EventID:    evt.ID,
		EventType:  evt.EventType,
		Lane:       evt.Priority.String(),
		RetryCount: evt.RetryCount,
		FailedAt:   time.Now().UTC(),
		Body:       body,
	}
	if err := p.store.Archive(rec); err != nil {
		observability.LogBackendError(p.logger, fmt.Errorf("archive %s: %w", evt.ID, err))
	}
}

// Submit runs an occurrence through the trigger filter and dedup store,
// classifies it into a priority lane and enqueues the resulting event.
//
// The returned id is empty (with a nil error) when the occurrence was
// filtered out or suppressed as a duplicate; both are expected outcomes,
// not errors.
func (p *Pipeline) Submit(ctx context.Context, occ trigger.Occurrence) (string, error) {
	ctx, span := p.spans.StartSubmitSpan(ctx, occ.EventType, occ.Source)
	id, err := p.submit(ctx, occ)
	p.spans.EndSpanWithError(span, err)
	return id, err
}

func (p *Pipeline) submit(ctx context.Context, occ trigger.Occurrence) (string, error) {
	if !p.filter.ShouldTrigger(occ) {
		observability.LogFiltered(p.logger, occ.EventType)
		p.metrics.RecordFiltered(ctx, occ.EventType)
		return "", nil
	}

	fp := occ.Fingerprint()
	duplicate, err := p.dedup.CheckAndRecord(ctx, fp)
	if err != nil {
		return "", fmt.Errorf("dedup check: %w", err)
	}
	if duplicate {
		observability.LogDeduplicated(p.logger, occ.EventType, fp)
		p.metrics.RecordDeduplicated(ctx, occ.EventType)
		return "", nil
	}

	// Unknown or absent severities classify as info.
	sev, _ := event.ParseSeverity(occ.Severity)

	evt := event.NewClassified(occ.EventType, occ.Source, sev, occ.Data,
		event.WithFingerprint(fp),
		event.WithActor(occ.Actor),
	)

	if err := p.queue.Push(ctx, evt); err != nil {
		// The dedup record was written optimistically; release it so the
		// caller's retry of this occurrence is not suppressed as a duplicate.
		if fErr := p.dedup.Forget(ctx, fp); fErr != nil {
			observability.LogBackendError(p.logger, fmt.Errorf("dedup forget %s: %w", fp, fErr))
		}
		return "", err
	}

	observability.LogSubmitted(p.logger, evt.ID, evt.EventType, evt.Priority.String())
	p.metrics.RecordSubmitted(ctx, evt.Source, evt.Priority.String())
	return evt.ID, nil
}

// Enqueue pushes a pre-built event directly, bypassing the filter and
// dedup store. Use for replaying archived events or internal re-injection.
func (p *Pipeline) Enqueue(ctx context.Context, evt *event.Event) error {
	if err := p.queue.Push(ctx, evt); err != nil {
		return err
	}
	observability.LogSubmitted(p.logger, evt.ID, evt.EventType, evt.Priority.String())
	p.metrics.RecordSubmitted(ctx, evt.Source, evt.Priority.String())
	return nil
}

// Worker returns a worker bound to this pipeline's queue and settings.
func (p *Pipeline) Worker(registry *worker.Registry) *worker.Worker {
	return worker.New(p.queue, registry, worker.Config{
		PollInterval: p.pollInt,
		Logger:       p.logger,
		Metrics:      p.metrics,
		Spans:        p.spans,
	})
}

// Queue exposes the underlying queue for counts and manual recovery.
func (p *Pipeline) Queue() queue.Queue {
	return p.queue
}

// Archive exposes the dead-letter archive, or nil when disabled.
func (p *Pipeline) Archive() archive.Store {
	return p.store
}

// Close releases the dedup store, queue backend, archive and any owned
// Redis client. Safe to call once after all workers have stopped.
func (p *Pipeline) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(p.dedup.Close())
	record(p.queue.Close())
	if p.store != nil {
		record(p.store.Close())
	}
	if p.redisC != nil {
		record(p.redisC.Close())
	}
	return firstErr
}
