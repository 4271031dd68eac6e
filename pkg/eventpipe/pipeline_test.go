package eventpipe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/config"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/queue"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/trigger"
	"github.com/yapp-web3/eventpipe/pkg/eventpipe/worker"
)

func testSettings() config.Settings {
	s := config.Default()
	s.Queue.MaxRetries = 1
	return s
}

func TestOpenValidatesSettings(t *testing.T) {
	s := config.Default()
	s.Queue.Backend = "dynamo"

	_, err := Open(s)
	assert.ErrorContains(t, err, "unknown queue backend")
}

func TestSubmitEnqueuesClassified(t *testing.T) {
	p, err := Open(testSettings())
	require.NoError(t, err)
	defer p.Close()

	id, err := p.Submit(context.Background(), trigger.Occurrence{
		EventType: "monitoring.error_detected",
		Source:    "log-watcher",
		Severity:  "critical",
		Data:      map[string]any{"error_code": "AI5001"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	evt, err := p.Queue().Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, id, evt.ID)
	assert.Equal(t, event.P0, evt.Priority)
	assert.Equal(t, "AI5001", evt.Payload["error_code"])
}

func TestSubmitFilteredReturnsEmptyID(t *testing.T) {
	s := testSettings()
	s.Filter.MinSeverity = "critical"

	p, err := Open(s)
	require.NoError(t, err)
	defer p.Close()

	id, err := p.Submit(context.Background(), trigger.Occurrence{
		EventType: "monitoring.error_detected",
		Source:    "log-watcher",
		Severity:  "info",
	})
	require.NoError(t, err)
	assert.Empty(t, id)

	pending, _ := p.Queue().PendingCount(context.Background())
	assert.Equal(t, 0, pending)
}

func TestSubmitDeduplicates(t *testing.T) {
	p, err := Open(testSettings())
	require.NoError(t, err)
	defer p.Close()

	occ := trigger.Occurrence{
		EventType: "monitoring.error_detected",
		Source:    "log-watcher",
		Severity:  "critical",
		Data:      map[string]any{"error_code": "AI5001", "target": "api.go:42"},
	}

	id, err := p.Submit(context.Background(), occ)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Same content inside the window: suppressed.
	id, err = p.Submit(context.Background(), occ)
	require.NoError(t, err)
	assert.Empty(t, id)

	// Different content is a new event.
	occ.Data["error_code"] = "AI5002"
	id, err = p.Submit(context.Background(), occ)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pending, _ := p.Queue().PendingCount(context.Background())
	assert.Equal(t, 2, pending)
}

func TestSubmitRetryAfterPushFailure(t *testing.T) {
	ctx := context.Background()

	s := testSettings()
	s.Queue.MaxLaneDepth = 1

	p, err := Open(s)
	require.NoError(t, err)
	defer p.Close()

	first := trigger.Occurrence{
		EventType: "monitoring.error_detected",
		Source:    "log-watcher",
		Severity:  "critical",
		Data:      map[string]any{"error_code": "AI5001"},
	}
	second := trigger.Occurrence{
		EventType: "monitoring.error_detected",
		Source:    "log-watcher",
		Severity:  "critical",
		Data:      map[string]any{"error_code": "AI5002"},
	}

	id, err := p.Submit(ctx, first)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// The lane is full: the second submission is rejected.
	_, err = p.Submit(ctx, second)
	require.ErrorIs(t, err, queue.ErrQueueFull)

	// Drain the lane and retry. The failed submission must not have left
	// a dedup record behind suppressing the retry.
	evt, err := p.Queue().Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Queue().Complete(ctx, evt.ID))

	id, err = p.Submit(ctx, second)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestEnqueueBypassesFilter(t *testing.T) {
	s := testSettings()
	s.Filter.EnabledEventTypes = []string{"monitoring.error_detected"}

	p, err := Open(s)
	require.NoError(t, err)
	defer p.Close()

	evt := event.New("custom.replay", "operator", event.P3, nil)
	require.NoError(t, p.Enqueue(context.Background(), evt))

	pending, _ := p.Queue().PendingCount(context.Background())
	assert.Equal(t, 1, pending)
}

// TestPipelineLifecycle walks one event through the full retry lifecycle:
// critical occurrence -> P0 -> pop -> fail -> retry -> pop -> complete.
func TestPipelineLifecycle(t *testing.T) {
	ctx := context.Background()

	p, err := Open(testSettings())
	require.NoError(t, err)
	defer p.Close()

	id, err := p.Submit(ctx, trigger.Occurrence{
		EventType: "monitoring.error_detected",
		Source:    "log-watcher",
		Severity:  "critical",
		Data:      map[string]any{"error_code": "AI5001"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	attempts := 0
	registry := worker.NewRegistry()
	registry.RegisterFunc("monitoring.*", func(_ context.Context, evt *event.Event) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient failure")
		}
		return nil
	})

	w := p.Worker(registry)

	// First attempt fails and requeues; second succeeds.
	processed, err := w.RunIterations(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, attempts)

	pending, _ := p.Queue().PendingCount(ctx)
	processing, _ := p.Queue().ProcessingCount(ctx)
	dlq, _ := p.Queue().DeadLetterCount(ctx)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, processing)
	assert.Equal(t, 0, dlq)
}

func TestPipelineDeadLetterArchived(t *testing.T) {
	ctx := context.Background()

	s := testSettings()
	s.Queue.MaxRetries = 1
	s.Archive.Enabled = true // empty path selects the in-memory archive

	p, err := Open(s)
	require.NoError(t, err)
	defer p.Close()

	id, err := p.Submit(ctx, trigger.Occurrence{
		EventType: "monitoring.error_detected",
		Source:    "log-watcher",
		Severity:  "critical",
		Data:      map[string]any{"error_code": "AI9999"},
	})
	require.NoError(t, err)

	registry := worker.NewRegistry()
	registry.RegisterFunc("monitoring.*", func(context.Context, *event.Event) error {
		return errors.New("permanent failure")
	})

	// Initial attempt plus one retry exhausts the budget.
	_, err = p.Worker(registry).RunIterations(ctx, 10)
	require.NoError(t, err)

	dlq, _ := p.Queue().DeadLetterCount(ctx)
	assert.Equal(t, 1, dlq)

	rec, err := p.Archive().Get(id)
	require.NoError(t, err)
	assert.Equal(t, "monitoring.error_detected", rec.EventType)
	assert.Equal(t, "p0", rec.Lane)
	assert.Equal(t, 1, rec.RetryCount)

	evt, err := event.Unmarshal(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, evt.Status)
}

func TestPriorityOrderAcrossSources(t *testing.T) {
	ctx := context.Background()

	p, err := Open(testSettings())
	require.NoError(t, err)
	defer p.Close()

	// Submitted low-to-high; delivered high-to-low.
	lowID, err := p.Submit(ctx, trigger.Occurrence{
		EventType: "github.pr_opened", Source: "github", Severity: "warning",
	})
	require.NoError(t, err)

	midID, err := p.Submit(ctx, trigger.Occurrence{
		EventType: "discord.command", Source: "discord", Actor: "alice", Severity: "warning",
	})
	require.NoError(t, err)

	highID, err := p.Submit(ctx, trigger.Occurrence{
		EventType: "monitoring.error_detected", Source: "log-watcher", Severity: "critical",
	})
	require.NoError(t, err)

	var order []string
	registry := worker.NewRegistry()
	registry.RegisterFunc("github.*", collect(&order))
	registry.RegisterFunc("discord.*", collect(&order))
	registry.RegisterFunc("monitoring.*", collect(&order))

	_, err = p.Worker(registry).RunIterations(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{highID, midID, lowID}, order)
}

func collect(order *[]string) worker.HandlerFunc {
	return func(_ context.Context, evt *event.Event) error {
		*order = append(*order, evt.ID)
		return nil
	}
}
