// Package eventpipe turns raw occurrences from watcher sources into
// prioritized, durably queued events and drives them through registered
// handlers with bounded retries.
//
// The pipeline has two halves joined by a queue:
//
//   - The producer half (Submit) filters an occurrence against configured
//     rules, suppresses duplicates within a sliding window, classifies the
//     surviving occurrence into one of four priority lanes and pushes the
//     resulting event onto the queue.
//   - The consumer half (the worker package) pops events in strict priority
//     order, dispatches them to handlers and reports the outcome; failures
//     are retried up to a bound and then dead-lettered.
//
// Queue backends are pluggable: in-memory for tests, a crash-safe file
// backend for single-host deployments, and a Redis backend when multiple
// processes share one queue.
//
// Basic usage:
//
//	settings := config.Default()
//	settings.Queue.Backend = config.BackendFile
//	settings.Queue.Dir = "/var/lib/eventpipe"
//
//	pipe, err := eventpipe.Open(settings)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pipe.Close()
//
//	registry := worker.NewRegistry()
//	registry.RegisterFunc("monitoring.*", handleMonitoring)
//
//	go pipe.Worker(registry).Run(ctx)
//
//	id, err := pipe.Submit(ctx, trigger.Occurrence{
//		EventType: "monitoring.error_detected",
//		Source:    "log-watcher",
//		Severity:  "critical",
//		Data:      map[string]any{"error_code": "AI5001"},
//	})
package eventpipe
