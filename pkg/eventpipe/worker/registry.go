// Package worker drives consumers: a handler registry keyed by event-type
// pattern, and a polling loop that pops events in strict priority order and
// reports completion or failure back to the queue.
package worker

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// Handler processes a single event. A nil error completes the event;
// anything else (including a panic, which the worker converts) fails it.
type Handler interface {
	Handle(ctx context.Context, evt *event.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt *event.Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt *event.Event) error {
	return f(ctx, evt)
}

// Registry maps event-type patterns to handlers. A pattern is either an
// exact type ("monitoring.error_detected") or a prefix ending in ".*"
// ("github.*" matches every github event). Exact matches win; among prefix
// patterns the longest match wins. New consumers register here instead of
// extending the worker's dispatch.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Handler
	prefixes []prefixEntry
}

type prefixEntry struct {
	prefix  string
	handler Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		exact: make(map[string]Handler),
	}
}

// Register associates a pattern with a handler. Registering the same
// pattern again replaces the previous handler.
func (r *Registry) Register(pattern string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		for i, entry := range r.prefixes {
			if entry.prefix == prefix {
				r.prefixes[i].handler = handler
				return
			}
		}
		r.prefixes = append(r.prefixes, prefixEntry{prefix: prefix, handler: handler})
		// Longest prefix first so the most specific pattern wins.
		sort.SliceStable(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
		})
		return
	}

	r.exact[pattern] = handler
}

// RegisterFunc is Register for plain functions.
func (r *Registry) RegisterFunc(pattern string, fn HandlerFunc) {
	r.Register(pattern, fn)
}

// Lookup returns the handler for an event type, if any is registered.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.exact[eventType]; ok {
		return h, true
	}

	for _, entry := range r.prefixes {
		if eventType == entry.prefix || strings.HasPrefix(eventType, entry.prefix+".") {
			return entry.handler, true
		}
	}

	return nil, false
}

// Patterns returns all registered patterns, exact first.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.exact)+len(r.prefixes))
	for pattern := range r.exact {
		out = append(out, pattern)
	}
	sort.Strings(out)
	for _, entry := range r.prefixes {
		out = append(out, entry.prefix+".*")
	}
	return out
}
