// Package event defines the unit of work flowing through the trigger and
// queue pipeline: an immutable Event value with a fixed priority lane, a
// content fingerprint for deduplication, and retry accounting.
//
// Events serialize to camelCase JSON; the same encoding is used for queue
// files, the shared-store blobs, and the DLQ archive.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status tracks an event through the queue state machine:
// pending -> processing -> {completed | retrying -> pending | failed}.
type Status string

const (
	// StatusPending means the event is waiting in its lane.
	StatusPending Status = "pending"
	// StatusProcessing means the event has been popped and handed to a consumer.
	StatusProcessing Status = "processing"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal failure; the event sits in the DLQ.
	StatusFailed Status = "failed"
	// StatusRetrying marks a failed event re-queued for another attempt.
	StatusRetrying Status = "retrying"
)

// Metadata carries tracking fields that are not part of the payload.
type Metadata struct {
	// Fingerprint identifies "the same occurrence" for dedup purposes.
	Fingerprint string `json:"fingerprint"`
	// CorrelationID links causally related events.
	CorrelationID string `json:"correlationId,omitempty"`
	// Actor is the originating user, when the source has one.
	Actor string `json:"actor,omitempty"`
	// Attributes holds additional free-form tags.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Event is the unit of work. Create with New; treat as immutable once
// enqueued, since the queue owns retryCount and status transitions.
type Event struct {
	ID         string         `json:"id"`
	EventType  string         `json:"eventType"`
	Source     string         `json:"source"`
	CreatedAt  time.Time      `json:"createdAt"`
	Priority   Priority       `json:"priority"`
	Payload    map[string]any `json:"payload,omitempty"`
	Metadata   Metadata       `json:"metadata"`
	RetryCount int            `json:"retryCount"`
	Status     Status         `json:"status"`
}

// Option configures event creation.
type Option func(*Event)

// WithFingerprint sets the dedup fingerprint.
func WithFingerprint(fp string) Option {
	return func(e *Event) {
		e.Metadata.Fingerprint = fp
	}
}

// WithCorrelationID links the event to a causally related one.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		e.Metadata.CorrelationID = id
	}
}

// WithActor records the originating user.
func WithActor(actor string) Option {
	return func(e *Event) {
		e.Metadata.Actor = actor
	}
}

// WithAttribute adds a free-form metadata tag.
func WithAttribute(key, value string) Option {
	return func(e *Event) {
		if e.Metadata.Attributes == nil {
			e.Metadata.Attributes = make(map[string]string)
		}
		e.Metadata.Attributes[key] = value
	}
}

// New creates a pending event with a fresh UUID and the given lane.
// If no fingerprint option is supplied the event ID is used, which makes
// the event unique for dedup purposes.
func New(eventType, source string, priority Priority, payload map[string]any, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		EventType: eventType,
		Source:    source,
		CreatedAt: time.Now().UTC(),
		Priority:  priority,
		Payload:   payload,
		Status:    StatusPending,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Metadata.Fingerprint == "" {
		e.Metadata.Fingerprint = e.ID
	}
	return e
}

// NewClassified creates an event whose lane is assigned by ClassifyPriority.
func NewClassified(eventType, source string, severity Severity, payload map[string]any, opts ...Option) *Event {
	return New(eventType, source, ClassifyPriority(eventType, severity), payload, opts...)
}

// Filename returns the queue file name for the event, "p<lane>_<uuid>.json".
func (e *Event) Filename() string {
	return fmt.Sprintf("%s_%s.json", e.Priority, e.ID)
}

// Clone returns a deep-enough copy: payload and attribute maps are copied so
// the queue can mutate retry accounting without aliasing the caller's event.
func (e *Event) Clone() *Event {
	out := *e
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	if e.Metadata.Attributes != nil {
		out.Metadata.Attributes = make(map[string]string, len(e.Metadata.Attributes))
		for k, v := range e.Metadata.Attributes {
			out.Metadata.Attributes[k] = v
		}
	}
	return &out
}

// Marshal encodes the event to its JSON wire form.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	return data, nil
}

// Unmarshal decodes an event from its JSON wire form.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("unmarshal event: missing id")
	}
	return &e, nil
}

// IDFromFilename extracts the event ID from a queue file name.
// Returns false if the name does not follow the p<lane>_<uuid>.json pattern.
func IDFromFilename(name string) (string, bool) {
	base := strings.TrimSuffix(name, ".json")
	if base == name {
		return "", false
	}
	idx := strings.Index(base, "_")
	if idx < 0 || idx+1 >= len(base) {
		return "", false
	}
	if _, err := ParsePriority(base[:idx]); err != nil {
		return "", false
	}
	return base[idx+1:], true
}
