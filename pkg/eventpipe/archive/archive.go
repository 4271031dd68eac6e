// Package archive provides terminal storage for dead-lettered events, so
// operators can inspect, requeue or purge them independently of the queue
// backend's DLQ lane. Retention is an operational policy: PurgeOlderThan
// is the enforcement hook.
package archive

import (
	"errors"
	"time"
)

// Record is an archived dead-lettered event.
type Record struct {
	EventID    string    // unique event id
	EventType  string    // dotted event type
	Lane       string    // priority lane name ("p0".."p3")
	RetryCount int       // retry count at dead-letter time
	Reason     string    // last failure reason, if known
	FailedAt   time.Time // when the event was dead-lettered
	Body       []byte    // full serialized event
}

// Store persists dead-letter records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Archive stores a record. Re-archiving the same event id overwrites.
	Archive(rec *Record) error

	// Get retrieves a record by event id.
	// Returns ErrNotFound if no record exists.
	Get(eventID string) (*Record, error)

	// List returns up to limit records, oldest first. limit <= 0 means all.
	List(limit int) ([]*Record, error)

	// Delete removes a record. Returns nil if the record doesn't exist.
	Delete(eventID string) error

	// PurgeOlderThan deletes records that dead-lettered before the cutoff
	// and returns the number removed.
	PurgeOlderThan(cutoff time.Time) (int, error)

	// Count returns the number of archived records.
	Count() (int, error)

	// Close releases any resources.
	Close() error
}

// Sentinel errors for archive operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("archive record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("archive store closed")
)
