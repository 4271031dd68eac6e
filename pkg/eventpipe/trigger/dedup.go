package trigger

import (
	"context"
	"sync"
	"time"
)

// DedupStore maps a content fingerprint to its last-seen time within a
// sliding window. Implementations must be safe for concurrent use.
type DedupStore interface {
	// CheckAndRecord reports whether a live (non-expired) record exists for
	// the fingerprint. When none exists the record is created or refreshed,
	// so a false return means the caller should proceed to enqueue.
	CheckAndRecord(ctx context.Context, fingerprint string) (duplicate bool, err error)

	// Forget removes the record for the fingerprint, if any. Callers use it
	// to undo a CheckAndRecord whose follow-up enqueue failed, so the next
	// submission of the same occurrence is not suppressed.
	Forget(ctx context.Context, fingerprint string) error

	// Close releases any resources.
	Close() error
}

// sweepThreshold is the map size above which an expired-entry sweep runs.
const sweepThreshold = 4096

// MemoryDedup is an in-process DedupStore. Expired entries are ignored on
// lookup and physically removed lazily: on collision with an expired record,
// and by a best-effort sweep once the map grows past a threshold.
type MemoryDedup struct {
	mu      sync.Mutex
	window  time.Duration
	seen    map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryDedup creates a MemoryDedup with the given sliding window.
// A non-positive window disables deduplication entirely.
func NewMemoryDedup(window time.Duration) *MemoryDedup {
	return &MemoryDedup{
		window:  window,
		seen:    make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

// CheckAndRecord implements DedupStore.
func (d *MemoryDedup) CheckAndRecord(_ context.Context, fingerprint string) (bool, error) {
	if d.window <= 0 {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	if last, ok := d.seen[fingerprint]; ok {
		if now.Sub(last) < d.window {
			return true, nil
		}
		delete(d.seen, fingerprint)
	}

	if len(d.seen) >= sweepThreshold {
		d.sweepLocked(now)
	}

	d.seen[fingerprint] = now
	return false, nil
}

// sweepLocked drops all expired records (must hold mu).
func (d *MemoryDedup) sweepLocked(now time.Time) {
	for fp, last := range d.seen {
		if now.Sub(last) >= d.window {
			delete(d.seen, fp)
		}
	}
}

// Forget implements DedupStore.
func (d *MemoryDedup) Forget(_ context.Context, fingerprint string) error {
	if d.window <= 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, fingerprint)
	return nil
}

// Len returns the number of live or not-yet-swept records.
func (d *MemoryDedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Close implements DedupStore.
func (d *MemoryDedup) Close() error {
	return nil
}
