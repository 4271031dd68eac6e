package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStores builds one of each Store implementation for shared contract tests.
func newStores(t *testing.T) map[string]Store {
	t.Helper()

	sq, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	mem := NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{
		"sqlite": sq,
		"memory": mem,
	}
}

func sampleRecord(id string, failedAt time.Time) *Record {
	return &Record{
		EventID:    id,
		EventType:  "monitoring.error_detected",
		Lane:       "p0",
		RetryCount: 3,
		Reason:     "downstream unavailable",
		FailedAt:   failedAt,
		Body:       []byte(`{"id":"` + id + `"}`),
	}
}

func TestStoreArchiveAndGet(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord("evt-1", time.Now().UTC())
			require.NoError(t, s.Archive(rec))

			got, err := s.Get("evt-1")
			require.NoError(t, err)
			assert.Equal(t, rec.EventID, got.EventID)
			assert.Equal(t, rec.EventType, got.EventType)
			assert.Equal(t, rec.Lane, got.Lane)
			assert.Equal(t, rec.RetryCount, got.RetryCount)
			assert.Equal(t, rec.Reason, got.Reason)
			assert.Equal(t, rec.Body, got.Body)
			assert.WithinDuration(t, rec.FailedAt, got.FailedAt, time.Millisecond)
		})
	}
}

func TestStoreGetNotFound(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreArchiveOverwrites(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := sampleRecord("evt-1", time.Now().UTC())
			require.NoError(t, s.Archive(rec))

			rec.Reason = "second failure"
			require.NoError(t, s.Archive(rec))

			got, err := s.Get("evt-1")
			require.NoError(t, err)
			assert.Equal(t, "second failure", got.Reason)

			n, err := s.Count()
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestStoreListOldestFirst(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC()
			require.NoError(t, s.Archive(sampleRecord("evt-2", base.Add(time.Minute))))
			require.NoError(t, s.Archive(sampleRecord("evt-1", base)))
			require.NoError(t, s.Archive(sampleRecord("evt-3", base.Add(2*time.Minute))))

			records, err := s.List(0)
			require.NoError(t, err)
			require.Len(t, records, 3)
			assert.Equal(t, "evt-1", records[0].EventID)
			assert.Equal(t, "evt-2", records[1].EventID)
			assert.Equal(t, "evt-3", records[2].EventID)

			limited, err := s.List(2)
			require.NoError(t, err)
			require.Len(t, limited, 2)
			assert.Equal(t, "evt-1", limited[0].EventID)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Archive(sampleRecord("evt-1", time.Now().UTC())))
			require.NoError(t, s.Delete("evt-1"))

			_, err := s.Get("evt-1")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing record is a no-op.
			assert.NoError(t, s.Delete("evt-1"))
		})
	}
}

func TestStorePurgeOlderThan(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().UTC()
			require.NoError(t, s.Archive(sampleRecord("old-1", base.Add(-48*time.Hour))))
			require.NoError(t, s.Archive(sampleRecord("old-2", base.Add(-25*time.Hour))))
			require.NoError(t, s.Archive(sampleRecord("recent", base)))

			removed, err := s.PurgeOlderThan(base.Add(-24 * time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			n, err := s.Count()
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = s.Get("recent")
			assert.NoError(t, err)
		})
	}
}

func TestStoreClosedErrors(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())

			assert.ErrorIs(t, s.Archive(sampleRecord("x", time.Now())), ErrStoreClosed)
			_, err := s.Get("x")
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = s.List(0)
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = s.Count()
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestSQLiteStoreFilePersistence(t *testing.T) {
	path := t.TempDir() + "/dlq.db"

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Archive(sampleRecord("evt-1", time.Now().UTC())))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("evt-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.EventID)
}
