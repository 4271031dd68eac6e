package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// State directories under the queue root. An event is exactly one file in
// exactly one of these at any time; state transitions are renames, which
// are atomic on a single filesystem. That is what makes pop/complete/fail
// crash-safe without explicit locking on disk.
const (
	dirPending    = "pending"
	dirProcessing = "processing"
	dirCompleted  = "completed"
	dirDLQ        = "dlq"
)

// FileQueue is a durable single-node Queue. Each event is one JSON file
// named "p<lane>_<uuid>.json"; lane order within a priority follows file
// modification time.
//
// Completed files are kept only as dedup history; use SweepCompleted to
// enforce retention.
type FileQueue struct {
	root      string
	cfg       Config
	mu        sync.Mutex
	lastStamp time.Time
}

// NewFileQueue creates the state directories under root and returns the
// queue. The root must live on a single filesystem.
func NewFileQueue(root string, cfg Config) (*FileQueue, error) {
	for _, dir := range []string{dirPending, dirProcessing, dirCompleted, dirDLQ} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create queue directory %s: %w", dir, err)
		}
	}
	return &FileQueue{root: root, cfg: cfg.withDefaults()}, nil
}

func (q *FileQueue) dir(state string) string {
	return filepath.Join(q.root, state)
}

// writeEvent serializes evt into dir via a temp file and rename, so a
// partially written file is never visible under its final name. Pending
// files get a strictly increasing mtime stamp: lane order sorts by mtime,
// and filesystem mtime granularity can be coarser than the push rate.
func (q *FileQueue) writeEvent(state string, evt *event.Event) error {
	data, err := evt.Marshal()
	if err != nil {
		return err
	}

	dir := q.dir(state)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp event file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write event file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close event file: %w", err)
	}

	final := filepath.Join(dir, evt.Filename())
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("place event file: %w", err)
	}

	if state == dirPending {
		stamp := q.nextStamp()
		if err := os.Chtimes(final, stamp, stamp); err != nil {
			return fmt.Errorf("stamp event file: %w", err)
		}
	}
	return nil
}

// nextStamp returns a timestamp strictly after the previous one handed out.
// Callers hold q.mu.
func (q *FileQueue) nextStamp() time.Time {
	stamp := time.Now()
	if !stamp.After(q.lastStamp) {
		stamp = q.lastStamp.Add(time.Microsecond)
	}
	q.lastStamp = stamp
	return stamp
}

// readEvent loads and parses the event file at path.
func (q *FileQueue) readEvent(path string) (*event.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event file %s: %w", filepath.Base(path), err)
	}
	return event.Unmarshal(data)
}

// laneFiles lists the lane's pending files ordered oldest-first.
func (q *FileQueue) laneFiles(state string, lane event.Priority) ([]string, error) {
	entries, err := os.ReadDir(q.dir(state))
	if err != nil {
		return nil, fmt.Errorf("read %s directory: %w", state, err)
	}

	prefix := lane.String() + "_"
	type candidate struct {
		name string
		mod  time.Time
	}
	var files []candidate
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: name, mod: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].name < files[j].name
		}
		return files[i].mod.Before(files[j].mod)
	})

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// findByID locates the file holding eventID within a state directory.
func (q *FileQueue) findByID(state, eventID string) (string, bool, error) {
	entries, err := os.ReadDir(q.dir(state))
	if err != nil {
		return "", false, fmt.Errorf("read %s directory: %w", state, err)
	}
	for _, entry := range entries {
		if id, ok := event.IDFromFilename(entry.Name()); ok && id == eventID {
			return filepath.Join(q.dir(state), entry.Name()), true, nil
		}
	}
	return "", false, nil
}

func (q *FileQueue) countFiles(state string) (int, error) {
	entries, err := os.ReadDir(q.dir(state))
	if err != nil {
		return 0, fmt.Errorf("read %s directory: %w", state, err)
	}
	count := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	return count, nil
}

// Push implements Queue.
func (q *FileQueue) Push(_ context.Context, evt *event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxLaneDepth > 0 {
		names, err := q.laneFiles(dirPending, evt.Priority)
		if err != nil {
			return &BackendError{Op: "push", Err: err}
		}
		if len(names) >= q.cfg.MaxLaneDepth {
			return ErrQueueFull
		}
	}

	if err := q.writeEvent(dirPending, evt); err != nil {
		return &BackendError{Op: "push", Err: err}
	}
	return nil
}

// Pop implements Queue. The rename into processing/ happens before the file
// is read, so there is no instant at which the event is in neither place;
// a crash mid-pop strands the file in processing/ where Recover reclaims it.
func (q *FileQueue) Pop(_ context.Context) (*event.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, lane := range event.Lanes {
		names, err := q.laneFiles(dirPending, lane)
		if err != nil {
			return nil, &BackendError{Op: "pop", Err: err}
		}

		for _, name := range names {
			pendingPath := filepath.Join(q.dir(dirPending), name)
			processingPath := filepath.Join(q.dir(dirProcessing), name)

			if err := os.Rename(pendingPath, processingPath); err != nil {
				if os.IsNotExist(err) {
					continue // raced with another pop on the same filesystem
				}
				return nil, &BackendError{Op: "pop", Err: err}
			}

			evt, err := q.readEvent(processingPath)
			if err != nil {
				// Corrupted event: park it in the DLQ so it cannot wedge
				// the lane, and keep scanning.
				dlqPath := filepath.Join(q.dir(dirDLQ), name)
				if renameErr := os.Rename(processingPath, dlqPath); renameErr != nil {
					return nil, &BackendError{Op: "pop", Err: renameErr}
				}
				continue
			}

			evt.Status = event.StatusProcessing
			if err := q.writeEvent(dirProcessing, evt); err != nil {
				// Roll the file back so the event stays visible in its lane.
				if rbErr := os.Rename(processingPath, pendingPath); rbErr != nil {
					return nil, &BackendError{Op: "pop", Err: rbErr}
				}
				return nil, &BackendError{Op: "pop", Err: err}
			}

			return evt, nil
		}
	}

	return nil, nil
}

// Complete implements Queue. The completed file keeps the event visible to
// dedup history until SweepCompleted removes it.
func (q *FileQueue) Complete(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	path, found, err := q.findByID(dirProcessing, eventID)
	if err != nil {
		return &BackendError{Op: "complete", Err: err}
	}
	if !found {
		return nil // idempotent
	}

	evt, err := q.readEvent(path)
	if err == nil {
		evt.Status = event.StatusCompleted
		if err := q.writeEvent(dirCompleted, evt); err != nil {
			return &BackendError{Op: "complete", Err: err}
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &BackendError{Op: "complete", Err: err}
	}
	return nil
}

// Fail implements Queue. The successor file (retry or DLQ) is written
// before the processing file is removed, so a crash between the two steps
// leaves a duplicate to deliver again, never a lost event. Retry writes
// skip the lane bound: the event was already admitted.
func (q *FileQueue) Fail(_ context.Context, evt *event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if evt.RetryCount >= q.cfg.MaxRetries {
		dead := prepareDeadLetter(evt)
		if q.cfg.OnDeadLetter != nil {
			q.cfg.OnDeadLetter(dead.Clone())
		}
		if err := q.writeEvent(dirDLQ, dead); err != nil {
			return &BackendError{Op: "fail", Err: err}
		}
	} else {
		if err := q.writeEvent(dirPending, prepareRetry(evt)); err != nil {
			return &BackendError{Op: "fail", Err: err}
		}
	}

	if path, found, err := q.findByID(dirProcessing, evt.ID); err != nil {
		return &BackendError{Op: "fail", Err: err}
	} else if found {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return &BackendError{Op: "fail", Err: err}
		}
	}
	return nil
}

// Recover implements Queue.
func (q *FileQueue) Recover(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := os.ReadDir(q.dir(dirProcessing))
	if err != nil {
		return 0, &BackendError{Op: "recover", Err: err}
	}

	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(q.dir(dirProcessing), name)

		evt, err := q.readEvent(path)
		if err != nil {
			// Corrupted stored event: move to DLQ rather than blocking
			// recovery of the rest.
			if renameErr := os.Rename(path, filepath.Join(q.dir(dirDLQ), name)); renameErr != nil {
				return count, &BackendError{Op: "recover", Err: renameErr}
			}
			continue
		}

		if err := q.writeEvent(dirPending, prepareRetry(evt)); err != nil {
			return count, &BackendError{Op: "recover", Err: err}
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return count, &BackendError{Op: "recover", Err: err}
		}
		count++
	}

	return count, nil
}

// PendingCount implements Queue.
func (q *FileQueue) PendingCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countFiles(dirPending)
}

// ProcessingCount implements Queue.
func (q *FileQueue) ProcessingCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countFiles(dirProcessing)
}

// DeadLetterCount implements Queue.
func (q *FileQueue) DeadLetterCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countFiles(dirDLQ)
}

// SweepCompleted deletes completed event files older than the cutoff and
// returns the number removed. Run periodically to enforce retention.
func (q *FileQueue) SweepCompleted(cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := os.ReadDir(q.dir(dirCompleted))
	if err != nil {
		return 0, fmt.Errorf("read completed directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(q.dir(dirCompleted), entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Close implements Queue. File handles are not held open between
// operations, so there is nothing to release.
func (q *FileQueue) Close() error {
	return nil
}
