// Package config defines the pipeline configuration surface and loads it
// from YAML or JSON files.
package config

import (
	"fmt"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// Backend names accepted in Settings.Queue.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Settings is the full pipeline configuration.
type Settings struct {
	// Filter controls which occurrences become events.
	Filter FilterSettings `yaml:"filter" json:"filter"`

	// Dedup controls the duplicate-suppression window.
	Dedup DedupSettings `yaml:"dedup" json:"dedup"`

	// Queue selects and tunes the queue backend.
	Queue QueueSettings `yaml:"queue" json:"queue"`

	// Worker tunes the consumer loop.
	Worker WorkerSettings `yaml:"worker" json:"worker"`

	// Archive configures the dead-letter archive. Optional.
	Archive ArchiveSettings `yaml:"archive" json:"archive"`
}

// FilterSettings configures the trigger filter.
type FilterSettings struct {
	// EnabledEventTypes lists event types that may trigger.
	// Empty means all types are enabled.
	EnabledEventTypes []string `yaml:"enabled_event_types" json:"enabled_event_types"`

	// AllowedActors restricts triggering to these actors.
	// Empty means no actor restriction.
	AllowedActors []string `yaml:"allowed_actors" json:"allowed_actors"`

	// IgnoredErrorCodes lists error codes that never trigger.
	IgnoredErrorCodes []string `yaml:"ignored_error_codes" json:"ignored_error_codes"`

	// MinSeverity is the minimum severity that triggers: "info",
	// "warning" or "critical".
	MinSeverity string `yaml:"min_severity" json:"min_severity"`
}

// DedupSettings configures duplicate suppression.
type DedupSettings struct {
	// WindowSeconds is the sliding dedup window. Zero disables dedup.
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`
}

// QueueSettings configures the queue backend.
type QueueSettings struct {
	// Backend is one of "memory", "file" or "redis".
	Backend string `yaml:"backend" json:"backend"`

	// MaxRetries is how many failures are retried before dead-lettering.
	// Must be at least 1.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// MaxLaneDepth caps the pending events per priority lane.
	// Zero or negative means unbounded.
	MaxLaneDepth int `yaml:"max_lane_depth" json:"max_lane_depth"`

	// Dir is the root directory for the file backend.
	Dir string `yaml:"dir" json:"dir"`

	// RedisAddr is the host:port for the redis backend.
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`

	// RedisPassword is the redis AUTH password, if any.
	RedisPassword string `yaml:"redis_password" json:"redis_password"`

	// RedisDB is the redis logical database number.
	RedisDB int `yaml:"redis_db" json:"redis_db"`

	// KeyPrefix namespaces all redis keys. Defaults to "eventpipe".
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// WorkerSettings configures the consumer loop.
type WorkerSettings struct {
	// PollIntervalMS is the sleep between polls when the queue is empty.
	PollIntervalMS int `yaml:"poll_interval_ms" json:"poll_interval_ms"`
}

// ArchiveSettings configures the dead-letter archive.
type ArchiveSettings struct {
	// Enabled turns on archiving of dead-lettered events.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the SQLite database file. Empty with Enabled=true
	// selects an in-memory archive.
	Path string `yaml:"path" json:"path"`

	// RetentionDays purges archived records older than this many days.
	// Zero keeps records forever.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// Default returns Settings with production defaults: all event types
// enabled, warning severity floor, 5 minute dedup window, in-memory
// queue with 3 retries, 1s poll interval, archive disabled.
func Default() Settings {
	return Settings{
		Filter: FilterSettings{
			MinSeverity: "warning",
		},
		Dedup: DedupSettings{
			WindowSeconds: 300,
		},
		Queue: QueueSettings{
			Backend:      BackendMemory,
			MaxRetries:   3,
			MaxLaneDepth: 10000,
			KeyPrefix:    "eventpipe",
		},
		Worker: WorkerSettings{
			PollIntervalMS: 1000,
		},
	}
}

// Validate checks the settings for internal consistency.
func (s Settings) Validate() error {
	switch s.Queue.Backend {
	case BackendMemory:
	case BackendFile:
		if s.Queue.Dir == "" {
			return fmt.Errorf("queue backend %q requires queue.dir", s.Queue.Backend)
		}
	case BackendRedis:
		if s.Queue.RedisAddr == "" {
			return fmt.Errorf("queue backend %q requires queue.redis_addr", s.Queue.Backend)
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", s.Queue.Backend)
	}

	if s.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_retries must be >= 1, got %d", s.Queue.MaxRetries)
	}
	if s.Dedup.WindowSeconds < 0 {
		return fmt.Errorf("dedup.window_seconds must be >= 0, got %d", s.Dedup.WindowSeconds)
	}
	if s.Worker.PollIntervalMS <= 0 {
		return fmt.Errorf("worker.poll_interval_ms must be > 0, got %d", s.Worker.PollIntervalMS)
	}
	if s.Filter.MinSeverity != "" {
		if _, err := event.ParseSeverity(s.Filter.MinSeverity); err != nil {
			return fmt.Errorf("filter.min_severity: %w", err)
		}
	}
	return nil
}

// MinSeverityLevel parses the configured severity floor.
// An empty value means SeverityInfo (no floor).
func (s FilterSettings) MinSeverityLevel() (event.Severity, error) {
	if s.MinSeverity == "" {
		return event.SeverityInfo, nil
	}
	return event.ParseSeverity(s.MinSeverity)
}
