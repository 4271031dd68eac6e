// Package trigger decides whether a raw occurrence becomes an Event.
//
// A Filter is a pure predicate over an immutable FilterConfig: no ambient
// state is consulted, so the same occurrence always yields the same answer.
// Deduplication is a separate step (see DedupStore) applied by the caller
// after filtering and before enqueue.
package trigger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// Occurrence is a raw, source-parsed happening that may become an Event.
type Occurrence struct {
	// EventType is the dotted type string, e.g. "monitoring.error_detected".
	EventType string
	// Source names the origin system: "log-watcher", "discord", "github".
	Source string
	// Severity is optional ("", or one of "info", "warning", "critical").
	Severity string
	// Actor is the originating user, when the source has one.
	Actor string
	// Data is the free-form payload. "error_code" is consulted by the filter.
	Data map[string]any
}

// ErrorCode returns the "error_code" entry of Data, if present.
func (o Occurrence) ErrorCode() (string, bool) {
	if o.Data == nil {
		return "", false
	}
	code, ok := o.Data["error_code"].(string)
	return code, ok && code != ""
}

// Fingerprint derives the dedup fingerprint for the occurrence.
//
// If Data carries an explicit "fingerprint" string it wins. Otherwise the
// fingerprint is a sha256 over the content fields that identify "the same
// occurrence": event type, source, error code and target location.
func (o Occurrence) Fingerprint() string {
	if o.Data != nil {
		if fp, ok := o.Data["fingerprint"].(string); ok && fp != "" {
			return fp
		}
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", o.EventType, o.Source)
	if code, ok := o.ErrorCode(); ok {
		fmt.Fprintf(h, "|%s", code)
	}
	if o.Data != nil {
		if target, ok := o.Data["target"].(string); ok && target != "" {
			fmt.Fprintf(h, "|%s", target)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FilterConfig is the immutable configuration for a Filter.
// Construct once and hand to NewFilter; the filter never reads global state.
type FilterConfig struct {
	// EnabledEventTypes is the set of accepted event types.
	// Empty means all types are enabled.
	EnabledEventTypes []string

	// AllowedActors is an actor allow-list. Empty means unrestricted.
	// When non-empty, occurrences without an actor are rejected.
	AllowedActors []string

	// IgnoredErrorCodes rejects occurrences whose error_code is listed.
	IgnoredErrorCodes []string

	// MinSeverity is the minimum severity for occurrences that carry one.
	MinSeverity event.Severity
}

// Filter evaluates occurrences against a FilterConfig.
type Filter struct {
	enabled map[string]struct{}
	actors  map[string]struct{}
	ignored map[string]struct{}
	minSev  event.Severity
	logger  *slog.Logger
}

// NewFilter builds a Filter from cfg. An optional logger receives
// debug-level rejection reasons; nil disables logging.
func NewFilter(cfg FilterConfig, logger *slog.Logger) *Filter {
	return &Filter{
		enabled: toSet(cfg.EnabledEventTypes),
		actors:  toSet(cfg.AllowedActors),
		ignored: toSet(cfg.IgnoredErrorCodes),
		minSev:  cfg.MinSeverity,
		logger:  logger,
	}
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}

// ShouldTrigger reports whether the occurrence should become an Event.
// It is a pure predicate: no side effects, no dedup. Checks run in order:
// enabled types, actor allow-list, ignored error codes, minimum severity.
func (f *Filter) ShouldTrigger(occ Occurrence) bool {
	if len(f.enabled) > 0 {
		if _, ok := f.enabled[occ.EventType]; !ok {
			f.debug("event type not enabled", "event_type", occ.EventType)
			return false
		}
	}

	if len(f.actors) > 0 {
		if occ.Actor == "" {
			f.debug("occurrence has no actor but allow-list is configured",
				"event_type", occ.EventType)
			return false
		}
		if _, ok := f.actors[occ.Actor]; !ok {
			f.debug("actor not in allow-list", "actor", occ.Actor)
			return false
		}
	}

	if code, ok := occ.ErrorCode(); ok {
		if _, ignored := f.ignored[code]; ignored {
			f.debug("error code ignored", "error_code", code)
			return false
		}
	}

	if occ.Severity != "" {
		sev, err := event.ParseSeverity(occ.Severity)
		if err == nil && sev < f.minSev {
			f.debug("severity below minimum",
				"severity", sev.String(), "min_severity", f.minSev.String())
			return false
		}
	}

	return true
}

func (f *Filter) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
