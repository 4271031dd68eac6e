package event

import (
	"fmt"
	"strings"
)

// Priority is one of the four fixed queue lanes.
// Lower values are drained first.
type Priority int

const (
	// P0 is reserved for critical failures that need immediate attention.
	P0 Priority = iota
	// P1 covers operator commands and high-signal webhook events.
	P1
	// P2 covers routine webhook traffic and degraded-but-working errors.
	P2
	// P3 is everything else.
	P3
)

// Lanes lists all priorities in pop order.
var Lanes = [4]Priority{P0, P1, P2, P3}

// String returns the lowercase lane name ("p0".."p3").
func (p Priority) String() string {
	return fmt.Sprintf("p%d", int(p))
}

// Valid reports whether p is one of the four lanes.
func (p Priority) Valid() bool {
	return p >= P0 && p <= P3
}

// MarshalJSON encodes the priority as its lane name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON decodes a lane name ("p0".."p3").
func (p *Priority) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority parses a lane name such as "p0" or "P2".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "p0":
		return P0, nil
	case "p1":
		return P1, nil
	case "p2":
		return P2, nil
	case "p3":
		return P3, nil
	default:
		return P3, fmt.Errorf("invalid priority %q: expected p0..p3", s)
	}
}

// Severity grades a monitored error.
type Severity int

const (
	// SeverityInfo is log-only noise.
	SeverityInfo Severity = iota
	// SeverityWarning is degraded behavior worth alerting on.
	SeverityWarning
	// SeverityCritical is a failure that should page.
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity parses "info", "warning" or "critical" (case-insensitive).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("invalid severity %q: expected info, warning or critical", s)
	}
}

// ClassifyPriority assigns a lane from the event type and severity.
//
// The mapping is a static table:
//   - monitoring.error_detected: critical -> P0, warning -> P1, otherwise P2
//   - any "*.command" (including sub-commands) or "*_labeled" type -> P1
//   - "*.pr_opened" -> P2
//   - everything else -> P3
//
// Classification happens once, before first enqueue; the result is never
// revised afterward.
func ClassifyPriority(eventType string, severity Severity) Priority {
	if eventType == "monitoring.error_detected" {
		switch severity {
		case SeverityCritical:
			return P0
		case SeverityWarning:
			return P1
		default:
			return P2
		}
	}

	if strings.HasSuffix(eventType, ".command") ||
		strings.Contains(eventType, ".command.") ||
		strings.HasSuffix(eventType, "_labeled") {
		return P1
	}

	if strings.HasSuffix(eventType, ".pr_opened") {
		return P2
	}

	return P3
}
