package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	evt := New("monitoring.error_detected", "log-watcher", P0,
		map[string]any{"error_code": "AI5001"})

	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "monitoring.error_detected", evt.EventType)
	assert.Equal(t, "log-watcher", evt.Source)
	assert.Equal(t, P0, evt.Priority)
	assert.Equal(t, StatusPending, evt.Status)
	assert.Equal(t, 0, evt.RetryCount)
	assert.False(t, evt.CreatedAt.IsZero())

	// Fingerprint defaults to the event ID
	assert.Equal(t, evt.ID, evt.Metadata.Fingerprint)
}

func TestNewOptions(t *testing.T) {
	evt := New("discord.command", "discord", P1, nil,
		WithFingerprint("fp-123"),
		WithActor("alice"),
		WithCorrelationID("corr-456"),
		WithAttribute("channel", "ops"),
	)

	assert.Equal(t, "fp-123", evt.Metadata.Fingerprint)
	assert.Equal(t, "alice", evt.Metadata.Actor)
	assert.Equal(t, "corr-456", evt.Metadata.CorrelationID)
	assert.Equal(t, "ops", evt.Metadata.Attributes["channel"])
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		severity  Severity
		want      Priority
	}{
		{"critical error", "monitoring.error_detected", SeverityCritical, P0},
		{"warning error", "monitoring.error_detected", SeverityWarning, P1},
		{"info error", "monitoring.error_detected", SeverityInfo, P2},
		{"discord command", "discord.command", SeverityInfo, P1},
		{"namespaced command", "discord.command.deploy", SeverityInfo, P1},
		{"labeled issue", "github.issue_labeled", SeverityInfo, P1},
		{"pr opened", "github.pr_opened", SeverityInfo, P2},
		{"unknown type", "custom.something", SeverityInfo, P3},
		{"unknown type critical", "custom.something", SeverityCritical, P3},
		{"command substring not suffix", "discord.commando", SeverityInfo, P3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyPriority(tt.eventType, tt.severity)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClassified(t *testing.T) {
	evt := NewClassified("monitoring.error_detected", "log-watcher", SeverityCritical, nil)
	assert.Equal(t, P0, evt.Priority)
}

func TestEventJSONRoundTrip(t *testing.T) {
	evt := New("github.pr_opened", "github", P2,
		map[string]any{"pr": float64(42)},
		WithActor("bob"),
	)
	evt.RetryCount = 2
	evt.Status = StatusRetrying

	data, err := evt.Marshal()
	require.NoError(t, err)

	// Wire form uses camelCase keys
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"id", "eventType", "source", "createdAt", "priority", "retryCount", "status"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "p2", raw["priority"])

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, evt.EventType, got.EventType)
	assert.Equal(t, evt.Priority, got.Priority)
	assert.Equal(t, evt.RetryCount, got.RetryCount)
	assert.Equal(t, evt.Status, got.Status)
	assert.Equal(t, evt.Payload, got.Payload)
	assert.Equal(t, "bob", got.Metadata.Actor)
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte("{not json"))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"eventType":"x"}`))
	assert.ErrorContains(t, err, "missing id")
}

func TestFilename(t *testing.T) {
	evt := New("monitoring.error_detected", "log-watcher", P0, nil)

	name := evt.Filename()
	assert.True(t, strings.HasPrefix(name, "p0_"))
	assert.True(t, strings.HasSuffix(name, ".json"))

	id, ok := IDFromFilename(name)
	require.True(t, ok)
	assert.Equal(t, evt.ID, id)
}

func TestIDFromFilenameRejectsMalformed(t *testing.T) {
	for _, name := range []string{
		"p0_abc.txt",  // wrong extension
		"abc.json",    // no lane prefix
		"p9_abc.json", // invalid lane
		"p0_.json",    // empty id
	} {
		_, ok := IDFromFilename(name)
		assert.False(t, ok, "name %q should be rejected", name)
	}
}

func TestClone(t *testing.T) {
	evt := New("discord.command", "discord", P1,
		map[string]any{"cmd": "deploy"},
		WithAttribute("channel", "ops"),
	)

	cp := evt.Clone()
	cp.RetryCount = 5
	cp.Payload["cmd"] = "rollback"
	cp.Metadata.Attributes["channel"] = "dev"

	assert.Equal(t, 0, evt.RetryCount)
	assert.Equal(t, "deploy", evt.Payload["cmd"])
	assert.Equal(t, "ops", evt.Metadata.Attributes["channel"])
}

func TestParsePriority(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Priority
	}{
		{"p0", P0}, {"p1", P1}, {"p2", P2}, {"p3", P3},
	} {
		got, err := ParsePriority(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParsePriority("p4")
	assert.Error(t, err)
}

func TestParseSeverity(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Severity
	}{
		{"info", SeverityInfo},
		{"warning", SeverityWarning},
		{"critical", SeverityCritical},
		{"CRITICAL", SeverityCritical},
	} {
		got, err := ParseSeverity(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseSeverity("fatal")
	assert.Error(t, err)
}

func TestPriorityJSON(t *testing.T) {
	data, err := json.Marshal(P1)
	require.NoError(t, err)
	assert.Equal(t, `"p1"`, string(data))

	var p Priority
	require.NoError(t, json.Unmarshal([]byte(`"p3"`), &p))
	assert.Equal(t, P3, p)

	assert.Error(t, json.Unmarshal([]byte(`"p7"`), &p))
}
