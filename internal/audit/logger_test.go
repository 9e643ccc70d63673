package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
)

type memoryStore struct {
	mu      sync.Mutex
	records []models.AuditRecord
	err     error
}

func (s *memoryStore) AppendAuditEvent(_ context.Context, r models.AuditRecord) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *memoryStore) QueryAuditEvents(_ context.Context, f models.AuditFilter) ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditRecord
	for _, r := range s.records {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.EventType != "" && r.EventType != f.EventType {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type recordingNotifier struct {
	subjects []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, subject string, _ Event) error {
	n.subjects = append(n.subjects, subject)
	return n.err
}

type failingArchiver struct{}

func (failingArchiver) Archive(context.Context, Event) error { return errors.New("disk full") }

var fixedNow = time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)

func newTestLogger(store Store, archive Archiver, notifier Notifier) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return NewLogger(store, archive, notifier, zap.New(core), WithClock(func() time.Time { return fixedNow })), logs
}

func TestLogFillsDefaults(t *testing.T) {
	store := &memoryStore{}
	l, logs := newTestLogger(store, nil, nil)

	id := l.Log(context.Background(), Event{EventType: EventModelInvoked})

	require.Len(t, store.records, 1)
	r := store.records[0]
	assert.Equal(t, id, r.AuditID)
	assert.NotEmpty(t, id)
	assert.Equal(t, AnonymousUser, r.UserID)
	assert.Equal(t, string(SeverityInfo), r.Severity)
	assert.Equal(t, fixedNow, r.Timestamp)
	assert.JSONEq(t, `{}`, r.Details)

	entries := logs.FilterMessage("Audit event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "MODEL_INVOKED/2024/03/09", entries[0].ContextMap()["log_stream"])
}

func TestHighSeverityAlerts(t *testing.T) {
	tests := []struct {
		severity Severity
		alerts   bool
	}{
		{SeverityInfo, false},
		{SeverityMedium, false},
		{SeverityHigh, true},
		{SeverityCritical, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			n := &recordingNotifier{}
			l, _ := newTestLogger(&memoryStore{}, nil, n)

			l.Log(context.Background(), Event{EventType: EventPIIDetected, Severity: tt.severity})

			if tt.alerts {
				assert.Equal(t, []string{"[" + string(tt.severity) + "] GenAI Governance Alert: PII_DETECTED"}, n.subjects)
			} else {
				assert.Empty(t, n.subjects)
			}
		})
	}
}

func TestSinkFailuresAreSwallowed(t *testing.T) {
	n := &recordingNotifier{err: errors.New("webhook down")}
	l, logs := newTestLogger(&memoryStore{err: errors.New("locked")}, failingArchiver{}, n)

	assert.NotPanics(t, func() {
		id := l.Log(context.Background(), Event{EventType: EventResponseBlocked, Severity: SeverityHigh})
		assert.NotEmpty(t, id)
	})

	failed := logs.FilterMessage("Audit sink failed").All()
	require.Len(t, failed, 3)
	var sinks []string
	for _, e := range failed {
		sinks = append(sinks, e.ContextMap()["sink"].(string))
	}
	assert.ElementsMatch(t, []string{"store", "archive", "notifier"}, sinks)
}

func TestLogSurvivesCancelledContext(t *testing.T) {
	store := &memoryStore{}
	l, _ := newTestLogger(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Log(ctx, Event{EventType: EventQueryProcessed})

	assert.Len(t, store.records, 1)
}

func TestLogQuerySeverity(t *testing.T) {
	tests := []struct {
		name     string
		pii      bool
		blocked  bool
		severity Severity
	}{
		{"clean", false, false, SeverityInfo},
		{"pii", true, false, SeverityHigh},
		{"blocked", false, true, SeverityHigh},
		{"both", true, true, SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{}
			l, _ := newTestLogger(store, nil, nil)

			l.LogQuery(context.Background(), QueryEvent{
				RequestID:        "req-1",
				UserID:           "u1",
				Query:            "hello",
				Response:         "hi there",
				ModelID:          "m",
				PIIDetected:      tt.pii,
				GuardrailBlocked: tt.blocked,
				Cost:             0.25,
				Latency:          1500 * time.Millisecond,
			})

			require.Len(t, store.records, 1)
			r := store.records[0]
			assert.Equal(t, string(EventQueryProcessed), r.EventType)
			assert.Equal(t, string(tt.severity), r.Severity)

			var details map[string]any
			require.NoError(t, json.Unmarshal([]byte(r.Details), &details))
			assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", details["query_hash"])
			assert.EqualValues(t, 5, details["query_length"])
			assert.EqualValues(t, 8, details["response_length"])
			assert.Equal(t, tt.pii, details["has_pii"])
			assert.InDelta(t, 1.5, details["latency"], 1e-9)
		})
	}
}

func TestTrailAndReport(t *testing.T) {
	store := &memoryStore{}
	l, _ := newTestLogger(store, nil, nil)
	ctx := context.Background()

	l.LogQuery(ctx, QueryEvent{UserID: "alice", Cost: 0.1, Latency: time.Second})
	l.LogQuery(ctx, QueryEvent{UserID: "bob", Cost: 0.3, Latency: 3 * time.Second, PIIDetected: true})
	l.LogQuery(ctx, QueryEvent{Cost: 0.2, Latency: 2 * time.Second, GuardrailBlocked: true})
	l.Log(ctx, Event{EventType: EventPIIDetected, UserID: "bob", Severity: SeverityHigh})

	trail, err := l.Trail(ctx, models.AuditFilter{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "bob", trail[0].UserID)

	report, err := l.ComplianceReport(ctx, fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Statistics.TotalQueries)
	assert.Equal(t, 1, report.Statistics.PIIDetected)
	assert.Equal(t, 1, report.Statistics.GuardrailBlocked)
	assert.InDelta(t, 0.6, report.Statistics.TotalCost, 1e-9)
	assert.InDelta(t, 2.0, report.Statistics.AvgLatency, 1e-9)
	assert.Equal(t, 2, report.Statistics.UniqueUsers)
	assert.Equal(t, 3, report.EventsByType[EventQueryProcessed])
	assert.Equal(t, 1, report.EventsByType[EventPIIDetected])
	assert.Equal(t, 3, report.EventsBySeverity[SeverityHigh])
	assert.Equal(t, 1, report.EventsBySeverity[SeverityInfo])
	assert.NotEmpty(t, report.ReportID)
}

func TestTrailWithoutStore(t *testing.T) {
	l, _ := newTestLogger(nil, nil, nil)
	_, err := l.Trail(context.Background(), models.AuditFilter{})
	assert.Error(t, err)
}

func TestFileArchiver(t *testing.T) {
	dir := t.TempDir()
	a := NewFileArchiver(dir)
	e := Event{
		AuditID:   "abc",
		Timestamp: fixedNow,
		EventType: EventPIIDetected,
		UserID:    "u1",
		Severity:  SeverityHigh,
		Details:   map[string]any{"entity_count": 2},
	}

	require.NoError(t, a.Archive(context.Background(), e))

	path := a.Path(e)
	assert.Contains(t, path, "audit-logs/2024/03/09/abc.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, e.AuditID, decoded.AuditID)
	assert.Equal(t, e.Severity, decoded.Severity)
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	err := n.Notify(context.Background(), "[HIGH] GenAI Governance Alert: PII_DETECTED", Event{AuditID: "a1"})

	require.NoError(t, err)
	assert.Equal(t, "[HIGH] GenAI Governance Alert: PII_DETECTED", got["subject"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	assert.Error(t, NewWebhookNotifier(failing.URL, time.Second).Notify(context.Background(), "s", Event{}))
}
