// Package audit records governance events. Each event goes to a queryable
// store, a log stream and an archive; high severity events also notify
// operators. Audit failures never reach the request path.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
	"github.com/aws-agent/knowledge-assistant/pkg/utils"
)

type Store interface {
	AppendAuditEvent(ctx context.Context, record models.AuditRecord) error
	QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error)
}

type Archiver interface {
	Archive(ctx context.Context, event Event) error
}

type Notifier interface {
	Notify(ctx context.Context, subject string, event Event) error
}

type Logger struct {
	store    Store
	archive  Archiver
	notifier Notifier
	stream   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

func WithTimeout(d time.Duration) Option {
	return func(l *Logger) { l.timeout = d }
}

// NewLogger wires the sinks. Any of store, archive and notifier may be nil.
func NewLogger(store Store, archive Archiver, notifier Notifier, stream *zap.Logger, opts ...Option) *Logger {
	if stream == nil {
		stream = zap.NewNop()
	}
	l := &Logger{
		store:    store,
		archive:  archive,
		notifier: notifier,
		stream:   stream,
		timeout:  5 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records an event and returns its audit id. Writes survive caller
// cancellation but are bounded by the logger timeout.
func (l *Logger) Log(ctx context.Context, event Event) string {
	if event.AuditID == "" {
		event.AuditID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.UserID == "" {
		event.UserID = AnonymousUser
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if event.Details == nil {
		event.Details = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	metrics.AuditEvents.WithLabelValues(string(event.EventType), string(event.Severity)).Inc()

	l.writeStream(event)
	l.writeStore(ctx, event)
	l.writeArchive(ctx, event)

	if event.Severity.Alerts() {
		l.alert(ctx, event)
	}

	return event.AuditID
}

// LogQuery records the QUERY_PROCESSED event for a request.
func (l *Logger) LogQuery(ctx context.Context, q QueryEvent) string {
	return l.Log(ctx, Event{
		EventType: EventQueryProcessed,
		UserID:    q.UserID,
		Severity:  QuerySeverity(q.PIIDetected, q.GuardrailBlocked),
		Details: map[string]any{
			"request_id":        q.RequestID,
			"query_hash":        utils.HashString(q.Query),
			"query_length":      len(q.Query),
			"response_length":   len(q.Response),
			"model_id":          q.ModelID,
			"has_pii":           q.PIIDetected,
			"guardrail_blocked": q.GuardrailBlocked,
			"cost":              q.Cost,
			"latency":           q.Latency.Seconds(),
		},
	})
}

// StreamName is the log stream an event is written to.
func StreamName(e Event) string {
	return fmt.Sprintf("%s/%s", e.EventType, e.Timestamp.UTC().Format("2006/01/02"))
}

func (l *Logger) writeStream(e Event) {
	l.stream.Info("Audit event",
		zap.String("log_stream", StreamName(e)),
		zap.String("audit_id", e.AuditID),
		zap.String("event_type", string(e.EventType)),
		zap.String("user_id", e.UserID),
		zap.String("severity", string(e.Severity)),
		zap.Any("details", e.Details),
	)
}

func (l *Logger) writeStore(ctx context.Context, e Event) {
	if l.store == nil {
		return
	}

	details, err := json.Marshal(e.Details)
	if err != nil {
		l.sinkFailed("store", e, err)
		return
	}

	err = l.store.AppendAuditEvent(ctx, models.AuditRecord{
		AuditID:   e.AuditID,
		Timestamp: e.Timestamp,
		EventType: string(e.EventType),
		UserID:    e.UserID,
		Severity:  string(e.Severity),
		Details:   string(details),
	})
	if err != nil {
		l.sinkFailed("store", e, err)
	}
}

func (l *Logger) writeArchive(ctx context.Context, e Event) {
	if l.archive == nil {
		return
	}
	if err := l.archive.Archive(ctx, e); err != nil {
		l.sinkFailed("archive", e, err)
	}
}

func (l *Logger) alert(ctx context.Context, e Event) {
	if l.notifier == nil {
		return
	}
	subject := fmt.Sprintf("[%s] GenAI Governance Alert: %s", e.Severity, e.EventType)
	if err := l.notifier.Notify(ctx, subject, e); err != nil {
		l.sinkFailed("notifier", e, err)
	}
}

func (l *Logger) sinkFailed(sink string, e Event, err error) {
	metrics.AuditFailures.WithLabelValues(sink).Inc()
	l.stream.Error("Audit sink failed",
		zap.String("sink", sink),
		zap.String("audit_id", e.AuditID),
		zap.String("event_type", string(e.EventType)),
		zap.Error(err),
	)
}

// Trail returns recorded events matching the filter, newest first.
func (l *Logger) Trail(ctx context.Context, filter models.AuditFilter) ([]Event, error) {
	if l.store == nil {
		return nil, fmt.Errorf("audit store is not configured")
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	records, err := l.store.QueryAuditEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}

	events := make([]Event, 0, len(records))
	for _, r := range records {
		events = append(events, fromRecord(r))
	}
	return events, nil
}

func fromRecord(r models.AuditRecord) Event {
	details := map[string]any{}
	if r.Details != "" {
		if err := json.Unmarshal([]byte(r.Details), &details); err != nil {
			details = map[string]any{"raw": r.Details}
		}
	}
	return Event{
		AuditID:   r.AuditID,
		Timestamp: r.Timestamp,
		EventType: EventType(r.EventType),
		UserID:    r.UserID,
		Severity:  Severity(r.Severity),
		Details:   details,
	}
}
