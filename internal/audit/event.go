package audit

import "time"

type EventType string

const (
	EventPIIDetected      EventType = "PII_DETECTED"
	EventGuardrailBlocked EventType = "GUARDRAIL_BLOCKED"
	EventContentBlocked   EventType = "CONTENT_BLOCKED"
	EventResponseBlocked  EventType = "RESPONSE_BLOCKED"
	EventQueryProcessed   EventType = "QUERY_PROCESSED"
	EventModelInvoked     EventType = "MODEL_INVOKED"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alerts reports whether events of this severity notify operators.
func (s Severity) Alerts() bool {
	return s == SeverityHigh || s == SeverityCritical
}

const AnonymousUser = "anonymous"

type Event struct {
	AuditID   string         `json:"audit_id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	UserID    string         `json:"user_id"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details"`
}

// QueryEvent summarises one processed query for the audit trail.
type QueryEvent struct {
	RequestID        string
	UserID           string
	Query            string
	Response         string
	ModelID          string
	PIIDetected      bool
	GuardrailBlocked bool
	Cost             float64
	Latency          time.Duration
}

// QuerySeverity is HIGH when PII was found or the input was blocked.
func QuerySeverity(piiDetected, inputBlocked bool) Severity {
	if piiDetected || inputBlocked {
		return SeverityHigh
	}
	return SeverityInfo
}
