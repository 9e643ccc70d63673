package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
)

const reportEventLimit = 10000

type ReportStatistics struct {
	TotalQueries     int     `json:"total_queries"`
	PIIDetected      int     `json:"pii_detected"`
	GuardrailBlocked int     `json:"guardrail_blocked"`
	TotalCost        float64 `json:"total_cost"`
	AvgLatency       float64 `json:"avg_latency"`
	UniqueUsers      int     `json:"unique_users"`
}

type Report struct {
	ReportID         string            `json:"report_id"`
	StartDate        time.Time         `json:"start_date"`
	EndDate          time.Time         `json:"end_date"`
	GeneratedAt      time.Time         `json:"generated_at"`
	Statistics       ReportStatistics  `json:"statistics"`
	EventsByType     map[EventType]int `json:"events_by_type"`
	EventsBySeverity map[Severity]int  `json:"events_by_severity"`
}

// ComplianceReport aggregates the audit trail between from and to.
// Query statistics come from QUERY_PROCESSED details.
func (l *Logger) ComplianceReport(ctx context.Context, from, to time.Time) (*Report, error) {
	events, err := l.Trail(ctx, models.AuditFilter{
		Since: from,
		Until: to,
		Limit: reportEventLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build compliance report: %w", err)
	}

	return Aggregate(events, from, to, l.now().UTC()), nil
}

func Aggregate(events []Event, from, to, generatedAt time.Time) *Report {
	report := &Report{
		ReportID:         uuid.New().String(),
		StartDate:        from,
		EndDate:          to,
		GeneratedAt:      generatedAt,
		EventsByType:     map[EventType]int{},
		EventsBySeverity: map[Severity]int{},
	}

	users := map[string]struct{}{}
	var latencySum float64
	var latencyCount int

	for _, e := range events {
		report.EventsByType[e.EventType]++
		report.EventsBySeverity[e.Severity]++

		if e.UserID != "" && e.UserID != AnonymousUser {
			users[e.UserID] = struct{}{}
		}

		if e.EventType != EventQueryProcessed {
			continue
		}

		stats := &report.Statistics
		stats.TotalQueries++
		if flag(e.Details, "has_pii") {
			stats.PIIDetected++
		}
		if flag(e.Details, "guardrail_blocked") {
			stats.GuardrailBlocked++
		}
		stats.TotalCost += number(e.Details, "cost")
		latencySum += number(e.Details, "latency")
		latencyCount++
	}

	if latencyCount > 0 {
		report.Statistics.AvgLatency = latencySum / float64(latencyCount)
	}
	report.Statistics.UniqueUsers = len(users)

	return report
}

func flag(details map[string]any, key string) bool {
	v, ok := details[key].(bool)
	return ok && v
}

func number(details map[string]any, key string) float64 {
	switch v := details[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
