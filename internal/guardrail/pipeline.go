// Package guardrail screens queries before inference and answers after it.
// Pattern checks, a safety classifier and PII redaction run on input;
// pattern checks and the classifier run on output.
package guardrail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/audit"
	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

// Policy decides what an analytics failure means for the content.
type Policy int

const (
	// FailOpen treats content as safe when analytics are unavailable,
	// favouring availability over strict enforcement.
	FailOpen Policy = iota
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fail_open":
		return FailOpen, nil
	case "fail_closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("unknown guardrail policy %q", s)
}

type Auditor interface {
	Log(ctx context.Context, event audit.Event) string
}

type Config struct {
	Policy      Policy
	PIIMaxChars int
	Timeout     time.Duration
}

type Verdict struct {
	Safe           bool     `json:"safe"`
	Issues         []Issue  `json:"issues,omitempty"`
	Text           string   `json:"-"`
	PIIDetected    bool     `json:"pii_detected"`
	PIITypes       []string `json:"pii_types,omitempty"`
	SkipProcessing bool     `json:"skip_processing"`
	SafeMessage    string   `json:"safe_message,omitempty"`
}

type Pipeline struct {
	classifier SafetyClassifier
	detector   PIIDetector
	auditor    Auditor
	cfg        Config
}

func NewPipeline(classifier SafetyClassifier, detector PIIDetector, auditor Auditor, cfg Config) *Pipeline {
	if classifier == nil {
		classifier = AllowAll{}
	}
	if cfg.PIIMaxChars <= 0 {
		cfg.PIIMaxChars = 5000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Pipeline{
		classifier: classifier,
		detector:   detector,
		auditor:    auditor,
		cfg:        cfg,
	}
}

// CheckInput screens a query. When the verdict says SkipProcessing the
// caller must answer with SafeMessage and not invoke a model. Otherwise
// Text is what may flow downstream: the query with PII redacted.
func (p *Pipeline) CheckInput(ctx context.Context, text, userID string) Verdict {
	if issues := CheckInputPatterns(text); len(issues) > 0 {
		severity := audit.SeverityMedium
		if hasKind(issues, IssueCredential) {
			severity = audit.SeverityHigh
		}
		p.record(ctx, DirectionInput, issues)
		p.log(ctx, audit.Event{
			EventType: audit.EventGuardrailBlocked,
			UserID:    userID,
			Severity:  severity,
			Details: map[string]any{
				"reason": "pattern_match",
				"issues": issues,
			},
		})
		return Verdict{
			Safe:           false,
			Issues:         issues,
			SkipProcessing: true,
			SafeMessage:    SafeInputMessage(issues),
		}
	}

	var (
		wg             sync.WaitGroup
		classification Classification
		classifyErr    error
		entities       []Entity
		detectErr      error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
		classification, classifyErr = p.classifier.ClassifySafety(cctx, text, DirectionInput)
	}()

	if p.detector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
			entities, detectErr = p.detector.DetectPII(dctx, truncateUTF8(text, p.cfg.PIIMaxChars))
		}()
	}

	wg.Wait()

	var issues []Issue
	if classifyErr != nil && !p.allow("classify_input", classifyErr) {
		issues = append(issues, Issue{Kind: IssueAnalytics, Detail: "safety classifier unavailable"})
	}
	if classifyErr == nil && classification.Intervened {
		for _, a := range classification.Assessments {
			issues = append(issues, Issue{Kind: IssueContentSafety, Detail: a})
		}
		if len(classification.Assessments) == 0 {
			issues = append(issues, Issue{Kind: IssueContentSafety, Detail: "guardrail_intervention"})
		}
	}
	if detectErr != nil && !p.allow("detect_pii", detectErr) {
		issues = append(issues, Issue{Kind: IssueAnalytics, Detail: "pii detection unavailable"})
	}

	if len(issues) > 0 {
		p.record(ctx, DirectionInput, issues)
		p.log(ctx, audit.Event{
			EventType: audit.EventContentBlocked,
			UserID:    userID,
			Severity:  audit.SeverityMedium,
			Details: map[string]any{
				"reason":      "guardrail_intervention",
				"assessments": classification.Assessments,
				"issues":      issues,
			},
		})
		return Verdict{
			Safe:           false,
			Issues:         issues,
			SkipProcessing: true,
			SafeMessage:    SafeInputMessage(issues),
		}
	}

	verdict := Verdict{Safe: true, Text: text}

	redacted, applied := Redact(text, entities)
	if len(applied) > 0 {
		types := EntityTypes(applied)
		verdict.Text = redacted
		verdict.PIIDetected = true
		verdict.PIITypes = types
		verdict.Issues = append(verdict.Issues, Issue{Kind: IssuePII, Detail: fmt.Sprintf("%d entities", len(applied))})

		p.record(ctx, DirectionInput, []Issue{{Kind: IssuePII}})
		p.log(ctx, audit.Event{
			EventType: audit.EventPIIDetected,
			UserID:    userID,
			Severity:  audit.SeverityHigh,
			Details: map[string]any{
				"pii_types":    types,
				"entity_count": len(applied),
				"text_length":  len(text),
			},
		})
	}

	return verdict
}

// CheckOutput screens a generated answer. An unsafe verdict carries the
// message that replaces the answer.
func (p *Pipeline) CheckOutput(ctx context.Context, text, userID string) Verdict {
	issues := CheckOutputPatterns(text)

	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	classification, err := p.classifier.ClassifySafety(cctx, text, DirectionOutput)
	cancel()

	switch {
	case err != nil:
		if !p.allow("classify_output", err) {
			issues = append(issues, Issue{Kind: IssueAnalytics, Detail: "safety classifier unavailable"})
		}
	case classification.Intervened:
		issues = append(issues, Issue{Kind: IssueContentSafety, Detail: "guardrail_intervention"})
	}

	if len(issues) == 0 {
		return Verdict{Safe: true, Text: text}
	}

	p.record(ctx, DirectionOutput, issues)
	p.log(ctx, audit.Event{
		EventType: audit.EventResponseBlocked,
		UserID:    userID,
		Severity:  audit.SeverityHigh,
		Details: map[string]any{
			"reason":      "guardrail_intervention",
			"assessments": classification.Assessments,
			"issues":      issues,
		},
	})

	message := SafeOutputMessage(issues)
	return Verdict{
		Safe:        false,
		Issues:      issues,
		Text:        message,
		SafeMessage: message,
	}
}

// allow is the single decision point for analytics failures.
func (p *Pipeline) allow(call string, err error) bool {
	metrics.AnalyticsFailures.WithLabelValues(call, p.cfg.Policy.String()).Inc()

	if p.cfg.Policy == FailClosed {
		logger.Warn("Text analytics failed, blocking content",
			zap.String("call", call),
			zap.Error(err),
		)
		return false
	}

	logger.Warn("Text analytics failed, treating content as safe",
		zap.String("call", call),
		zap.Error(err),
	)
	return true
}

func (p *Pipeline) record(_ context.Context, direction Direction, issues []Issue) {
	for _, i := range issues {
		metrics.GuardrailInterventions.WithLabelValues(string(direction), string(i.Kind)).Inc()
	}
}

func (p *Pipeline) log(ctx context.Context, e audit.Event) {
	if p.auditor == nil {
		return
	}
	p.auditor.Log(ctx, e)
}
