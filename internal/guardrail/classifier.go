package guardrail

import (
	"context"
	"fmt"
)

type Direction string

const (
	DirectionInput  Direction = "INPUT"
	DirectionOutput Direction = "OUTPUT"
)

type Classification struct {
	Intervened  bool     `json:"intervened"`
	Assessments []string `json:"assessments,omitempty"`
}

type SafetyClassifier interface {
	ClassifySafety(ctx context.Context, text string, direction Direction) (Classification, error)
}

type ModerationResult struct {
	Flagged    bool
	Categories []string
}

// Moderator is a content moderation endpoint.
type Moderator interface {
	Moderate(ctx context.Context, text string) (ModerationResult, error)
}

// ModerationClassifier adapts a moderation endpoint to a SafetyClassifier.
// Both directions are screened against the same policy.
type ModerationClassifier struct {
	moderator Moderator
}

func NewModerationClassifier(m Moderator) *ModerationClassifier {
	return &ModerationClassifier{moderator: m}
}

func (c *ModerationClassifier) ClassifySafety(ctx context.Context, text string, direction Direction) (Classification, error) {
	res, err := c.moderator.Moderate(ctx, text)
	if err != nil {
		return Classification{}, fmt.Errorf("moderation of %s failed: %w", direction, err)
	}
	return Classification{Intervened: res.Flagged, Assessments: res.Categories}, nil
}

// AllowAll is a classifier that never intervenes, used when moderation is
// disabled.
type AllowAll struct{}

func (AllowAll) ClassifySafety(context.Context, string, Direction) (Classification, error) {
	return Classification{}, nil
}
