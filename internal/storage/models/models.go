package models

import "time"

type ConversationTurn struct {
	ConversationID string
	Sequence       int64
	QueryText      string
	ResponseText   string
	CreatedAt      time.Time
}

type QueryRecord struct {
	ID                string
	UserID            string
	ConversationID    string
	QueryText         string
	QueryHash         string
	Response          string
	TierUsed          string
	ModelID           string
	ComplexityScore   int
	FallbackOccurred  bool
	Cached            bool
	PIIDetected       bool
	GuardrailsApplied bool
	PromptTokens      int
	OutputTokens      int
	Cost              float64
	LatencyMS         int64
	CreatedAt         time.Time
}

type QuerySource struct {
	ID         int
	QueryID    string
	DocumentID string
	ChunkID    string
	Score      float64
}

type FeedbackType string

const (
	FeedbackThumbsUp   FeedbackType = "thumbs_up"
	FeedbackThumbsDown FeedbackType = "thumbs_down"
	FeedbackRating     FeedbackType = "rating"
	FeedbackComment    FeedbackType = "comment"
)

type Feedback struct {
	ID        int
	QueryID   string
	UserID    string
	Type      FeedbackType
	Rating    int
	Comment   string
	CreatedAt time.Time
}

type EvaluationResult struct {
	ID                int
	QueryID           string
	ModelID           string
	TierUsed          string
	ComplexityScore   int
	RelevanceScore    float64
	CoherenceScore    float64
	CompletenessScore float64
	AccuracyScore     float64
	ConcisenessScore  float64
	GroundednessScore float64
	OverallScore      float64
	ChunkCount        int
	LatencyMS         int64
	Cost              float64
	CreatedAt         time.Time
}

type AuditRecord struct {
	AuditID   string
	Timestamp time.Time
	EventType string
	UserID    string
	Severity  string
	Details   string
}

// AuditFilter selects audit records. Zero-valued fields do not filter.
type AuditFilter struct {
	UserID    string
	EventType string
	Since     time.Time
	Until     time.Time
	Limit     int
}
