// Package evaluation scores answers with deterministic heuristics, keeps a
// record per query, collects user feedback and builds quality reports.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

var ErrInvalidFeedback = errors.New("invalid feedback")

type Store interface {
	InsertEvaluation(ctx context.Context, result *models.EvaluationResult) error
	ListEvaluations(ctx context.Context, from, to time.Time) ([]models.EvaluationResult, error)
	StoreFeedback(ctx context.Context, feedback *models.Feedback) error
	ListFeedback(ctx context.Context, from, to time.Time) ([]models.Feedback, error)
}

type Evaluator struct {
	store Store
	now   func() time.Time
}

func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{
		store: store,
		now:   time.Now,
	}
}

// Metadata describes how an evaluated answer was produced.
type Metadata struct {
	QueryID         string
	ModelID         string
	Tier            string
	ComplexityScore int
	Latency         time.Duration
	Cost            float64
}

// EvaluateQuery scores an answer and records the result. Recording is best
// effort: a store failure is logged and the score is still returned.
func (e *Evaluator) EvaluateQuery(ctx context.Context, query, answer string, chunks []retrieval.Chunk, meta Metadata) Score {
	score := Evaluate(query, answer, chunks)

	metrics.QualityScore.WithLabelValues("relevance").Observe(score.Relevance)
	metrics.QualityScore.WithLabelValues("coherence").Observe(score.Coherence)
	metrics.QualityScore.WithLabelValues("completeness").Observe(score.Completeness)
	metrics.QualityScore.WithLabelValues("accuracy").Observe(score.Accuracy)
	metrics.QualityScore.WithLabelValues("conciseness").Observe(score.Conciseness)
	metrics.QualityScore.WithLabelValues("groundedness").Observe(score.Groundedness)
	metrics.QualityScore.WithLabelValues("overall").Observe(score.Overall)

	logger.Debug("Answer evaluated",
		zap.String("query_id", meta.QueryID),
		zap.Float64("overall", score.Overall),
		zap.Float64("relevance", score.Relevance),
	)

	if e.store == nil {
		return score
	}

	result := &models.EvaluationResult{
		QueryID:           meta.QueryID,
		ModelID:           meta.ModelID,
		TierUsed:          meta.Tier,
		ComplexityScore:   meta.ComplexityScore,
		RelevanceScore:    score.Relevance,
		CoherenceScore:    score.Coherence,
		CompletenessScore: score.Completeness,
		AccuracyScore:     score.Accuracy,
		ConcisenessScore:  score.Conciseness,
		GroundednessScore: score.Groundedness,
		OverallScore:      score.Overall,
		ChunkCount:        len(chunks),
		LatencyMS:         meta.Latency.Milliseconds(),
		Cost:              meta.Cost,
		CreatedAt:         e.now().UTC(),
	}
	if err := e.store.InsertEvaluation(ctx, result); err != nil {
		logger.Warn("Failed to store evaluation", zap.String("query_id", meta.QueryID), zap.Error(err))
	}

	return score
}

// CollectFeedback validates and stores user feedback on an answer.
func (e *Evaluator) CollectFeedback(ctx context.Context, fb *models.Feedback) error {
	if fb.QueryID == "" {
		return fmt.Errorf("%w: query id is required", ErrInvalidFeedback)
	}
	switch fb.Type {
	case models.FeedbackThumbsUp, models.FeedbackThumbsDown, models.FeedbackComment:
	case models.FeedbackRating:
		if fb.Rating < 1 || fb.Rating > 5 {
			return fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidFeedback)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFeedback, fb.Type)
	}
	if fb.Type == models.FeedbackComment && fb.Comment == "" {
		return fmt.Errorf("%w: comment is empty", ErrInvalidFeedback)
	}
	if fb.UserID == "" {
		fb.UserID = "anonymous"
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = e.now().UTC()
	}

	if err := e.store.StoreFeedback(ctx, fb); err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	metrics.UserFeedback.WithLabelValues(string(fb.Type)).Inc()
	logger.Info("Feedback collected",
		zap.String("query_id", fb.QueryID),
		zap.String("type", string(fb.Type)),
		zap.Int("rating", fb.Rating),
		zap.Bool("has_comment", fb.Comment != ""),
	)

	return nil
}

type Recommendation struct {
	Priority       string `json:"priority"`
	Category       string `json:"category"`
	Issue          string `json:"issue"`
	Recommendation string `json:"recommendation"`
}

type FeedbackSummary struct {
	Total            int     `json:"total_feedback"`
	ThumbsUp         int     `json:"thumbs_up"`
	ThumbsDown       int     `json:"thumbs_down"`
	Comments         int     `json:"comments"`
	Ratings          int     `json:"ratings"`
	AverageRating    float64 `json:"average_rating"`
	SatisfactionRate float64 `json:"satisfaction_rate"`
}

type QualityReport struct {
	From             time.Time        `json:"from"`
	To               time.Time        `json:"to"`
	GeneratedAt      time.Time        `json:"generated_at"`
	Evaluations      int              `json:"evaluations"`
	AverageScores    Score            `json:"average_scores"`
	TotalCost        float64          `json:"total_cost"`
	AverageCost      float64          `json:"average_cost"`
	AverageLatencyMS float64          `json:"average_latency_ms"`
	TierUsage        map[string]int   `json:"tier_usage"`
	Feedback         FeedbackSummary  `json:"feedback"`
	QualityTrend     string           `json:"quality_trend"`
	Recommendations  []Recommendation `json:"recommendations"`
}

func (e *Evaluator) Report(ctx context.Context, from, to time.Time) (*QualityReport, error) {
	results, err := e.store.ListEvaluations(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	feedback, err := e.store.ListFeedback(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}

	report := BuildReport(results, feedback, from, to, e.now().UTC())

	logger.Info("Quality report generated",
		zap.Int("evaluations", report.Evaluations),
		zap.Int("feedback", report.Feedback.Total),
		zap.String("quality_trend", report.QualityTrend),
	)

	return report, nil
}

// BuildReport aggregates evaluation records and feedback into a report.
func BuildReport(results []models.EvaluationResult, feedback []models.Feedback, from, to, generatedAt time.Time) *QualityReport {
	report := &QualityReport{
		From:            from,
		To:              to,
		GeneratedAt:     generatedAt,
		Evaluations:     len(results),
		TierUsage:       map[string]int{},
		Recommendations: []Recommendation{},
	}

	var sum Score
	var latency float64
	for _, r := range results {
		sum.Relevance += r.RelevanceScore
		sum.Coherence += r.CoherenceScore
		sum.Completeness += r.CompletenessScore
		sum.Accuracy += r.AccuracyScore
		sum.Conciseness += r.ConcisenessScore
		sum.Groundedness += r.GroundednessScore
		sum.Overall += r.OverallScore
		report.TotalCost += r.Cost
		latency += float64(r.LatencyMS)
		report.TierUsage[r.TierUsed]++
	}

	if n := float64(len(results)); n > 0 {
		report.AverageScores = Score{
			Relevance:    sum.Relevance / n,
			Coherence:    sum.Coherence / n,
			Completeness: sum.Completeness / n,
			Accuracy:     sum.Accuracy / n,
			Conciseness:  sum.Conciseness / n,
			Groundedness: sum.Groundedness / n,
			Overall:      sum.Overall / n,
		}
		report.AverageCost = report.TotalCost / n
		report.AverageLatencyMS = latency / n
	}

	report.Feedback = summarizeFeedback(feedback)
	report.QualityTrend = qualityTrend(report.AverageScores.Overall)

	if report.Evaluations > 0 {
		report.Recommendations = recommend(report)
	}

	return report
}

func summarizeFeedback(feedback []models.Feedback) FeedbackSummary {
	s := FeedbackSummary{Total: len(feedback)}
	ratingSum := 0
	for _, f := range feedback {
		switch f.Type {
		case models.FeedbackThumbsUp:
			s.ThumbsUp++
		case models.FeedbackThumbsDown:
			s.ThumbsDown++
		}
		if f.Rating > 0 {
			s.Ratings++
			ratingSum += f.Rating
		}
		if f.Comment != "" {
			s.Comments++
		}
	}
	if s.Ratings > 0 {
		s.AverageRating = float64(ratingSum) / float64(s.Ratings)
	}
	if thumbs := s.ThumbsUp + s.ThumbsDown; thumbs > 0 {
		s.SatisfactionRate = float64(s.ThumbsUp) / float64(thumbs) * 100
	}
	return s
}

func qualityTrend(overall float64) string {
	switch {
	case overall > 0.8:
		return "excellent"
	case overall > 0.6:
		return "good"
	case overall > 0:
		return "needs_improvement"
	default:
		return "stable"
	}
}

func recommend(r *QualityReport) []Recommendation {
	recs := []Recommendation{}

	if r.AverageScores.Relevance < 0.7 {
		recs = append(recs, Recommendation{
			Priority:       "high",
			Category:       "quality",
			Issue:          "Low relevance score",
			Recommendation: "Review search algorithm and re-ranking logic",
		})
	}
	if r.AverageScores.Groundedness < 0.6 {
		recs = append(recs, Recommendation{
			Priority:       "high",
			Category:       "quality",
			Issue:          "Low groundedness score",
			Recommendation: "Improve prompt to emphasize using source documents",
		})
	}
	if thumbs := r.Feedback.ThumbsUp + r.Feedback.ThumbsDown; thumbs > 0 && r.Feedback.SatisfactionRate < 70 {
		recs = append(recs, Recommendation{
			Priority:       "high",
			Category:       "satisfaction",
			Issue:          fmt.Sprintf("Low satisfaction rate (%.1f%%)", r.Feedback.SatisfactionRate),
			Recommendation: "Review negative feedback comments and address common issues",
		})
	}
	if r.AverageCost > 0.02 {
		recs = append(recs, Recommendation{
			Priority:       "medium",
			Category:       "cost",
			Issue:          fmt.Sprintf("High average cost per query ($%.4f)", r.AverageCost),
			Recommendation: "Consider increasing cache TTL or using simpler models for basic queries",
		})
	}
	if r.AverageLatencyMS > 3000 {
		recs = append(recs, Recommendation{
			Priority:       "medium",
			Category:       "performance",
			Issue:          fmt.Sprintf("High average latency (%.2fs)", r.AverageLatencyMS/1000),
			Recommendation: "Optimize search queries and consider caching strategies",
		})
	}

	return recs
}
