package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
)

type memoryStore struct {
	evaluations []models.EvaluationResult
	feedback    []models.Feedback
	err         error
}

func (s *memoryStore) InsertEvaluation(_ context.Context, r *models.EvaluationResult) error {
	if s.err != nil {
		return s.err
	}
	s.evaluations = append(s.evaluations, *r)
	return nil
}

func (s *memoryStore) ListEvaluations(context.Context, time.Time, time.Time) ([]models.EvaluationResult, error) {
	return s.evaluations, s.err
}

func (s *memoryStore) StoreFeedback(_ context.Context, f *models.Feedback) error {
	if s.err != nil {
		return s.err
	}
	s.feedback = append(s.feedback, *f)
	return nil
}

func (s *memoryStore) ListFeedback(context.Context, time.Time, time.Time) ([]models.Feedback, error) {
	return s.feedback, s.err
}

func TestEvaluateQueryRecordsResult(t *testing.T) {
	store := &memoryStore{}
	e := NewEvaluator(store)

	chunks := chunksWithScores(0.8, 0.6)
	score := e.EvaluateQuery(context.Background(), "How do I rotate IAM keys?", "Create a new key first.", chunks, Metadata{
		QueryID: "q1",
		ModelID: "gpt-4o",
		Tier:    "standard",
		Latency: 1500 * time.Millisecond,
		Cost:    0.004,
	})

	require.Len(t, store.evaluations, 1)
	r := store.evaluations[0]
	assert.Equal(t, "q1", r.QueryID)
	assert.Equal(t, "standard", r.TierUsed)
	assert.Equal(t, 2, r.ChunkCount)
	assert.Equal(t, int64(1500), r.LatencyMS)
	assert.Equal(t, score.Overall, r.OverallScore)
}

func TestEvaluateQueryIgnoresStoreFailure(t *testing.T) {
	e := NewEvaluator(&memoryStore{err: errors.New("database is locked")})
	score := e.EvaluateQuery(context.Background(), "q", "a", nil, Metadata{QueryID: "q1"})
	assert.Zero(t, score.Accuracy)
}

func TestCollectFeedback(t *testing.T) {
	tests := []struct {
		name    string
		fb      models.Feedback
		wantErr bool
	}{
		{"thumbs up", models.Feedback{QueryID: "q1", Type: models.FeedbackThumbsUp}, false},
		{"rating", models.Feedback{QueryID: "q1", Type: models.FeedbackRating, Rating: 4}, false},
		{"rating out of range", models.Feedback{QueryID: "q1", Type: models.FeedbackRating, Rating: 9}, true},
		{"empty comment", models.Feedback{QueryID: "q1", Type: models.FeedbackComment}, true},
		{"missing query", models.Feedback{Type: models.FeedbackThumbsDown}, true},
		{"unknown type", models.Feedback{QueryID: "q1", Type: "meh"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryStore{}
			e := NewEvaluator(store)
			fb := tt.fb
			err := e.CollectFeedback(context.Background(), &fb)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFeedback)
				assert.Empty(t, store.feedback)
				return
			}
			require.NoError(t, err)
			require.Len(t, store.feedback, 1)
			assert.Equal(t, "anonymous", store.feedback[0].UserID)
		})
	}
}

func TestBuildReport(t *testing.T) {
	results := []models.EvaluationResult{
		{TierUsed: "simple", RelevanceScore: 0.4, GroundednessScore: 0.9, OverallScore: 0.9, Cost: 0.02, LatencyMS: 1000},
		{TierUsed: "advanced", RelevanceScore: 0.6, GroundednessScore: 0.9, OverallScore: 0.7, Cost: 0.04, LatencyMS: 3000},
	}
	feedback := []models.Feedback{
		{Type: models.FeedbackThumbsUp},
		{Type: models.FeedbackThumbsUp},
		{Type: models.FeedbackThumbsUp},
		{Type: models.FeedbackThumbsDown, Comment: "wrong region"},
		{Type: models.FeedbackRating, Rating: 4},
	}

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	r := BuildReport(results, feedback, from, to, to)

	assert.Equal(t, 2, r.Evaluations)
	assert.InDelta(t, 0.8, r.AverageScores.Overall, 1e-9)
	assert.InDelta(t, 0.5, r.AverageScores.Relevance, 1e-9)
	assert.InDelta(t, 0.03, r.AverageCost, 1e-9)
	assert.InDelta(t, 2000, r.AverageLatencyMS, 1e-9)
	assert.Equal(t, map[string]int{"simple": 1, "advanced": 1}, r.TierUsage)
	assert.Equal(t, "good", r.QualityTrend)

	assert.Equal(t, 5, r.Feedback.Total)
	assert.Equal(t, 1, r.Feedback.Comments)
	assert.InDelta(t, 75, r.Feedback.SatisfactionRate, 1e-9)
	assert.InDelta(t, 4, r.Feedback.AverageRating, 1e-9)

	var categories []string
	for _, rec := range r.Recommendations {
		categories = append(categories, rec.Category)
	}
	assert.Equal(t, []string{"quality", "cost"}, categories)
}

func TestBuildReportEmpty(t *testing.T) {
	r := BuildReport(nil, nil, time.Time{}, time.Time{}, time.Time{})
	assert.Zero(t, r.Evaluations)
	assert.Equal(t, "stable", r.QualityTrend)
	assert.Empty(t, r.Recommendations)
}

func TestReport(t *testing.T) {
	store := &memoryStore{
		evaluations: []models.EvaluationResult{{OverallScore: 0.9, RelevanceScore: 0.9, GroundednessScore: 0.9}},
	}
	e := NewEvaluator(store)

	r, err := e.Report(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "excellent", r.QualityTrend)
	assert.Empty(t, r.Recommendations)
}
