package evaluation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
)

func chunksWithScores(scores ...float64) []retrieval.Chunk {
	out := make([]retrieval.Chunk, len(scores))
	for i, s := range scores {
		out[i] = retrieval.Chunk{DocumentID: "doc", RelevanceScore: s}
	}
	return out
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestConciseness(t *testing.T) {
	tests := []struct {
		words int
		want  float64
	}{
		{2, 0.3},
		{9, 0.3},
		{25, 0.6},
		{35, 0.8},
		{50, 1.0},
		{200, 1.0},
		{250, 0.8},
		{400, 0.6},
		{600, 0.4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Conciseness(words(tt.words)), "words=%d", tt.words)
	}
}

func TestAccuracy(t *testing.T) {
	assert.Zero(t, Accuracy(nil))
	assert.InDelta(t, 0.6, Accuracy(chunksWithScores(0.5, 0.7)), 1e-9)
	assert.InDelta(t, 1.0, Accuracy(chunksWithScores(0.9, 0.9, 0.9)), 1e-9)
	assert.InDelta(t, (0.9+0.85+0.3)/3, Accuracy(chunksWithScores(0.9, 0.85, 0.3)), 1e-9)
}

func TestRelevance(t *testing.T) {
	query := "How to use Lambda layers"

	assert.InDelta(t, 1.0, Relevance(query, "Lambda layers package dependencies.", nil), 1e-9)
	assert.InDelta(t, 0.8, Relevance(query, "Lambda layers package dependencies.", chunksWithScores(0.5)), 1e-9)
	assert.InDelta(t, 0.5, Relevance(query, "Layers help.", nil), 1e-9)
	assert.Equal(t, 0.5, Relevance("is it ok", "anything", nil))
}

func TestCoherence(t *testing.T) {
	assert.Zero(t, Coherence(""))
	assert.Zero(t, Coherence("ok ok ok ok"))

	answer := "Lambda runs code without servers, however you must configure memory and timeout limits carefully."
	assert.InDelta(t, 1.0, Coherence(answer), 1e-9)
}

func TestCompleteness(t *testing.T) {
	assert.InDelta(t, 0.4,
		Completeness("Why does my Lambda time out?", "It times out because the default timeout is three seconds."), 1e-9)

	assert.InDelta(t, 0.2, Completeness("hello", "I cannot say."), 1e-9)

	assert.InDelta(t, 0.3,
		Completeness("Which storage class?", "Use a cheaper class, for example Glacier."), 1e-9)
}

func TestGroundedness(t *testing.T) {
	chunks := []retrieval.Chunk{{Text: "Lambda functions scale automatically with concurrency limits."}}

	assert.InDelta(t, 1.0, Groundedness("Lambda functions scale automatically.", chunks), 1e-9)
	assert.InDelta(t, 0.35, Groundedness("According to docs, lambda billing differs.", chunks), 1e-9)
	assert.Zero(t, Groundedness("ok", chunks))
	assert.Zero(t, Groundedness("Lambda functions scale automatically.", nil))
}

func TestOverallWeights(t *testing.T) {
	all := Score{Relevance: 1, Coherence: 1, Completeness: 1, Accuracy: 1, Conciseness: 1, Groundedness: 1}
	assert.InDelta(t, 1.0, Overall(all), 1e-9)

	onlyRelevance := Score{Relevance: 1}
	assert.InDelta(t, WeightRelevance, Overall(onlyRelevance), 1e-9)
}

func TestEvaluateStaysInRange(t *testing.T) {
	inputs := []struct {
		query  string
		answer string
		chunks []retrieval.Chunk
	}{
		{"", "", nil},
		{"What is S3?", "S3 is object storage.", chunksWithScores(1.5, -0.2)},
		{"Explain VPC peering", strings.Repeat("VPC peering connects networks. ", 200), chunksWithScores(0.9, 0.95, 0.99)},
	}

	for _, in := range inputs {
		s := Evaluate(in.query, in.answer, in.chunks)
		for _, v := range []float64{s.Relevance, s.Coherence, s.Completeness, s.Accuracy, s.Conciseness, s.Groundedness, s.Overall} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		assert.Equal(t, Overall(s), s.Overall)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	chunks := chunksWithScores(0.7, 0.4)
	a := Evaluate("How do I rotate IAM keys?", "Create a new key, update clients, then delete the old key.", chunks)
	b := Evaluate("How do I rotate IAM keys?", "Create a new key, update clients, then delete the old key.", chunks)
	assert.Equal(t, a, b)
}
