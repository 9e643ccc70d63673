package complexity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
)

func turns(n int) []models.ConversationTurn {
	out := make([]models.ConversationTurn, n)
	for i := range out {
		out[i] = models.ConversationTurn{
			ConversationID: "c1",
			Sequence:       int64(i),
			QueryText:      fmt.Sprintf("question %d", i),
			ResponseText:   fmt.Sprintf("answer %d", i),
		}
	}
	return out
}

func TestScore(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		history     int
		wantScore   int
		wantFactors []string
	}{
		{
			name:        "plain support request",
			query:       "My EC2 instance is not responding to SSH",
			wantScore:   10,
			wantFactors: []string{"length_short"},
		},
		{
			name:        "why question",
			query:       "Why does Lambda time out?",
			wantScore:   30,
			wantFactors: []string{"complex_explanation", "length_short", "question_why"},
		},
		{
			name:        "short what question",
			query:       "What is S3?",
			wantScore:   10,
			wantFactors: []string{"length_very_short", "question_what"},
		},
		{
			name:        "question word must be the whole first token",
			query:       "Whatever happened to my bucket",
			wantScore:   10,
			wantFactors: []string{"length_short"},
		},
		{
			name:        "history adds three per turn",
			query:       "Which region?",
			history:     2,
			wantScore:   5 + 6 + 10,
			wantFactors: []string{"conversation_depth", "length_very_short", "question_which"},
		},
		{
			name:    "every family",
			query:   "why should I compare the architecture security performance and implementation pros and cons first and analyze them step by step for my team today",
			history: 6,
			// 20 length + 15 depth + 25 indicators + 20 technical + 15 why
			wantScore: 95,
			wantFactors: []string{
				"complex_analysis", "complex_comparison", "complex_explanation",
				"complex_multi_step", "complex_reasoning", "conversation_depth",
				"deep_conversation", "length_long", "question_why",
				"technical_architecture", "technical_implementation",
				"technical_performance", "technical_security",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.query, turns(tt.history))
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantFactors, got.Factors)
		})
	}
}

func TestScoreDepthIsCapped(t *testing.T) {
	shallow := Score("How do I rotate keys", turns(5))
	deep := Score("How do I rotate keys", turns(40))

	assert.Equal(t, shallow.Score, deep.Score)
	assert.False(t, shallow.Has("deep_conversation"))
	assert.True(t, deep.Has("deep_conversation"))
}

func TestScoreIsBoundedAndDeterministic(t *testing.T) {
	queries := []string{
		"",
		"   ",
		"s3",
		"How does encryption compare versus tokenization, explain step by step the trade-offs and the architecture",
		"why why why why why why why why why why why why why why why why why why why why why why",
	}

	for _, q := range queries {
		for depth := 0; depth < 12; depth += 3 {
			a := Score(q, turns(depth))
			b := Score(q, turns(depth))

			assert.Equal(t, a, b, "query %q", q)
			assert.GreaterOrEqual(t, a.Score, 0)
			assert.LessOrEqual(t, a.Score, MaxScore)
		}
	}
}
