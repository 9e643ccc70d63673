// Package complexity scores how demanding a query is so a tier can be chosen
// for it. Scoring is pure: the same query and history always give the same
// assessment.
package complexity

import (
	"sort"
	"strings"

	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
)

const MaxScore = 100

type Assessment struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

// Has reports whether a factor tag contributed to the score.
func (a Assessment) Has(factor string) bool {
	for _, f := range a.Factors {
		if f == factor {
			return true
		}
	}
	return false
}

type family struct {
	name     string
	keywords []string
}

type questionWord struct {
	word   string
	points int
}

var (
	indicatorFamilies = []family{
		{"comparison", []string{"compare", "difference between", "versus", "vs"}},
		{"analysis", []string{"analyze", "evaluation", "assessment", "critique"}},
		{"explanation", []string{"explain", "why", "how does", "what causes"}},
		{"reasoning", []string{"pros and cons", "advantages", "disadvantages", "trade-offs"}},
		{"multi_step", []string{"first", "then", "finally", "step by step"}},
	}

	technicalFamilies = []family{
		{"architecture", []string{"architecture", "design pattern", "infrastructure", "topology"}},
		{"security", []string{"security", "authentication", "encryption", "vulnerability"}},
		{"performance", []string{"optimization", "performance", "latency", "throughput"}},
		{"implementation", []string{"implementation", "configuration", "deployment", "integration"}},
	}

	questionWords = []questionWord{
		{"what", 5},
		{"how", 10},
		{"why", 15},
		{"when", 5},
		{"where", 5},
		{"which", 10},
	}
)

const (
	familyPoints        = 5
	pointsPerTurn       = 3
	maxDepthPoints      = 15
	deepConversationLen = 5
)

// Score assesses a query given the prior turns of its conversation.
func Score(query string, history []models.ConversationTurn) Assessment {
	score := 0
	factors := make([]string, 0, 8)

	lower := strings.ToLower(query)
	words := strings.Fields(lower)

	points, tag := lengthPoints(len(words))
	score += points
	factors = append(factors, tag)

	depth := len(history)
	if depth > 0 {
		score += min(depth*pointsPerTurn, maxDepthPoints)
		factors = append(factors, "conversation_depth")
	}
	if depth > deepConversationLen {
		factors = append(factors, "deep_conversation")
	}

	for _, f := range indicatorFamilies {
		if containsAny(lower, f.keywords) {
			score += familyPoints
			factors = append(factors, "complex_"+f.name)
		}
	}

	for _, f := range technicalFamilies {
		if containsAny(lower, f.keywords) {
			score += familyPoints
			factors = append(factors, "technical_"+f.name)
		}
	}

	if len(words) > 0 {
		lead := strings.TrimFunc(words[0], isPunct)
		for _, q := range questionWords {
			if lead == q.word {
				score += q.points
				factors = append(factors, "question_"+q.word)
				break
			}
		}
	}

	if score > MaxScore {
		score = MaxScore
	}

	sort.Strings(factors)
	return Assessment{Score: score, Factors: factors}
}

func lengthPoints(words int) (int, string) {
	switch {
	case words < 5:
		return 5, "length_very_short"
	case words < 10:
		return 10, "length_short"
	case words < 20:
		return 15, "length_medium"
	default:
		return 20, "length_long"
	}
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func isPunct(r rune) bool {
	return strings.ContainsRune(`?!.,:;'"()`, r)
}
