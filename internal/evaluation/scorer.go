package evaluation

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
)

// Score is the quality of one answer. Every field is within [0,1].
type Score struct {
	Relevance    float64 `json:"relevance"`
	Coherence    float64 `json:"coherence"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Conciseness  float64 `json:"conciseness"`
	Groundedness float64 `json:"groundedness"`
	Overall      float64 `json:"overall"`
}

const (
	WeightRelevance    = 0.25
	WeightCoherence    = 0.15
	WeightCompleteness = 0.20
	WeightAccuracy     = 0.20
	WeightConciseness  = 0.10
	WeightGroundedness = 0.10

	highRelevanceThreshold = 0.8
)

var (
	wordPattern = regexp.MustCompile(`\w+`)

	transitions = []string{
		"however", "therefore", "additionally", "furthermore",
		"moreover", "consequently", "thus", "hence", "for example",
	}

	exampleIndicators = phrasePattern("for example", "for instance", "such as", "like")

	groundedPhrases = []string{"according to", "based on", "as mentioned", "the document"}

	uncertaintyPhrases = []string{"I don't", "I cannot", "I'm not sure"}

	questionIndicators = map[string]*regexp.Regexp{
		"what":  phrasePattern("is", "are", "definition", "means"),
		"how":   phrasePattern("by", "through", "steps", "process"),
		"why":   phrasePattern("because", "due to", "reason", "since"),
		"when":  phrasePattern("time", "date", "during", "after", "before"),
		"where": phrasePattern("location", "place", "at", "in"),
		"who":   phrasePattern("person", "people", "individual", "organization"),
	}
)

func phrasePattern(phrases ...string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}

// Evaluate scores an answer against its query and the chunks it was
// generated from.
func Evaluate(query, answer string, chunks []retrieval.Chunk) Score {
	s := Score{
		Relevance:    Relevance(query, answer, chunks),
		Coherence:    Coherence(answer),
		Completeness: Completeness(query, answer),
		Accuracy:     Accuracy(chunks),
		Conciseness:  Conciseness(answer),
		Groundedness: Groundedness(answer, chunks),
	}
	s.Overall = Overall(s)
	return s
}

// Overall is the weighted sum of the six dimensions.
func Overall(s Score) float64 {
	return clamp(s.Relevance*WeightRelevance +
		s.Coherence*WeightCoherence +
		s.Completeness*WeightCompleteness +
		s.Accuracy*WeightAccuracy +
		s.Conciseness*WeightConciseness +
		s.Groundedness*WeightGroundedness)
}

// Relevance blends query keyword coverage in the answer with the mean
// chunk score. Queries without keywords longer than three characters
// score 0.5.
func Relevance(query, answer string, chunks []retrieval.Chunk) float64 {
	queryKeywords := keywords(query, 3)
	if len(queryKeywords) == 0 {
		return 0.5
	}
	answerKeywords := keywords(answer, 0)

	overlap := float64(intersect(queryKeywords, answerKeywords)) / float64(len(queryKeywords))
	if len(chunks) == 0 {
		return clamp(overlap)
	}
	return clamp(overlap*0.6 + meanScore(chunks)*0.4)
}

func Coherence(answer string) float64 {
	var sentences []string
	for _, s := range strings.Split(answer, ".") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return 0
	}

	score := 0.0

	words := 0
	for _, s := range sentences {
		words += len(strings.Fields(s))
	}
	avg := float64(words) / float64(len(sentences))
	switch {
	case avg >= 10 && avg <= 25:
		score += 0.3
	case avg >= 5 && avg <= 35:
		score += 0.15
	}

	lower := strings.ToLower(answer)
	for _, t := range transitions {
		if strings.Contains(lower, t) {
			score += 0.2
			break
		}
	}

	all := strings.Fields(answer)
	if len(all) > 0 {
		unique := map[string]struct{}{}
		for _, w := range strings.Fields(lower) {
			unique[w] = struct{}{}
		}
		uniqueness := float64(len(unique)) / float64(len(all))
		switch {
		case uniqueness > 0.5:
			score += 0.3
		case uniqueness > 0.3:
			score += 0.15
		}
	}

	first, _ := utf8.DecodeRuneInString(answer)
	if unicode.IsUpper(first) && strings.ContainsAny(answer[len(answer)-1:], ".!?") {
		score += 0.2
	}

	return clamp(score)
}

// Completeness credits answer length, an answer indicator for the query's
// leading question word, examples and admitted uncertainty.
func Completeness(query, answer string) float64 {
	score := 0.0

	switch n := len(strings.Fields(answer)); {
	case n > 50:
		score += 0.4
	case n > 20:
		score += 0.3
	case n > 10:
		score += 0.2
	default:
		score += 0.1
	}

	lower := strings.ToLower(answer)
	if indicators, ok := questionIndicators[leadingWord(query)]; ok && indicators.MatchString(lower) {
		score += 0.3
	}

	if exampleIndicators.MatchString(lower) {
		score += 0.2
	}

	for _, p := range uncertaintyPhrases {
		if strings.Contains(answer, p) {
			score += 0.1
			break
		}
	}

	return clamp(score)
}

// Accuracy is the mean chunk score, with a 0.1 bonus when at least three
// chunks score above 0.8. No chunks means no support: 0.
func Accuracy(chunks []retrieval.Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	score := meanScore(chunks)

	high := 0
	for _, c := range chunks {
		if c.RelevanceScore > highRelevanceThreshold {
			high++
		}
	}
	if high >= 3 {
		score += 0.1
	}
	return clamp(score)
}

// Conciseness peaks for answers of 50 to 200 words.
func Conciseness(answer string) float64 {
	n := len(strings.Fields(answer))
	switch {
	case n >= 50 && n <= 200:
		return 1.0
	case n >= 30 && n < 50, n > 200 && n <= 300:
		return 0.8
	case n >= 20 && n < 30, n > 300 && n <= 500:
		return 0.6
	case n < 20:
		return 0.3
	default:
		return 0.4
	}
}

// Groundedness is the share of the answer's long keywords that appear in
// the chunk text.
func Groundedness(answer string, chunks []retrieval.Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	chunkKeywords := keywords(strings.Join(texts, " "), 4)
	answerKeywords := keywords(answer, 4)
	if len(answerKeywords) == 0 {
		return 0
	}

	score := float64(intersect(answerKeywords, chunkKeywords)) / float64(len(answerKeywords))

	lower := strings.ToLower(answer)
	for _, p := range groundedPhrases {
		if strings.Contains(lower, p) {
			score += 0.1
			break
		}
	}
	return clamp(score)
}

func keywords(text string, minLen int) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) > minLen {
			set[w] = struct{}{}
		}
	}
	return set
}

func intersect(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

func meanScore(chunks []retrieval.Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range chunks {
		total += clamp(c.RelevanceScore)
	}
	return total / float64(len(chunks))
}

func leadingWord(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
