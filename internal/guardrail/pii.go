package guardrail

import (
	"context"
	"regexp"
	"sort"
	"unicode/utf8"
)

// Entity is a detected PII span. Start and End are byte offsets into the
// analysed text, End exclusive.
type Entity struct {
	Type  string  `json:"type"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score,omitempty"`
}

type PIIDetector interface {
	DetectPII(ctx context.Context, text string) ([]Entity, error)
}

var placeholderPattern = regexp.MustCompile(`\[[A-Z_]+\]`)

// Placeholder is the token that replaces a redacted span.
func Placeholder(entityType string) string {
	return "[" + entityType + "]"
}

// Redact replaces entity spans with typed placeholders, working from the
// end of the text so earlier offsets stay valid. Spans that are out of
// range, overlap an earlier span, or touch an existing placeholder are
// ignored, which makes redaction idempotent. It returns the redacted text
// and the entities that were applied, in text order.
func Redact(text string, entities []Entity) (string, []Entity) {
	if len(entities) == 0 {
		return text, nil
	}

	existing := placeholderPattern.FindAllStringIndex(text, -1)

	candidates := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End || e.Type == "" {
			continue
		}
		if overlapsAny(e.Start, e.End, existing) {
			continue
		}
		candidates = append(candidates, e)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start == candidates[j].Start {
			return candidates[i].End > candidates[j].End
		}
		return candidates[i].Start < candidates[j].Start
	})

	applied := make([]Entity, 0, len(candidates))
	lastEnd := -1
	for _, e := range candidates {
		if e.Start < lastEnd {
			continue
		}
		applied = append(applied, e)
		lastEnd = e.End
	}

	out := text
	for i := len(applied) - 1; i >= 0; i-- {
		e := applied[i]
		out = out[:e.Start] + Placeholder(e.Type) + out[e.End:]
	}
	return out, applied
}

// EntityTypes lists the distinct types in first-seen order.
func EntityTypes(entities []Entity) []string {
	seen := map[string]bool{}
	var types []string
	for _, e := range entities {
		if !seen[e.Type] {
			seen[e.Type] = true
			types = append(types, e.Type)
		}
	}
	return types
}

func overlapsAny(start, end int, spans [][]int) bool {
	for _, s := range spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// truncateUTF8 cuts text to at most max bytes without splitting a rune.
func truncateUTF8(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
