package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"
)

type piiPattern struct {
	entityType string
	pattern    *regexp.Regexp
}

// Order matters: when spans overlap the earlier pattern's match wins.
var piiPatterns = []piiPattern{
	{"EMAIL", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"CREDIT_DEBIT_NUMBER", regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`)},
	{"PHONE", regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\b\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)},
	{"IP_ADDRESS", regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{"AWS_ACCESS_KEY", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
}

// RegexDetector finds structured PII with patterns and, optionally, person
// names with a statistical named entity recogniser.
type RegexDetector struct {
	names bool
}

func NewRegexDetector(detectNames bool) *RegexDetector {
	return &RegexDetector{names: detectNames}
}

func (d *RegexDetector) DetectPII(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entities []Entity
	for _, p := range piiPatterns {
		for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{Type: p.entityType, Start: loc[0], End: loc[1], Score: 1})
		}
	}

	if d.names {
		names, err := detectNames(text)
		if err != nil {
			return nil, err
		}
		entities = append(entities, names...)
	}

	return entities, nil
}

func detectNames(text string) ([]Entity, error) {
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("failed to analyse text: %w", err)
	}

	var entities []Entity
	cursor := 0
	for _, ent := range doc.Entities() {
		if ent.Label != "PERSON" || ent.Text == "" {
			continue
		}
		idx := strings.Index(text[cursor:], ent.Text)
		if idx < 0 {
			continue
		}
		start := cursor + idx
		end := start + len(ent.Text)
		entities = append(entities, Entity{Type: "NAME", Start: start, End: end, Score: 0.8})
		cursor = end
	}
	return entities, nil
}
