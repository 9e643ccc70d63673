package retrieval

import (
	"sort"
	"strings"
)

const (
	DefaultTopK = 5

	shortChunkWords   = 100
	shortChunkPenalty = 0.8
	maxOverlapBoost   = 0.3
)

// Rerank adjusts search scores with two heuristics: chunks under 100 words
// are penalised, and chunks are boosted by up to 30% in proportion to the
// fraction of query terms they contain. The result is sorted by adjusted
// score and truncated to topK.
func Rerank(query string, chunks []Chunk, topK int) []Chunk {
	if len(chunks) == 0 {
		return chunks
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	queryTerms := termSet(query)

	out := make([]Chunk, len(chunks))
	copy(out, chunks)

	for i := range out {
		adjusted := out[i].RelevanceScore

		words := strings.Fields(out[i].Text)
		if len(words) < shortChunkWords {
			adjusted *= shortChunkPenalty
		}

		adjusted *= 1 + TermOverlap(queryTerms, termSet(out[i].Text))*maxOverlapBoost
		out[i].AdjustedScore = adjusted
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AdjustedScore > out[j].AdjustedScore
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// TermOverlap is the fraction of query terms present in the chunk terms.
func TermOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := chunk[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func termSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
