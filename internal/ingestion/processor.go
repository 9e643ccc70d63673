// Package ingestion turns HTML documents into embedded chunks in the search
// index that retrieval reads from.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
	"github.com/aws-agent/knowledge-assistant/pkg/utils"
)

var ErrNoContent = errors.New("no content extracted from HTML")

type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	embedder     retrieval.Embedder
	indexer      retrieval.Indexer
	chunkSize    int
	chunkOverlap int
}

type Result struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Chunks     int    `json:"chunks"`
}

func NewProcessor(embedder retrieval.Embedder, indexer retrieval.Indexer, cfg Config) *Processor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 100
	}
	return &Processor{
		embedder:     embedder,
		indexer:      indexer,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
	}
}

// ProcessDocument cleans, chunks, embeds and indexes one page. The document
// id is the page URL, which is what answers cite as a source.
func (p *Processor) ProcessDocument(ctx context.Context, url, htmlContent string) (*Result, error) {
	logger.Info("Processing document", zap.String("url", url))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := extractTitle(doc)
	cleanedText := cleanHTML(doc)
	if cleanedText == "" {
		return nil, ErrNoContent
	}

	chunks := p.chunkText(cleanedText)
	logger.Info("Document chunked", zap.String("url", url), zap.Int("chunks", len(chunks)))

	prefix := utils.HashString(url)[:16]
	indexed := make([]retrieval.IndexedChunk, 0, len(chunks))
	for i, text := range chunks {
		embedding, err := p.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", i, err)
		}
		indexed = append(indexed, retrieval.IndexedChunk{
			DocumentID: url,
			ChunkID:    fmt.Sprintf("%s_chunk_%d", prefix, i),
			Text:       text,
			Embedding:  embedding,
		})
	}

	if err := p.indexer.Index(ctx, indexed); err != nil {
		return nil, fmt.Errorf("failed to index chunks: %w", err)
	}

	logger.Info("Document processed successfully",
		zap.String("url", url),
		zap.String("title", title),
		zap.Int("chunks", len(indexed)),
	)

	return &Result{DocumentID: url, Title: title, Chunks: len(indexed)}, nil
}

func cleanHTML(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, nav, footer, header, aside, noscript").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}

func extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = "Untitled"
	}
	return title
}

// chunkText splits text into chunks of at most chunkSize bytes on word
// boundaries. Each chunk after the first repeats the tail of the previous one,
// about chunkOverlap bytes.
func (p *Processor) chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	size := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if size+wordLen > p.chunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = overlapTail(current, p.chunkOverlap)
			size = 0
			for _, w := range current {
				size += len(w) + 1
			}
		}

		current = append(current, word)
		size += wordLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

func overlapTail(words []string, overlap int) []string {
	start := len(words)
	size := 0
	for start > 0 && size+len(words[start-1])+1 <= overlap {
		start--
		size += len(words[start]) + 1
	}
	return append([]string(nil), words[start:]...)
}
