// Package prompt renders the model prompt from system instructions,
// retrieved context, recent conversation turns and the current query,
// keeping the result within a token budget.
package prompt

import (
	"fmt"
	"strings"

	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
	"github.com/aws-agent/knowledge-assistant/internal/tokens"
)

const SystemInstructions = `You are a helpful, accurate, and concise knowledge assistant.
Answer questions based only on the provided context.
If you don't have enough information to answer the question, say "I don't have enough information to answer this question."
Do not make up information or use knowledge outside of the provided context.

Context information:
`

const (
	noContext       = "\nNo relevant context found.\n"
	historyHeader   = "\nPrevious conversation:\n"
	DefaultBudget   = 6000
	DefaultExchange = 3
)

type Config struct {
	TokenBudget      int
	HistoryExchanges int
}

type Assembler struct {
	counter tokens.Counter
	cfg     Config
}

// Prompt is an assembled prompt and an account of what made it in.
type Prompt struct {
	Text       string
	Tokens     int
	ChunksUsed []retrieval.Chunk
	TurnsUsed  int
	Truncated  bool
	OverBudget bool
}

func NewAssembler(counter tokens.Counter, cfg Config) *Assembler {
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultBudget
	}
	if cfg.HistoryExchanges <= 0 {
		cfg.HistoryExchanges = DefaultExchange
	}
	return &Assembler{counter: counter, cfg: cfg}
}

// Assemble builds the prompt. The instructions and the query are always
// present. Chunks are admitted in the order given (callers pass them ranked)
// until one does not fit. Only when every chunk fits are the most recent
// turns admitted, newest first, until one does not fit. History is limited
// to the configured number of exchanges regardless of budget.
func (a *Assembler) Assemble(query string, chunks []retrieval.Chunk, history []models.ConversationTurn) Prompt {
	tail := renderQuery(query)
	used := a.counter.Count(SystemInstructions) + a.counter.Count(tail)

	var out Prompt
	if used > a.cfg.TokenBudget {
		out.OverBudget = true
	}

	renderedChunks := make([]string, 0, len(chunks))
	for i, c := range chunks {
		block := renderChunk(i, c)
		cost := a.counter.Count(block)
		if used+cost > a.cfg.TokenBudget {
			out.Truncated = true
			break
		}
		used += cost
		renderedChunks = append(renderedChunks, block)
		out.ChunksUsed = append(out.ChunksUsed, c)
	}
	if len(renderedChunks) == 0 {
		used += a.counter.Count(noContext)
	}

	recent := history
	if len(recent) > a.cfg.HistoryExchanges {
		recent = recent[len(recent)-a.cfg.HistoryExchanges:]
	}

	renderedTurns := make([]string, 0, len(recent))
	if len(recent) > 0 && !out.Truncated {
		headerCost := a.counter.Count(historyHeader)
		for i := len(recent) - 1; i >= 0; i-- {
			block := renderTurn(recent[i])
			cost := a.counter.Count(block)
			if len(renderedTurns) == 0 {
				cost += headerCost
			}
			if used+cost > a.cfg.TokenBudget {
				out.Truncated = true
				break
			}
			used += cost
			renderedTurns = append(renderedTurns, block)
		}
	}
	out.TurnsUsed = len(renderedTurns)

	var b strings.Builder
	b.WriteString(SystemInstructions)
	if len(renderedChunks) == 0 {
		b.WriteString(noContext)
	}
	for _, block := range renderedChunks {
		b.WriteString(block)
	}
	if len(renderedTurns) > 0 {
		b.WriteString(historyHeader)
		for i := len(renderedTurns) - 1; i >= 0; i-- {
			b.WriteString(renderedTurns[i])
		}
	}
	b.WriteString(tail)

	out.Text = b.String()
	out.Tokens = a.counter.Count(out.Text)
	return out
}

func renderChunk(i int, c retrieval.Chunk) string {
	return fmt.Sprintf("\n--- Document %d (Relevance: %.2f) ---\n%s\n", i+1, c.RelevanceScore, c.Text)
}

func renderTurn(t models.ConversationTurn) string {
	return fmt.Sprintf("Human: %s\nAssistant: %s\n", t.QueryText, t.ResponseText)
}

func renderQuery(query string) string {
	return fmt.Sprintf("\nHuman: %s\n\nAssistant:", query)
}
