// Package fallback invokes inference along a tier's fallback chain until a
// tier answers.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/audit"
	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/internal/tier"
	"github.com/aws-agent/knowledge-assistant/internal/tokens"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

const ApologyMessage = "I apologize, but I'm experiencing technical difficulties. Please try again in a moment."

type Completion struct {
	Text         string
	PromptTokens int
	OutputTokens int
}

// Inference is a single model invocation.
type Inference interface {
	Invoke(ctx context.Context, modelID, prompt string, maxTokens int, temperature float32) (Completion, error)
}

type Auditor interface {
	Log(ctx context.Context, event audit.Event) string
}

type Result struct {
	Text             string
	TierUsed         tier.Tier
	ModelID          string
	FallbackOccurred bool
	InputTokens      int
	OutputTokens     int
	Cost             float64
	// Latency is the duration of the attempt that produced Text.
	Latency time.Duration
	// Interrupted is set when the caller's context ended the chain early.
	Interrupted bool
	Attempts    []Attempt
}

// Attempt records one tier tried along the chain.
type Attempt struct {
	Tier  tier.Tier
	Err   error
	Spent time.Duration
}

type Invoker struct {
	inference Inference
	table     *tier.Table
	counter   tokens.Counter
	auditor   Auditor
}

func NewInvoker(inference Inference, table *tier.Table, counter tokens.Counter, auditor Auditor) *Invoker {
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	return &Invoker{
		inference: inference,
		table:     table,
		counter:   counter,
		auditor:   auditor,
	}
}

// Invoke tries each tier of selected's chain in order, using that tier's
// own model, output limit and temperature. When every tier fails the
// result carries the apology text, TierUsed None and FallbackOccurred.
// A cancelled or expired context stops the chain without trying further
// tiers and yields the same apology with Interrupted set.
func (i *Invoker) Invoke(ctx context.Context, selected tier.Tier, prompt, userID string) (Result, error) {
	chain := tier.Chain(selected)
	if len(chain) == 0 {
		return Result{}, fmt.Errorf("no fallback chain for tier %s", selected)
	}

	var attempts []Attempt
	for idx, t := range chain {
		if err := ctx.Err(); err != nil {
			return interrupted(selected, attempts, err), nil
		}

		cfg, ok := i.table.Get(t)
		if !ok || cfg.ModelID == "" {
			attempts = append(attempts, Attempt{Tier: t, Err: errors.New("tier not configured")})
			continue
		}

		start := time.Now()
		completion, err := i.inference.Invoke(ctx, cfg.ModelID, prompt, cfg.MaxOutputTokens, cfg.Temperature)
		spent := time.Since(start)
		if err != nil {
			attempts = append(attempts, Attempt{Tier: t, Err: err, Spent: spent})
			metrics.ModelInvocations.WithLabelValues(t.String(), "error").Inc()

			if ctxErr := ctx.Err(); ctxErr != nil {
				return interrupted(selected, attempts, ctxErr), nil
			}

			logger.Warn("Model invocation failed",
				zap.String("tier", t.String()),
				zap.String("model", cfg.ModelID),
				zap.Bool("has_next", idx < len(chain)-1),
				zap.Error(err),
			)
			continue
		}

		attempts = append(attempts, Attempt{Tier: t, Spent: spent})
		metrics.ModelInvocations.WithLabelValues(t.String(), "success").Inc()

		in := completion.PromptTokens
		if in == 0 {
			in = i.counter.Count(prompt)
		}
		out := completion.OutputTokens
		if out == 0 {
			out = i.counter.Count(completion.Text)
		}
		cost := cfg.Cost(in, out)

		metrics.LLMTokensUsed.WithLabelValues(cfg.ModelID, "input").Add(float64(in))
		metrics.LLMTokensUsed.WithLabelValues(cfg.ModelID, "output").Add(float64(out))
		metrics.LLMCost.WithLabelValues(cfg.ModelID).Add(cost)

		fellBack := t != selected
		if fellBack {
			metrics.FallbackTotal.WithLabelValues(selected.String(), t.String()).Inc()
		}

		if i.auditor != nil {
			i.auditor.Log(ctx, audit.Event{
				EventType: audit.EventModelInvoked,
				UserID:    userID,
				Severity:  audit.SeverityInfo,
				Details: map[string]any{
					"model_id":      cfg.ModelID,
					"tier":          t.String(),
					"input_tokens":  in,
					"output_tokens": out,
					"cost":          cost,
					"latency_ms":    spent.Milliseconds(),
					"fallback":      fellBack,
				},
			})
		}

		return Result{
			Text:             completion.Text,
			TierUsed:         t,
			ModelID:          cfg.ModelID,
			FallbackOccurred: fellBack,
			InputTokens:      in,
			OutputTokens:     out,
			Cost:             cost,
			Latency:          spent,
			Attempts:         attempts,
		}, nil
	}

	metrics.FallbackTotal.WithLabelValues(selected.String(), tier.None.String()).Inc()
	logger.Error("All tiers failed", zap.String("selected", selected.String()), zap.Int("attempts", len(attempts)))

	return Result{
		Text:             ApologyMessage,
		TierUsed:         tier.None,
		FallbackOccurred: true,
		Attempts:         attempts,
	}, nil
}

func interrupted(selected tier.Tier, attempts []Attempt, err error) Result {
	logger.Warn("Invocation chain interrupted",
		zap.String("selected", selected.String()),
		zap.Int("attempts", len(attempts)),
		zap.Error(err),
	)
	return Result{
		Text:             ApologyMessage,
		TierUsed:         tier.None,
		FallbackOccurred: true,
		Interrupted:      true,
		Attempts:         attempts,
	}
}
