// Package tokens counts prompt and completion tokens for budgeting and cost.
package tokens

import (
	"github.com/tiktoken-go/tokenizer"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding. If the codec cannot
// be loaded or fails on an input, it falls back to Estimate.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

func NewTiktokenCounter() *TiktokenCounter {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		logger.Warn("Tokenizer unavailable, using length estimate", zap.Error(err))
		return &TiktokenCounter{}
	}
	return &TiktokenCounter{codec: codec}
}

func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.codec == nil {
		return Estimate(text)
	}

	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return Estimate(text)
	}
	return len(ids)
}

// Estimate approximates a token count as one token per four bytes.
func Estimate(text string) int {
	return len(text) / 4
}

// EstimateCounter is a Counter that only uses Estimate.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return Estimate(text)
}
