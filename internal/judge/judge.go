// Package judge asks a language model to score a transcript against the five
// rubric criteria. Every provider is called with temperature 0 and must
// answer with a strict JSON object; anything else is a content error.
package judge

import (
	"context"

	"voice-conformity-go/internal/types"
)

// Judge scores one prompt. Implementations do not retry.
type Judge interface {
	Judge(ctx context.Context, p Prompt) (types.Judgment, error)
}

// Pricing converts token usage to cost, in USD per 1000 tokens.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

func DefaultPricing() Pricing {
	return Pricing{PromptPer1K: 0.005, CompletionPer1K: 0.015}
}

func (p Pricing) Cost(promptTokens, completionTokens int64) float64 {
	return (float64(promptTokens)*p.PromptPer1K + float64(completionTokens)*p.CompletionPer1K) / 1000
}
