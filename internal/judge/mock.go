package judge

import (
	"context"
	"strings"

	"voice-conformity-go/internal/types"
)

// mockCues are phrases the offline judge looks for, one list per criterion.
var mockCues = [types.CriteriaCount][]string{
	{"le habla", "soy ", "mi nombre es"},
	{"cuota", "deposito", "depósito", "monto", "plan"},
	{"nadie le puede asegurar", "nadie le asegura", "debe ganar"},
	{"alguna duda", "le queda claro", "tiene dudas"},
	{"siguiente paso", "debe pagar", "vaya a", "llame"},
}

// Mock is a deterministic keyword judge for offline runs.
type Mock struct{}

func (Mock) Judge(_ context.Context, p Prompt) (types.Judgment, error) {
	text := p.User
	if i := strings.LastIndex(text, "TRANSCRIPT\n"); i >= 0 {
		text = text[i:]
	}
	text = strings.ToLower(text)

	var j types.Judgment
	for i, cues := range mockCues {
		for _, cue := range cues {
			if strings.Contains(text, cue) {
				j.Criteria[i] = true
				break
			}
		}
	}
	j.Rationale = "offline keyword evaluation"
	j.Model = "mock"
	return j, nil
}
