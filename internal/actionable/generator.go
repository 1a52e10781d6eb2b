package actionable

import (
	"fmt"

	"voice-conformity-go/internal/aggregator"
	"voice-conformity-go/internal/types"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	criticalThreshold = 0.35
	weakGroupRate     = 0.5
	minGroupCalls     = 5
	weakCriterionRate = 0.6
)

var coaching = map[string]string{
	types.IdentityDisclosure.String():          "Reinforce the opening script: agent name and company in the first sentence",
	types.ContractTermVerification.String():    "Add a contract checklist step: term, installment and initial deposit read back to the customer",
	types.FairnessOfOutcomeDisclosure.String(): "Coach agents to state that award depends on the draw or auction, never guaranteed",
	types.ComprehensionCheck.String():          "Require an explicit comprehension question before closing",
	types.NextStepsDisclosure.String():         "Close every call with the next concrete step and its date",
}

// Generate picks the most pressing finding in the summary. The critical
// criterion comes first, then the weakest seller with enough volume, then the
// weakest criterion.
func Generate(s aggregator.Summary) ActionCard {
	if s.Total == 0 {
		return ActionCard{
			Insight: "No analyses recorded yet",
			Action:  "Run a batch and collect more data",
			Impact:  "None until calls are evaluated",
		}
	}
	if s.CriticalFailureRate >= criticalThreshold {
		return ActionCard{
			Insight: fmt.Sprintf("Fairness of outcome not disclosed in %.0f%% of calls (%d of %d)", s.CriticalFailureRate*100, s.CriticalFailures, s.Total),
			Action:  coaching[types.FairnessOfOutcomeDisclosure.String()],
			Impact:  "Reduce complaints from customers expecting a guaranteed award",
		}
	}
	for _, g := range s.BySeller {
		if g.Total >= minGroupCalls && g.Rate < weakGroupRate {
			return ActionCard{
				Insight: fmt.Sprintf("Seller %s conforms in only %.0f%% of %d calls", g.Name, g.Rate*100, g.Total),
				Action:  "Schedule call reviews with the supervisor and re-train on the verification script",
				Impact:  "Raise team conformity by fixing the weakest performer first",
			}
		}
	}
	weakest, rate := "", 1.0
	for i := 0; i < types.CriteriaCount; i++ {
		name := types.Criterion(i).String()
		if r, ok := s.CriterionRates[name]; ok && r < rate {
			weakest, rate = name, r
		}
	}
	if weakest != "" && rate < weakCriterionRate {
		return ActionCard{
			Insight: fmt.Sprintf("Criterion %s met in only %.0f%% of calls", weakest, rate*100),
			Action:  coaching[weakest],
			Impact:  "Lift calls from MID to HIGH category",
		}
	}
	return ActionCard{
		Insight: fmt.Sprintf("Conformity at %.0f%% with no dominant gap", s.ConformityRate*100),
		Action:  "Keep monitoring and sample calls for manual review",
		Impact:  "Low immediate intervention",
	}
}
