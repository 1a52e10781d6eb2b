// Package classifier maps the five rubric judgments and the prior validation
// outcome to a category and a conformity verdict. It is pure: the same inputs
// always give the same verdict and nothing here performs I/O.
package classifier

import (
	"fmt"
	"strings"

	"voice-conformity-go/internal/types"
)

// CriticalCriterion is the fairness-of-outcome disclosure: the agent states
// that nobody can guarantee award and the customer must win the draw or auction.
const CriticalCriterion = types.FairnessOfOutcomeDisclosure

// Policy is the rule table. CriticalOutcomes lists the prior validation
// outcomes that make the critical criterion decisive when the override is on.
type Policy struct {
	CriticalOutcomes        []string
	EnforceCriticalOverride bool
	ConformityThreshold     int
}

func DefaultPolicy() Policy {
	return Policy{
		CriticalOutcomes:        []string{"Adj.Inmediata", "Adj.con nro. de cuotas"},
		EnforceCriticalOverride: true,
		ConformityThreshold:     3,
	}
}

var categoryScore = map[types.Category]int{
	types.CategoryTop:  100,
	types.CategoryHigh: 80,
	types.CategoryMid:  60,
	types.CategoryLow:  40,
}

// Score is the percentage attached to a category.
func Score(c types.Category) int { return categoryScore[c] }

type Verdict struct {
	Category        types.Category
	Conformity      types.Conformity
	Score           int
	Count           int
	CriticalMet     bool
	ContextApplied  bool
	OverrideApplied bool
	Rationale       string
}

type Classifier struct {
	policy   Policy
	critical map[string]struct{}
}

func New(p Policy) *Classifier {
	if p.ConformityThreshold <= 0 {
		p.ConformityThreshold = 3
	}
	critical := make(map[string]struct{}, len(p.CriticalOutcomes))
	for _, o := range p.CriticalOutcomes {
		if o = strings.TrimSpace(o); o != "" {
			critical[o] = struct{}{}
		}
	}
	return &Classifier{policy: p, critical: critical}
}

func (c *Classifier) Policy() Policy { return c.policy }

// IsCritical reports whether a prior validation outcome is one of the
// critical misconception outcomes.
func (c *Classifier) IsCritical(outcome string) bool {
	_, ok := c.critical[strings.TrimSpace(outcome)]
	return ok
}

func (c *Classifier) Classify(j types.CriterionJudgment, vc types.ValidationContext) Verdict {
	v := Verdict{
		Count:       j.Count(),
		CriticalMet: j.Met(CriticalCriterion),
	}
	v.ContextApplied = !vc.IsNone() && c.IsCritical(vc.PriorOutcomeType)

	switch {
	case v.Count == types.CriteriaCount && v.CriticalMet:
		v.Category = types.CategoryTop
	case v.Count >= 4:
		v.Category = types.CategoryHigh
	case v.Count >= 3:
		v.Category = types.CategoryMid
	default:
		v.Category = types.CategoryLow
	}
	v.Score = Score(v.Category)

	v.Conformity = types.Nonconforming
	if v.Count >= c.policy.ConformityThreshold {
		v.Conformity = types.Conforming
	}
	if c.policy.EnforceCriticalOverride && v.ContextApplied && !v.CriticalMet {
		v.OverrideApplied = v.Conformity == types.Conforming
		v.Conformity = types.Nonconforming
	}

	v.Rationale = rationale(v, vc)
	return v
}

func rationale(v Verdict, vc types.ValidationContext) string {
	prior := vc.PriorOutcomeType
	if vc.IsNone() {
		prior = types.NoPriorOutcome
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Binary rubric: %d/%d criteria met. Critical: %s. Prior validation: %s.",
		v.Count, types.CriteriaCount, yesNo(v.CriticalMet), prior)
	if v.ContextApplied {
		b.WriteString(" Critical context applied.")
	}
	if v.OverrideApplied {
		b.WriteString(" Override: critical criterion missed after a critical prior outcome, verdict forced to NONCONFORMING.")
	}
	return b.String()
}

func yesNo(ok bool) string {
	if ok {
		return "YES"
	}
	return "NO"
}
