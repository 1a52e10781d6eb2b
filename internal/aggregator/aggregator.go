package aggregator

import (
	"sort"

	"voice-conformity-go/internal/types"
)

const unassigned = "unassigned"

// Group is the conformity tally for one seller or supervisor.
type Group struct {
	Name       string  `json:"name"`
	Total      int     `json:"total"`
	Conforming int     `json:"conforming"`
	Rate       float64 `json:"conformity_rate"`
}

type Summary struct {
	Total               int                      `json:"total"`
	ByCategory          map[types.Category]int   `json:"by_category"`
	ByConformity        map[types.Conformity]int `json:"by_conformity"`
	ConformityRate      float64                  `json:"conformity_rate"`
	AverageScore        float64                  `json:"average_score"`
	CriterionRates      map[string]float64       `json:"criterion_rates"`
	CriticalFailures    int                      `json:"critical_failures"`
	CriticalFailureRate float64                  `json:"critical_failure_rate"`
	ContextApplied      int                      `json:"context_applied"`
	BySeller            []Group                  `json:"by_seller"`
	BySupervisor        []Group                  `json:"by_supervisor"`
	JudgeCost           float64                  `json:"judge_cost"`
}

// Aggregate summarizes stored analyses. Groups are sorted by conformity rate
// ascending, then by volume, so the weakest come first.
func Aggregate(records []types.AnalysisRecord) Summary {
	s := Summary{
		Total:          len(records),
		ByCategory:     map[types.Category]int{},
		ByConformity:   map[types.Conformity]int{},
		CriterionRates: map[string]float64{},
	}
	met := [types.CriteriaCount]int{}
	sellers := map[string]*Group{}
	supervisors := map[string]*Group{}
	score := 0
	for _, r := range records {
		s.ByCategory[r.Category]++
		s.ByConformity[r.Conformity]++
		score += r.Score
		s.JudgeCost += r.Cost
		if r.ContextApplied {
			s.ContextApplied++
		}
		if !r.Criteria.Met(types.FairnessOfOutcomeDisclosure) {
			s.CriticalFailures++
		}
		for i, ok := range r.Criteria {
			if ok {
				met[i]++
			}
		}
		conforming := r.Conformity == types.Conforming
		tally(sellers, r.SellerName, conforming)
		tally(supervisors, r.SupervisorName, conforming)
	}
	if s.Total == 0 {
		return s
	}
	s.ConformityRate = ratio(s.ByConformity[types.Conforming], s.Total)
	s.AverageScore = float64(score) / float64(s.Total)
	s.CriticalFailureRate = ratio(s.CriticalFailures, s.Total)
	for i, n := range met {
		s.CriterionRates[types.Criterion(i).String()] = ratio(n, s.Total)
	}
	s.BySeller = flatten(sellers)
	s.BySupervisor = flatten(supervisors)
	return s
}

func tally(groups map[string]*Group, name string, conforming bool) {
	if name == "" {
		name = unassigned
	}
	g, ok := groups[name]
	if !ok {
		g = &Group{Name: name}
		groups[name] = g
	}
	g.Total++
	if conforming {
		g.Conforming++
	}
}

func flatten(groups map[string]*Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		g.Rate = ratio(g.Conforming, g.Total)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rate != out[j].Rate {
			return out[i].Rate < out[j].Rate
		}
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
