package aggregator

import (
	"testing"

	"voice-conformity-go/internal/types"
)

func rec(criteria types.CriterionJudgment, cat types.Category, conf types.Conformity, seller string) types.AnalysisRecord {
	return types.AnalysisRecord{Criteria: criteria, Category: cat, Conformity: conf, Score: map[types.Category]int{
		types.CategoryTop: 100, types.CategoryHigh: 80, types.CategoryMid: 60, types.CategoryLow: 40,
	}[cat], SellerName: seller, Cost: 0.01}
}

func TestAggregate(t *testing.T) {
	records := []types.AnalysisRecord{
		rec(types.CriterionJudgment{true, true, true, true, true}, types.CategoryTop, types.Conforming, "Ana"),
		rec(types.CriterionJudgment{true, true, false, true, true}, types.CategoryHigh, types.Conforming, "Ana"),
		rec(types.CriterionJudgment{true, false, false, false, false}, types.CategoryLow, types.Nonconforming, "Beto"),
		rec(types.CriterionJudgment{true, true, true, false, false}, types.CategoryMid, types.Conforming, ""),
	}
	s := Aggregate(records)

	if s.Total != 4 || s.ByCategory[types.CategoryTop] != 1 || s.ByConformity[types.Conforming] != 3 {
		t.Fatalf("summary = %+v", s)
	}
	if s.ConformityRate != 0.75 || s.AverageScore != 70 {
		t.Errorf("rate = %v score = %v", s.ConformityRate, s.AverageScore)
	}
	if s.CriticalFailures != 2 || s.CriticalFailureRate != 0.5 {
		t.Errorf("critical = %d (%v)", s.CriticalFailures, s.CriticalFailureRate)
	}
	if s.CriterionRates["identity_disclosure"] != 1 || s.CriterionRates["next_steps_disclosure"] != 0.5 {
		t.Errorf("criterion rates = %v", s.CriterionRates)
	}
	if len(s.BySeller) != 3 || s.BySeller[0].Name != "Beto" || s.BySeller[0].Rate != 0 {
		t.Errorf("by seller = %+v", s.BySeller)
	}
	if s.BySupervisor[0].Name != unassigned || s.BySupervisor[0].Total != 4 {
		t.Errorf("by supervisor = %+v", s.BySupervisor)
	}
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)
	if s.Total != 0 || s.ConformityRate != 0 || len(s.BySeller) != 0 {
		t.Errorf("summary = %+v", s)
	}
}
