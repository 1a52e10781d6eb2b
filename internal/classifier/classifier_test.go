package classifier

import (
	"strings"
	"testing"

	"voice-conformity-go/internal/types"
)

func judgment(bits ...bool) types.CriterionJudgment {
	var j types.CriterionJudgment
	copy(j[:], bits)
	return j
}

func TestCategoryBoundaries(t *testing.T) {
	c := New(DefaultPolicy())
	none := types.NoneContext()

	cases := []struct {
		name      string
		j         types.CriterionJudgment
		category  types.Category
		conformed types.Conformity
		score     int
	}{
		{"all five", judgment(true, true, true, true, true), types.CategoryTop, types.Conforming, 100},
		{"four without critical", judgment(true, true, false, true, true), types.CategoryHigh, types.Conforming, 80},
		{"four with critical", judgment(true, true, true, false, true), types.CategoryHigh, types.Conforming, 80},
		{"three", judgment(true, false, true, false, true), types.CategoryMid, types.Conforming, 60},
		{"two", judgment(true, false, false, false, true), types.CategoryLow, types.Nonconforming, 40},
		{"zero", judgment(), types.CategoryLow, types.Nonconforming, 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := c.Classify(tc.j, none)
			if v.Category != tc.category || v.Conformity != tc.conformed || v.Score != tc.score {
				t.Fatalf("got %s/%s/%d, want %s/%s/%d", v.Category, v.Conformity, v.Score, tc.category, tc.conformed, tc.score)
			}
			if v.ContextApplied || v.OverrideApplied {
				t.Fatalf("no context expected: %+v", v)
			}
		})
	}
}

func TestTopImpliesCritical(t *testing.T) {
	c := New(DefaultPolicy())
	for mask := 0; mask < 1<<types.CriteriaCount; mask++ {
		var j types.CriterionJudgment
		for i := range j {
			j[i] = mask&(1<<i) != 0
		}
		v := c.Classify(j, types.NoneContext())
		if j.Count() == types.CriteriaCount && !v.CriticalMet {
			t.Fatalf("count=5 with critical unmet for mask %05b", mask)
		}
		if v.Category == types.CategoryTop && (v.Count != 5 || !v.CriticalMet) {
			t.Fatalf("TOP requires all five: mask %05b", mask)
		}
		if (v.Conformity == types.Conforming) != (v.Count >= 3) {
			t.Fatalf("conformity threshold broken without context: mask %05b => %+v", mask, v)
		}
	}
}

func TestCriticalOverrideEnforced(t *testing.T) {
	c := New(DefaultPolicy())
	ctx := types.ValidationContext{PriorOutcomeType: "Adj.Inmediata"}

	v := c.Classify(judgment(true, true, false, true, true), ctx)
	if !v.ContextApplied || !v.OverrideApplied {
		t.Fatalf("expected override: %+v", v)
	}
	if v.Conformity != types.Nonconforming || v.Category != types.CategoryHigh {
		t.Fatalf("got %s/%s", v.Category, v.Conformity)
	}
	if !strings.Contains(v.Rationale, "Prior validation: Adj.Inmediata") || !strings.Contains(v.Rationale, "Override") {
		t.Fatalf("rationale = %q", v.Rationale)
	}

	met := c.Classify(judgment(true, false, true, false, true), ctx)
	if met.Conformity != types.Conforming || met.OverrideApplied {
		t.Fatalf("critical met should keep count rule: %+v", met)
	}
}

func TestCriticalOverrideDisabled(t *testing.T) {
	p := DefaultPolicy()
	p.EnforceCriticalOverride = false
	c := New(p)

	v := c.Classify(judgment(true, true, false, true, true), types.ValidationContext{PriorOutcomeType: "Adj.con nro. de cuotas"})
	if !v.ContextApplied {
		t.Fatal("context should still be reported")
	}
	if v.Conformity != types.Conforming || v.OverrideApplied {
		t.Fatalf("count-only rule expected: %+v", v)
	}
}

func TestNonCriticalContext(t *testing.T) {
	c := New(DefaultPolicy())
	v := c.Classify(judgment(true, true, false, true, false), types.ValidationContext{PriorOutcomeType: "No me explicaron bien"})
	if v.ContextApplied {
		t.Fatal("non-critical outcome should not apply context")
	}
	if !strings.Contains(v.Rationale, "3/5") || !strings.Contains(v.Rationale, "Critical: NO") {
		t.Fatalf("rationale = %q", v.Rationale)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := New(DefaultPolicy())
	j := judgment(true, false, true, true, false)
	ctx := types.ValidationContext{PriorOutcomeType: "Adj.Inmediata"}
	first := c.Classify(j, ctx)
	for i := 0; i < 10; i++ {
		if got := c.Classify(j, ctx); got != first {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}
