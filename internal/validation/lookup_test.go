package validation

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"voice-conformity-go/internal/store"
	"voice-conformity-go/internal/types"
)

func newLookup(t *testing.T) *Lookup {
	t.Helper()
	wh, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "v.db"), "validations")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = wh.Close() })
	return New(wh, "validations", time.Second, nil)
}

func TestCandidates(t *testing.T) {
	cases := map[string][]string{
		"729143":    {"729143", "000729143"},
		"000729143": {"000729143", "729143"},
		"X12":       {"X12"},
		" ":         nil,
	}
	for in, want := range cases {
		if got := Candidates(in); !reflect.DeepEqual(got, want) {
			t.Errorf("Candidates(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLookupLatestWins(t *testing.T) {
	ctx := context.Background()
	l := newLookup(t)

	older := types.ValidationContext{PriorOutcomeType: "No me explicaron bien", SellerName: "P. Rojas",
		ContextTimestamp: time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)}
	newer := types.ValidationContext{PriorOutcomeType: "Adj.Inmediata", SellerName: "L. Soto", SupervisorName: "M. Diaz",
		ContextTimestamp: time.Date(2025, 1, 9, 9, 0, 0, 0, time.UTC)}
	for _, vc := range []types.ValidationContext{older, newer} {
		if err := l.Record(ctx, "729143", vc); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got := l.Lookup(ctx, "729143")
	if got.PriorOutcomeType != "Adj.Inmediata" || got.SellerName != "L. Soto" || got.SupervisorName != "M. Diaz" {
		t.Fatalf("got %+v", got)
	}
	if !got.ContextTimestamp.Equal(newer.ContextTimestamp) {
		t.Fatalf("timestamp = %v", got.ContextTimestamp)
	}
}

func TestLookupAbsentIsNone(t *testing.T) {
	l := newLookup(t)
	if got := l.Lookup(context.Background(), "111"); !got.IsNone() || got.PriorOutcomeType != types.NoPriorOutcome {
		t.Fatalf("got %+v", got)
	}
}

func TestLookupPlaceholderOutcomeIsNone(t *testing.T) {
	ctx := context.Background()
	l := newLookup(t)
	if err := l.Record(ctx, "5", types.ValidationContext{PriorOutcomeType: "Sin datos"}); err != nil {
		t.Fatal(err)
	}
	if got := l.Lookup(ctx, "5"); !got.IsNone() {
		t.Fatalf("got %+v", got)
	}
}

type brokenWarehouse struct{ store.Warehouse }

func (brokenWarehouse) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, errors.New("connection refused")
}

func TestLookupDegradesOnError(t *testing.T) {
	l := New(brokenWarehouse{}, "validations", time.Second, nil)
	if got := l.Lookup(context.Background(), "729143"); !got.IsNone() {
		t.Fatalf("expected none context, got %+v", got)
	}
	if _, err := l.Find(context.Background(), "729143"); err == nil {
		t.Fatal("Find should surface the error")
	}
}
