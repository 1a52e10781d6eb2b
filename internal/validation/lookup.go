// Package validation finds the most recent prior validation outcome for a
// customer identity. A missing record, or a failed lookup, yields the "none"
// context; the pipeline never fails an item because of it.
package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/store"
	"voice-conformity-go/internal/types"
)

// identityWidth is the zero-padded width of national document numbers in the
// validation table.
const identityWidth = 9

// Outcome types that carry no information.
var emptyOutcomes = map[string]bool{"": true, "sin datos": true, "none": true, "error": true}

type Lookup struct {
	wh      store.Warehouse
	table   string
	timeout time.Duration
	log     *logger.Logger
}

func New(wh store.Warehouse, table string, timeout time.Duration, log *logger.Logger) *Lookup {
	if table == "" {
		table = "validations"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Lookup{wh: wh, table: table, timeout: timeout, log: log.Component("validation")}
}

// Lookup returns the latest validation context for identity, or the none
// context when there is none or the warehouse cannot be reached.
func (l *Lookup) Lookup(ctx context.Context, identity string) types.ValidationContext {
	vc, err := l.Find(ctx, identity)
	if err != nil {
		l.log.WithError(err).WithField("identity", identity).Warn("validation lookup failed, continuing without context")
		return types.NoneContext()
	}
	if vc.IsNone() {
		l.log.WithField("identity", identity).Debug("no prior validation on file")
	}
	return vc
}

// Find is Lookup without degradation.
func (l *Lookup) Find(ctx context.Context, identity string) (types.ValidationContext, error) {
	candidates := Candidates(identity)
	if len(candidates) == 0 {
		return types.NoneContext(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(candidates)), ", ")
	query := fmt.Sprintf(`SELECT outcome_type, counterpart_name, seller_name, supervisor_name, manager_name, validated_at
    FROM %s WHERE identity IN (%s) ORDER BY validated_at DESC LIMIT 1`, l.table, placeholders)
	args := make([]any, len(candidates))
	for i, c := range candidates {
		args[i] = c
	}

	rows, err := l.wh.Query(ctx, query, args...)
	if err != nil {
		return types.NoneContext(), fmt.Errorf("query %s: %w", l.table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return types.NoneContext(), rows.Err()
	}
	var (
		vc          types.ValidationContext
		validatedAt string
	)
	if err := rows.Scan(&vc.PriorOutcomeType, &vc.CounterpartName, &vc.SellerName,
		&vc.SupervisorName, &vc.ManagerName, &validatedAt); err != nil {
		return types.NoneContext(), fmt.Errorf("scan %s: %w", l.table, err)
	}
	vc.PriorOutcomeType = strings.TrimSpace(vc.PriorOutcomeType)
	if emptyOutcomes[strings.ToLower(vc.PriorOutcomeType)] {
		vc.PriorOutcomeType = types.NoPriorOutcome
	}
	vc.ContextTimestamp = store.ParseTimestamp(validatedAt)
	return vc, rows.Err()
}

// Record stores a validation outcome. Used to seed local warehouses.
func (l *Lookup) Record(ctx context.Context, identity string, vc types.ValidationContext) error {
	row := []any{
		padIdentity(strings.TrimSpace(identity)), vc.PriorOutcomeType, vc.CounterpartName, vc.SellerName,
		vc.SupervisorName, vc.ManagerName, store.FormatTimestamp(vc.ContextTimestamp),
	}
	return l.wh.Insert(ctx, l.table, store.ValidationColumns, [][]any{row})
}

// Candidates lists the spellings an identity may have in the validation
// table: as given, zero-padded to nine digits, and without leading zeros.
func Candidates(identity string) []string {
	id := strings.TrimSpace(identity)
	if id == "" {
		return nil
	}
	out := []string{id}
	add := func(s string) {
		for _, existing := range out {
			if existing == s {
				return
			}
		}
		out = append(out, s)
	}
	if isDigits(id) {
		add(padIdentity(id))
		if n, err := strconv.ParseUint(id, 10, 64); err == nil {
			add(strconv.FormatUint(n, 10))
		}
	}
	return out
}

func padIdentity(id string) string {
	if isDigits(id) && len(id) < identityWidth {
		return strings.Repeat("0", identityWidth-len(id)) + id
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
