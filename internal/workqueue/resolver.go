// Package workqueue derives the pending work set from the manifest and the
// processed ledger.
package workqueue

import (
	"sort"

	"voice-conformity-go/internal/types"
)

// Resolve returns the manifest items that still need processing, most recent
// call first. The first occurrence of a reference wins; references in
// processed are skipped. Items without a call date sort after dated ones and
// keep manifest order among themselves.
func Resolve(manifest []types.WorkItem, processed map[string]struct{}) []types.WorkItem {
	seen := make(map[string]struct{}, len(manifest))
	pending := make([]types.WorkItem, 0, len(manifest))

	for _, item := range manifest {
		if item.AudioRef == "" {
			continue
		}
		if _, dup := seen[item.AudioRef]; dup {
			continue
		}
		seen[item.AudioRef] = struct{}{}
		if _, done := processed[item.AudioRef]; done {
			continue
		}
		pending = append(pending, item)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i].CallDate, pending[j].CallDate
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.After(b)
		}
	})
	return pending
}

// Ledger builds a processed set from a list of references.
func Ledger(refs ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		out[r] = struct{}{}
	}
	return out
}
