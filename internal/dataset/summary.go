package dataset

import (
	"time"
)

// ManifestSummary describes the registry as loaded, before resolution.
type ManifestSummary struct {
	Path          string    `json:"path"`
	RowsRead      int       `json:"rows_read"`
	Items         int       `json:"items"`
	Dropped       int       `json:"dropped"`
	UniqueRefs    int       `json:"unique_refs"`
	DuplicateRefs int       `json:"duplicate_refs"`
	DatedItems    int       `json:"dated_items"`
	Earliest      time.Time `json:"earliest,omitempty"`
	Latest        time.Time `json:"latest,omitempty"`
}

// Summarize counts duplicates and the call-date range. DuplicateRefs is the
// number of references that appear more than once.
func Summarize(m *Manifest) ManifestSummary {
	if m == nil {
		return ManifestSummary{}
	}
	s := ManifestSummary{
		Path:     m.Path,
		RowsRead: m.RowsRead,
		Items:    len(m.Items),
		Dropped:  m.Dropped,
	}

	seen := make(map[string]int, len(m.Items))
	for _, it := range m.Items {
		seen[it.AudioRef]++
		if it.CallDate.IsZero() {
			continue
		}
		s.DatedItems++
		if s.Earliest.IsZero() || it.CallDate.Before(s.Earliest) {
			s.Earliest = it.CallDate
		}
		if it.CallDate.After(s.Latest) {
			s.Latest = it.CallDate
		}
	}
	s.UniqueRefs = len(seen)
	for _, n := range seen {
		if n > 1 {
			s.DuplicateRefs++
		}
	}
	return s
}
