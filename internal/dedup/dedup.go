// Package dedup orders search results and filters out records already notified.
package dedup

import (
	"sort"

	"bodaccwatch/internal/bodacc"
)

// Seen is satisfied by storage.SeenSet.
type Seen interface {
	Has(id string) bool
}

// SortRecords returns a copy of records, newest publication date first, ties
// broken by the higher announcement number. Dates compare lexically.
func SortRecords(records []bodacc.Record) []bodacc.Record {
	out := append([]bodacc.Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PublicationDate != b.PublicationDate {
			return a.PublicationDate > b.PublicationDate
		}
		return a.SequenceNumber > b.SequenceNumber
	})
	return out
}

// SelectNew keeps records with an id not in seen, preserving order.
// A nil seen means nothing was seen yet.
func SelectNew(records []bodacc.Record, seen Seen) []bodacc.Record {
	out := make([]bodacc.Record, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		if seen != nil && seen.Has(r.ID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// IDs returns the record ids in order.
func IDs(records []bodacc.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
