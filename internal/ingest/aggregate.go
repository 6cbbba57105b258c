package ingest

import (
	"sort"

	"github.com/clinrel/clinrel-go/internal/models"
)

// Delta is the accumulated contribution of one upload to one pair. It is a
// per-upload increment, not an absolute value: the store gateway merges it
// into the persisted totals.
type Delta struct {
	PairKey  string
	Identity models.PairIdentity
	Counts   models.PairCounts
	RowCount int
}

// PairKey derives the canonical, order-sensitive identifier for a row's
// concept pair: each side keys on "code|system" when a code is present and
// falls back to the concept name otherwise. (A,B) and (B,A) are distinct.
func PairKey(id models.PairIdentity) string {
	return sideKey(id.CodeA, id.SystemA, id.ConceptA) + "__" + sideKey(id.CodeB, id.SystemB, id.ConceptB)
}

func sideKey(code, system, concept string) string {
	if code != "" {
		return code + "|" + system
	}
	return concept
}

// Accumulate groups rows by pair key and sums their count fields, producing
// one delta per distinct pair for this upload. Identity fields come from the
// first-seen row of each pair.
func Accumulate(rows []Row) map[string]*Delta {
	deltas := make(map[string]*Delta)
	for _, row := range rows {
		key := PairKey(row.Identity)
		d, ok := deltas[key]
		if !ok {
			d = &Delta{PairKey: key, Identity: row.Identity}
			deltas[key] = d
		}
		d.Counts.Add(row.Counts)
		d.RowCount++
	}
	return deltas
}

// SortedKeys returns the delta map's pair keys in ascending order.
func SortedKeys(deltas map[string]*Delta) []string {
	keys := make([]string, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
