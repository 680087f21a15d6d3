package reconciliation

import (
	"sort"

	"github.com/shopspring/decimal"
)

// kindPriority orders movements sharing a timestamp: a count first, so postings
// at the same instant apply on top of the counted baseline.
var kindPriority = map[MovementKind]int{
	KindInventory: 0,
	KindDocument:  1,
	KindManual:    2,
}

// SortMovements orders movements in replay order in place.
func SortMovements(movements []MovementSource) {
	sort.SliceStable(movements, func(i, j int) bool {
		a, b := movements[i], movements[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if kindPriority[a.Kind] != kindPriority[b.Kind] {
			return kindPriority[a.Kind] < kindPriority[b.Kind]
		}
		return a.Sequence < b.Sequence
	})
}

// Replay folds movements into a calculated quantity starting from start.
// Replacement movements overwrite the running total; all others add to it.
// The input slice is not modified.
func Replay(start decimal.Decimal, movements []MovementSource) decimal.Decimal {
	if len(movements) == 0 {
		return start
	}
	ordered := make([]MovementSource, len(movements))
	copy(ordered, movements)
	SortMovements(ordered)

	running := start
	for _, m := range ordered {
		if m.IsReplacement {
			running = m.SignedQuantity
			continue
		}
		running = running.Add(m.SignedQuantity)
	}
	return running
}
