package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Snapshot is a consistent read of the full ledger, taken inside the
// transaction that guards a mutation. All sequencing, constraint, and
// recalculation checks are pure functions over a Snapshot; nothing in
// the core caches ordering state between calls.
type Snapshot struct {
	Purchases     []Purchase
	Contributions []Contribution
	// Baseline is the meter reading that substitutes for the
	// predecessor of the very first purchase. It is a ledger-level
	// setting persisted alongside the ledger itself.
	Baseline decimal.Decimal
}

// Chronological returns the purchases ordered by PurchaseDate,
// tie-broken by CreatedAt. The input slice is not modified.
func (s Snapshot) Chronological() []Purchase {
	out := make([]Purchase, len(s.Purchases))
	copy(out, s.Purchases)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PurchaseDate.Before(out[j].PurchaseDate)
	})
	return out
}

// Purchase returns the purchase with the given id.
func (s Snapshot) Purchase(id string) (Purchase, bool) {
	for _, p := range s.Purchases {
		if p.ID == id {
			return p, true
		}
	}
	return Purchase{}, false
}

// Contribution returns the contribution with the given id.
func (s Snapshot) Contribution(id string) (Contribution, bool) {
	for _, c := range s.Contributions {
		if c.ID == id {
			return c, true
		}
	}
	return Contribution{}, false
}

// ContributionFor returns the contribution settling the given purchase,
// if one exists. At most one can exist (unique purchase_id).
func (s Snapshot) ContributionFor(purchaseID string) (Contribution, bool) {
	for _, c := range s.Contributions {
		if c.PurchaseID == purchaseID {
			return c, true
		}
	}
	return Contribution{}, false
}

// PriorPurchase returns the chronological predecessor of the purchase
// with the given id, or ok=false if it is the first purchase.
func (s Snapshot) PriorPurchase(id string) (Purchase, bool) {
	ordered := s.Chronological()
	for i, p := range ordered {
		if p.ID == id {
			if i == 0 {
				return Purchase{}, false
			}
			return ordered[i-1], true
		}
	}
	return Purchase{}, false
}

// NextPurchase returns the chronological successor of the purchase
// with the given id, or ok=false if it is the most recent purchase.
func (s Snapshot) NextPurchase(id string) (Purchase, bool) {
	ordered := s.Chronological()
	for i, p := range ordered {
		if p.ID == id {
			if i == len(ordered)-1 {
				return Purchase{}, false
			}
			return ordered[i+1], true
		}
	}
	return Purchase{}, false
}

// LatestContribution returns the system-wide most recently created
// contribution by insertion order (CreatedAt, tie-broken by Sequence).
// Insertion order governs the deletion gate even when an administrative
// override created contributions out of purchase chronology.
func (s Snapshot) LatestContribution() (Contribution, bool) {
	if len(s.Contributions) == 0 {
		return Contribution{}, false
	}
	latest := s.Contributions[0]
	for _, c := range s.Contributions[1:] {
		if c.CreatedAt.After(latest.CreatedAt) ||
			(c.CreatedAt.Equal(latest.CreatedAt) && c.Sequence > latest.Sequence) {
			latest = c
		}
	}
	return latest, true
}

// NextSequence returns the insertion sequence for a new contribution.
func (s Snapshot) NextSequence() uint64 {
	var max uint64
	for _, c := range s.Contributions {
		if c.Sequence > max {
			max = c.Sequence
		}
	}
	return max + 1
}
