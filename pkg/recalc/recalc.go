// Package recalc previews the cascading effect of an administrative
// correction to a historical purchase's meter reading. Preview is pure;
// the transactional apply in the service layer re-runs the identical
// computation inside a single store transaction.
package recalc

import (
	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/allocate"
	"github.com/gridsplit/gridsplit/pkg/ledger"
	"github.com/gridsplit/gridsplit/pkg/reconcile"
)

// Violation is a constraint the new reading would break. Any violation
// blocks apply; preview surfaces all of them without committing.
type Violation struct {
	Kind   ledger.ConstraintKind `json:"kind"`
	Detail string                `json:"detail"`
}

// ImpactAnalysis is the side-effect-free delta of a reading change.
type ImpactAnalysis struct {
	PurchaseID string          `json:"purchase_id"`
	OldReading decimal.Decimal `json:"old_reading"`
	NewReading decimal.Decimal `json:"new_reading"`

	// HasContribution reports whether a dependent contribution exists.
	// Without one, only the purchase row changes.
	HasContribution bool   `json:"has_contribution"`
	ContributionID  string `json:"contribution_id,omitempty"`

	OldTokensConsumed decimal.Decimal `json:"old_tokens_consumed"`
	NewTokensConsumed decimal.Decimal `json:"new_tokens_consumed"`

	OldAllocation allocate.Allocation `json:"old_allocation"`
	NewAllocation allocate.Allocation `json:"new_allocation"`

	Violations []Violation `json:"violations,omitempty"`
}

// Blocked reports whether the change may not be applied.
func (ia ImpactAnalysis) Blocked() bool {
	return len(ia.Violations) > 0
}

// Preview recomputes the dependent contribution's consumption and
// allocation against the new reading and the unchanged prior-purchase
// baseline, and flags every constraint the change would violate. Only
// the one directly dependent contribution is analyzed: a contribution's
// consumption depends on its own purchase and the predecessor, and a
// change that would leave a settled successor's figures stale is
// blocked by the stale-successor violation instead of cascaded.
func Preview(snap ledger.Snapshot, purchaseID string, newReading decimal.Decimal) (ImpactAnalysis, error) {
	p, ok := snap.Purchase(purchaseID)
	if !ok {
		return ImpactAnalysis{}, &ledger.NotFoundError{Entity: ledger.EntityPurchase, ID: purchaseID}
	}

	ia := ImpactAnalysis{
		PurchaseID: purchaseID,
		OldReading: p.MeterReading,
		NewReading: newReading,
	}

	prior := reconcile.PriorReading(snap, p)
	newTokens := newReading.Sub(prior)

	if newTokens.IsNegative() {
		ia.Violations = append(ia.Violations, Violation{
			Kind:   ledger.ConstraintNegativeTokens,
			Detail: "new reading " + newReading.String() + " is below the prior reading " + prior.String(),
		})
	}
	if newTokens.GreaterThan(p.TotalTokens) {
		ia.Violations = append(ia.Violations, Violation{
			Kind:   ledger.ConstraintExceedsTotal,
			Detail: "recalculated consumption " + newTokens.String() + " exceeds purchased tokens " + p.TotalTokens.String(),
		})
	}
	if next, ok := snap.NextPurchase(purchaseID); ok {
		if newReading.GreaterThan(next.MeterReading) {
			ia.Violations = append(ia.Violations, Violation{
				Kind:   ledger.ConstraintReadingOrder,
				Detail: "new reading " + newReading.String() + " exceeds the next purchase's reading " + next.MeterReading.String(),
			})
		}
		// The successor's recorded consumption is derived from this
		// purchase's reading. Moving the reading in either direction
		// would leave that figure stale.
		if _, settled := snap.ContributionFor(next.ID); settled && !newReading.Equal(p.MeterReading) {
			ia.Violations = append(ia.Violations, Violation{
				Kind:   ledger.ConstraintStaleSuccessor,
				Detail: "purchase " + next.ID + " has a contribution whose consumption is derived from the current reading " + p.MeterReading.String(),
			})
		}
	}

	c, hasContribution := snap.ContributionFor(purchaseID)
	if !hasContribution {
		return ia, nil
	}

	ia.HasContribution = true
	ia.ContributionID = c.ID
	ia.OldTokensConsumed = c.TokensConsumed
	ia.NewTokensConsumed = newTokens
	ia.OldAllocation = allocate.ForContribution(c, p)
	ia.NewAllocation = allocate.Allocate(c.Amount, newTokens, p.TotalTokens, p.TotalPayment)
	return ia, nil
}
