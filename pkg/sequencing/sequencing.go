// Package sequencing enforces strict chronological contribution order:
// a purchase may be settled only after every chronologically earlier
// purchase already has a contribution, unless an explicit
// administrative override is supplied.
package sequencing

import (
	"github.com/gridsplit/gridsplit/pkg/ledger"
)

// ValidateContributionOrder checks whether a contribution may be
// recorded for the given purchase. The blocking set is computed on
// demand from the snapshot taken inside the guarding transaction; it is
// never cached, so concurrent writers cannot validate against a stale
// "next eligible" figure. With override=true the check always passes;
// the caller is responsible for recording the override in the audit event.
func ValidateContributionOrder(snap ledger.Snapshot, purchaseID string, override bool) error {
	target, ok := snap.Purchase(purchaseID)
	if !ok {
		return &ledger.NotFoundError{Entity: ledger.EntityPurchase, ID: purchaseID}
	}
	if override {
		return nil
	}

	var blocking []string
	for _, p := range snap.Chronological() {
		if p.ID == target.ID {
			break
		}
		if _, settled := snap.ContributionFor(p.ID); !settled {
			blocking = append(blocking, p.ID)
		}
	}
	if len(blocking) > 0 {
		return &ledger.SequencingError{PurchaseID: purchaseID, BlockingPurchaseIDs: blocking}
	}
	return nil
}

// NextEligible returns the id of the earliest purchase without a
// contribution, or ok=false when every purchase is settled. Reporting
// only; the write path always revalidates inside its own transaction.
func NextEligible(snap ledger.Snapshot) (string, bool) {
	for _, p := range snap.Chronological() {
		if _, settled := snap.ContributionFor(p.ID); !settled {
			return p.ID, true
		}
	}
	return "", false
}
