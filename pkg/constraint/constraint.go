// Package constraint decides which purchases and contributions may be
// mutated or removed without corrupting the chronological chain. Every
// check is a pure function of a ledger snapshot plus the acting
// identity; nothing here has side effects.
package constraint

import (
	"github.com/gridsplit/gridsplit/pkg/ledger"
)

// CanDeletePurchase denies deletion of a purchase that already has a
// contribution referencing it.
func CanDeletePurchase(snap ledger.Snapshot, purchaseID string) error {
	if _, ok := snap.Purchase(purchaseID); !ok {
		return &ledger.NotFoundError{Entity: ledger.EntityPurchase, ID: purchaseID}
	}
	if _, settled := snap.ContributionFor(purchaseID); settled {
		return &ledger.ConstraintError{
			Kind:   ledger.ConstraintHasContribution,
			Entity: ledger.EntityPurchase,
			ID:     purchaseID,
			Detail: "a purchase with a contribution cannot be deleted",
		}
	}
	return nil
}

// CanEditPurchase denies direct edits of a purchase with a
// contribution; such purchases change only through the recalculation
// path.
func CanEditPurchase(snap ledger.Snapshot, purchaseID string, actor ledger.Actor) error {
	if _, ok := snap.Purchase(purchaseID); !ok {
		return &ledger.NotFoundError{Entity: ledger.EntityPurchase, ID: purchaseID}
	}
	if actor.Locked {
		return &ledger.PermissionError{ActorID: actor.ID, Reason: "account is locked"}
	}
	if _, settled := snap.ContributionFor(purchaseID); settled {
		return &ledger.ConstraintError{
			Kind:   ledger.ConstraintHasContribution,
			Entity: ledger.EntityPurchase,
			ID:     purchaseID,
			Detail: "a purchase with a contribution can only change through recalculation",
		}
	}
	return nil
}

// CanDeleteContribution allows deletion only of the system-wide most
// recently created contribution, by insertion order across all users.
// Deleting anything older would leave a gap in the chronological chain.
func CanDeleteContribution(snap ledger.Snapshot, contributionID string, actor ledger.Actor) error {
	c, ok := snap.Contribution(contributionID)
	if !ok {
		return &ledger.NotFoundError{Entity: ledger.EntityContribution, ID: contributionID}
	}
	if !actor.Admin && actor.ID != c.UserID {
		return &ledger.PermissionError{ActorID: actor.ID, Reason: "only the owner or an admin may delete a contribution"}
	}
	latest, _ := snap.LatestContribution()
	if latest.ID != c.ID {
		return &ledger.ConstraintError{
			Kind:   ledger.ConstraintNotLatest,
			Entity: ledger.EntityContribution,
			ID:     contributionID,
			Detail: "only the most recently created contribution may be deleted",
		}
	}
	return nil
}

// CanEditContribution allows the owner or an admin to edit the
// contribution amount. Derived fields (meter reading, tokens consumed)
// are never editable.
func CanEditContribution(snap ledger.Snapshot, contributionID string, actor ledger.Actor) error {
	c, ok := snap.Contribution(contributionID)
	if !ok {
		return &ledger.NotFoundError{Entity: ledger.EntityContribution, ID: contributionID}
	}
	if actor.Locked {
		return &ledger.PermissionError{ActorID: actor.ID, Reason: "account is locked"}
	}
	if !actor.Admin && actor.ID != c.UserID {
		return &ledger.PermissionError{ActorID: actor.ID, Reason: "only the owner or an admin may edit a contribution"}
	}
	return nil
}
