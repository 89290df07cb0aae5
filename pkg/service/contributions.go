package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/allocate"
	"github.com/gridsplit/gridsplit/pkg/audit"
	"github.com/gridsplit/gridsplit/pkg/constraint"
	"github.com/gridsplit/gridsplit/pkg/ledger"
	"github.com/gridsplit/gridsplit/pkg/reconcile"
	"github.com/gridsplit/gridsplit/pkg/sequencing"
	"github.com/gridsplit/gridsplit/pkg/store"
)

// CreateContributionInput are the caller-supplied contribution fields.
// MeterReading and TokensConsumed are always derived, never accepted.
type CreateContributionInput struct {
	PurchaseID string
	UserID     string
	Amount     decimal.Decimal
	// Override bypasses the chronological sequencing check. The reason
	// is mandatory when set and lands in the audit event.
	Override       bool
	OverrideReason string
}

// ContributionResult is the success payload of contribution operations:
// the stored record, its derived cost breakdown, any advisory warnings,
// and the post-operation running balance.
type ContributionResult struct {
	Contribution   ledger.Contribution
	Allocation     allocate.Allocation
	Warnings       []ledger.Warning
	RunningBalance decimal.Decimal
}

// CreateContribution settles a purchase. Inside one transaction it
// verifies sequencing and uniqueness against a locked snapshot, derives
// the consumption and allocation figures, and inserts the record.
// Advisory warnings ride along with the successful result.
func (s *Service) CreateContribution(ctx context.Context, in CreateContributionInput, actor ledger.Actor) (ContributionResult, error) {
	if actor.Locked {
		return ContributionResult{}, &ledger.PermissionError{ActorID: actor.ID, Reason: "account is locked"}
	}
	if !in.Amount.IsPositive() {
		return ContributionResult{}, &ledger.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if in.Override && in.OverrideReason == "" {
		return ContributionResult{}, &ledger.ValidationError{Field: "override_reason", Reason: "required when override is set"}
	}

	var result ContributionResult
	err := s.store.Update(ctx, func(tx store.Tx) error {
		snap, err := tx.Snapshot()
		if err != nil {
			return err
		}
		p, ok := snap.Purchase(in.PurchaseID)
		if !ok {
			return &ledger.NotFoundError{Entity: ledger.EntityPurchase, ID: in.PurchaseID}
		}
		if _, settled := snap.ContributionFor(in.PurchaseID); settled {
			return &ledger.DuplicateError{PurchaseID: in.PurchaseID}
		}
		if err := sequencing.ValidateContributionOrder(snap, in.PurchaseID, in.Override); err != nil {
			return err
		}

		consumed, err := reconcile.ConsumptionFor(snap, p)
		if err != nil {
			return err
		}

		c := ledger.Contribution{
			ID:             s.newID(),
			PurchaseID:     in.PurchaseID,
			UserID:         in.UserID,
			Amount:         in.Amount,
			MeterReading:   p.MeterReading,
			TokensConsumed: consumed,
			CreatedAt:      s.clock(),
			Sequence:       snap.NextSequence(),
		}
		if err := tx.InsertContribution(c); err != nil {
			if errors.Is(err, store.ErrDuplicateContribution) {
				return &ledger.DuplicateError{PurchaseID: in.PurchaseID}
			}
			return err
		}

		after, err := tx.Snapshot()
		if err != nil {
			return err
		}
		result = ContributionResult{
			Contribution:   c,
			Allocation:     allocate.ForContribution(c, p),
			Warnings:       s.advisor.Check(snap, p, consumed, s.clock()),
			RunningBalance: allocate.RunningBalance(after),
		}
		return nil
	})
	if err != nil {
		return ContributionResult{}, err
	}

	s.logger.Info("contribution created",
		"contribution_id", result.Contribution.ID,
		"purchase_id", in.PurchaseID,
		"user_id", in.UserID,
		"override", in.Override,
		"warnings", len(result.Warnings))
	s.record(ctx, audit.Event{
		Actor:          actor.ID,
		Action:         audit.ActionCreate,
		EntityType:     ledger.EntityContribution,
		EntityID:       result.Contribution.ID,
		After:          audit.Marshal(result.Contribution),
		Override:       in.Override,
		OverrideReason: in.OverrideReason,
	})
	return result, nil
}

// EditContribution changes a contribution's amount. Derived fields stay
// untouched; only the owner or an admin may edit.
func (s *Service) EditContribution(ctx context.Context, contributionID string, newAmount decimal.Decimal, actor ledger.Actor) (ContributionResult, error) {
	if !newAmount.IsPositive() {
		return ContributionResult{}, &ledger.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var result ContributionResult
	var before ledger.Contribution
	err := s.store.Update(ctx, func(tx store.Tx) error {
		snap, err := tx.Snapshot()
		if err != nil {
			return err
		}
		if err := constraint.CanEditContribution(snap, contributionID, actor); err != nil {
			return err
		}
		c, _ := snap.Contribution(contributionID)
		before = c
		c.Amount = newAmount
		if err := tx.UpdateContribution(c); err != nil {
			return err
		}

		p, _ := snap.Purchase(c.PurchaseID)
		after, err := tx.Snapshot()
		if err != nil {
			return err
		}
		result = ContributionResult{
			Contribution:   c,
			Allocation:     allocate.ForContribution(c, p),
			RunningBalance: allocate.RunningBalance(after),
		}
		return nil
	})
	if err != nil {
		return ContributionResult{}, err
	}

	s.logger.Info("contribution edited", "contribution_id", contributionID, "actor", actor.ID)
	s.record(ctx, audit.Event{
		Actor:      actor.ID,
		Action:     audit.ActionEdit,
		EntityType: ledger.EntityContribution,
		EntityID:   contributionID,
		Before:     audit.Marshal(before),
		After:      audit.Marshal(result.Contribution),
	})
	return result, nil
}

// DeleteContribution removes the system-wide most recently created
// contribution. Anything older is protected; deleting it would leave a
// gap in the chronological chain.
func (s *Service) DeleteContribution(ctx context.Context, contributionID string, actor ledger.Actor) error {
	var before ledger.Contribution
	err := s.store.Update(ctx, func(tx store.Tx) error {
		snap, err := tx.Snapshot()
		if err != nil {
			return err
		}
		if err := constraint.CanDeleteContribution(snap, contributionID, actor); err != nil {
			return err
		}
		before, _ = snap.Contribution(contributionID)
		return tx.DeleteContribution(contributionID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("contribution deleted", "contribution_id", contributionID, "actor", actor.ID)
	s.record(ctx, audit.Event{
		Actor:      actor.ID,
		Action:     audit.ActionDelete,
		EntityType: ledger.EntityContribution,
		EntityID:   contributionID,
		Before:     audit.Marshal(before),
	})
	return nil
}
