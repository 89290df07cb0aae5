package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/audit"
	"github.com/gridsplit/gridsplit/pkg/ledger"
	"github.com/gridsplit/gridsplit/pkg/recalc"
	"github.com/gridsplit/gridsplit/pkg/reconcile"
	"github.com/gridsplit/gridsplit/pkg/store"
)

// ApplyResult is the outcome of an applied meter-reading correction.
type ApplyResult struct {
	UpdatedPurchase ledger.Purchase
	// RecalculatedContribution is nil when the purchase had no
	// contribution to cascade into.
	RecalculatedContribution *ledger.Contribution
	Analysis                 recalc.ImpactAnalysis
	// CorrelationID links the audit events this apply emitted.
	CorrelationID string
}

// PreviewMeterReadingChange computes the impact of changing a
// purchase's meter reading without committing anything.
func (s *Service) PreviewMeterReadingChange(ctx context.Context, purchaseID string, newReading decimal.Decimal) (recalc.ImpactAnalysis, error) {
	snap, err := s.store.Read(ctx)
	if err != nil {
		return recalc.ImpactAnalysis{}, err
	}
	return recalc.Preview(snap, purchaseID, newReading)
}

// ApplyMeterReadingChange re-runs the preview computation inside one
// transaction and, when no constraint is violated, updates the purchase
// and its dependent contribution together. Partial application cannot
// happen: a violation aborts the transaction with both rows unchanged.
// Only admins may apply corrections. The override flag does not bypass
// constraint violations; it marks the audit events so the bypass of the
// advisory layer is individually attributable.
func (s *Service) ApplyMeterReadingChange(ctx context.Context, purchaseID string, newReading decimal.Decimal, override bool, actor ledger.Actor) (ApplyResult, error) {
	if !actor.Admin {
		return ApplyResult{}, &ledger.PermissionError{ActorID: actor.ID, Reason: "only an admin may apply a meter-reading correction"}
	}

	var (
		result          ApplyResult
		purchaseBefore  ledger.Purchase
		contribBefore   ledger.Contribution
		hasContribution bool
	)
	err := s.store.Update(ctx, func(tx store.Tx) error {
		snap, err := tx.Snapshot()
		if err != nil {
			return err
		}

		analysis, err := recalc.Preview(snap, purchaseID, newReading)
		if err != nil {
			return err
		}
		if analysis.Blocked() {
			v := analysis.Violations[0]
			return &ledger.ConstraintError{
				Kind:   v.Kind,
				Entity: ledger.EntityPurchase,
				ID:     purchaseID,
				Detail: v.Detail,
			}
		}

		p, _ := snap.Purchase(purchaseID)
		purchaseBefore = p

		// Editing the most recent purchase's own reading directly must
		// strictly exceed the previous purchase's reading.
		if _, hasNext := snap.NextPurchase(purchaseID); !hasNext {
			if prior, ok := snap.PriorPurchase(purchaseID); ok {
				if err := reconcile.ValidateDirectReadingEdit(newReading, prior.MeterReading); err != nil {
					return err
				}
			}
		}

		p.MeterReading = newReading
		if err := tx.UpdatePurchase(p); err != nil {
			return err
		}
		result = ApplyResult{UpdatedPurchase: p, Analysis: analysis}

		if analysis.HasContribution {
			c, _ := snap.Contribution(analysis.ContributionID)
			contribBefore = c
			hasContribution = true
			c.MeterReading = newReading
			c.TokensConsumed = analysis.NewTokensConsumed
			if err := tx.UpdateContribution(c); err != nil {
				return err
			}
			result.RecalculatedContribution = &c
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	correlationID := s.newID()
	result.CorrelationID = correlationID
	s.logger.Info("meter reading corrected",
		"purchase_id", purchaseID,
		"old_reading", purchaseBefore.MeterReading.String(),
		"new_reading", newReading.String(),
		"cascaded", hasContribution,
		"correlation_id", correlationID)

	s.record(ctx, audit.Event{
		Actor:         actor.ID,
		Action:        audit.ActionRecalculate,
		EntityType:    ledger.EntityPurchase,
		EntityID:      purchaseID,
		Before:        audit.Marshal(purchaseBefore),
		After:         audit.Marshal(result.UpdatedPurchase),
		CorrelationID: correlationID,
		Override:      override,
	})
	if hasContribution {
		s.record(ctx, audit.Event{
			Actor:         actor.ID,
			Action:        audit.ActionRecalculate,
			EntityType:    ledger.EntityContribution,
			EntityID:      contribBefore.ID,
			Before:        audit.Marshal(contribBefore),
			After:         audit.Marshal(*result.RecalculatedContribution),
			CorrelationID: correlationID,
			Override:      override,
		})
	}
	return result, nil
}
