// Package reconcile converts two chronologically adjacent meter
// readings into a token-consumption figure and validates reading
// plausibility. Blocking failures are returned as errors; plausibility
// findings are returned as non-blocking warnings. That separation is
// part of the package contract: a warning never aborts an operation.
package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

// Consumption derives tokens consumed between the prior reading and the
// purchase's reading. Meter readings only move forward, so a negative
// figure is a blocking validation failure.
func Consumption(reading, priorReading decimal.Decimal) (decimal.Decimal, error) {
	consumed := reading.Sub(priorReading)
	if consumed.IsNegative() {
		return decimal.Zero, &ledger.ValidationError{
			Field:  "meter_reading",
			Reason: "reading " + reading.String() + " is below the prior reading " + priorReading.String(),
		}
	}
	return consumed, nil
}

// ConsumptionFor derives tokens consumed for a purchase against its
// chronological predecessor in the snapshot, or against the ledger
// baseline when the purchase is the first in the ledger.
func ConsumptionFor(snap ledger.Snapshot, p ledger.Purchase) (decimal.Decimal, error) {
	return Consumption(p.MeterReading, PriorReading(snap, p))
}

// PriorReading returns the reading that precedes the given purchase:
// its chronological predecessor's reading, or the ledger baseline.
func PriorReading(snap ledger.Snapshot, p ledger.Purchase) decimal.Decimal {
	if prior, ok := snap.PriorPurchase(p.ID); ok {
		return prior.MeterReading
	}
	return snap.Baseline
}

// ValidateDirectReadingEdit guards the direct edit of the most recent
// purchase's own reading: the new value must strictly exceed the
// previous purchase's reading. This is a hard error, not a warning.
func ValidateDirectReadingEdit(newReading, previousPurchaseReading decimal.Decimal) error {
	if newReading.LessThanOrEqual(previousPurchaseReading) {
		return &ledger.ValidationError{
			Field:  "meter_reading",
			Reason: "new reading " + newReading.String() + " must exceed the previous purchase's reading " + previousPurchaseReading.String(),
		}
	}
	return nil
}
