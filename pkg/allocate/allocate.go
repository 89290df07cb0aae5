// Package allocate computes each contribution's proportional true cost,
// efficiency, and over/under-payment, and the system-wide running
// balance. All money values stay at full decimal precision through
// accumulation; rounding happens only at presentation.
package allocate

import (
	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

var hundred = decimal.NewFromInt(100)

// Allocation is the derived cost breakdown for one contribution.
type Allocation struct {
	TokensConsumed decimal.Decimal `json:"tokens_consumed"`
	// TrueCost is the contribution's proportional share of the
	// purchase's total payment.
	TrueCost decimal.Decimal `json:"true_cost"`
	// EfficiencyPct is trueCost/amount * 100, or zero when amount is zero.
	EfficiencyPct decimal.Decimal `json:"efficiency_pct"`
	// Overpayment is amount - trueCost; positive means the user paid
	// more than their fair share.
	Overpayment decimal.Decimal `json:"overpayment"`
}

// Allocate computes the cost breakdown of a contribution amount for
// tokensConsumed out of a purchase's totalTokens/totalPayment.
// totalTokens must be positive; callers validate that at purchase
// creation, so a zero here yields a zero allocation rather than a panic.
func Allocate(amount, tokensConsumed, totalTokens, totalPayment decimal.Decimal) Allocation {
	a := Allocation{TokensConsumed: tokensConsumed}
	if totalTokens.IsZero() {
		a.Overpayment = amount
		return a
	}
	a.TrueCost = tokensConsumed.Div(totalTokens).Mul(totalPayment)
	if amount.IsPositive() {
		a.EfficiencyPct = a.TrueCost.Div(amount).Mul(hundred)
	}
	a.Overpayment = amount.Sub(a.TrueCost)
	return a
}

// ForContribution computes the allocation of an existing contribution
// against its parent purchase.
func ForContribution(c ledger.Contribution, p ledger.Purchase) Allocation {
	return Allocate(c.Amount, c.TokensConsumed, p.TotalTokens, p.TotalPayment)
}

// RunningBalance is the cumulative overpayment across every
// contribution in the snapshot. It is recomputed by full re-scan on
// every call; addition is commutative, so the result is independent of
// iteration order, which callers use as a consistency check.
func RunningBalance(snap ledger.Snapshot) decimal.Decimal {
	balance := decimal.Zero
	for _, c := range snap.Contributions {
		p, ok := snap.Purchase(c.PurchaseID)
		if !ok {
			continue
		}
		balance = balance.Add(ForContribution(c, p).Overpayment)
	}
	return balance
}
