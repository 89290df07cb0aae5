//go:build property
// +build property

// Package allocate_test contains property-based tests for the cost
// allocation arithmetic.
package allocate_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/allocate"
	"github.com/gridsplit/gridsplit/pkg/ledger"
)

// TestFullConsumptionCostsFullPayment verifies that fully consuming a
// purchase at any payment level always yields trueCost == totalPayment.
// Property: Allocate(amount, total, total, payment).TrueCost == payment
func TestFullConsumptionCostsFullPayment(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("full consumption costs the full payment", prop.ForAll(
		func(tokens, payment, amount int) bool {
			totalTokens := decimal.NewFromInt(int64(1 + tokens%10000))
			totalPayment := decimal.NewFromInt(int64(1 + payment%10000))
			paid := decimal.NewFromInt(int64(amount % 10000))

			a := allocate.Allocate(paid, totalTokens, totalTokens, totalPayment)
			if !a.TrueCost.Equal(totalPayment) {
				return false
			}
			return a.Overpayment.Equal(paid.Sub(totalPayment))
		},
		gen.IntRange(0, 1000000),
		gen.IntRange(0, 1000000),
		gen.IntRange(0, 1000000),
	))

	properties.TestingRun(t)
}

// TestTrueCostProportionality verifies partial consumption scales cost
// linearly with tokens consumed.
// Property: TrueCost(k) + TrueCost(total-k) == totalPayment
func TestTrueCostProportionality(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("split consumption conserves total cost", prop.ForAll(
		func(twos, fives, payment, split int) bool {
			// Token totals of the form 2^a * 5^b divide exactly in
			// decimal, so the shares recombine without residue.
			total := int64(1)
			for i := 0; i < twos%10; i++ {
				total *= 2
			}
			for i := 0; i < fives%5; i++ {
				total *= 5
			}
			if total < 2 {
				return true
			}
			totalTokens := decimal.NewFromInt(total)
			totalPayment := decimal.NewFromInt(int64(1 + payment%10000))
			k := decimal.NewFromInt(int64(1 + int64(split)%(total-1)))

			first := allocate.Allocate(decimal.Zero, k, totalTokens, totalPayment)
			second := allocate.Allocate(decimal.Zero, totalTokens.Sub(k), totalTokens, totalPayment)

			return first.TrueCost.Add(second.TrueCost).Equal(totalPayment)
		},
		gen.IntRange(0, 1000000),
		gen.IntRange(0, 1000000),
		gen.IntRange(0, 1000000),
		gen.IntRange(0, 1000000),
	))

	properties.TestingRun(t)
}

// TestRunningBalanceOrderIndependence verifies the re-scanned balance
// ignores the slice order the rows arrive in.
func TestRunningBalanceOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("running balance is order independent", prop.ForAll(
		func(amounts []int, rotate int) bool {
			if len(amounts) == 0 {
				return true
			}
			snap := ledger.Snapshot{Baseline: decimal.NewFromInt(900)}
			reading := decimal.NewFromInt(900)
			for i, amt := range amounts {
				reading = reading.Add(decimal.NewFromInt(int64(1 + amt%50)))
				id := fmt.Sprintf("p-%d", i)
				snap.Purchases = append(snap.Purchases, ledger.Purchase{
					ID:           id,
					TotalTokens:  decimal.NewFromInt(int64(1 + amt%50)),
					TotalPayment: decimal.NewFromInt(int64(1 + amt%40)),
					MeterReading: reading,
					PurchaseDate: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
				})
				snap.Contributions = append(snap.Contributions, ledger.Contribution{
					ID:             fmt.Sprintf("c-%d", i),
					PurchaseID:     id,
					Amount:         decimal.NewFromInt(int64(amt % 60)),
					MeterReading:   reading,
					TokensConsumed: decimal.NewFromInt(int64(1 + amt%50)),
				})
			}

			want := allocate.RunningBalance(snap)

			// Rotate both slices and recompute.
			n := len(amounts)
			r := rotate % n
			rotated := snap
			rotated.Purchases = append(append([]ledger.Purchase{}, snap.Purchases[r:]...), snap.Purchases[:r]...)
			rotated.Contributions = append(append([]ledger.Contribution{}, snap.Contributions[r:]...), snap.Contributions[:r]...)

			return allocate.RunningBalance(rotated).Equal(want)
		},
		gen.SliceOfN(6, gen.IntRange(0, 1000)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
