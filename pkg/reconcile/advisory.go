package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

// Advisor performs the plausibility check on an implied daily
// consumption rate against the ledger's historical rates over a
// configurable lookback. Findings are advisory: the caller may proceed.
type Advisor struct {
	// Lookback bounds how far back historical intervals are sampled.
	Lookback time.Duration
	// HighFactor flags a rate above avg*HighFactor (e.g. 2.0).
	HighFactor decimal.Decimal
	// LowFactor flags a rate below avg*LowFactor (e.g. 0.25).
	LowFactor decimal.Decimal
	// MinSamples is the minimum historical interval count before any
	// finding is produced; with too little history every rate looks odd.
	MinSamples int
}

// DefaultAdvisor returns the thresholds used when no profile overrides them.
func DefaultAdvisor() Advisor {
	return Advisor{
		Lookback:   90 * 24 * time.Hour,
		HighFactor: decimal.NewFromFloat(2.0),
		LowFactor:  decimal.NewFromFloat(0.25),
		MinSamples: 2,
	}
}

// dailyRate converts a consumption over an interval into tokens/day.
// Sub-day intervals are clamped to one day to keep rates finite.
func dailyRate(consumed decimal.Decimal, interval time.Duration) decimal.Decimal {
	days := decimal.NewFromFloat(interval.Hours() / 24)
	if days.LessThan(decimal.NewFromInt(1)) {
		days = decimal.NewFromInt(1)
	}
	return consumed.Div(days)
}

// Check compares the implied daily rate of a new consumption figure
// against the historical average, maximum, and minimum daily rates in
// the snapshot. now anchors the lookback window; p is the purchase the
// consumption was derived for.
func (a Advisor) Check(snap ledger.Snapshot, p ledger.Purchase, consumed decimal.Decimal, now time.Time) []ledger.Warning {
	ordered := snap.Chronological()

	var rates []decimal.Decimal
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if cur.ID == p.ID {
			continue
		}
		if now.Sub(cur.PurchaseDate) > a.Lookback {
			continue
		}
		consumption := cur.MeterReading.Sub(prev.MeterReading)
		if consumption.IsNegative() {
			continue
		}
		rates = append(rates, dailyRate(consumption, cur.PurchaseDate.Sub(prev.PurchaseDate)))
	}
	if len(rates) < a.MinSamples {
		return nil
	}

	sum, min, max := decimal.Zero, rates[0], rates[0]
	for _, r := range rates {
		sum = sum.Add(r)
		if r.LessThan(min) {
			min = r
		}
		if r.GreaterThan(max) {
			max = r
		}
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(rates))))

	var interval time.Duration
	if prior, ok := snap.PriorPurchase(p.ID); ok {
		interval = p.PurchaseDate.Sub(prior.PurchaseDate)
	} else {
		interval = 24 * time.Hour
	}
	rate := dailyRate(consumed, interval)

	var warnings []ledger.Warning
	if rate.GreaterThan(max) {
		warnings = append(warnings, ledger.Warning{
			Code:    "rate_above_max",
			Message: fmt.Sprintf("implied daily rate %s exceeds historical maximum %s", rate.StringFixed(2), max.StringFixed(2)),
		})
	} else if rate.GreaterThan(avg.Mul(a.HighFactor)) {
		warnings = append(warnings, ledger.Warning{
			Code:    "rate_above_average",
			Message: fmt.Sprintf("implied daily rate %s is more than %s times the historical average %s", rate.StringFixed(2), a.HighFactor.String(), avg.StringFixed(2)),
		})
	}
	if rate.LessThan(min) {
		warnings = append(warnings, ledger.Warning{
			Code:    "rate_below_min",
			Message: fmt.Sprintf("implied daily rate %s is below historical minimum %s", rate.StringFixed(2), min.StringFixed(2)),
		})
	} else if rate.LessThan(avg.Mul(a.LowFactor)) {
		warnings = append(warnings, ledger.Warning{
			Code:    "rate_below_average",
			Message: fmt.Sprintf("implied daily rate %s is less than %s of the historical average %s", rate.StringFixed(2), a.LowFactor.String(), avg.StringFixed(2)),
		})
	}
	return warnings
}
