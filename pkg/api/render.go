package api

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/gridsplit/gridsplit/pkg/allocate"
	"github.com/gridsplit/gridsplit/pkg/ledger"
)

var moneyPrinter = message.NewPrinter(language.English)

// formatMoney rounds a money amount to 2 decimals for display. This is
// the only place money is rounded; all internal accumulation stays at
// full precision.
func formatMoney(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return moneyPrinter.Sprint(number.Decimal(f, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// allocationView is the presentation form of an allocation.
type allocationView struct {
	TokensConsumed     string `json:"tokens_consumed"`
	TrueCost           string `json:"true_cost"`
	TrueCostDisplay    string `json:"true_cost_display"`
	EfficiencyPct      string `json:"efficiency_pct"`
	Overpayment        string `json:"overpayment"`
	OverpaymentDisplay string `json:"overpayment_display"`
}

func renderAllocation(a allocate.Allocation) allocationView {
	return allocationView{
		TokensConsumed:     a.TokensConsumed.String(),
		TrueCost:           a.TrueCost.Round(2).String(),
		TrueCostDisplay:    formatMoney(a.TrueCost),
		EfficiencyPct:      a.EfficiencyPct.Round(2).String(),
		Overpayment:        a.Overpayment.Round(2).String(),
		OverpaymentDisplay: formatMoney(a.Overpayment),
	}
}

type contributionView struct {
	Contribution   ledger.Contribution `json:"contribution"`
	Allocation     allocationView      `json:"allocation"`
	Warnings       []ledger.Warning    `json:"warnings,omitempty"`
	RunningBalance string              `json:"running_balance"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
