// Package ledger defines the domain model for the gridsplit
// cost-allocation ledger: prepaid token purchases, the contributions
// that settle them, and the typed error taxonomy shared by every
// operation on the ledger.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is one token-buying event. Once a Contribution references it,
// a Purchase is immutable except through the recalculation path.
type Purchase struct {
	ID           string          `json:"id"`
	TotalTokens  decimal.Decimal `json:"total_tokens"`
	TotalPayment decimal.Decimal `json:"total_payment"`
	MeterReading decimal.Decimal `json:"meter_reading"`
	PurchaseDate time.Time       `json:"purchase_date"`
	IsEmergency  bool            `json:"is_emergency"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Contribution is one user's settlement against exactly one Purchase.
// MeterReading and TokensConsumed are derived from the parent Purchase
// and its chronological predecessor; they are never set by callers.
type Contribution struct {
	ID             string          `json:"id"`
	PurchaseID     string          `json:"purchase_id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	MeterReading   decimal.Decimal `json:"meter_reading"`
	TokensConsumed decimal.Decimal `json:"tokens_consumed"`
	CreatedAt      time.Time       `json:"created_at"`
	// Sequence is the system-wide insertion order, assigned at creation.
	// It tie-breaks CreatedAt for the latest-contribution deletion gate.
	Sequence uint64 `json:"sequence"`
}

// Actor identifies the caller of a ledger operation. Admin and Locked
// are produced by the authentication collaborator; the ledger consumes
// them as plain booleans.
type Actor struct {
	ID     string `json:"id"`
	Admin  bool   `json:"admin"`
	Locked bool   `json:"locked"`
}

// Warning is a non-blocking advisory finding. Warnings are returned
// alongside successful results and never abort an operation.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
