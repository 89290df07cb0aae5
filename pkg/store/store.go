// Package store persists the gridsplit ledger. The mutating surface is
// transaction-scoped: callers open one transaction, take a consistent
// snapshot of the whole ledger inside it, run their checks against that
// snapshot, and commit the write in the same transaction. The SQL
// backend locks the ledger rows for the duration of the
// check-then-write window; the memory backend serializes on a mutex.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

var (
	// ErrNotFound is returned when a row targeted by an update or
	// delete does not exist.
	ErrNotFound = errors.New("store: row not found")
	// ErrDuplicateContribution is returned when the unique purchase_id
	// constraint rejects a second contribution for a purchase.
	ErrDuplicateContribution = errors.New("store: contribution already exists for purchase")
)

// Tx is a single atomic unit of work over the ledger. All methods are
// valid only until the enclosing Update call returns.
type Tx interface {
	// Snapshot reads the entire ledger, locking it against concurrent
	// writers until commit.
	Snapshot() (ledger.Snapshot, error)

	InsertPurchase(p ledger.Purchase) error
	UpdatePurchase(p ledger.Purchase) error
	DeletePurchase(id string) error

	InsertContribution(c ledger.Contribution) error
	UpdateContribution(c ledger.Contribution) error
	DeleteContribution(id string) error
}

// Store is the persistence boundary of the ledger core.
type Store interface {
	// Init bootstraps schema and the baseline setting. The baseline is
	// only written on first initialization; an existing ledger keeps
	// the baseline it was created with.
	Init(ctx context.Context, baseline decimal.Decimal) error

	// Update runs fn inside one transaction. If fn returns an error the
	// transaction rolls back and nothing is persisted.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Read returns a snapshot outside any write lock, for read-only
	// operations such as preview and reporting.
	Read(ctx context.Context) (ledger.Snapshot, error)
}
