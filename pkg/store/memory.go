package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

// MemoryStore is an in-process Store for tests and demo mode. A single
// mutex is the transaction boundary: one writer at a time, and the
// snapshot a writer validates against cannot change under it.
type MemoryStore struct {
	mu            sync.Mutex
	purchases     []ledger.Purchase
	contributions []ledger.Contribution
	baseline      decimal.Decimal
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Init records the baseline reading.
func (s *MemoryStore) Init(_ context.Context, baseline decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseline = baseline
	return nil
}

func (s *MemoryStore) snapshotLocked() ledger.Snapshot {
	snap := ledger.Snapshot{
		Purchases:     make([]ledger.Purchase, len(s.purchases)),
		Contributions: make([]ledger.Contribution, len(s.contributions)),
		Baseline:      s.baseline,
	}
	copy(snap.Purchases, s.purchases)
	copy(snap.Contributions, s.contributions)
	return snap
}

// Read returns a copy of the current ledger state.
func (s *MemoryStore) Read(_ context.Context) (ledger.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// memoryTx stages writes against a working copy and publishes them on
// commit, giving Update all-or-nothing semantics.
type memoryTx struct {
	store         *MemoryStore
	purchases     []ledger.Purchase
	contributions []ledger.Contribution
}

// Update runs fn under the store mutex against a staged copy.
func (s *MemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s}
	tx.purchases = append(tx.purchases, s.purchases...)
	tx.contributions = append(tx.contributions, s.contributions...)

	if err := fn(tx); err != nil {
		return err
	}
	s.purchases = tx.purchases
	s.contributions = tx.contributions
	return nil
}

func (t *memoryTx) Snapshot() (ledger.Snapshot, error) {
	snap := ledger.Snapshot{
		Purchases:     make([]ledger.Purchase, len(t.purchases)),
		Contributions: make([]ledger.Contribution, len(t.contributions)),
		Baseline:      t.store.baseline,
	}
	copy(snap.Purchases, t.purchases)
	copy(snap.Contributions, t.contributions)
	return snap, nil
}

func (t *memoryTx) InsertPurchase(p ledger.Purchase) error {
	t.purchases = append(t.purchases, p)
	return nil
}

func (t *memoryTx) UpdatePurchase(p ledger.Purchase) error {
	for i := range t.purchases {
		if t.purchases[i].ID == p.ID {
			t.purchases[i] = p
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) DeletePurchase(id string) error {
	for i := range t.purchases {
		if t.purchases[i].ID == id {
			t.purchases = append(t.purchases[:i], t.purchases[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) InsertContribution(c ledger.Contribution) error {
	for i := range t.contributions {
		if t.contributions[i].PurchaseID == c.PurchaseID {
			return ErrDuplicateContribution
		}
	}
	t.contributions = append(t.contributions, c)
	return nil
}

func (t *memoryTx) UpdateContribution(c ledger.Contribution) error {
	for i := range t.contributions {
		if t.contributions[i].ID == c.ID {
			t.contributions[i] = c
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) DeleteContribution(id string) error {
	for i := range t.contributions {
		if t.contributions[i].ID == id {
			t.contributions = append(t.contributions[:i], t.contributions[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
