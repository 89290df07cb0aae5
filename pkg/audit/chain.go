package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder is the write-only surface the ledger core uses. The trail is
// owned by this collaborator; the core only appends.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Handler is called after an event is appended to the chain.
type Handler func(event Event)

// Chain is an append-only, hash-chained audit trail. Each appended
// event's integrity hash covers the previous event's hash, so removing
// or rewriting any event breaks verification of everything after it.
type Chain struct {
	mu       sync.RWMutex
	events   []Event
	sequence uint64
	head     string
	handlers []Handler
	clock    func() time.Time
}

// NewChain creates an empty audit chain.
func NewChain() *Chain {
	return &Chain{head: "genesis", clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the chain's clock, for tests.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// Record appends an event, assigning id, sequence, timestamp, previous
// hash, and integrity hash.
func (c *Chain) Record(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	event.ID = uuid.New().String()
	event.Sequence = c.sequence
	if event.Timestamp.IsZero() {
		event.Timestamp = c.clock()
	}
	event.PreviousHash = c.head

	hash, err := ComputeHash(event)
	if err != nil {
		c.sequence--
		return err
	}
	event.IntegrityHash = hash
	c.head = hash
	c.events = append(c.events, event)

	for _, h := range c.handlers {
		h(event)
	}
	return nil
}

// AddHandler registers a sink for newly appended events.
func (c *Chain) AddHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Head returns the current chain head hash.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Events returns a copy of the recorded trail in append order.
func (c *Chain) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// ByCorrelation returns the events sharing a correlation id.
func (c *Chain) ByCorrelation(correlationID string) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Event
	for _, e := range c.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out
}

// VerifyChain recomputes every integrity hash and checks the links.
func (c *Chain) VerifyChain() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	expectedPrev := "genesis"
	for i, e := range c.events {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: event %d links to %s, expected %s",
				ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		computed, err := ComputeHash(e)
		if err != nil {
			return fmt.Errorf("%w: event %d hash recomputation failed: %w", ErrChainBroken, i, err)
		}
		if computed != e.IntegrityHash {
			return fmt.Errorf("%w: event %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, e.IntegrityHash)
		}
		expectedPrev = e.IntegrityHash
	}
	return nil
}
