// Package service exposes the ledger's operation contract: purchase and
// contribution lifecycle, the deletion/edit gates, and the preview/apply
// recalculation path. Every mutating operation runs its checks and its
// write inside one store transaction and emits audit events for the
// mutation it performed.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/allocate"
	"github.com/gridsplit/gridsplit/pkg/audit"
	"github.com/gridsplit/gridsplit/pkg/constraint"
	"github.com/gridsplit/gridsplit/pkg/ledger"
	"github.com/gridsplit/gridsplit/pkg/reconcile"
	"github.com/gridsplit/gridsplit/pkg/sequencing"
	"github.com/gridsplit/gridsplit/pkg/store"
)

// Service composes the store, the pure ledger engines, and the audit
// recorder into the externally visible operations.
type Service struct {
	store   store.Store
	audit   audit.Recorder
	advisor reconcile.Advisor
	logger  *slog.Logger
	clock   func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithIDGenerator overrides entity id generation, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithAdvisor overrides the plausibility thresholds.
func WithAdvisor(a reconcile.Advisor) Option {
	return func(s *Service) { s.advisor = a }
}

// WithLogger overrides the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service over the given store and audit recorder.
func New(st store.Store, rec audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:   st,
		audit:   rec,
		advisor: reconcile.DefaultAdvisor(),
		logger:  slog.Default(),
		clock:   func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// record appends an audit event for a mutation that has already
// committed. A trail failure is logged rather than returned: the write
// persisted, so the operation must not report failure to the caller.
func (s *Service) record(ctx context.Context, ev audit.Event) {
	if err := s.audit.Record(ctx, ev); err != nil {
		s.logger.Error("audit record failed",
			"action", string(ev.Action),
			"entity_type", string(ev.EntityType),
			"entity_id", ev.EntityID,
			"error", err)
	}
}

// CreatePurchaseInput are the caller-supplied purchase fields.
type CreatePurchaseInput struct {
	TotalTokens  decimal.Decimal
	TotalPayment decimal.Decimal
	MeterReading decimal.Decimal
	PurchaseDate time.Time
	IsEmergency  bool
}

func (in CreatePurchaseInput) validate() error {
	if !in.TotalTokens.IsPositive() {
		return &ledger.ValidationError{Field: "total_tokens", Reason: "must be positive"}
	}
	if !in.TotalPayment.IsPositive() {
		return &ledger.ValidationError{Field: "total_payment", Reason: "must be positive"}
	}
	if !in.MeterReading.IsPositive() {
		return &ledger.ValidationError{Field: "meter_reading", Reason: "must be positive"}
	}
	if in.PurchaseDate.IsZero() {
		return &ledger.ValidationError{Field: "purchase_date", Reason: "must be set"}
	}
	return nil
}

// CreatePurchase appends a purchase to the ledger. The new reading must
// keep readings non-decreasing in chronological order relative to its
// neighbors.
func (s *Service) CreatePurchase(ctx context.Context, in CreatePurchaseInput, actor ledger.Actor) (ledger.Purchase, error) {
	if actor.Locked {
		return ledger.Purchase{}, &ledger.PermissionError{ActorID: actor.ID, Reason: "account is locked"}
	}
	if err := in.validate(); err != nil {
		return ledger.Purchase{}, err
	}

	p := ledger.Purchase{
		ID:           s.newID(),
		TotalTokens:  in.TotalTokens,
		TotalPayment: in.TotalPayment,
		MeterReading: in.MeterReading,
		PurchaseDate: in.PurchaseDate,
		IsEmergency:  in.IsEmergency,
		CreatedBy:    actor.ID,
		CreatedAt:    s.clock(),
	}

	err := s.store.Update(ctx, func(tx store.Tx) error {
		snap, err := tx.Snapshot()
		if err != nil {
			return err
		}
		if err := validateReadingPosition(snap, p); err != nil {
			return err
		}
		return tx.InsertPurchase(p)
	})
	if err != nil {
		return ledger.Purchase{}, err
	}

	s.logger.Info("purchase created", "purchase_id", p.ID, "tokens", p.TotalTokens.String(), "actor", actor.ID)
	s.record(ctx, audit.Event{
		Actor:      actor.ID,
		Action:     audit.ActionCreate,
		EntityType: ledger.EntityPurchase,
		EntityID:   p.ID,
		After:      audit.Marshal(p),
	})
	return p, nil
}

// validateReadingPosition checks that inserting p keeps meter readings
// non-decreasing across the chronological purchase order.
func validateReadingPosition(snap ledger.Snapshot, p ledger.Purchase) error {
	withNew := snap
	withNew.Purchases = append(append([]ledger.Purchase{}, snap.Purchases...), p)

	prior := reconcile.PriorReading(withNew, p)
	if p.MeterReading.LessThan(prior) {
		return &ledger.ValidationError{
			Field:  "meter_reading",
			Reason: "reading " + p.MeterReading.String() + " is below the preceding purchase's reading " + prior.String(),
		}
	}
	if next, ok := withNew.NextPurchase(p.ID); ok && p.MeterReading.GreaterThan(next.MeterReading) {
		return &ledger.ValidationError{
			Field:  "meter_reading",
			Reason: "reading " + p.MeterReading.String() + " exceeds the following purchase's reading " + next.MeterReading.String(),
		}
	}
	return nil
}

// DeletePurchase removes an unsettled purchase. The creator or an admin
// may delete; a purchase with a contribution is protected.
func (s *Service) DeletePurchase(ctx context.Context, purchaseID string, actor ledger.Actor) error {
	var before ledger.Purchase
	err := s.store.Update(ctx, func(tx store.Tx) error {
		snap, err := tx.Snapshot()
		if err != nil {
			return err
		}
		p, ok := snap.Purchase(purchaseID)
		if !ok {
			return &ledger.NotFoundError{Entity: ledger.EntityPurchase, ID: purchaseID}
		}
		if actor.Locked {
			return &ledger.PermissionError{ActorID: actor.ID, Reason: "account is locked"}
		}
		if !actor.Admin && actor.ID != p.CreatedBy {
			return &ledger.PermissionError{ActorID: actor.ID, Reason: "only the creator or an admin may delete a purchase"}
		}
		if err := constraint.CanDeletePurchase(snap, purchaseID); err != nil {
			return err
		}
		before = p
		return tx.DeletePurchase(purchaseID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("purchase deleted", "purchase_id", purchaseID, "actor", actor.ID)
	s.record(ctx, audit.Event{
		Actor:      actor.ID,
		Action:     audit.ActionDelete,
		EntityType: ledger.EntityPurchase,
		EntityID:   purchaseID,
		Before:     audit.Marshal(before),
	})
	return nil
}

// Balance returns the running balance: the cumulative overpayment
// across every contribution, recomputed by full re-scan.
func (s *Service) Balance(ctx context.Context) (decimal.Decimal, error) {
	snap, err := s.store.Read(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return allocate.RunningBalance(snap), nil
}

// NextEligiblePurchase reports the earliest purchase still awaiting a
// contribution. This is informational; the write path recomputes the
// check inside its own transaction.
func (s *Service) NextEligiblePurchase(ctx context.Context) (string, bool, error) {
	snap, err := s.store.Read(ctx)
	if err != nil {
		return "", false, err
	}
	id, ok := sequencing.NextEligible(snap)
	return id, ok, nil
}
