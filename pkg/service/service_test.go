package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsplit/gridsplit/pkg/audit"
	"github.com/gridsplit/gridsplit/pkg/ledger"
	"github.com/gridsplit/gridsplit/pkg/service"
	"github.com/gridsplit/gridsplit/pkg/store"
)

var (
	alice = ledger.Actor{ID: "alice"}
	bob   = ledger.Actor{ID: "bob"}
	admin = ledger.Actor{ID: "root", Admin: true}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type harness struct {
	svc   *service.Service
	store *store.MemoryStore
	chain *audit.Chain
	now   time.Time
}

// newHarness builds a service over a memory store with a ticking clock
// and deterministic ids, seeded with a 900 baseline reading.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemoryStore(),
		now:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	h.chain = audit.NewChain()
	require.NoError(t, h.store.Init(context.Background(), d("900")))

	var idSeq int
	h.svc = service.New(h.store, h.chain,
		service.WithClock(func() time.Time {
			h.now = h.now.Add(time.Minute)
			return h.now
		}),
		service.WithIDGenerator(func() string {
			idSeq++
			return fmt.Sprintf("id-%d", idSeq)
		}),
	)
	return h
}

func (h *harness) purchase(t *testing.T, tokens, payment, reading string, day int) ledger.Purchase {
	t.Helper()
	p, err := h.svc.CreatePurchase(context.Background(), service.CreatePurchaseInput{
		TotalTokens:  d(tokens),
		TotalPayment: d(payment),
		MeterReading: d(reading),
		PurchaseDate: time.Date(2024, 3, 1+day, 12, 0, 0, 0, time.UTC),
	}, alice)
	require.NoError(t, err)
	return p
}

func TestCreatePurchase_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    service.CreatePurchaseInput
		field string
	}{
		{"zero tokens", service.CreatePurchaseInput{TotalTokens: d("0"), TotalPayment: d("50"), MeterReading: d("1000"), PurchaseDate: h.now}, "total_tokens"},
		{"negative payment", service.CreatePurchaseInput{TotalTokens: d("100"), TotalPayment: d("-1"), MeterReading: d("1000"), PurchaseDate: h.now}, "total_payment"},
		{"zero reading", service.CreatePurchaseInput{TotalTokens: d("100"), TotalPayment: d("50"), MeterReading: d("0"), PurchaseDate: h.now}, "meter_reading"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreatePurchase(ctx, tc.in, alice)
			var validation *ledger.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tc.field, validation.Field)
		})
	}
}

func TestCreatePurchase_LockedActor(t *testing.T) {
	h := newHarness(t)
	locked := ledger.Actor{ID: "carol", Locked: true}

	_, err := h.svc.CreatePurchase(context.Background(), service.CreatePurchaseInput{
		TotalTokens: d("100"), TotalPayment: d("50"), MeterReading: d("1000"), PurchaseDate: h.now,
	}, locked)
	var perm *ledger.PermissionError
	require.ErrorAs(t, err, &perm)
}

func TestCreatePurchase_ReadingMustNotDecrease(t *testing.T) {
	h := newHarness(t)
	h.purchase(t, "100", "50", "1000", 0)

	_, err := h.svc.CreatePurchase(context.Background(), service.CreatePurchaseInput{
		TotalTokens: d("50"), TotalPayment: d("25"), MeterReading: d("950"),
		PurchaseDate: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}, alice)
	var validation *ledger.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "meter_reading", validation.Field)
}

// Scenario: first purchase of 100 tokens for $50 at reading 1000
// against a 900 baseline, settled with $60.
func TestCreateContribution_FirstPurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.purchase(t, "100", "50", "1000", 0)

	result, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)

	c := result.Contribution
	assert.True(t, c.MeterReading.Equal(p1.MeterReading), "contribution reading mirrors the purchase")
	assert.True(t, c.TokensConsumed.Equal(d("100")), "1000 - 900 baseline")
	assert.True(t, result.Allocation.TrueCost.Equal(d("50")))
	assert.True(t, result.Allocation.Overpayment.Equal(d("10")))
	assert.True(t, result.RunningBalance.Equal(d("10")))
}

// Scenario: second purchase of 50 tokens for $25 at reading 1050,
// settled with exactly $25 after the first contribution exists.
func TestCreateContribution_SecondPurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.purchase(t, "100", "50", "1000", 0)
	p2 := h.purchase(t, "50", "25", "1050", 10)

	_, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)

	result, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p2.ID, UserID: "bob", Amount: d("25"),
	}, bob)
	require.NoError(t, err)

	assert.True(t, result.Contribution.TokensConsumed.Equal(d("50")))
	assert.True(t, result.Allocation.TrueCost.Equal(d("25")))
	assert.True(t, result.Allocation.Overpayment.IsZero())
	assert.True(t, result.RunningBalance.Equal(d("10")), "only the first contribution overpaid")
}

// Scenario: settling the third purchase while the second is open fails
// with a sequencing error; an explicit override lets it through.
func TestCreateContribution_SequencingAndOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.purchase(t, "100", "50", "1000", 0)
	p2 := h.purchase(t, "50", "25", "1050", 10)
	p3 := h.purchase(t, "50", "25", "1100", 20)

	_, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)

	_, err = h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p3.ID, UserID: "bob", Amount: d("25"),
	}, bob)
	var seqErr *ledger.SequencingError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, []string{p2.ID}, seqErr.BlockingPurchaseIDs)

	result, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p3.ID, UserID: "bob", Amount: d("25"),
		Override: true, OverrideReason: "bob settles ahead while carol is away",
	}, admin)
	require.NoError(t, err)
	assert.True(t, result.Contribution.TokensConsumed.Equal(d("50")))

	events := h.chain.Events()
	last := events[len(events)-1]
	assert.True(t, last.Override, "override must be captured in the audit event")
	assert.NotEmpty(t, last.OverrideReason)
}

func TestCreateContribution_OverrideRequiresReason(t *testing.T) {
	h := newHarness(t)
	p1 := h.purchase(t, "100", "50", "1000", 0)

	_, err := h.svc.CreateContribution(context.Background(), service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"), Override: true,
	}, admin)
	var validation *ledger.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "override_reason", validation.Field)
}

func TestCreateContribution_Duplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.purchase(t, "100", "50", "1000", 0)

	_, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)

	_, err = h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "bob", Amount: d("40"),
	}, bob)
	var dup *ledger.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, p1.ID, dup.PurchaseID)
}

func TestEditContribution_AmountOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.purchase(t, "100", "50", "1000", 0)

	created, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)

	edited, err := h.svc.EditContribution(ctx, created.Contribution.ID, d("55"), alice)
	require.NoError(t, err)
	assert.True(t, edited.Contribution.Amount.Equal(d("55")))
	assert.True(t, edited.Contribution.TokensConsumed.Equal(d("100")), "derived fields stay derived")
	assert.True(t, edited.RunningBalance.Equal(d("5")))

	_, err = h.svc.EditContribution(ctx, created.Contribution.ID, d("70"), bob)
	var perm *ledger.PermissionError
	require.ErrorAs(t, err, &perm, "non-owner cannot edit")

	_, err = h.svc.EditContribution(ctx, "nope", d("70"), alice)
	var notFound *ledger.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDeleteContribution_OnlyLatest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.purchase(t, "100", "50", "1000", 0)
	p2 := h.purchase(t, "50", "25", "1050", 10)

	first, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)
	second, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p2.ID, UserID: "bob", Amount: d("25"),
	}, bob)
	require.NoError(t, err)

	err = h.svc.DeleteContribution(ctx, first.Contribution.ID, admin)
	var cerr *ledger.ConstraintError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ledger.ConstraintNotLatest, cerr.Kind)

	require.NoError(t, h.svc.DeleteContribution(ctx, second.Contribution.ID, bob))
	// With the latest gone, the first contribution becomes deletable.
	require.NoError(t, h.svc.DeleteContribution(ctx, first.Contribution.ID, alice))
}

func TestBalanceAndNextEligible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.purchase(t, "100", "50", "1000", 0)
	p2 := h.purchase(t, "50", "25", "1050", 10)

	next, ok, err := h.svc.NextEligiblePurchase(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p1.ID, next)

	_, err = h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)

	next, ok, err = h.svc.NextEligiblePurchase(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p2.ID, next)

	balance, err := h.svc.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("10")))
}

func TestDeletePurchase_Gates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1 := h.purchase(t, "100", "50", "1000", 0)
	p2 := h.purchase(t, "50", "25", "1050", 10)

	_, err := h.svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p1.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)

	err = h.svc.DeletePurchase(ctx, p1.ID, admin)
	var cerr *ledger.ConstraintError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ledger.ConstraintHasContribution, cerr.Kind)

	err = h.svc.DeletePurchase(ctx, p2.ID, bob)
	var perm *ledger.PermissionError
	require.ErrorAs(t, err, &perm, "bob neither created p2 nor is admin")

	require.NoError(t, h.svc.DeletePurchase(ctx, p2.ID, alice))
}

// failingRecorder rejects every append, standing in for a broken audit
// backend.
type failingRecorder struct{}

func (failingRecorder) Record(context.Context, audit.Event) error {
	return errors.New("trail unavailable")
}

func TestMutationsSucceedWhenAuditRecordFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Init(ctx, d("900")))
	svc := service.New(st, failingRecorder{})

	// The write committed before the trail append; the caller must see
	// success, not a failure for a row that persisted.
	p, err := svc.CreatePurchase(ctx, service.CreatePurchaseInput{
		TotalTokens:  d("100"),
		TotalPayment: d("50"),
		MeterReading: d("1000"),
		PurchaseDate: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}, alice)
	require.NoError(t, err)

	snap, err := st.Read(ctx)
	require.NoError(t, err)
	_, ok := snap.Purchase(p.ID)
	assert.True(t, ok)

	result, err := svc.CreateContribution(ctx, service.CreateContributionInput{
		PurchaseID: p.ID, UserID: "alice", Amount: d("60"),
	}, alice)
	require.NoError(t, err)
	assert.True(t, result.Allocation.TrueCost.Equal(d("50")))

	require.NoError(t, svc.DeleteContribution(ctx, result.Contribution.ID, alice))
	require.NoError(t, svc.DeletePurchase(ctx, p.ID, alice))
}
