package ledger

import (
	"fmt"
	"strings"
)

// EntityType names a ledger entity in errors and audit events.
type EntityType string

const (
	EntityPurchase     EntityType = "purchase"
	EntityContribution EntityType = "contribution"
)

// ConstraintKind categorizes ConstraintError.
type ConstraintKind string

const (
	ConstraintHasContribution   ConstraintKind = "has_contribution"
	ConstraintNotLatest         ConstraintKind = "not_latest"
	ConstraintNegativeTokens    ConstraintKind = "negative_consumption"
	ConstraintExceedsTotal      ConstraintKind = "exceeds_total_tokens"
	ConstraintReadingOrder      ConstraintKind = "reading_order"
	ConstraintStaleSuccessor    ConstraintKind = "stale_successor"
	ConstraintDerivedFieldsOnly ConstraintKind = "derived_fields_only"
)

// ValidationError reports a field-level input failure. It blocks the
// operation; advisory findings are Warnings, never ValidationErrors.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed on %s: %s", e.Field, e.Reason)
}

// SequencingError reports a violation of chronological contribution
// order: one or more earlier purchases still lack a contribution.
type SequencingError struct {
	PurchaseID          string
	BlockingPurchaseIDs []string
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("ledger: purchase %s blocked by uncontributed earlier purchases [%s]",
		e.PurchaseID, strings.Join(e.BlockingPurchaseIDs, ", "))
}

// ConstraintError reports that a mutation would violate a ledger
// invariant (consumption bounds, chain protection, derived fields).
type ConstraintError struct {
	Kind   ConstraintKind
	Entity EntityType
	ID     string
	Detail string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("ledger: constraint %s on %s %s: %s", e.Kind, e.Entity, e.ID, e.Detail)
}

// DuplicateError reports that a Purchase already has a Contribution.
type DuplicateError struct {
	PurchaseID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("ledger: purchase %s already has a contribution", e.PurchaseID)
}

// PermissionError reports that the actor is not allowed to perform the
// operation (not owner, not admin, or account locked).
type PermissionError struct {
	ActorID string
	Reason  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("ledger: actor %s denied: %s", e.ActorID, e.Reason)
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ledger: %s %s not found", e.Entity, e.ID)
}
