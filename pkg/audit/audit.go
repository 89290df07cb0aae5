// Package audit emits and retains structured before/after events for
// every ledger mutation. Events carry an integrity hash over their RFC
// 8785 canonical JSON form and chain to the previous event's hash, so
// the trail is tamper-evident end to end.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

var (
	ErrChainBroken = errors.New("audit: hash chain is broken")
	ErrEmptyTrail  = errors.New("audit: no events recorded")
)

// Action names the mutation an event describes.
type Action string

const (
	ActionCreate      Action = "create"
	ActionEdit        Action = "edit"
	ActionDelete      Action = "delete"
	ActionRecalculate Action = "recalculate"
)

// Event is one immutable audit record. Before/After hold the entity
// state around the mutation; nothing in the ledger ever points back
// into its own audit trail.
type Event struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Actor      string            `json:"actor"`
	Action     Action            `json:"action"`
	EntityType ledger.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Before     json.RawMessage   `json:"before,omitempty"`
	After      json.RawMessage   `json:"after,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`

	// CorrelationID links the pair of events a recalculation emits.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Override records that an administrative override was supplied,
	// with the reason given. Every bypass is individually auditable.
	Override       bool   `json:"override,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`

	PreviousHash  string `json:"previous_hash"`
	IntegrityHash string `json:"integrity_hash"`
}

// Marshal serializes v for an event's Before/After field.
func Marshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}

// hashBody is the canonical hashable form of an event: everything
// except the integrity hash itself.
func hashBody(e Event) ([]byte, error) {
	body := e
	body.IntegrityHash = ""
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("audit: event marshal failed: %w", err)
	}
	return jcs.Transform(raw)
}

// ComputeHash returns the "sha256:<hex>" integrity hash of an event
// over its RFC 8785 canonical form.
func ComputeHash(e Event) (string, error) {
	canonical, err := hashBody(e)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalization failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
