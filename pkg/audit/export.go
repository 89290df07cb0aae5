package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bundle is an exportable, self-verifying slice of the audit trail,
// handed to an archival backend for long-term retention.
type Bundle struct {
	BundleID   string    `json:"bundle_id"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	StartSeq   uint64    `json:"start_sequence"`
	EndSeq     uint64    `json:"end_sequence"`
	EventCount int       `json:"event_count"`
	Events     []Event   `json:"events"`
	ChainHead  string    `json:"chain_head"`
	BundleHash string    `json:"bundle_hash"`
}

// ExportBundle packages the full trail for archival.
func (c *Chain) ExportBundle() (*Bundle, error) {
	events := c.Events()
	if len(events) == 0 {
		return nil, ErrEmptyTrail
	}

	b := &Bundle{
		BundleID:   uuid.New().String(),
		Version:    "1.0.0",
		CreatedAt:  c.clock(),
		StartSeq:   events[0].Sequence,
		EndSeq:     events[len(events)-1].Sequence,
		EventCount: len(events),
		Events:     events,
		ChainHead:  events[len(events)-1].IntegrityHash,
	}

	data, err := json.Marshal(b.Events)
	if err != nil {
		return nil, fmt.Errorf("audit: bundle marshal failed: %w", err)
	}
	sum := sha256.Sum256(data)
	b.BundleHash = "sha256:" + hex.EncodeToString(sum[:])
	return b, nil
}

// VerifyBundle checks a bundle's hash and internal chain links.
func VerifyBundle(b *Bundle) error {
	if len(b.Events) == 0 {
		return ErrEmptyTrail
	}
	data, err := json.Marshal(b.Events)
	if err != nil {
		return fmt.Errorf("audit: bundle marshal failed: %w", err)
	}
	sum := sha256.Sum256(data)
	if "sha256:"+hex.EncodeToString(sum[:]) != b.BundleHash {
		return fmt.Errorf("audit: bundle hash mismatch")
	}
	for i := 1; i < len(b.Events); i++ {
		if b.Events[i].PreviousHash != b.Events[i-1].IntegrityHash {
			return fmt.Errorf("%w: bundle link broken at event %d", ErrChainBroken, i)
		}
	}
	return nil
}

// Archiver persists an exported bundle and returns its content hash.
type Archiver interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// Archive exports the trail as a bundle and hands it to the archiver.
func (c *Chain) Archive(ctx context.Context, a Archiver) (string, error) {
	bundle, err := c.ExportBundle()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("audit: bundle marshal failed: %w", err)
	}
	return a.Store(ctx, data)
}
