//go:build gcp

package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSArchive stores audit bundles in Google Cloud Storage, keyed by
// content hash.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for GCSArchive.
type GCSConfig struct {
	Bucket string
	Prefix string // Optional key prefix, e.g. "audit/"
}

// NewGCSArchive creates a GCS-backed bundle archive (uses ADC).
func NewGCSArchive(ctx context.Context, cfg GCSConfig) (*GCSArchive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: create GCS client failed: %w", err)
	}
	return &GCSArchive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Store uploads the bundle under its content hash. Re-archiving the
// same bundle is a no-op.
func (a *GCSArchive) Store(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])
	objectPath := a.prefix + hashStr + ".json"

	obj := a.client.Bucket(a.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		return "sha256:" + hashStr, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: gcs close failed: %w", err)
	}
	return "sha256:" + hashStr, nil
}

// Get retrieves a bundle by its content hash.
func (a *GCSArchive) Get(ctx context.Context, hash string) ([]byte, error) {
	raw, err := stripHashPrefix(hash)
	if err != nil {
		return nil, err
	}
	objectPath := a.prefix + raw + ".json"

	r, err := a.client.Bucket(a.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("archive: bundle not found: %s", hash)
		}
		return nil, fmt.Errorf("archive: gcs read failed for %s: %w", hash, err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}
