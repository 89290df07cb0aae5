// Package archive provides long-term retention backends for exported
// audit bundles: local filesystem, S3, and GCS. Bundles are stored
// under their SHA-256 content hash, so archival is idempotent.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FSArchive stores bundles on the local filesystem.
type FSArchive struct {
	dir string
}

// NewFSArchive creates a filesystem archive rooted at dir.
func NewFSArchive(dir string) (*FSArchive, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("archive: create dir failed: %w", err)
	}
	return &FSArchive{dir: dir}, nil
}

// Store writes the bundle under its content hash.
func (a *FSArchive) Store(_ context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])

	path := filepath.Join(a.dir, hashStr+".json")
	if _, err := os.Stat(path); err == nil {
		return "sha256:" + hashStr, nil
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("archive: write failed: %w", err)
	}
	return "sha256:" + hashStr, nil
}

// Get retrieves a bundle by its content hash.
func (a *FSArchive) Get(_ context.Context, hash string) ([]byte, error) {
	raw, err := stripHashPrefix(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(a.dir, raw+".json"))
	if err != nil {
		return nil, fmt.Errorf("archive: read failed for %s: %w", hash, err)
	}
	return data, nil
}

func stripHashPrefix(hash string) (string, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return "", fmt.Errorf("archive: invalid hash format: %s", hash)
	}
	return hash[7:], nil
}
