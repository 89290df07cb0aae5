package archive

import (
	"context"
	"fmt"
)

// Archive persists and retrieves content-addressed audit bundles.
type Archive interface {
	Store(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

// Config selects and configures an archive backend.
type Config struct {
	Backend  string // "fs" | "s3" | "gcs"
	Dir      string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// New creates the configured archive backend.
func New(ctx context.Context, cfg Config) (Archive, error) {
	switch cfg.Backend {
	case "fs", "":
		dir := cfg.Dir
		if dir == "" {
			dir = "audit-archive"
		}
		return NewFSArchive(dir)
	case "s3":
		return NewS3Archive(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case "gcs":
		return newGCSArchive(ctx, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", cfg.Backend)
	}
}
