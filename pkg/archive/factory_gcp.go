//go:build gcp

package archive

import "context"

func newGCSArchive(ctx context.Context, bucket, prefix string) (Archive, error) {
	return NewGCSArchive(ctx, GCSConfig{Bucket: bucket, Prefix: prefix})
}
