//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

// newGCSArchive is unavailable without the gcp build tag; the GCS
// client pulls in the full cloud.google.com dependency tree.
func newGCSArchive(_ context.Context, _ string, _ string) (Archive, error) {
	return nil, fmt.Errorf("archive: gcs backend requires building with -tags gcp")
}
