// Package rbd is the typed adapter to the Ceph block-storage pool. All pool
// images are backup-eligible; there is no media/path filtering on this side.
package rbd

import (
	"context"
	"io"
)

// Client is the narrow pool interface the backup flow needs.
type Client interface {
	// ListImages returns the image names in the pool.
	ListImages(ctx context.Context) ([]string, error)
	// ListSnapshots returns the named snapshots of one image, oldest first.
	ListSnapshots(ctx context.Context, image string) ([]string, error)
	// CreateSnapshot creates a named snapshot of the image.
	CreateSnapshot(ctx context.Context, image, snapshot string) error
	// DeleteSnapshot removes a named snapshot.
	DeleteSnapshot(ctx context.Context, image, snapshot string) error
	// ExportSnapshot streams the snapshot content. The caller must Close the
	// reader and treat a Close error as a failed export: the stream can end
	// early when the underlying tool dies.
	ExportSnapshot(ctx context.Context, image, snapshot string) (io.ReadCloser, error)
}
