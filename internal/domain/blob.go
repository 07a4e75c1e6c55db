package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// SnapshotExporter writes point-in-time copies of a catalog view to cold
// storage and returns the object path.
type SnapshotExporter interface {
	ExportCatalog(ctx context.Context, items []ItemView) (string, error)
}
