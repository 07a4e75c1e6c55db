package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const (
	defaultSnapshotPrefix = "snapshots/catalog"
	// multipartThreshold switches large snapshots to multipart upload.
	multipartThreshold = 64 * 1024 * 1024
	ndjsonContentType  = "application/x-ndjson"
)

// snapshotLine is one JSONL record.
type snapshotLine struct {
	domain.ItemView
	CapturedAt time.Time `json:"capturedAt"`
}

// SnapshotWriter implements domain.SnapshotExporter by serializing a catalog
// view to JSONL and uploading it at
// <prefix>/YYYY/MM/DD/<unix>.jsonl.
type SnapshotWriter struct {
	writer domain.BlobWriter
	prefix string
	now    func() time.Time
}

// NewSnapshotWriter creates a SnapshotWriter. An empty prefix selects
// "snapshots/catalog".
func NewSnapshotWriter(writer domain.BlobWriter, prefix string) *SnapshotWriter {
	if prefix == "" {
		prefix = defaultSnapshotPrefix
	}
	return &SnapshotWriter{
		writer: writer,
		prefix: prefix,
		now:    time.Now,
	}
}

// ExportCatalog uploads items and returns the object path. An empty catalog
// still produces an (empty) object so every tick leaves a trace.
func (s *SnapshotWriter) ExportCatalog(ctx context.Context, items []domain.ItemView) (string, error) {
	at := s.now().UTC()
	path := s.objectPath(at)

	data, err := marshalJSONL(items, at)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot: %w", err)
	}

	if len(data) >= multipartThreshold {
		err = s.writer.PutMultipart(ctx, path, bytes.NewReader(data), 0)
	} else {
		err = s.writer.Put(ctx, path, bytes.NewReader(data), ndjsonContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot upload: %w", err)
	}
	return path, nil
}

func (s *SnapshotWriter) objectPath(at time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/%d.jsonl", s.prefix, at.Year(), at.Month(), at.Day(), at.Unix())
}

func marshalJSONL(items []domain.ItemView, at time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(snapshotLine{ItemView: item, CapturedAt: at}); err != nil {
			return nil, fmt.Errorf("marshal item %d: %w", item.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.SnapshotExporter = (*SnapshotWriter)(nil)
