// Package s3blob writes catalog snapshots to S3 or an S3-compatible store
// (MinIO, R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Config locates the snapshot bucket.
type Config struct {
	// Endpoint of an S3-compatible store, with or without scheme. Empty
	// means AWS.
	Endpoint string
	Region   string
	Bucket   string
	// AccessKey and SecretKey are static credentials. An empty AccessKey
	// falls back to the default AWS credential chain.
	AccessKey string
	SecretKey string
	// UseSSL picks https for an Endpoint given without scheme.
	UseSSL         bool
	ForcePathStyle bool
}

// Bucket uploads snapshot objects into one bucket.
type Bucket struct {
	api  manager.UploadAPIClient
	name string
}

// Open builds the S3 client for cfg. No request is made.
func Open(ctx context.Context, cfg Config) (*Bucket, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errors.New("s3blob: bucket and region are required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) { applyEndpoint(o, cfg) })
	return &Bucket{api: api, name: cfg.Bucket}, nil
}

func loadOptions(cfg Config) []func(*config.LoadOptions) error {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	return opts
}

func applyEndpoint(o *s3.Options, cfg Config) {
	if cfg.Endpoint != "" {
		o.BaseEndpoint = aws.String(endpointURL(cfg.Endpoint, cfg.UseSSL))
	}
	o.UsePathStyle = cfg.ForcePathStyle
}

// endpointURL adds a scheme to endpoint when it has none.
func endpointURL(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// Put uploads key in a single PutObject request.
func (b *Bucket) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if _, err := b.api.PutObject(ctx, b.object(key, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart uploads key in parts of at least partSize bytes, raised to the
// S3 minimum when smaller.
func (b *Bucket) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(b.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, manager.MinUploadPartSize)
	})
	if _, err := uploader.Upload(ctx, b.object(key, data, ndjsonContentType)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

func (b *Bucket) object(key string, body io.Reader, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	return in
}

var _ domain.BlobWriter = (*Bucket)(nil)
