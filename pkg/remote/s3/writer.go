// Package s3 provides an S3-backed remote block writer.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/blockflush/pkg/remote"
	"github.com/marmos91/blockflush/pkg/router"
)

// Config holds configuration for the S3 remote writer.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// KeyPrefix is prepended to all block keys (e.g., "blocks/").
	// Should end with "/" if non-empty.
	KeyPrefix string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool
}

// Writer is an S3-backed implementation of remote.Writer.
//
// Blocks are keyed as "<prefix><volume base name>/<block id>". The replica's
// address is recorded in object metadata so replica placement survives into
// the remote store for debugging.
type Writer struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	metrics   S3Metrics
	closed    bool
	mu        sync.RWMutex
}

// New creates a new S3 remote writer with an existing client.
// Pass nil metrics to disable collection with zero overhead.
func New(client *s3.Client, config Config, m S3Metrics) *Writer {
	return &Writer{
		client:    client,
		bucket:    config.Bucket,
		keyPrefix: config.KeyPrefix,
		metrics:   m,
	}
}

// NewFromConfig creates a new S3 remote writer by creating an S3 client
// from config. This is the preferred constructor when you don't have an
// existing S3 client.
func NewFromConfig(ctx context.Context, config Config, m S3Metrics) (*Writer, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}

	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return New(client, config, m), nil
}

// blockKey returns the S3 object key for a block.
func (w *Writer) blockKey(volume string, blockID uint64) string {
	return fmt.Sprintf("%s%s/%016x", w.keyPrefix, path.Base(volume), blockID)
}

// WriteBlock uploads a single block to S3.
func (w *Writer) WriteBlock(ctx context.Context, replica router.Replica, volume string, blockID uint64, data []byte) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return remote.ErrWriterClosed
	}
	w.mu.RUnlock()

	key := w.blockKey(volume, blockID)
	start := time.Now()
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			"replica": replica.Address,
		},
	})
	if w.metrics != nil {
		w.metrics.ObserveOperation("PutObject", time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	if w.metrics != nil {
		w.metrics.RecordBytes("PutObject", int64(len(data)))
	}

	return nil
}

// Close marks the writer as closed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	return nil
}

// HealthCheck verifies the S3 bucket is accessible.
func (w *Writer) HealthCheck(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return remote.ErrWriterClosed
	}
	w.mu.RUnlock()

	start := time.Now()
	_, err := w.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(w.bucket),
	})
	if w.metrics != nil {
		w.metrics.ObserveOperation("HeadBucket", time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}

	return nil
}

// Ensure Writer implements remote.Writer.
var _ remote.Writer = (*Writer)(nil)
