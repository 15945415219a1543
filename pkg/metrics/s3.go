package metrics

import (
	"github.com/marmos91/blockflush/pkg/remote/s3"
)

// NewS3Metrics creates a new Prometheus-backed S3Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the S3 writer, which
// results in zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	writer, err := s3.NewFromConfig(ctx, cfg, metrics.NewS3Metrics())
//
//	// Without metrics (zero overhead)
//	writer, err := s3.NewFromConfig(ctx, cfg, nil)
func NewS3Metrics() s3.S3Metrics {
	if !IsEnabled() || newPrometheusS3Metrics == nil {
		return nil
	}

	return newPrometheusS3Metrics()
}

// newPrometheusS3Metrics is implemented in pkg/metrics/prometheus.
// This indirection avoids an import cycle while keeping the API clean.
var newPrometheusS3Metrics func() s3.S3Metrics

// RegisterS3MetricsConstructor registers the Prometheus S3 metrics constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterS3MetricsConstructor(constructor func() s3.S3Metrics) {
	newPrometheusS3Metrics = constructor
}
