package s3

import "time"

// S3Metrics provides observability for S3 writer operations.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead. Implementations must be nil-receiver safe.
type S3Metrics interface {
	// ObserveOperation records an S3 API call with its duration and outcome.
	// operation is the API name, e.g. "PutObject" or "HeadBucket".
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes shipped to S3 by an operation.
	RecordBytes(operation string, bytes int64)
}
