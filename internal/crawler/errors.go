package crawler

import "errors"

var (
	// ErrUnsupportedRegion marks a region code missing from the region table.
	ErrUnsupportedRegion = errors.New("unsupported region")
	// ErrValidation marks a product record missing a required field.
	ErrValidation = errors.New("record validation failed")
	// ErrJobNotFound is returned by job stores for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a job with a duplicate ID.
	ErrJobExists = errors.New("job already exists")
	// ErrResultNotReady is returned while a job has not produced a result.
	ErrResultNotReady = errors.New("result not ready")
	// ErrJobCanceled is the cancellation cause of a job stopped by request.
	ErrJobCanceled = errors.New("job canceled")
	// ErrQueueFull is returned when the job queue cannot accept more work.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed is returned by a queue that has been shut down.
	ErrQueueClosed = errors.New("queue closed")
)
