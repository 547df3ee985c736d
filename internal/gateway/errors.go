package gateway

import "errors"

// Sentinel errors shared across the gateway. Any store error that is not
// one of these is an infrastructure fault; callers may retry the whole
// operation because every exposed operation is idempotent or transactional.
var (
	// ErrNotFound signals an empty queue or a missing row. The scheduler
	// treats it as "nothing to do", not as a failure.
	ErrNotFound = errors.New("not found")

	// ErrInvalidURL signals caller-supplied data that was rejected before
	// any write was attempted. Never worth retrying.
	ErrInvalidURL = errors.New("invalid url")
)
