package model

import (
	"errors"
)

var (
	ErrInvalidConcurrency = errors.New("invalid concurrency limit")
	ErrInvalidRetry       = errors.New("invalid retry configuration")
	ErrNoHost             = errors.New("nessus host is not configured")
	ErrMissingCredentials = errors.New("nessus credentials are not configured")
	// ErrScansFailed is returned by the one-shot run when at least one scan
	// has not been launched.
	ErrScansFailed = errors.New("some scans failed to launch")
)
