package adapter

import (
	"errors"
)

var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimited is returned when the upstream API rejected the call for
	// quota reasons; callers may retry after the quota window rolls over.
	ErrRateLimited = errors.New("rate limited by upstream")
)
