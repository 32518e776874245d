package cache

import "errors"

var (
	// ErrNotFound is returned by a Loader when the authoritative row is absent.
	ErrNotFound = errors.New("cache: not found")
	// ErrInvalidationIncomplete means a tier could not be cleared after retries.
	ErrInvalidationIncomplete = errors.New("cache: invalidation incomplete")
	ErrUnsupportedTier        = errors.New("cache: unsupported tier")
	ErrInvalidKey             = errors.New("cache: invalid key")
	ErrUnknownEntity          = errors.New("cache: unknown entity kind")
	ErrEmptyPrefix            = errors.New("cache: redis key prefix must not be empty")
	// errMiss is internal to the tier adapters.
	errMiss = errors.New("cache: miss")
)
