package lock

import (
	"context"
)

// Locker serialises builds that publish to the same output.
// Blocks until lock is acquired or context is cancelled
type Locker interface {
	AcquireLock(ctx context.Context, key string) (Lock, error)
}

// Lock represents an acquired lock that must be released
type Lock interface {
	Release() error
}
