package domain

import (
	"context"
	"time"
)

// LockManager provides short-lived mutual exclusion keyed by string. Acquire
// returns ErrLockHeld when another holder owns the key; the returned unlock
// function is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
