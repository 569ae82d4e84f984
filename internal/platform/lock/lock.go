// Package lock provides short-lived mutual exclusion keyed by string, used
// to serialize competing bookings for the same slot.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotOwner is returned by Unlock when the key is held under another token.
var ErrNotOwner = errors.New("lock not owned by this client")

// Locker acquires and releases expiring locks. TryLock never blocks waiting
// for a holder; it reports acquired=false instead.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (acquired bool, token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
