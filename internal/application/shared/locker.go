package shared

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a SKU lock could not be taken before
// the context expired.
var ErrLockNotAcquired = errors.New("ledger: sku lock not acquired")

// SKULocker serializes ledger writes per SKU. Implementations take the locks
// in sorted order so two callers locking overlapping sets cannot deadlock.
type SKULocker interface {
	// Lock blocks until every SKU is held or ctx is done. The returned
	// function releases all of them.
	Lock(ctx context.Context, skus []string) (unlock func(), err error)
}
