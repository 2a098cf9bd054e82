package shared

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	domainshared "github.com/erp/reconciler/internal/domain/shared"
)

// DefaultConflictRetries bounds how often a write that lost a version
// compare-and-set is retried.
const DefaultConflictRetries = 5

// RetryOnConflict runs op again, with short exponential backoff, as long as
// it fails with a concurrency conflict. Any other error stops immediately and
// is returned as is.
func RetryOnConflict(ctx context.Context, maxRetries uint64, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 250 * time.Millisecond
	eb.MaxElapsedTime = 5 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, domainshared.ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
