package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	appshared "github.com/erp/reconciler/internal/application/shared"
)

// DefaultLockStripes is the stripe count used when none is configured
const DefaultLockStripes = 256

// LocalSKULocker serializes SKUs within one process. SKUs hash onto a fixed
// set of stripes, so unrelated SKUs occasionally share a lock; that costs
// throughput, never correctness.
type LocalSKULocker struct {
	stripes []chan struct{}
}

// NewLocalSKULocker creates a locker with n stripes
func NewLocalSKULocker(n int) *LocalSKULocker {
	if n <= 0 {
		n = DefaultLockStripes
	}
	stripes := make([]chan struct{}, n)
	for i := range stripes {
		stripes[i] = make(chan struct{}, 1)
	}
	return &LocalSKULocker{stripes: stripes}
}

// Lock takes the stripes of skus in ascending stripe order
func (l *LocalSKULocker) Lock(ctx context.Context, skus []string) (func(), error) {
	idx := l.stripeIndexes(skus)
	held := make([]int, 0, len(idx))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-l.stripes[held[i]]
		}
	}

	for _, i := range idx {
		select {
		case l.stripes[i] <- struct{}{}:
			held = append(held, i)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: %v", appshared.ErrLockNotAcquired, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *LocalSKULocker) stripeIndexes(skus []string) []int {
	seen := make(map[int]struct{}, len(skus))
	out := make([]int, 0, len(skus))
	for _, sku := range skus {
		h := fnv.New32a()
		_, _ = h.Write([]byte(sku))
		i := int(h.Sum32() % uint32(len(l.stripes)))
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

var _ appshared.SKULocker = (*LocalSKULocker)(nil)
