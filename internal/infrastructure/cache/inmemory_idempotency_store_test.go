package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source shared by the cache tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	clock := newFakeClock()
	store := newInMemoryIdempotencyStore(time.Hour, clock.Now)
	defer store.Close()
	ctx := context.Background()

	t.Run("first mark wins", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "TAOBAO:1:a", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)

		isNew, err = store.MarkProcessed(ctx, "TAOBAO:1:a", time.Hour)
		require.NoError(t, err)
		assert.False(t, isNew)
	})

	t.Run("expired key can be marked again", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "TAOBAO:2:a", time.Minute)
		require.NoError(t, err)
		require.True(t, isNew)

		clock.Advance(2 * time.Minute)

		isNew, err = store.MarkProcessed(ctx, "TAOBAO:2:a", time.Minute)
		require.NoError(t, err)
		assert.True(t, isNew)
	})
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	clock := newFakeClock()
	store := newInMemoryIdempotencyStore(time.Hour, clock.Now)
	defer store.Close()
	ctx := context.Background()

	seen, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = store.MarkProcessed(ctx, "k", time.Minute)
	require.NoError(t, err)
	seen, err = store.IsProcessed(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)

	clock.Advance(time.Minute)
	seen, err = store.IsProcessed(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen, "expiry is exclusive")
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	store := newInMemoryIdempotencyStore(time.Hour, clock.Now)
	defer store.Close()
	ctx := context.Background()

	_, _ = store.MarkProcessed(ctx, "short-1", time.Second)
	_, _ = store.MarkProcessed(ctx, "short-2", time.Second)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	assert.Equal(t, 3, store.Size())

	clock.Advance(time.Minute)
	store.sweep()

	assert.Equal(t, 1, store.Size())
	seen, err := store.IsProcessed(ctx, "long")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestInMemoryIdempotencyStore_ConcurrentMark(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	const workers = 64
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := store.MarkProcessed(context.Background(), "same-key", time.Hour)
			results <- err == nil && isNew
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for r := range results {
		if r {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
