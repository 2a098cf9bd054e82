package cache

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appshared "github.com/erp/reconciler/internal/application/shared"
)

// DefaultLockKeyPrefix namespaces SKU lock keys in Redis
const DefaultLockKeyPrefix = "recon:lock:sku:"

// unlockScript deletes the key only if it still holds our token
const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// RedisSKULocker serializes SKUs across instances with one SET NX key per
// SKU. Keys expire after ttl so a crashed holder cannot wedge a SKU.
type RedisSKULocker struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
}

// NewRedisSKULocker creates a locker. wait bounds how long Lock retries a
// held key; zero means until ctx is done.
func NewRedisSKULocker(client redis.UniversalClient, ttl, wait time.Duration) *RedisSKULocker {
	return &RedisSKULocker{
		client:    client,
		keyPrefix: DefaultLockKeyPrefix,
		ttl:       ttl,
		wait:      wait,
	}
}

// Lock takes every SKU key in sorted order under a fresh token
func (l *RedisSKULocker) Lock(ctx context.Context, skus []string) (func(), error) {
	keys := l.keys(skus)
	token := uuid.NewString()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.acquire(ctx, key, token); err != nil {
			l.release(held, token)
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(held, token) }) }, nil
}

func (l *RedisSKULocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s: %v", appshared.ErrLockNotAcquired, key, ctx.Err())
			}
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		backoff := time.Duration(5+rand.Intn(45)) * time.Millisecond
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", appshared.ErrLockNotAcquired, key, ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// release runs on a detached context so an expired request context still
// frees the keys. A key that already expired is left to whoever holds it now.
func (l *RedisSKULocker) release(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		_ = l.client.Eval(ctx, unlockScript, []string{keys[i]}, token).Err()
	}
}

func (l *RedisSKULocker) keys(skus []string) []string {
	seen := make(map[string]struct{}, len(skus))
	out := make([]string, 0, len(skus))
	for _, sku := range skus {
		if _, ok := seen[sku]; ok {
			continue
		}
		seen[sku] = struct{}{}
		out = append(out, l.keyPrefix+sku)
	}
	sort.Strings(out)
	return out
}

var _ appshared.SKULocker = (*RedisSKULocker)(nil)
