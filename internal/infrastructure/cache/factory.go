package cache

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appshared "github.com/erp/reconciler/internal/application/shared"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/config"
)

// Factory builds the Redis-or-local variants of the dedup store and the
// SKU locker from configuration.
type Factory struct {
	client                redis.UniversalClient
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether a Redis backend without a client
// degrades to the local implementation instead of failing. Default is false.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFactory creates a factory. client may be nil when Redis is disabled.
func NewFactory(client redis.UniversalClient, opts ...FactoryOption) *Factory {
	f := &Factory{
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IdempotencyStore returns the configured store, or nil when the fast path
// is disabled.
func (f *Factory) IdempotencyStore(cfg config.IdempotencyConfig) (shared.IdempotencyStore, error) {
	if !cfg.Enabled {
		f.logger.Info("idempotency fast path disabled")
		return nil, nil
	}
	switch cfg.Backend {
	case "", "memory":
		f.logger.Warn("using in-memory idempotency store; duplicates across instances are caught by the event log only")
		return NewInMemoryIdempotencyStore(), nil
	case "redis":
		if f.client == nil {
			if !f.allowInMemoryFallback {
				return nil, fmt.Errorf("idempotency backend redis requires a redis client")
			}
			f.logger.Warn("Redis unavailable, falling back to in-memory idempotency store")
			return NewInMemoryIdempotencyStore(), nil
		}
		f.logger.Info("using Redis idempotency store")
		return NewRedisIdempotencyStore(f.client, ""), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
}

// SKULocker returns the configured SKU locker
func (f *Factory) SKULocker(cfg config.LedgerConfig) (appshared.SKULocker, error) {
	switch cfg.LockBackend {
	case "", "local":
		return NewLocalSKULocker(cfg.LockStripes), nil
	case "redis":
		if f.client == nil {
			if !f.allowInMemoryFallback {
				return nil, fmt.Errorf("lock backend redis requires a redis client")
			}
			f.logger.Warn("Redis unavailable, falling back to local SKU locks")
			return NewLocalSKULocker(cfg.LockStripes), nil
		}
		ttl := cfg.LockTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		f.logger.Info("using Redis SKU locks", zap.Duration("ttl", ttl))
		return NewRedisSKULocker(f.client, ttl, cfg.LockWait), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}
