package ecommerce

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/erp/reconciler/internal/domain/intake"
)

// Registry dispatches payloads to the normalizer of their platform and
// validates every envelope it produces.
type Registry struct {
	mu          sync.RWMutex
	normalizers map[intake.PlatformCode]intake.Normalizer
	validate    *validator.Validate
}

// NewRegistry creates a registry holding the given normalizers
func NewRegistry(normalizers ...intake.Normalizer) *Registry {
	r := &Registry{
		normalizers: make(map[intake.PlatformCode]intake.Normalizer, len(normalizers)),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, n := range normalizers {
		r.Register(n)
	}
	return r
}

// DefaultRegistry holds a normalizer for every supported platform
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewTaobaoNormalizer(),
		NewDouyinNormalizer(),
		NewCanonicalNormalizer(),
	)
}

// Register adds or replaces the normalizer of n.Platform()
func (r *Registry) Register(n intake.Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[n.Platform()] = n
}

// Platforms lists the registered platforms
func (r *Registry) Platforms() []intake.PlatformCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]intake.PlatformCode, 0, len(r.normalizers))
	for _, p := range intake.AllPlatforms() {
		if _, ok := r.normalizers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Normalize implements intake.NormalizerRegistry
func (r *Registry) Normalize(platform intake.PlatformCode, payload []byte) (*intake.Envelope, error) {
	r.mu.RLock()
	n, ok := r.normalizers[platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", intake.ErrUnknownPlatform, platform)
	}
	if len(payload) == 0 {
		return nil, intake.ErrEmptyPayload
	}

	env, err := n.Normalize(payload)
	if err != nil {
		return nil, err
	}
	if !env.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", intake.ErrUnmappedStatus, env.Status)
	}
	if err := r.validate.Struct(env); err != nil {
		return nil, fmt.Errorf("%s: invalid envelope: %w", platform, err)
	}
	return env, nil
}
