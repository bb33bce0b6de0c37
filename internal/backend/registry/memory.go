// Package registry stores backend descriptors. The registry is seeded from
// configuration at startup; the durable source of truth is the issuing
// engine itself.
package registry

import (
	"context"
	"sync"

	"flowlend/internal/backend"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// InMemoryRegistry keeps backend descriptors in process memory.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	backends map[id.BackendID]*backend.Backend
	engines  map[id.Principal]struct{}
}

func NewMemory() *InMemoryRegistry {
	return &InMemoryRegistry{
		backends: make(map[id.BackendID]*backend.Backend),
		engines:  make(map[id.Principal]struct{}),
	}
}

func (r *InMemoryRegistry) Register(_ context.Context, b *backend.Backend) error {
	if b == nil || b.ID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "backend with an ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.ID] = b
	if !b.Engine.IsNil() {
		r.engines[b.Engine] = struct{}{}
	}
	return nil
}

func (r *InMemoryRegistry) Get(_ context.Context, backendID id.BackendID) (*backend.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[backendID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "backend %s is not registered", backendID)
	}
	return b, nil
}

func (r *InMemoryRegistry) IsEnginePrincipal(_ context.Context, principal id.Principal) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.engines[principal]
	return ok, nil
}
