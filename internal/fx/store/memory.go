// Package store provides price-store implementations for the FX converter.
package store

import (
	"context"
	"sync"

	"flowlend/internal/fx"
	dErrors "flowlend/pkg/domain-errors"
)

// InMemoryStore keeps the latest price observation in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	price *fx.Price
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Latest(_ context.Context) (*fx.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.price == nil {
		return nil, dErrors.New(dErrors.CodeStalePrice, "no exchange rate has been observed yet")
	}
	cp := *s.price
	return &cp, nil
}

func (s *InMemoryStore) Put(_ context.Context, price fx.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = &price
	return nil
}
