// Package store provides lender-instance persistence.
package store

import (
	"context"
	"sync"

	"flowlend/internal/ledger/models"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// ErrNotFound keeps store-level 404s consistent across implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "ledger not found")

// InMemoryStore keeps lender instances in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	ledgers map[id.LedgerID]*models.Ledger
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		ledgers: make(map[id.LedgerID]*models.Ledger),
	}
}

func (s *InMemoryStore) Create(_ context.Context, ledger *models.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ledgers[ledger.ID]; exists {
		return dErrors.Newf(dErrors.CodeBadRequest, "ledger %s already exists", ledger.ID)
	}
	s.ledgers[ledger.ID] = ledger.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, ledgerID id.LedgerID) (*models.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger, ok := s.ledgers[ledgerID]
	if !ok {
		return nil, ErrNotFound
	}
	return ledger.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, ledger *models.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledgers[ledger.ID]; !ok {
		return ErrNotFound
	}
	s.ledgers[ledger.ID] = ledger.Clone()
	return nil
}
