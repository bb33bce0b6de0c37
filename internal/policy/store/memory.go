// Package store indexes financed policies by ID.
package store

import (
	"context"
	"sync"

	"flowlend/internal/policy/models"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// ErrUnknownPolicy is returned for policies this lender did not originate.
var ErrUnknownPolicy = dErrors.New(dErrors.CodeUnknownPolicy, "policy was not financed by this lender")

// InMemoryStore keeps the financed-policy index in process memory. The index
// is reconstructible from the issuing engine, so no durable twin is needed.
type InMemoryStore struct {
	mu       sync.RWMutex
	policies map[id.PolicyID]*models.Policy
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		policies: make(map[id.PolicyID]*models.Policy),
	}
}

func (s *InMemoryStore) Save(_ context.Context, policy *models.Policy) error {
	if policy == nil || policy.ID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "policy with an ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *policy
	s.policies[policy.ID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, policyID id.PolicyID) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[policyID]
	if !ok {
		return nil, ErrUnknownPolicy
	}
	cp := *policy
	return &cp, nil
}

// SetStatus transitions the policy's lifecycle state.
func (s *InMemoryStore) SetStatus(_ context.Context, policyID id.PolicyID, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy, ok := s.policies[policyID]
	if !ok {
		return ErrUnknownPolicy
	}
	policy.Status = status
	return nil
}

// ByLedger lists financed policies for one lender instance.
func (s *InMemoryStore) ByLedger(_ context.Context, ledgerID id.LedgerID) ([]*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Policy
	for _, p := range s.policies {
		if p.LedgerID == ledgerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
