// Package store provides role-grant persistence for the authz service.
package store

import (
	"context"
	"sync"

	id "flowlend/pkg/domain"
)

// InMemoryStore keeps role grants in process memory. Default backend for
// tests and single-node deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	grants map[id.Principal]map[id.Role]struct{}
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		grants: make(map[id.Principal]map[id.Role]struct{}),
	}
}

func (s *InMemoryStore) HasRole(_ context.Context, principal id.Principal, role id.Role) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles, ok := s.grants[principal]
	if !ok {
		return false, nil
	}
	_, ok = roles[role]
	return ok, nil
}

func (s *InMemoryStore) Grant(_ context.Context, principal id.Principal, role id.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles, ok := s.grants[principal]
	if !ok {
		roles = make(map[id.Role]struct{})
		s.grants[principal] = roles
	}
	roles[role] = struct{}{}
	return nil
}

func (s *InMemoryStore) Revoke(_ context.Context, principal id.Principal, role id.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roles, ok := s.grants[principal]; ok {
		delete(roles, role)
	}
	return nil
}

func (s *InMemoryStore) RolesOf(_ context.Context, principal id.Principal) ([]id.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]id.Role, 0, len(s.grants[principal]))
	for role := range s.grants[principal] {
		roles = append(roles, role)
	}
	return roles, nil
}
