// Package store provides balance persistence for the asset primitive.
package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

type accountKey struct {
	asset     id.AssetID
	principal id.Principal
}

// InMemoryStore keeps balances in process memory guarded by one mutex so a
// transfer's debit and credit are atomic relative to concurrent readers.
type InMemoryStore struct {
	mu       sync.RWMutex
	balances map[accountKey]decimal.Decimal
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		balances: make(map[accountKey]decimal.Decimal),
	}
}

func (s *InMemoryStore) Balance(_ context.Context, asset id.AssetID, principal id.Principal) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[accountKey{asset, principal}], nil
}

func (s *InMemoryStore) Transfer(_ context.Context, asset id.AssetID, from, to id.Principal, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "transfer amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fromKey := accountKey{asset, from}
	if s.balances[fromKey].LessThan(amount) {
		return dErrors.Newf(dErrors.CodeTransferFailed,
			"transfer of %s %s from %s failed: insufficient balance", amount, asset, from)
	}
	s.balances[fromKey] = s.balances[fromKey].Sub(amount)
	toKey := accountKey{asset, to}
	s.balances[toKey] = s.balances[toKey].Add(amount)
	return nil
}

func (s *InMemoryStore) Mint(_ context.Context, asset id.AssetID, to id.Principal, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "mint amount must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := accountKey{asset, to}
	s.balances[key] = s.balances[key].Add(amount)
	return nil
}
