// Package events defines the ledger notification stream. Every observable
// state change on a lender instance is emitted as one typed event; transports
// (Kafka in production, an in-memory recorder in tests) implement Publisher.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	id "flowlend/pkg/domain"
)

// Type discriminates event payloads.
type Type string

const (
	TypeDebtChanged             Type = "DebtChanged"
	TypeCustomerChanged         Type = "CustomerChanged"
	TypeWithdrawal              Type = "Withdrawal"
	TypeActiveRiskModuleChanged Type = "ActiveRiskModuleChanged"
	TypeFxRiskBufferChanged     Type = "FxRiskBufferChanged"
	TypeCashOutPayout           Type = "CashOutPayout"
)

// Event is the union payload for all ledger notifications. Only the fields
// relevant to the Type are populated.
type Event struct {
	Type     Type        `json:"type"`
	LedgerID id.LedgerID `json:"ledger_id"`

	// TypeDebtChanged
	NewDebt *decimal.Decimal `json:"new_debt,omitempty"`

	// TypeCustomerChanged
	NewCustomer id.Principal `json:"new_customer,omitempty"`

	// TypeWithdrawal, TypeCashOutPayout
	Destination id.Principal     `json:"destination,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`

	// TypeCashOutPayout
	Customer    id.Principal     `json:"customer,omitempty"`
	DebtReduced *decimal.Decimal `json:"debt_reduced,omitempty"`

	// TypeActiveRiskModuleChanged: the resulting effective backend.
	NewBackend id.BackendID `json:"new_backend,omitempty"`

	// TypeFxRiskBufferChanged
	NewBuffer *decimal.Decimal `json:"new_buffer,omitempty"`

	At time.Time `json:"at"`
}

// Publisher emits ledger events.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// InMemoryPublisher records events for assertions in unit tests and for
// single-process deployments without a broker.
type InMemoryPublisher struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemory() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Emit(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a snapshot of everything emitted so far.
func (p *InMemoryPublisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// OfType filters the recorded events by type.
func (p *InMemoryPublisher) OfType(t Type) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recorded events. Use between test cases.
func (p *InMemoryPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
