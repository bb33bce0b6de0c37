// Package models defines the lender-side record of financed policies.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "flowlend/pkg/domain"
)

// Status tracks a financed policy's lifecycle at the lender.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

// Policy is the lender's view of a policy it financed. The issuing engine
// owns the authoritative record; this index exists so payout callbacks can
// be routed to the right ledger, including callbacks from backends that are
// no longer the active one.
type Policy struct {
	ID       id.PolicyID
	LedgerID id.LedgerID
	Backend  id.BackendID

	// Holder is the nominal holder of the policy record; usually the
	// lender instance's account, but the paid-by-holder variant puts the
	// beneficiary there instead.
	Holder      id.Principal
	Beneficiary id.Principal

	// Premium is the actually charged premium in funding-asset units.
	Premium decimal.Decimal

	// PremiumRef is the premium in reference-currency units on FX
	// instances; zero otherwise.
	PremiumRef decimal.Decimal

	Coverage  decimal.Decimal
	Status    Status
	CreatedAt time.Time
}
