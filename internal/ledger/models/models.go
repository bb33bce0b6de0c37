// Package models defines the lender instance state tracked by the debt
// ledger.
package models

import (
	"github.com/shopspring/decimal"

	id "flowlend/pkg/domain"
)

// Denomination is the currency the running debt is tracked in.
type Denomination string

const (
	// DenominationAsset tracks debt in funding-asset units (plain and
	// multi-backend flavors).
	DenominationAsset Denomination = "asset"
	// DenominationReference tracks debt in reference-currency units (FX
	// flavor); conversion to asset units happens only at transfer time.
	DenominationReference Denomination = "reference"
)

// Ledger is the per-lender-instance record. One instance is created at
// initialization and persists for the process lifetime; its debt drifts
// toward zero through payouts and repayments but the record is never
// destroyed.
type Ledger struct {
	ID id.LedgerID

	// Customer is the entity whose premiums are financed and who may repay
	// or cash out. Mutable via the owner capability.
	Customer id.Principal

	// Account is the principal holding this instance's funding-asset
	// balance. Fixed at initialization.
	Account id.Principal

	// FundingAsset is immutable per instance.
	FundingAsset id.AssetID

	// CurrentDebt is signed: positive means the customer owes the lender,
	// negative means the lender owes the customer.
	CurrentDebt decimal.Decimal

	// DefaultBackend is the issuing engine the instance was initialized
	// with.
	DefaultBackend id.BackendID

	// ActiveBackend overrides DefaultBackend for new policies when set.
	// The zero value means default-bound.
	ActiveBackend id.BackendID

	Denomination Denomination

	// FXBuffer is the safety multiplier (> 1.0) applied when sizing
	// reference-currency coverage. Zero on non-FX instances.
	FXBuffer decimal.Decimal
}

// EffectiveBackend resolves the backend used for new policies: the override
// when set, the default otherwise.
func (l *Ledger) EffectiveBackend() id.BackendID {
	if !l.ActiveBackend.IsNil() {
		return l.ActiveBackend
	}
	return l.DefaultBackend
}

// IsFX reports whether debt is tracked in reference-currency units.
func (l *Ledger) IsFX() bool {
	return l.Denomination == DenominationReference
}

// Clone returns a deep copy so stores can hand out records without aliasing
// internal state.
func (l *Ledger) Clone() *Ledger {
	cp := *l
	return &cp
}
