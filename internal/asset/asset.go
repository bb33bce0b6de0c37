// Package asset provides the fungible-asset transfer primitive the lender
// family is built on. A transfer is atomic and reverts on insufficient
// balance; callers never pre-check balances, they rely on the primitive's
// failure mode.
package asset

import (
	"context"

	"github.com/shopspring/decimal"

	id "flowlend/pkg/domain"
)

// Store manages per-principal balances of fungible assets.
type Store interface {
	// Balance returns the principal's balance of the asset (zero if the
	// account has never been funded).
	Balance(ctx context.Context, asset id.AssetID, principal id.Principal) (decimal.Decimal, error)

	// Transfer atomically moves amount from one principal to another.
	// Fails with a transfer_failed coded error when the source balance is
	// insufficient; no partial movement is ever visible.
	Transfer(ctx context.Context, asset id.AssetID, from, to id.Principal, amount decimal.Decimal) error

	// Mint credits new units to a principal. Used to fund lenders and by
	// test fixtures; gated at the service layer, not here.
	Mint(ctx context.Context, asset id.AssetID, to id.Principal, amount decimal.Decimal) error
}
