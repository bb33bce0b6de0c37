// Package backend models the issuing-engine side of the lender family: the
// port the lender consumes to create policies, and the registry of known
// backends (risk modules) with their parent pools, callback identities, and
// pricer signing keys.
package backend

//go:generate mockgen -source=backend.go -destination=mocks/mocks.go -package=mocks IssuingEngine,Registry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	id "flowlend/pkg/domain"
)

// Backend describes one issuing-engine backend.
type Backend struct {
	ID id.BackendID

	// Pool is the parent issuing pool. Backend overrides on a lender must
	// stay within the default backend's pool.
	Pool id.PoolID

	// Engine is the principal the issuing engine calls back as; payout and
	// expiry callbacks are accepted from it only.
	Engine id.Principal

	// Account is the principal premiums are paid into and payouts are paid
	// from.
	Account id.Principal

	// PricerKeys holds the HMAC signing key per pricer principal. A quote
	// for this backend must be signed with one of these keys.
	PricerKeys map[id.Principal][]byte
}

// CreateRequest asks a backend to mint one policy, premium paid by Payer.
type CreateRequest struct {
	Backend     id.BackendID
	Asset       id.AssetID
	Payer       id.Principal
	Holder      id.Principal
	Beneficiary id.Principal
	Premium     decimal.Decimal
	Coverage    decimal.Decimal
	Expiry      time.Time
	QuoteID     id.QuoteID
}

// CreateResult reports the minted policy. ChargedPremium is what the backend
// actually charged, which may differ from the quoted figure after
// backend-side fee computation; debt accounting must use this value.
type CreateResult struct {
	PolicyID       id.PolicyID
	ChargedPremium decimal.Decimal
}

// IssuingEngine is the narrow interface the lender consumes. The engine is an
// external collaborator; it pulls the premium from the payer itself and later
// calls back through the payout interceptor.
type IssuingEngine interface {
	// CreatePolicy mints one policy and charges its premium.
	CreatePolicy(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// CreatePoliciesInBatch mints N policies atomically: all premiums are
	// charged or none are. Result ordering matches request ordering.
	CreatePoliciesInBatch(ctx context.Context, reqs []CreateRequest) ([]CreateResult, error)
}

// Registry resolves backend descriptors and callback identities.
type Registry interface {
	Get(ctx context.Context, backendID id.BackendID) (*Backend, error)
	Register(ctx context.Context, b *Backend) error

	// IsEnginePrincipal reports whether the principal is a registered
	// engine callback identity for any backend, including backends that
	// are no longer the active one. Cross-backend payout callbacks remain
	// honored as long as the backend retains resolver standing.
	IsEnginePrincipal(ctx context.Context, principal id.Principal) (bool, error)
}
