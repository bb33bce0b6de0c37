// Package enginetest provides an in-memory issuing engine for service and
// scenario tests. It charges real premiums through the asset store and drives
// the payout callbacks the way a production engine would, so tests exercise
// the full money flow without a network.
package enginetest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"flowlend/internal/asset"
	"flowlend/internal/backend"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// Resolver is the payout interceptor surface the engine calls back into.
type Resolver interface {
	OnPayoutReceived(ctx context.Context, caller, payer id.Principal, policyID id.PolicyID, amount decimal.Decimal) error
	OnPolicyExpired(ctx context.Context, caller id.Principal, policyID id.PolicyID) error
}

type mintedPolicy struct {
	req backend.CreateRequest
}

// Engine is an in-memory issuing engine bound to one backend descriptor.
type Engine struct {
	mu       sync.Mutex
	backend  *backend.Backend
	assets   asset.Store
	resolver Resolver
	policies map[id.PolicyID]mintedPolicy

	// Fee is an optional surcharge applied on top of the quoted premium,
	// e.g. 0.05 charges 5% more than quoted. Exercises the rule that debt
	// accounting follows the charged figure, not the quoted one.
	Fee decimal.Decimal
}

func New(b *backend.Backend, assets asset.Store) *Engine {
	return &Engine{
		backend:  b,
		assets:   assets,
		policies: make(map[id.PolicyID]mintedPolicy),
	}
}

// SetResolver wires the payout interceptor. Set after construction because
// the interceptor itself depends on the registry the engine is part of.
func (e *Engine) SetResolver(r Resolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolver = r
}

func (e *Engine) charged(quoted decimal.Decimal) decimal.Decimal {
	if e.Fee.Sign() == 0 {
		return quoted
	}
	return quoted.Add(quoted.Mul(e.Fee))
}

func (e *Engine) CreatePolicy(ctx context.Context, req backend.CreateRequest) (*backend.CreateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Backend != e.backend.ID {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request routed to the wrong backend")
	}
	charged := e.charged(req.Premium)
	if err := e.assets.Transfer(ctx, req.Asset, req.Payer, e.backend.Account, charged); err != nil {
		return nil, err
	}

	policyID := id.NewPolicyID()
	e.policies[policyID] = mintedPolicy{req: req}
	return &backend.CreateResult{PolicyID: policyID, ChargedPremium: charged}, nil
}

// CreatePoliciesInBatch mints the whole batch or nothing: premiums already
// pulled are refunded if a later charge fails.
func (e *Engine) CreatePoliciesInBatch(ctx context.Context, reqs []backend.CreateRequest) ([]backend.CreateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]backend.CreateResult, 0, len(reqs))
	for i, req := range reqs {
		if req.Backend != e.backend.ID {
			e.refund(ctx, reqs[:i], results)
			return nil, dErrors.New(dErrors.CodeBadRequest, "request routed to the wrong backend")
		}
		charged := e.charged(req.Premium)
		if err := e.assets.Transfer(ctx, req.Asset, req.Payer, e.backend.Account, charged); err != nil {
			e.refund(ctx, reqs[:i], results)
			return nil, err
		}
		results = append(results, backend.CreateResult{
			PolicyID:       id.NewPolicyID(),
			ChargedPremium: charged,
		})
	}
	for i, res := range results {
		e.policies[res.PolicyID] = mintedPolicy{req: reqs[i]}
	}
	return results, nil
}

func (e *Engine) refund(ctx context.Context, reqs []backend.CreateRequest, results []backend.CreateResult) {
	for i := range results {
		_ = e.assets.Transfer(ctx, reqs[i].Asset, e.backend.Account, reqs[i].Payer, results[i].ChargedPremium)
	}
}

// ResolvePolicy pays out the given amount on a minted policy through the
// interceptor, funded from the backend account like a real pool would.
func (e *Engine) ResolvePolicy(ctx context.Context, policyID id.PolicyID, amount decimal.Decimal) error {
	e.mu.Lock()
	resolver := e.resolver
	_, known := e.policies[policyID]
	e.mu.Unlock()

	if !known {
		return dErrors.New(dErrors.CodeUnknownPolicy, "engine did not mint this policy")
	}
	if resolver == nil {
		return dErrors.New(dErrors.CodeInternal, "engine has no resolver wired")
	}
	return resolver.OnPayoutReceived(ctx, e.backend.Engine, e.backend.Account, policyID, amount)
}

// ExpirePolicy reports a policy that lapsed without paying out.
func (e *Engine) ExpirePolicy(ctx context.Context, policyID id.PolicyID) error {
	e.mu.Lock()
	resolver := e.resolver
	_, known := e.policies[policyID]
	e.mu.Unlock()

	if !known {
		return dErrors.New(dErrors.CodeUnknownPolicy, "engine did not mint this policy")
	}
	if resolver == nil {
		return dErrors.New(dErrors.CodeInternal, "engine has no resolver wired")
	}
	return resolver.OnPolicyExpired(ctx, e.backend.Engine, policyID)
}

// Minted reports whether the engine minted the policy. Test helper.
func (e *Engine) Minted(policyID id.PolicyID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.policies[policyID]
	return ok
}
