// Package service implements the payout interceptor: the callback surface
// the issuing engine invokes when a financed policy resolves with a payout
// or expires without one. Payout proceeds route to the debt ledger first;
// any remainder belongs to the customer.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"flowlend/internal/asset"
	"flowlend/internal/backend"
	"flowlend/internal/fx"
	ledgermodels "flowlend/internal/ledger/models"
	"flowlend/internal/policy/models"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
	"flowlend/pkg/money"
)

// errOnlyPolicyPool is the rejection for callers that are not a registered
// issuing-engine principal. The message is part of the external contract.
var errOnlyPolicyPool = dErrors.New(dErrors.CodeUnauthorized, "Only the PolicyPool should call this method")

// Ledgers is the slice of the debt ledger the interceptor needs.
type Ledgers interface {
	Get(ctx context.Context, ledgerID id.LedgerID) (*ledgermodels.Ledger, error)
	Credit(ctx context.Context, ledgerID id.LedgerID, amount decimal.Decimal) error
}

// PolicyStore resolves financed policies and tracks their lifecycle.
type PolicyStore interface {
	Get(ctx context.Context, policyID id.PolicyID) (*models.Policy, error)
	SetStatus(ctx context.Context, policyID id.PolicyID, status models.Status) error
}

// Converter yields rate snapshots for reference-denominated instances.
// Attached only on FX-flavor instances.
type Converter interface {
	Snapshot(ctx context.Context) (*fx.Snapshot, error)
}

type Service struct {
	ledgers  Ledgers
	policies PolicyStore
	registry backend.Registry
	assets   asset.Store
	fx       Converter
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConverter attaches the FX strategy for reference-denominated ledgers.
func WithConverter(fx Converter) Option {
	return func(s *Service) {
		s.fx = fx
	}
}

func New(ledgers Ledgers, policies PolicyStore, registry backend.Registry, assets asset.Store, opts ...Option) (*Service, error) {
	if ledgers == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("backend registry is required")
	}
	if assets == nil {
		return nil, fmt.Errorf("asset store is required")
	}

	svc := &Service{
		ledgers:  ledgers,
		policies: policies,
		registry: registry,
		assets:   assets,
		tracer:   otel.Tracer("flowlend/payout"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// OnPayoutReceived credits the ledger with the payout and forwards any
// surplus beyond the outstanding debt to the customer. On FX instances the
// surplus accrues as negative debt instead, for later cash-out. The policy's
// own backend is honored even if the lender has since switched to another
// backend: debt mutation is backend-agnostic.
func (s *Service) OnPayoutReceived(ctx context.Context, caller, payer id.Principal, policyID id.PolicyID, amount decimal.Decimal) error {
	ctx, span := s.tracer.Start(ctx, "OnPayoutReceived",
		trace.WithAttributes(attribute.String("policy_id", policyID.String())))
	defer span.End()

	policy, err := s.authorize(ctx, caller, policyID)
	if err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "payout amount must not be negative")
	}

	ledger, err := s.ledgers.Get(ctx, policy.LedgerID)
	if err != nil {
		return err
	}

	// The rate is resolved before any money moves. A stale or missing price
	// rejects the callback with the payout still on the engine's side, never
	// after the transfer with the credit left unapplied.
	var rates *fx.Snapshot
	if ledger.IsFX() {
		if s.fx == nil {
			return dErrors.New(dErrors.CodeInternal, "FX instance has no converter")
		}
		if rates, err = s.fx.Snapshot(ctx); err != nil {
			return err
		}
	}

	// Pull the payout from wherever the engine placed it.
	if err := s.assets.Transfer(ctx, ledger.FundingAsset, payer, ledger.Account, amount); err != nil {
		return err
	}

	if rates != nil {
		if err := s.ledgers.Credit(ctx, ledger.ID, rates.AssetToRef(amount)); err != nil {
			return err
		}
	} else {
		if err := s.creditAndPaySurplus(ctx, ledger, amount); err != nil {
			return err
		}
	}

	if err := s.policies.SetStatus(ctx, policyID, models.StatusResolved); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "payout received",
			"policy_id", policyID,
			"ledger_id", policy.LedgerID,
			"amount", amount,
		)
	}
	return nil
}

// OnPolicyExpired records the expiry of a non-paying policy. An expired
// policy never alters the debt and must not emit a DebtChanged event.
func (s *Service) OnPolicyExpired(ctx context.Context, caller id.Principal, policyID id.PolicyID) error {
	ctx, span := s.tracer.Start(ctx, "OnPolicyExpired",
		trace.WithAttributes(attribute.String("policy_id", policyID.String())))
	defer span.End()

	policy, err := s.authorize(ctx, caller, policyID)
	if err != nil {
		return err
	}
	if err := s.policies.SetStatus(ctx, policyID, models.StatusExpired); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "policy expired",
			"policy_id", policyID,
			"ledger_id", policy.LedgerID,
		)
	}
	return nil
}

// authorize verifies the caller is a registered engine principal and, for a
// known policy, the engine of the backend that issued it. Backends swapped
// out of the active slot keep resolver standing for their in-flight
// policies.
func (s *Service) authorize(ctx context.Context, caller id.Principal, policyID id.PolicyID) (*models.Policy, error) {
	isEngine, err := s.registry.IsEnginePrincipal(ctx, caller)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check engine principal")
	}
	if !isEngine {
		return nil, errOnlyPolicyPool
	}

	policy, err := s.policies.Get(ctx, policyID)
	if err != nil {
		return nil, err
	}

	b, err := s.registry.Get(ctx, policy.Backend)
	if err != nil {
		return nil, err
	}
	if b.Engine != caller {
		return nil, errOnlyPolicyPool
	}
	return policy, nil
}

// creditAndPaySurplus applies the plain-flavor strategy: the payout clears
// debt first and the remainder is paid to the customer immediately.
func (s *Service) creditAndPaySurplus(ctx context.Context, ledger *ledgermodels.Ledger, amount decimal.Decimal) error {
	owed := ledger.CurrentDebt
	if owed.Sign() < 0 {
		owed = decimal.Zero
	}
	applied := money.Min(amount, owed)
	if err := s.ledgers.Credit(ctx, ledger.ID, applied); err != nil {
		return err
	}

	surplus := amount.Sub(applied)
	if surplus.Sign() > 0 {
		if err := s.assets.Transfer(ctx, ledger.FundingAsset, ledger.Account, ledger.Customer, surplus); err != nil {
			return err
		}
	}
	return nil
}
