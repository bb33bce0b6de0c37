// Package lender composes the debt ledger, policy-creation adapter, payout
// interceptor, and optional FX strategy into one lender instance. The three
// flavors share one core; they differ only in which strategies are attached:
//
//   - plain: asset-denominated debt, payout surplus paid to the customer
//     immediately, default backend only.
//   - multi-backend: plain plus the active-backend selector.
//   - FX: reference-denominated debt, payout surplus accrued as negative
//     debt for cash-out, coverage sized with a safety buffer.
package lender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"flowlend/internal/asset"
	"flowlend/internal/authz"
	"flowlend/internal/backend"
	"flowlend/internal/backend/selector"
	"flowlend/internal/fx"
	"flowlend/internal/ledger/events"
	ledgermodels "flowlend/internal/ledger/models"
	ledgerservice "flowlend/internal/ledger/service"
	"flowlend/internal/lender/metrics"
	payoutservice "flowlend/internal/payout/service"
	policymodels "flowlend/internal/policy/models"
	policyservice "flowlend/internal/policy/service"
	"flowlend/internal/policy/quote"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// Flavor selects the strategy bundle a lender instance runs with.
type Flavor string

const (
	FlavorPlain        Flavor = "plain"
	FlavorMultiBackend Flavor = "multi-backend"
	FlavorFX           Flavor = "fx"
)

// PolicyStore is the full policy index surface the composed services need.
type PolicyStore interface {
	Save(ctx context.Context, policy *policymodels.Policy) error
	Get(ctx context.Context, policyID id.PolicyID) (*policymodels.Policy, error)
	SetStatus(ctx context.Context, policyID id.PolicyID, status policymodels.Status) error
	ByLedger(ctx context.Context, ledgerID id.LedgerID) ([]*policymodels.Policy, error)
}

// Config carries the stores and collaborators a lender instance is composed
// from. Ledger describes the instance record; it is created on startup if
// the store does not hold it yet.
type Config struct {
	Ledger      *ledgermodels.Ledger
	LedgerStore ledgerservice.Store
	Assets      asset.Store
	Authz       *authz.Service
	Registry    backend.Registry
	Engine      backend.IssuingEngine
	Policies    PolicyStore

	// FX configuration, required for FlavorFX only.
	Prices         fx.PriceStore
	PriceTolerance time.Duration

	Publisher events.Publisher
	Logger    *slog.Logger
}

// Lender is one composed lender instance.
type Lender struct {
	flavor   Flavor
	ledgerID id.LedgerID

	Ledger   *ledgerservice.Service
	Policies *policyservice.Service
	Payouts  *payoutservice.Service
	Selector *selector.Service
	FX       *fx.Service
	Authz    *authz.Service
	Metrics  *metrics.Metrics

	store PolicyStore
}

// NewPlain composes a plain lender: asset-denominated debt, immediate
// surplus payout, default backend only.
func NewPlain(cfg Config) (*Lender, error) {
	return compose(FlavorPlain, cfg)
}

// NewMultiBackend composes a lender whose active backend can be switched
// within the default backend's pool.
func NewMultiBackend(cfg Config) (*Lender, error) {
	return compose(FlavorMultiBackend, cfg)
}

// NewFX composes a lender with reference-denominated debt and an FX
// conversion strategy at transfer boundaries.
func NewFX(cfg Config) (*Lender, error) {
	return compose(FlavorFX, cfg)
}

func compose(flavor Flavor, cfg Config) (*Lender, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger record is required")
	}
	if cfg.LedgerStore == nil || cfg.Assets == nil || cfg.Authz == nil {
		return nil, fmt.Errorf("ledger store, asset store, and authorizer are required")
	}
	if cfg.Registry == nil || cfg.Engine == nil || cfg.Policies == nil {
		return nil, fmt.Errorf("backend registry, engine, and policy store are required")
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NewInMemory()
	}

	var fxSvc *fx.Service
	if flavor == FlavorFX {
		if cfg.Prices == nil {
			return nil, fmt.Errorf("FX flavor requires a price store")
		}
		var err error
		if fxSvc, err = fx.New(cfg.Prices, cfg.PriceTolerance); err != nil {
			return nil, err
		}
		cfg.Ledger.Denomination = ledgermodels.DenominationReference
		if cfg.Ledger.FXBuffer.IsZero() {
			cfg.Ledger.FXBuffer = decimal.RequireFromString("1.1")
		}
	} else {
		cfg.Ledger.Denomination = ledgermodels.DenominationAsset
	}

	ledgerOpts := []ledgerservice.Option{
		ledgerservice.WithPublisher(publisher),
		ledgerservice.WithLogger(cfg.Logger),
	}
	if fxSvc != nil {
		ledgerOpts = append(ledgerOpts, ledgerservice.WithConverter(fxSvc))
	}
	ledgerSvc, err := ledgerservice.New(cfg.LedgerStore, cfg.Assets, cfg.Authz, ledgerOpts...)
	if err != nil {
		return nil, err
	}

	if _, err := cfg.LedgerStore.Get(context.Background(), cfg.Ledger.ID); err != nil {
		if err := ledgerSvc.CreateLedger(context.Background(), cfg.Ledger); err != nil {
			return nil, fmt.Errorf("create ledger record: %w", err)
		}
	}

	sel, err := selector.New(cfg.LedgerStore, cfg.Registry, cfg.Authz,
		selector.WithPublisher(publisher), selector.WithLogger(cfg.Logger))
	if err != nil {
		return nil, err
	}

	verifier, err := quote.NewVerifier(cfg.Registry, cfg.Authz)
	if err != nil {
		return nil, err
	}

	policyOpts := []policyservice.Option{policyservice.WithLogger(cfg.Logger)}
	if fxSvc != nil {
		policyOpts = append(policyOpts, policyservice.WithConverter(fxSvc))
	}
	policySvc, err := policyservice.New(ledgerSvc, sel, cfg.Engine, cfg.Policies, verifier, cfg.Authz, policyOpts...)
	if err != nil {
		return nil, err
	}

	payoutOpts := []payoutservice.Option{payoutservice.WithLogger(cfg.Logger)}
	if fxSvc != nil {
		payoutOpts = append(payoutOpts, payoutservice.WithConverter(fxSvc))
	}
	payoutSvc, err := payoutservice.New(ledgerSvc, cfg.Policies, cfg.Registry, cfg.Assets, payoutOpts...)
	if err != nil {
		return nil, err
	}

	return &Lender{
		flavor:   flavor,
		ledgerID: cfg.Ledger.ID,
		Ledger:   ledgerSvc,
		Policies: policySvc,
		Payouts:  payoutSvc,
		Selector: sel,
		FX:       fxSvc,
		Authz:    cfg.Authz,
		Metrics:  metrics.New(cfg.Ledger.ID.String()),
		store:    cfg.Policies,
	}, nil
}

// Flavor reports the strategy bundle this instance runs with.
func (l *Lender) Flavor() Flavor { return l.flavor }

// LedgerID is the instance identifier.
func (l *Lender) LedgerID() id.LedgerID { return l.ledgerID }

// CreatePolicy finances one policy on this instance.
func (l *Lender) CreatePolicy(ctx context.Context, caller id.Principal, signedQuote string, beneficiary id.Principal) (*policymodels.Policy, error) {
	policy, err := l.Policies.CreatePolicy(ctx, caller, l.ledgerID, signedQuote, beneficiary)
	if err != nil {
		return nil, err
	}
	l.Metrics.PoliciesCreated.Inc()
	l.observeDebt(ctx)
	return policy, nil
}

// CreatePolicyPaidByHolder finances one policy held by the beneficiary.
func (l *Lender) CreatePolicyPaidByHolder(ctx context.Context, caller id.Principal, signedQuote string, beneficiary id.Principal) (*policymodels.Policy, error) {
	policy, err := l.Policies.CreatePolicyPaidByHolder(ctx, caller, l.ledgerID, signedQuote, beneficiary)
	if err != nil {
		return nil, err
	}
	l.Metrics.PoliciesCreated.Inc()
	l.observeDebt(ctx)
	return policy, nil
}

// CreatePolicyFull finances one policy with an explicit holder.
func (l *Lender) CreatePolicyFull(ctx context.Context, caller id.Principal, signedQuote string, holder, beneficiary id.Principal) (*policymodels.Policy, error) {
	policy, err := l.Policies.CreatePolicyFull(ctx, caller, l.ledgerID, signedQuote, holder, beneficiary)
	if err != nil {
		return nil, err
	}
	l.Metrics.PoliciesCreated.Inc()
	l.observeDebt(ctx)
	return policy, nil
}

// CreatePoliciesInBatch finances N policies atomically.
func (l *Lender) CreatePoliciesInBatch(ctx context.Context, caller id.Principal, signedQuotes []string, beneficiary id.Principal) ([]*policymodels.Policy, error) {
	policies, err := l.Policies.CreatePoliciesInBatch(ctx, caller, l.ledgerID, signedQuotes, beneficiary)
	if err != nil {
		return nil, err
	}
	l.Metrics.PoliciesCreated.Add(float64(len(policies)))
	l.observeDebt(ctx)
	return policies, nil
}

// OnPayoutReceived is the engine payout callback.
func (l *Lender) OnPayoutReceived(ctx context.Context, caller, payer id.Principal, policyID id.PolicyID, amount decimal.Decimal) error {
	if err := l.Payouts.OnPayoutReceived(ctx, caller, payer, policyID, amount); err != nil {
		return err
	}
	l.Metrics.PayoutsReceived.Inc()
	l.observeDebt(ctx)
	return nil
}

// OnPolicyExpired is the engine expiry callback.
func (l *Lender) OnPolicyExpired(ctx context.Context, caller id.Principal, policyID id.PolicyID) error {
	return l.Payouts.OnPolicyExpired(ctx, caller, policyID)
}

// CurrentDebt returns the signed running debt.
func (l *Lender) CurrentDebt(ctx context.Context) (decimal.Decimal, error) {
	debt, err := l.Ledger.CurrentDebt(ctx, l.ledgerID)
	if err != nil {
		return decimal.Zero, err
	}
	l.Metrics.SetCurrentDebt(debt)
	return debt, nil
}

// Repay transfers up to the outstanding debt from the caller.
func (l *Lender) Repay(ctx context.Context, caller id.Principal, amount decimal.Decimal) (decimal.Decimal, error) {
	paid, err := l.Ledger.Repay(ctx, caller, l.ledgerID, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if paid.Sign() > 0 {
		l.Metrics.Repayments.Inc()
	}
	l.observeDebt(ctx)
	return paid, nil
}

// Withdraw moves up to the available funding-asset balance to destination.
func (l *Lender) Withdraw(ctx context.Context, caller id.Principal, amount decimal.Decimal, destination id.Principal) (decimal.Decimal, error) {
	taken, err := l.Ledger.Withdraw(ctx, caller, l.ledgerID, amount, destination)
	if err != nil {
		return decimal.Zero, err
	}
	if taken.Sign() > 0 {
		l.Metrics.Withdrawals.Inc()
	}
	return taken, nil
}

// CashOut pays accrued payout credit to the customer. FX flavor only.
func (l *Lender) CashOut(ctx context.Context, caller id.Principal, amount decimal.Decimal, destination id.Principal) (decimal.Decimal, error) {
	paid, err := l.Ledger.CashOut(ctx, caller, l.ledgerID, amount, destination)
	if err != nil {
		return decimal.Zero, err
	}
	l.observeDebt(ctx)
	return paid, nil
}

// SetCustomer changes the financed customer.
func (l *Lender) SetCustomer(ctx context.Context, caller, customer id.Principal) error {
	return l.Ledger.SetCustomer(ctx, caller, l.ledgerID, customer)
}

// SetBuffer changes the FX coverage safety multiplier. FX flavor only.
func (l *Lender) SetBuffer(ctx context.Context, caller id.Principal, buffer decimal.Decimal) error {
	return l.Ledger.SetBuffer(ctx, caller, l.ledgerID, buffer)
}

// SetActiveBackend switches the backend for new policies. Unavailable on the
// plain flavor, which is bound to its default backend for life.
func (l *Lender) SetActiveBackend(ctx context.Context, caller id.Principal, backendID id.BackendID) error {
	if l.flavor == FlavorPlain {
		return dErrors.New(dErrors.CodeBadRequest, "backend switching is not available on this instance")
	}
	return l.Selector.SetActiveBackend(ctx, caller, l.ledgerID, backendID)
}

// ActiveBackend resolves the backend new policies route to.
func (l *Lender) ActiveBackend(ctx context.Context) (*backend.Backend, error) {
	return l.Selector.ActiveBackend(ctx, l.ledgerID)
}

// PoliciesOf lists the policies financed by this instance.
func (l *Lender) PoliciesOf(ctx context.Context) ([]*policymodels.Policy, error) {
	return l.store.ByLedger(ctx, l.ledgerID)
}

func (l *Lender) observeDebt(ctx context.Context) {
	if debt, err := l.Ledger.CurrentDebt(ctx, l.ledgerID); err == nil {
		l.Metrics.SetCurrentDebt(debt)
	}
}
