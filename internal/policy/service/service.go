// Package service implements the policy-creation adapter: it verifies signed
// quotes, forwards creation to the active issuing backend, and debits the
// debt ledger by the premium the backend actually charged.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"flowlend/internal/backend"
	"flowlend/internal/fx"
	ledgermodels "flowlend/internal/ledger/models"
	"flowlend/internal/policy/models"
	"flowlend/internal/policy/quote"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
	"flowlend/pkg/requestcontext"
)

// Ledgers is the slice of the debt ledger the adapter needs.
type Ledgers interface {
	Get(ctx context.Context, ledgerID id.LedgerID) (*ledgermodels.Ledger, error)
	Debit(ctx context.Context, ledgerID id.LedgerID, amount decimal.Decimal) error
}

// Selector resolves the backend new policies are routed to.
type Selector interface {
	ActiveBackend(ctx context.Context, ledgerID id.LedgerID) (*backend.Backend, error)
}

// PolicyStore indexes financed policies.
type PolicyStore interface {
	Save(ctx context.Context, policy *models.Policy) error
}

// Authorizer is the capability predicate.
type Authorizer interface {
	Require(ctx context.Context, principal id.Principal, role id.Role) error
}

// Converter yields rate snapshots for reference-denominated instances.
// Attached only on FX-flavor instances.
type Converter interface {
	Snapshot(ctx context.Context) (*fx.Snapshot, error)
}

type Service struct {
	ledgers  Ledgers
	selector Selector
	engine   backend.IssuingEngine
	policies PolicyStore
	verifier *quote.Verifier
	authz    Authorizer
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

func New(ledgers Ledgers, selector Selector, engine backend.IssuingEngine, policies PolicyStore, verifier *quote.Verifier, authz Authorizer, opts ...Option) (*Service, error) {
	if ledgers == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if selector == nil {
		return nil, fmt.Errorf("backend selector is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("issuing engine is required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("quote verifier is required")
	}
	if authz == nil {
		return nil, fmt.Errorf("authorizer is required")
	}

	svc := &Service{
		ledgers:  ledgers,
		selector: selector,
		engine:   engine,
		policies: policies,
		verifier: verifier,
		authz:    authz,
		tracer:   otel.Tracer("flowlend/policy"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreatePolicy finances one policy: the premium is paid from the lender
// instance's account and recorded as customer debt. The policy record is
// held by the lender until resolution.
func (s *Service) CreatePolicy(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, signedQuote string, beneficiary id.Principal) (*models.Policy, error) {
	return s.create(ctx, caller, ledgerID, signedQuote, beneficiary, false)
}

// CreatePolicyPaidByHolder finances a policy whose record is nominally held
// by the beneficiary instead of the lender. Debt mechanics are identical.
func (s *Service) CreatePolicyPaidByHolder(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, signedQuote string, beneficiary id.Principal) (*models.Policy, error) {
	return s.create(ctx, caller, ledgerID, signedQuote, beneficiary, true)
}

// CreatePolicyFull finances a policy with an explicit holder distinct from
// both the lender and the beneficiary. Debt mechanics are identical.
func (s *Service) CreatePolicyFull(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, signedQuote string, holder, beneficiary id.Principal) (*models.Policy, error) {
	if holder.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "holder is required")
	}
	return s.createWithHolder(ctx, caller, ledgerID, signedQuote, holder, beneficiary)
}

func (s *Service) create(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, signedQuote string, beneficiary id.Principal, holderIsBeneficiary bool) (*models.Policy, error) {
	var holder id.Principal
	if holderIsBeneficiary {
		holder = beneficiary
	}
	return s.createWithHolder(ctx, caller, ledgerID, signedQuote, holder, beneficiary)
}

// createWithHolder finances one policy. A zero holder defaults to the lender
// instance's own account.
func (s *Service) createWithHolder(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, signedQuote string, holder, beneficiary id.Principal) (*models.Policy, error) {
	ctx, span := s.tracer.Start(ctx, "CreatePolicy",
		trace.WithAttributes(attribute.String("ledger_id", ledgerID.String())))
	defer span.End()

	if err := s.authz.Require(ctx, caller, id.RolePolicyCreator); err != nil {
		return nil, err
	}

	ledger, err := s.ledgers.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	active, err := s.selector.ActiveBackend(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	q, err := s.verifier.Verify(ctx, signedQuote, active.ID)
	if err != nil {
		return nil, err
	}

	// The rate is resolved once, before any money moves; every conversion
	// below uses the same observation, so the charge and the debt entry can
	// never disagree about it.
	rates, err := s.rates(ctx, ledger)
	if err != nil {
		return nil, err
	}

	req := s.buildRequest(ledger, active, q, holder, beneficiary, rates)
	res, err := s.engine.CreatePolicy(ctx, *req)
	if err != nil {
		return nil, err
	}

	policy, err := s.record(ctx, ledger, req, res, rates)
	if err != nil {
		return nil, err
	}
	if err := s.ledgers.Debit(ctx, ledgerID, debitAmount(res.ChargedPremium, rates)); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "policy financed",
			"ledger_id", ledgerID,
			"policy_id", policy.ID,
			"backend", active.ID,
			"charged_premium", res.ChargedPremium,
		)
	}
	return policy, nil
}

// CreatePoliciesInBatch finances N policies atomically: the backend charges
// all premiums or none, and the ledger receives one aggregate debit
// equivalent to the sum. Result ordering matches input ordering.
func (s *Service) CreatePoliciesInBatch(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, signedQuotes []string, beneficiary id.Principal) ([]*models.Policy, error) {
	ctx, span := s.tracer.Start(ctx, "CreatePoliciesInBatch",
		trace.WithAttributes(
			attribute.String("ledger_id", ledgerID.String()),
			attribute.Int("batch_size", len(signedQuotes)),
		))
	defer span.End()

	if err := s.authz.Require(ctx, caller, id.RolePolicyCreator); err != nil {
		return nil, err
	}
	if len(signedQuotes) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "batch must contain at least one quote")
	}

	ledger, err := s.ledgers.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	active, err := s.selector.ActiveBackend(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	// One rate observation covers the whole batch.
	rates, err := s.rates(ctx, ledger)
	if err != nil {
		return nil, err
	}

	reqs := make([]backend.CreateRequest, 0, len(signedQuotes))
	for _, signedQuote := range signedQuotes {
		q, err := s.verifier.Verify(ctx, signedQuote, active.ID)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *s.buildRequest(ledger, active, q, "", beneficiary, rates))
	}

	results, err := s.engine.CreatePoliciesInBatch(ctx, reqs)
	if err != nil {
		return nil, err
	}
	if len(results) != len(reqs) {
		return nil, dErrors.New(dErrors.CodeInternal, "backend returned a partial batch result")
	}

	policies := make([]*models.Policy, 0, len(results))
	total := decimal.Zero
	for i := range results {
		policy, err := s.record(ctx, ledger, &reqs[i], &results[i], rates)
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
		total = total.Add(debitAmount(results[i].ChargedPremium, rates))
	}
	if err := s.ledgers.Debit(ctx, ledgerID, total); err != nil {
		return nil, err
	}
	return policies, nil
}

// rates pins the exchange rate for one financing operation. Plain instances
// get nil: no conversion applies.
func (s *Service) rates(ctx context.Context, ledger *ledgermodels.Ledger) (*fx.Snapshot, error) {
	if !ledger.IsFX() {
		return nil, nil
	}
	if s.fx == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "FX instance has no converter")
	}
	return s.fx.Snapshot(ctx)
}

// buildRequest sizes the engine request. On FX instances the quote is in
// reference units: the premium converts at the pinned rate and the coverage
// is sized with the safety buffer to pre-fund adverse FX movement.
func (s *Service) buildRequest(ledger *ledgermodels.Ledger, active *backend.Backend, q *quote.Quote, holder, beneficiary id.Principal, rates *fx.Snapshot) *backend.CreateRequest {
	premium := q.Premium
	coverage := q.Coverage
	if rates != nil {
		premium = rates.RefToAsset(q.Premium)
		coverage = rates.RefToAsset(q.Coverage.Mul(ledger.FXBuffer))
	}

	if holder.IsNil() {
		holder = ledger.Account
	}
	return &backend.CreateRequest{
		Backend:     active.ID,
		Asset:       ledger.FundingAsset,
		Payer:       ledger.Account,
		Holder:      holder,
		Beneficiary: beneficiary,
		Premium:     premium,
		Coverage:    coverage,
		Expiry:      q.ValidUntil,
		QuoteID:     q.ID,
	}
}

func (s *Service) record(ctx context.Context, ledger *ledgermodels.Ledger, req *backend.CreateRequest, res *backend.CreateResult, rates *fx.Snapshot) (*models.Policy, error) {
	policy := &models.Policy{
		ID:          res.PolicyID,
		LedgerID:    ledger.ID,
		Backend:     req.Backend,
		Holder:      req.Holder,
		Beneficiary: req.Beneficiary,
		Premium:     res.ChargedPremium,
		Coverage:    req.Coverage,
		Status:      models.StatusActive,
		CreatedAt:   requestcontext.Now(ctx),
	}
	if rates != nil {
		policy.PremiumRef = rates.AssetToRef(res.ChargedPremium)
	}
	if err := s.policies.Save(ctx, policy); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to index policy")
	}
	return policy, nil
}

// debitAmount is the charged premium expressed in the ledger's debt
// denomination.
func debitAmount(charged decimal.Decimal, rates *fx.Snapshot) decimal.Decimal {
	if rates == nil {
		return charged
	}
	return rates.AssetToRef(charged)
}
