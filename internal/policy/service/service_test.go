package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"flowlend/internal/asset"
	assetstore "flowlend/internal/asset/store"
	"flowlend/internal/authz"
	authzstore "flowlend/internal/authz/store"
	"flowlend/internal/backend"
	"flowlend/internal/backend/enginetest"
	"flowlend/internal/backend/registry"
	"flowlend/internal/backend/selector"
	"flowlend/internal/fx"
	ledgermodels "flowlend/internal/ledger/models"
	ledgerservice "flowlend/internal/ledger/service"
	ledgerstore "flowlend/internal/ledger/store"
	"flowlend/internal/policy/models"
	"flowlend/internal/policy/quote"
	"flowlend/internal/policy/service"
	policystore "flowlend/internal/policy/store"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

const (
	usd = id.AssetID("usd-token")
	rm  = id.BackendID("rm-1")
)

type PolicyServiceSuite struct {
	suite.Suite
	ctx      context.Context
	assets   asset.Store
	ledgers  *ledgerservice.Service
	policies *policystore.InMemoryStore
	engine   *enginetest.Engine
	svc      *service.Service

	ledgerID    id.LedgerID
	account     id.Principal
	customer    id.Principal
	creator     id.Principal
	beneficiary id.Principal
	pricer      id.Principal
	pricerKey   []byte
	poolAccount id.Principal
}

func TestPolicyServiceSuite(t *testing.T) {
	suite.Run(t, new(PolicyServiceSuite))
}

func (s *PolicyServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.assets = assetstore.NewMemory()

	s.ledgerID = id.NewLedgerID()
	s.account = id.NewPrincipal()
	s.customer = id.NewPrincipal()
	s.creator = id.NewPrincipal()
	s.beneficiary = id.NewPrincipal()
	s.pricer = id.NewPrincipal()
	s.pricerKey = []byte("pricer-signing-key")
	s.poolAccount = id.NewPrincipal()

	roles := authzstore.NewMemory()
	s.Require().NoError(roles.Grant(s.ctx, s.creator, id.RolePolicyCreator))
	s.Require().NoError(roles.Grant(s.ctx, s.pricer, id.RolePricer))
	authzSvc, err := authz.New(roles)
	s.Require().NoError(err)

	store := ledgerstore.NewMemory()
	s.ledgers, err = ledgerservice.New(store, s.assets, authzSvc)
	s.Require().NoError(err)
	s.Require().NoError(s.ledgers.CreateLedger(s.ctx, &ledgermodels.Ledger{
		ID:             s.ledgerID,
		Customer:       s.customer,
		Account:        s.account,
		FundingAsset:   usd,
		DefaultBackend: rm,
	}))

	b := &backend.Backend{
		ID:         rm,
		Pool:       id.PoolID("pool-1"),
		Engine:     id.NewPrincipal(),
		Account:    s.poolAccount,
		PricerKeys: map[id.Principal][]byte{s.pricer: s.pricerKey},
	}
	reg := registry.NewMemory()
	s.Require().NoError(reg.Register(s.ctx, b))
	s.engine = enginetest.New(b, s.assets)

	sel, err := selector.New(store, reg, authzSvc)
	s.Require().NoError(err)
	verifier, err := quote.NewVerifier(reg, authzSvc)
	s.Require().NoError(err)

	s.policies = policystore.NewMemory()
	s.svc, err = service.New(s.ledgers, sel, s.engine, s.policies, verifier, authzSvc)
	s.Require().NoError(err)

	s.Require().NoError(s.assets.Mint(s.ctx, usd, s.account, decimal.NewFromInt(1000)))
}

func (s *PolicyServiceSuite) signQuote(premium, coverage decimal.Decimal) string {
	signed, err := quote.Sign(s.pricerKey, s.pricer, rm, premium, coverage, time.Now().Add(time.Hour))
	s.Require().NoError(err)
	return signed
}

func (s *PolicyServiceSuite) debt() decimal.Decimal {
	debt, err := s.ledgers.CurrentDebt(s.ctx, s.ledgerID)
	s.Require().NoError(err)
	return debt
}

func (s *PolicyServiceSuite) balance(p id.Principal) decimal.Decimal {
	bal, err := s.assets.Balance(s.ctx, usd, p)
	s.Require().NoError(err)
	return bal
}

func (s *PolicyServiceSuite) TestCreatePolicy() {
	premium := decimal.NewFromInt(200)
	coverage := decimal.NewFromInt(800)

	s.Run("financed policy debits the charged premium", func() {
		s.SetupTest()

		policy, err := s.svc.CreatePolicy(s.ctx, s.creator, s.ledgerID, s.signQuote(premium, coverage), s.beneficiary)
		s.Require().NoError(err)

		s.True(s.debt().Equal(premium), s.debt().String())
		s.True(s.balance(s.account).Equal(decimal.NewFromInt(800)))
		s.True(s.balance(s.poolAccount).Equal(premium))

		s.Equal(s.ledgerID, policy.LedgerID)
		s.Equal(rm, policy.Backend)
		s.Equal(s.account, policy.Holder)
		s.Equal(s.beneficiary, policy.Beneficiary)
		s.Equal(models.StatusActive, policy.Status)
		s.True(s.engine.Minted(policy.ID))

		stored, err := s.policies.Get(s.ctx, policy.ID)
		s.Require().NoError(err)
		s.True(stored.Premium.Equal(premium))
	})

	s.Run("debt follows the charged premium when the backend adds fees", func() {
		s.SetupTest()
		s.engine.Fee = decimal.RequireFromString("0.05")

		policy, err := s.svc.CreatePolicy(s.ctx, s.creator, s.ledgerID, s.signQuote(premium, coverage), s.beneficiary)
		s.Require().NoError(err)

		charged := decimal.NewFromInt(210)
		s.True(s.debt().Equal(charged), s.debt().String())
		s.True(policy.Premium.Equal(charged))
		s.True(s.balance(s.poolAccount).Equal(charged))
	})

	s.Run("holder-paid variant puts the record in the beneficiary's name", func() {
		s.SetupTest()

		policy, err := s.svc.CreatePolicyPaidByHolder(s.ctx, s.creator, s.ledgerID, s.signQuote(premium, coverage), s.beneficiary)
		s.Require().NoError(err)

		s.Equal(s.beneficiary, policy.Holder)
		s.True(s.debt().Equal(premium))
	})

	s.Run("full variant honors an explicit holder", func() {
		s.SetupTest()
		holder := id.NewPrincipal()

		policy, err := s.svc.CreatePolicyFull(s.ctx, s.creator, s.ledgerID, s.signQuote(premium, coverage), holder, s.beneficiary)
		s.Require().NoError(err)

		s.Equal(holder, policy.Holder)
		s.Equal(s.beneficiary, policy.Beneficiary)
		s.True(s.debt().Equal(premium))
	})

	s.Run("caller without the creator capability is rejected", func() {
		s.SetupTest()

		_, err := s.svc.CreatePolicy(s.ctx, id.NewPrincipal(), s.ledgerID, s.signQuote(premium, coverage), s.beneficiary)
		s.Equal(dErrors.CodeUnauthorized, dErrors.CodeOf(err))
		s.True(s.debt().IsZero())
	})

	s.Run("underfunded instance records no debt and no policy", func() {
		s.SetupTest()

		_, err := s.svc.CreatePolicy(s.ctx, s.creator, s.ledgerID,
			s.signQuote(decimal.NewFromInt(5000), decimal.NewFromInt(20000)), s.beneficiary)
		s.Equal(dErrors.CodeTransferFailed, dErrors.CodeOf(err))

		s.True(s.debt().IsZero())
		s.True(s.balance(s.account).Equal(decimal.NewFromInt(1000)))
		policies, err := s.policies.ByLedger(s.ctx, s.ledgerID)
		s.Require().NoError(err)
		s.Empty(policies)
	})

	s.Run("expired quote is rejected before any money moves", func() {
		s.SetupTest()
		signed, err := quote.Sign(s.pricerKey, s.pricer, rm, premium, coverage, time.Now().Add(-time.Minute))
		s.Require().NoError(err)

		_, err = s.svc.CreatePolicy(s.ctx, s.creator, s.ledgerID, signed, s.beneficiary)
		s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
		s.True(s.balance(s.account).Equal(decimal.NewFromInt(1000)))
	})
}

func (s *PolicyServiceSuite) TestCreatePoliciesInBatch() {
	s.Run("batch charges every premium and debits the sum once", func() {
		s.SetupTest()
		quotes := []string{
			s.signQuote(decimal.NewFromInt(100), decimal.NewFromInt(400)),
			s.signQuote(decimal.NewFromInt(250), decimal.NewFromInt(900)),
		}

		policies, err := s.svc.CreatePoliciesInBatch(s.ctx, s.creator, s.ledgerID, quotes, s.beneficiary)
		s.Require().NoError(err)
		s.Require().Len(policies, 2)

		// Result ordering matches quote ordering.
		s.True(policies[0].Premium.Equal(decimal.NewFromInt(100)))
		s.True(policies[1].Premium.Equal(decimal.NewFromInt(250)))

		s.True(s.debt().Equal(decimal.NewFromInt(350)), s.debt().String())
		s.True(s.balance(s.poolAccount).Equal(decimal.NewFromInt(350)))
	})

	s.Run("batch is all-or-nothing when one premium cannot be funded", func() {
		s.SetupTest()
		quotes := []string{
			s.signQuote(decimal.NewFromInt(100), decimal.NewFromInt(400)),
			s.signQuote(decimal.NewFromInt(5000), decimal.NewFromInt(20000)),
		}

		_, err := s.svc.CreatePoliciesInBatch(s.ctx, s.creator, s.ledgerID, quotes, s.beneficiary)
		s.Equal(dErrors.CodeTransferFailed, dErrors.CodeOf(err))

		s.True(s.debt().IsZero())
		s.True(s.balance(s.account).Equal(decimal.NewFromInt(1000)), s.balance(s.account).String())
		s.True(s.balance(s.poolAccount).IsZero())
	})

	s.Run("batch with one bad quote charges nothing", func() {
		s.SetupTest()
		quotes := []string{
			s.signQuote(decimal.NewFromInt(100), decimal.NewFromInt(400)),
			"not-a-quote",
		}

		_, err := s.svc.CreatePoliciesInBatch(s.ctx, s.creator, s.ledgerID, quotes, s.beneficiary)
		s.Equal(dErrors.CodeUnauthorized, dErrors.CodeOf(err))
		s.True(s.balance(s.account).Equal(decimal.NewFromInt(1000)))
	})

	s.Run("empty batch is rejected", func() {
		s.SetupTest()

		_, err := s.svc.CreatePoliciesInBatch(s.ctx, s.creator, s.ledgerID, nil, s.beneficiary)
		s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
	})
}

type fixedConverter struct {
	rate decimal.Decimal
}

func (c fixedConverter) Snapshot(context.Context) (*fx.Snapshot, error) {
	return fx.NewSnapshot(c.rate)
}

func (c fixedConverter) RefToAsset(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount.Mul(c.rate).Truncate(6), nil
}

func (c fixedConverter) AssetToRef(_ context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	return amount.DivRound(c.rate, 14).Truncate(6), nil
}

// meteredConverter hands out a bounded number of rate observations and then
// reports the price as stale.
type meteredConverter struct {
	rate  decimal.Decimal
	limit int
	calls int
}

func (c *meteredConverter) Snapshot(context.Context) (*fx.Snapshot, error) {
	c.calls++
	if c.calls > c.limit {
		return nil, dErrors.New(dErrors.CodeStalePrice, "exchange rate is stale")
	}
	return fx.NewSnapshot(c.rate)
}

func (s *PolicyServiceSuite) TestCreatePolicyFX() {
	converter := fixedConverter{rate: decimal.RequireFromString("1.08919")}

	setupFX := func(conv service.Converter) (*service.Service, *ledgerservice.Service, id.LedgerID, id.Principal) {
		s.SetupTest()

		roles := authzstore.NewMemory()
		s.Require().NoError(roles.Grant(s.ctx, s.creator, id.RolePolicyCreator))
		s.Require().NoError(roles.Grant(s.ctx, s.pricer, id.RolePricer))
		authzSvc, err := authz.New(roles)
		s.Require().NoError(err)

		store := ledgerstore.NewMemory()
		ledgers, err := ledgerservice.New(store, s.assets, authzSvc,
			ledgerservice.WithConverter(converter))
		s.Require().NoError(err)

		fxLedgerID := id.NewLedgerID()
		fxAccount := id.NewPrincipal()
		s.Require().NoError(ledgers.CreateLedger(s.ctx, &ledgermodels.Ledger{
			ID:             fxLedgerID,
			Customer:       s.customer,
			Account:        fxAccount,
			FundingAsset:   usd,
			DefaultBackend: rm,
			Denomination:   ledgermodels.DenominationReference,
			FXBuffer:       decimal.RequireFromString("1.1"),
		}))
		s.Require().NoError(s.assets.Mint(s.ctx, usd, fxAccount, decimal.NewFromInt(1000)))

		b := &backend.Backend{
			ID:         rm,
			Pool:       id.PoolID("pool-1"),
			Engine:     id.NewPrincipal(),
			Account:    s.poolAccount,
			PricerKeys: map[id.Principal][]byte{s.pricer: s.pricerKey},
		}
		reg := registry.NewMemory()
		s.Require().NoError(reg.Register(s.ctx, b))
		engine := enginetest.New(b, s.assets)

		sel, err := selector.New(store, reg, authzSvc)
		s.Require().NoError(err)
		verifier, err := quote.NewVerifier(reg, authzSvc)
		s.Require().NoError(err)

		svc, err := service.New(ledgers, sel, engine, policystore.NewMemory(), verifier, authzSvc,
			service.WithConverter(conv))
		s.Require().NoError(err)
		return svc, ledgers, fxLedgerID, fxAccount
	}

	s.Run("premium converts at the rate and debt stays in reference units", func() {
		svc, ledgers, fxLedgerID, _ := setupFX(converter)

		// Quote is in reference units: premium 80, coverage 500.
		policy, err := svc.CreatePolicy(s.ctx, s.creator, fxLedgerID,
			s.signQuote(decimal.NewFromInt(80), decimal.NewFromInt(500)), s.beneficiary)
		s.Require().NoError(err)

		// 80 × 1.08919 asset units charged by the engine.
		charged := decimal.RequireFromString("87.1352")
		s.True(policy.Premium.Equal(charged), policy.Premium.String())
		s.True(s.balance(s.poolAccount).Equal(charged))

		// Coverage is buffered: 500 × 1.1 × 1.08919.
		s.True(policy.Coverage.Equal(decimal.RequireFromString("599.0545")), policy.Coverage.String())

		// Debt is the charged premium expressed in reference units.
		debt, err := ledgers.CurrentDebt(s.ctx, fxLedgerID)
		s.Require().NoError(err)
		s.True(debt.Equal(decimal.NewFromInt(80)), debt.String())
		s.True(policy.PremiumRef.Equal(decimal.NewFromInt(80)))
	})

	s.Run("one rate observation covers a whole create call", func() {
		metered := &meteredConverter{rate: decimal.RequireFromString("1.08919"), limit: 1}
		svc, ledgers, fxLedgerID, _ := setupFX(metered)

		policy, err := svc.CreatePolicy(s.ctx, s.creator, fxLedgerID,
			s.signQuote(decimal.NewFromInt(80), decimal.NewFromInt(500)), s.beneficiary)
		s.Require().NoError(err)
		s.Equal(1, metered.calls)

		// Charge, debt entry, and policy record all agree on the one rate.
		debt, err := ledgers.CurrentDebt(s.ctx, fxLedgerID)
		s.Require().NoError(err)
		s.True(debt.Equal(decimal.NewFromInt(80)), debt.String())
		s.True(policy.PremiumRef.Equal(decimal.NewFromInt(80)))
	})

	s.Run("one rate observation covers a whole batch", func() {
		metered := &meteredConverter{rate: decimal.RequireFromString("1.08919"), limit: 1}
		svc, ledgers, fxLedgerID, _ := setupFX(metered)

		quotes := []string{
			s.signQuote(decimal.NewFromInt(80), decimal.NewFromInt(500)),
			s.signQuote(decimal.NewFromInt(100), decimal.NewFromInt(400)),
		}
		policies, err := svc.CreatePoliciesInBatch(s.ctx, s.creator, fxLedgerID, quotes, s.beneficiary)
		s.Require().NoError(err)
		s.Require().Len(policies, 2)
		s.Equal(1, metered.calls)

		debt, err := ledgers.CurrentDebt(s.ctx, fxLedgerID)
		s.Require().NoError(err)
		s.True(debt.Equal(decimal.NewFromInt(180)), debt.String())
	})

	s.Run("stale price rejects the call before any money moves", func() {
		metered := &meteredConverter{rate: decimal.RequireFromString("1.08919"), limit: 0}
		svc, ledgers, fxLedgerID, fxAccount := setupFX(metered)

		_, err := svc.CreatePolicy(s.ctx, s.creator, fxLedgerID,
			s.signQuote(decimal.NewFromInt(80), decimal.NewFromInt(500)), s.beneficiary)
		s.Equal(dErrors.CodeStalePrice, dErrors.CodeOf(err))

		debt, err := ledgers.CurrentDebt(s.ctx, fxLedgerID)
		s.Require().NoError(err)
		s.True(debt.IsZero(), debt.String())
		s.True(s.balance(fxAccount).Equal(decimal.NewFromInt(1000)))
		s.True(s.balance(s.poolAccount).IsZero())
	})
}
