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
	"flowlend/internal/backend/registry"
	"flowlend/internal/fx"
	"flowlend/internal/ledger/events"
	ledgermodels "flowlend/internal/ledger/models"
	ledgerservice "flowlend/internal/ledger/service"
	ledgerstore "flowlend/internal/ledger/store"
	"flowlend/internal/payout/service"
	"flowlend/internal/policy/models"
	policystore "flowlend/internal/policy/store"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

const usd = id.AssetID("usd-token")

type PayoutSuite struct {
	suite.Suite
	ctx       context.Context
	assets    asset.Store
	ledgers   *ledgerservice.Service
	policies  *policystore.InMemoryStore
	registry  *registry.InMemoryRegistry
	publisher *events.InMemoryPublisher
	svc       *service.Service

	ledgerID id.LedgerID
	account  id.Principal
	customer id.Principal
	engine   id.Principal
	pool     id.Principal
	policyID id.PolicyID
	backend  id.BackendID
}

func TestPayoutSuite(t *testing.T) {
	suite.Run(t, new(PayoutSuite))
}

func (s *PayoutSuite) SetupTest() {
	s.ctx = context.Background()
	s.assets = assetstore.NewMemory()
	s.publisher = events.NewInMemory()

	s.ledgerID = id.NewLedgerID()
	s.account = id.NewPrincipal()
	s.customer = id.NewPrincipal()
	s.engine = id.NewPrincipal()
	s.pool = id.NewPrincipal()
	s.policyID = id.NewPolicyID()
	s.backend = id.BackendID("rm-1")

	authzSvc, err := authz.New(authzstore.NewMemory())
	s.Require().NoError(err)

	s.ledgers, err = ledgerservice.New(ledgerstore.NewMemory(), s.assets, authzSvc,
		ledgerservice.WithPublisher(s.publisher))
	s.Require().NoError(err)
	s.Require().NoError(s.ledgers.CreateLedger(s.ctx, &ledgermodels.Ledger{
		ID:             s.ledgerID,
		Customer:       s.customer,
		Account:        s.account,
		FundingAsset:   usd,
		DefaultBackend: s.backend,
	}))

	s.registry = registry.NewMemory()
	s.Require().NoError(s.registry.Register(s.ctx, &backend.Backend{
		ID:      s.backend,
		Pool:    id.PoolID("pool-1"),
		Engine:  s.engine,
		Account: s.pool,
	}))

	s.policies = policystore.NewMemory()
	s.Require().NoError(s.policies.Save(s.ctx, &models.Policy{
		ID:        s.policyID,
		LedgerID:  s.ledgerID,
		Backend:   s.backend,
		Premium:   decimal.NewFromInt(200),
		Coverage:  decimal.NewFromInt(800),
		Status:    models.StatusActive,
		CreatedAt: time.Now(),
	}))

	s.svc, err = service.New(s.ledgers, s.policies, s.registry, s.assets)
	s.Require().NoError(err)

	// Pool holds the coverage it may have to pay out.
	s.Require().NoError(s.assets.Mint(s.ctx, usd, s.pool, decimal.NewFromInt(10_000)))
}

func (s *PayoutSuite) setDebt(amount decimal.Decimal) {
	s.Require().NoError(s.ledgers.Debit(s.ctx, s.ledgerID, amount))
	s.publisher.Reset()
}

func (s *PayoutSuite) debt() decimal.Decimal {
	debt, err := s.ledgers.CurrentDebt(s.ctx, s.ledgerID)
	s.Require().NoError(err)
	return debt
}

func (s *PayoutSuite) balance(p id.Principal) decimal.Decimal {
	bal, err := s.assets.Balance(s.ctx, usd, p)
	s.Require().NoError(err)
	return bal
}

func (s *PayoutSuite) TestOnPayoutReceived() {
	s.Run("payout repays debt and pays the surplus to the customer", func() {
		s.SetupTest()
		s.setDebt(decimal.NewFromInt(200))

		err := s.svc.OnPayoutReceived(s.ctx, s.engine, s.pool, s.policyID, decimal.NewFromInt(800))
		s.Require().NoError(err)

		s.True(s.debt().IsZero(), s.debt().String())
		s.True(s.balance(s.customer).Equal(decimal.NewFromInt(600)), s.balance(s.customer).String())
		s.True(s.balance(s.account).Equal(decimal.NewFromInt(200)), s.balance(s.account).String())

		policy, err := s.policies.Get(s.ctx, s.policyID)
		s.Require().NoError(err)
		s.Equal(models.StatusResolved, policy.Status)
	})

	s.Run("payout below the debt leaves the remainder owed", func() {
		s.SetupTest()
		s.setDebt(decimal.NewFromInt(500))

		err := s.svc.OnPayoutReceived(s.ctx, s.engine, s.pool, s.policyID, decimal.NewFromInt(300))
		s.Require().NoError(err)

		s.True(s.debt().Equal(decimal.NewFromInt(200)), s.debt().String())
		s.True(s.balance(s.customer).IsZero())
	})

	s.Run("payout with no debt outstanding goes entirely to the customer", func() {
		s.SetupTest()

		err := s.svc.OnPayoutReceived(s.ctx, s.engine, s.pool, s.policyID, decimal.NewFromInt(400))
		s.Require().NoError(err)

		s.True(s.debt().IsZero())
		s.True(s.balance(s.customer).Equal(decimal.NewFromInt(400)))
		// Zero applied to the debt, so no debt event fires.
		s.Empty(s.publisher.OfType(events.TypeDebtChanged))
	})

	s.Run("non-engine caller is rejected", func() {
		s.SetupTest()
		s.setDebt(decimal.NewFromInt(200))

		err := s.svc.OnPayoutReceived(s.ctx, id.NewPrincipal(), s.pool, s.policyID, decimal.NewFromInt(800))
		s.Equal(dErrors.CodeUnauthorized, dErrors.CodeOf(err))
		s.Contains(err.Error(), "Only the PolicyPool should call this method")
		s.True(s.debt().Equal(decimal.NewFromInt(200)))
	})

	s.Run("engine of another backend cannot resolve this policy", func() {
		s.SetupTest()
		otherEngine := id.NewPrincipal()
		s.Require().NoError(s.registry.Register(s.ctx, &backend.Backend{
			ID:      id.BackendID("rm-2"),
			Pool:    id.PoolID("pool-2"),
			Engine:  otherEngine,
			Account: id.NewPrincipal(),
		}))

		err := s.svc.OnPayoutReceived(s.ctx, otherEngine, s.pool, s.policyID, decimal.NewFromInt(800))
		s.Equal(dErrors.CodeUnauthorized, dErrors.CodeOf(err))
	})

	s.Run("policy this lender did not finance is rejected", func() {
		s.SetupTest()

		err := s.svc.OnPayoutReceived(s.ctx, s.engine, s.pool, id.NewPolicyID(), decimal.NewFromInt(800))
		s.Equal(dErrors.CodeUnknownPolicy, dErrors.CodeOf(err))
	})

	s.Run("negative payout is rejected", func() {
		s.SetupTest()

		err := s.svc.OnPayoutReceived(s.ctx, s.engine, s.pool, s.policyID, decimal.NewFromInt(-1))
		s.Equal(dErrors.CodeInvalidAmount, dErrors.CodeOf(err))
	})

	s.Run("payout fails when the payer cannot fund it", func() {
		s.SetupTest()
		s.setDebt(decimal.NewFromInt(200))

		err := s.svc.OnPayoutReceived(s.ctx, s.engine, s.pool, s.policyID, decimal.NewFromInt(20_000))
		s.Equal(dErrors.CodeTransferFailed, dErrors.CodeOf(err))
		s.True(s.debt().Equal(decimal.NewFromInt(200)))
	})
}

func (s *PayoutSuite) TestOnPolicyExpired() {
	s.Run("expiry marks the policy without touching the debt", func() {
		s.SetupTest()
		s.setDebt(decimal.NewFromInt(200))

		err := s.svc.OnPolicyExpired(s.ctx, s.engine, s.policyID)
		s.Require().NoError(err)

		s.True(s.debt().Equal(decimal.NewFromInt(200)))
		s.Empty(s.publisher.OfType(events.TypeDebtChanged))
		policy, err := s.policies.Get(s.ctx, s.policyID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, policy.Status)
	})

	s.Run("non-engine caller is rejected", func() {
		s.SetupTest()

		err := s.svc.OnPolicyExpired(s.ctx, id.NewPrincipal(), s.policyID)
		s.Equal(dErrors.CodeUnauthorized, dErrors.CodeOf(err))
		s.Contains(err.Error(), "Only the PolicyPool should call this method")
	})

	s.Run("unknown policy is rejected", func() {
		s.SetupTest()

		err := s.svc.OnPolicyExpired(s.ctx, s.engine, id.NewPolicyID())
		s.Equal(dErrors.CodeUnknownPolicy, dErrors.CodeOf(err))
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

// staleConverter refuses every rate observation.
type staleConverter struct{}

func (staleConverter) Snapshot(context.Context) (*fx.Snapshot, error) {
	return nil, dErrors.New(dErrors.CodeStalePrice, "exchange rate is stale")
}

func (s *PayoutSuite) TestOnPayoutReceivedFX() {
	converter := fixedConverter{rate: decimal.RequireFromString("1.25")}

	setupFX := func(conv service.Converter) (*service.Service, *ledgerservice.Service, id.LedgerID) {
		s.SetupTest()

		ledgers, err := ledgerservice.New(ledgerstore.NewMemory(), s.assets,
			mustAuthz(s), ledgerservice.WithConverter(converter))
		s.Require().NoError(err)

		fxLedgerID := id.NewLedgerID()
		s.Require().NoError(ledgers.CreateLedger(s.ctx, &ledgermodels.Ledger{
			ID:             fxLedgerID,
			Customer:       s.customer,
			Account:        s.account,
			FundingAsset:   usd,
			DefaultBackend: s.backend,
			Denomination:   ledgermodels.DenominationReference,
			FXBuffer:       decimal.RequireFromString("1.1"),
		}))
		s.Require().NoError(s.policies.Save(s.ctx, &models.Policy{
			ID:       s.policyID,
			LedgerID: fxLedgerID,
			Backend:  s.backend,
			Status:   models.StatusActive,
		}))

		svc, err := service.New(ledgers, s.policies, s.registry, s.assets,
			service.WithConverter(conv))
		s.Require().NoError(err)
		return svc, ledgers, fxLedgerID
	}

	s.Run("payout credits reference units and may push the debt negative", func() {
		svc, ledgers, fxLedgerID := setupFX(converter)
		s.Require().NoError(ledgers.Debit(s.ctx, fxLedgerID, decimal.NewFromInt(80)))

		// 250 asset units / 1.25 = 200 reference units of credit.
		err := svc.OnPayoutReceived(s.ctx, s.engine, s.pool, s.policyID, decimal.NewFromInt(250))
		s.Require().NoError(err)

		debt, err := ledgers.CurrentDebt(s.ctx, fxLedgerID)
		s.Require().NoError(err)
		s.True(debt.Equal(decimal.NewFromInt(-120)), debt.String())

		// Nothing is paid to the customer immediately; it waits for cash-out.
		s.True(s.balance(s.customer).IsZero())
		s.True(s.balance(s.account).Equal(decimal.NewFromInt(250)))
	})

	s.Run("stale price blocks the payout before any money moves", func() {
		svc, ledgers, fxLedgerID := setupFX(staleConverter{})
		s.Require().NoError(ledgers.Debit(s.ctx, fxLedgerID, decimal.NewFromInt(80)))

		err := svc.OnPayoutReceived(s.ctx, s.engine, s.pool, s.policyID, decimal.NewFromInt(250))
		s.Equal(dErrors.CodeStalePrice, dErrors.CodeOf(err))

		// The payout stays on the pool side and nothing else changed.
		s.True(s.balance(s.pool).Equal(decimal.NewFromInt(10_000)))
		s.True(s.balance(s.account).IsZero())
		debt, err := ledgers.CurrentDebt(s.ctx, fxLedgerID)
		s.Require().NoError(err)
		s.True(debt.Equal(decimal.NewFromInt(80)), debt.String())
		policy, err := s.policies.Get(s.ctx, s.policyID)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, policy.Status)
	})

	s.Run("payout without a converter fails closed", func() {
		_, ledgers, _ := setupFX(converter)

		bare, err := service.New(ledgers, s.policies, s.registry, s.assets)
		s.Require().NoError(err)

		err = bare.OnPayoutReceived(s.ctx, s.engine, s.pool, s.policyID, decimal.NewFromInt(250))
		s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))
		s.True(s.balance(s.pool).Equal(decimal.NewFromInt(10_000)))
	})
}

func mustAuthz(s *PayoutSuite) *authz.Service {
	svc, err := authz.New(authzstore.NewMemory())
	s.Require().NoError(err)
	return svc
}
