package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	assetstore "flowlend/internal/asset/store"
	"flowlend/internal/ledger/models"
	"flowlend/internal/ledger/service/mocks"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// Mock-backed tests for dependency failures the in-memory stores can never
// produce: broken persistence, denied capabilities, converter outages.
type FailureSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	authz     *mocks.MockAuthorizer
	converter *mocks.MockConverter
	service   *Service

	ledgerID id.LedgerID
	customer id.Principal
	owner    id.Principal
}

func TestFailureSuite(t *testing.T) {
	suite.Run(t, new(FailureSuite))
}

func (s *FailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.authz = mocks.NewMockAuthorizer(s.ctrl)
	s.converter = mocks.NewMockConverter(s.ctrl)
	s.ledgerID = id.NewLedgerID()
	s.customer = id.NewPrincipal()
	s.owner = id.NewPrincipal()

	var err error
	s.service, err = New(s.store, assetstore.NewMemory(), s.authz, WithConverter(s.converter))
	s.Require().NoError(err)
}

func (s *FailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *FailureSuite) ledger() *models.Ledger {
	return &models.Ledger{
		ID:           s.ledgerID,
		Customer:     s.customer,
		Account:      id.NewPrincipal(),
		FundingAsset: id.AssetID("usd-token"),
		CurrentDebt:  decimal.NewFromInt(100),
		Denomination: models.DenominationAsset,
	}
}

func (s *FailureSuite) TestDebitPropagatesStoreGetError() {
	broken := errors.New("connection reset")
	s.store.EXPECT().Get(gomock.Any(), s.ledgerID).Return(nil, broken)

	err := s.service.Debit(context.Background(), s.ledgerID, decimal.NewFromInt(50))
	s.ErrorIs(err, broken)
}

func (s *FailureSuite) TestDebitWrapsSaveError() {
	s.store.EXPECT().Get(gomock.Any(), s.ledgerID).Return(s.ledger(), nil)
	s.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("write timeout"))

	err := s.service.Debit(context.Background(), s.ledgerID, decimal.NewFromInt(50))
	s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))
}

func (s *FailureSuite) TestCreditWrapsSaveError() {
	s.store.EXPECT().Get(gomock.Any(), s.ledgerID).Return(s.ledger(), nil)
	s.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("write timeout"))

	err := s.service.Credit(context.Background(), s.ledgerID, decimal.NewFromInt(50))
	s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))
}

func (s *FailureSuite) TestWithdrawChecksCapabilityBeforeStore() {
	// No store expectations: a denied caller must not touch persistence.
	denied := dErrors.New(dErrors.CodeUnauthorized, "missing capability")
	s.authz.EXPECT().Require(gomock.Any(), s.owner, id.RoleOwner).Return(denied)

	_, err := s.service.Withdraw(context.Background(), s.owner, s.ledgerID, decimal.NewFromInt(10), id.NewPrincipal())
	s.ErrorIs(err, denied)
}

func (s *FailureSuite) TestRepayFallsBackToCapabilityForStrangers() {
	stranger := id.NewPrincipal()
	denied := dErrors.New(dErrors.CodeUnauthorized, "missing capability")
	s.store.EXPECT().Get(gomock.Any(), s.ledgerID).Return(s.ledger(), nil)
	s.authz.EXPECT().Require(gomock.Any(), stranger, id.RoleRepay).Return(denied)

	_, err := s.service.Repay(context.Background(), stranger, s.ledgerID, decimal.NewFromInt(10))
	s.ErrorIs(err, denied)
}

func (s *FailureSuite) TestRepayPropagatesConverterOutage() {
	ledger := s.ledger()
	ledger.Denomination = models.DenominationReference
	stale := dErrors.New(dErrors.CodeStalePrice, "price too old")
	s.store.EXPECT().Get(gomock.Any(), s.ledgerID).Return(ledger, nil)
	s.converter.EXPECT().RefToAsset(gomock.Any(), gomock.Any()).Return(decimal.Zero, stale)

	_, err := s.service.Repay(context.Background(), s.customer, s.ledgerID, decimal.NewFromInt(10))
	s.ErrorIs(err, stale)
}

func (s *FailureSuite) TestCashOutPropagatesConverterOutage() {
	ledger := s.ledger()
	ledger.Denomination = models.DenominationReference
	ledger.CurrentDebt = decimal.NewFromInt(-120)
	stale := dErrors.New(dErrors.CodeStalePrice, "price too old")
	s.store.EXPECT().Get(gomock.Any(), s.ledgerID).Return(ledger, nil)
	s.converter.EXPECT().RefToAsset(gomock.Any(), decimal.NewFromInt(50)).Return(decimal.Zero, stale)

	_, err := s.service.CashOut(context.Background(), s.customer, s.ledgerID, decimal.NewFromInt(50), id.NewPrincipal())
	s.ErrorIs(err, stale)
}
