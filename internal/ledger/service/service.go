// Package service implements the debt ledger: a signed running balance per
// lender instance, debited when premiums are financed and credited when
// payouts arrive. Each operation is atomic relative to its own asset
// movement; a debit is never recorded unless the matching transfer succeeded.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Authorizer,Converter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"flowlend/internal/asset"
	"flowlend/internal/ledger/events"
	"flowlend/internal/ledger/models"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
	"flowlend/pkg/money"
	"flowlend/pkg/requestcontext"
)

// Store persists lender instances.
type Store interface {
	Create(ctx context.Context, ledger *models.Ledger) error
	Get(ctx context.Context, ledgerID id.LedgerID) (*models.Ledger, error)
	Save(ctx context.Context, ledger *models.Ledger) error
}

// Authorizer is the capability predicate consulted before privileged
// operations.
type Authorizer interface {
	Require(ctx context.Context, principal id.Principal, role id.Role) error
}

// Converter turns reference-currency amounts into funding-asset amounts at
// the current FX rate. Only FX-flavor instances carry one.
type Converter interface {
	RefToAsset(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
}

type Service struct {
	store     Store
	assets    asset.Store
	authz     Authorizer
	publisher events.Publisher
	fx        Converter
	logger    *slog.Logger

	// Per-instance locks serialize debt math against concurrent entry
	// points so each call's read-modify-write is atomic.
	lockMu sync.Mutex
	locks  map[id.LedgerID]*sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithConverter attaches an FX conversion strategy. Required for instances
// denominated in the reference currency.
func WithConverter(fx Converter) Option {
	return func(s *Service) {
		s.fx = fx
	}
}

func New(store Store, assets asset.Store, authz Authorizer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if assets == nil {
		return nil, fmt.Errorf("asset store is required")
	}
	if authz == nil {
		return nil, fmt.Errorf("authorizer is required")
	}

	svc := &Service{
		store:     store,
		assets:    assets,
		authz:     authz,
		publisher: events.NewInMemory(),
		locks:     make(map[id.LedgerID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) lock(ledgerID id.LedgerID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if _, ok := s.locks[ledgerID]; !ok {
		s.locks[ledgerID] = &sync.Mutex{}
	}
	return s.locks[ledgerID]
}

// CreateLedger registers a new lender instance. Customer, account, and
// funding asset are fixed here; only customer is mutable afterwards.
func (s *Service) CreateLedger(ctx context.Context, ledger *models.Ledger) error {
	if ledger == nil {
		return dErrors.New(dErrors.CodeBadRequest, "ledger is required")
	}
	if ledger.ID.IsNil() || ledger.Customer.IsNil() || ledger.Account.IsNil() || ledger.FundingAsset.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "ledger id, customer, account, and funding asset are required")
	}
	if ledger.Denomination == "" {
		ledger.Denomination = models.DenominationAsset
	}
	if ledger.Denomination == models.DenominationReference && s.fx == nil {
		return dErrors.New(dErrors.CodeBadRequest, "reference-denominated ledger requires an FX converter")
	}
	return s.store.Create(ctx, ledger)
}

// Get returns the lender instance record.
func (s *Service) Get(ctx context.Context, ledgerID id.LedgerID) (*models.Ledger, error) {
	return s.store.Get(ctx, ledgerID)
}

// CurrentDebt returns the signed running debt.
func (s *Service) CurrentDebt(ctx context.Context, ledgerID id.LedgerID) (decimal.Decimal, error) {
	ledger, err := s.store.Get(ctx, ledgerID)
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.CurrentDebt, nil
}

// Debit increases the running debt by amount. Called only by the
// policy-creation adapter after a premium was actually paid.
func (s *Service) Debit(ctx context.Context, ledgerID id.LedgerID, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "debit amount must not be negative")
	}

	mu := s.lock(ledgerID)
	mu.Lock()
	defer mu.Unlock()

	ledger, err := s.store.Get(ctx, ledgerID)
	if err != nil {
		return err
	}
	ledger.CurrentDebt = ledger.CurrentDebt.Add(amount)
	if err := s.store.Save(ctx, ledger); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save debt")
	}
	s.emitDebtChanged(ctx, ledger)
	return nil
}

// Credit decreases the running debt by amount; the balance may go negative
// (lender owes customer) on credit-flavor instances. A zero credit is a
// no-op and must not emit a DebtChanged event.
func (s *Service) Credit(ctx context.Context, ledgerID id.LedgerID, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "credit amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}

	mu := s.lock(ledgerID)
	mu.Lock()
	defer mu.Unlock()

	ledger, err := s.store.Get(ctx, ledgerID)
	if err != nil {
		return err
	}
	ledger.CurrentDebt = ledger.CurrentDebt.Sub(amount)
	if err := s.store.Save(ctx, ledger); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save debt")
	}
	s.emitDebtChanged(ctx, ledger)
	return nil
}

// Repay transfers min(amount, currentDebt) worth of the funding asset from
// the caller to the instance account and reduces the debt by that amount.
// The caller must be the customer or hold the repay capability. Amounts are
// expressed in the ledger's debt denomination.
func (s *Service) Repay(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() < 0 {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidAmount, "repay amount must not be negative")
	}
	if amount.IsZero() {
		return decimal.Zero, nil
	}

	mu := s.lock(ledgerID)
	mu.Lock()
	defer mu.Unlock()

	ledger, err := s.store.Get(ctx, ledgerID)
	if err != nil {
		return decimal.Zero, err
	}

	if caller != ledger.Customer {
		if err := s.authz.Require(ctx, caller, id.RoleRepay); err != nil {
			return decimal.Zero, err
		}
	}

	if ledger.CurrentDebt.Sign() <= 0 {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidAmount, "nothing to repay")
	}

	pay := money.Min(amount, ledger.CurrentDebt)
	assetAmount, err := s.toAsset(ctx, ledger, pay)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.assets.Transfer(ctx, ledger.FundingAsset, caller, ledger.Account, assetAmount); err != nil {
		return decimal.Zero, err
	}

	ledger.CurrentDebt = ledger.CurrentDebt.Sub(pay)
	if err := s.store.Save(ctx, ledger); err != nil {
		return decimal.Zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save debt")
	}
	s.emitDebtChanged(ctx, ledger)
	return pay, nil
}

// Withdraw transfers min(amount, available balance) to destination. Owner
// capability only. A request while nothing is available is a silent no-op:
// no transfer, no event, no error. money.MaxAmount requests clamp to the
// available balance. FX instances forbid withdrawal while the lender owes
// the customer, since those funds are earmarked for cash-out.
func (s *Service) Withdraw(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, amount decimal.Decimal, destination id.Principal) (decimal.Decimal, error) {
	if err := s.authz.Require(ctx, caller, id.RoleOwner); err != nil {
		return decimal.Zero, err
	}
	if amount.Sign() < 0 {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidAmount, "withdraw amount must not be negative")
	}
	if destination.IsNil() {
		return decimal.Zero, dErrors.New(dErrors.CodeBadRequest, "destination is required")
	}

	mu := s.lock(ledgerID)
	mu.Lock()
	defer mu.Unlock()

	ledger, err := s.store.Get(ctx, ledgerID)
	if err != nil {
		return decimal.Zero, err
	}
	if ledger.IsFX() && money.IsNegative(ledger.CurrentDebt) {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidAmount,
			"withdrawals are blocked while payouts are owed to the customer")
	}

	available, err := s.assets.Balance(ctx, ledger.FundingAsset, ledger.Account)
	if err != nil {
		return decimal.Zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance")
	}

	take := money.Min(amount, available)
	if take.Sign() <= 0 {
		return decimal.Zero, nil
	}

	if err := s.assets.Transfer(ctx, ledger.FundingAsset, ledger.Account, destination, take); err != nil {
		return decimal.Zero, err
	}
	s.emit(ctx, events.Event{
		Type:        events.TypeWithdrawal,
		LedgerID:    ledger.ID,
		Destination: destination,
		Amount:      &take,
	})
	return take, nil
}

// CashOut lets the customer pull accrued payout credit (negative debt) in
// reference-currency units, converted to the funding asset at the current
// rate. The request may move the debt toward zero but never past it.
func (s *Service) CashOut(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, amount decimal.Decimal, destination id.Principal) (decimal.Decimal, error) {
	if destination.IsNil() {
		return decimal.Zero, dErrors.New(dErrors.CodeBadRequest, "destination is required")
	}

	mu := s.lock(ledgerID)
	mu.Lock()
	defer mu.Unlock()

	ledger, err := s.store.Get(ctx, ledgerID)
	if err != nil {
		return decimal.Zero, err
	}
	if !ledger.IsFX() || s.fx == nil {
		return decimal.Zero, dErrors.New(dErrors.CodeBadRequest, "cash-out is only available on FX instances")
	}
	if caller != ledger.Customer {
		return decimal.Zero, dErrors.Newf(dErrors.CodeUnauthorized,
			"principal %s is not the customer of ledger %s", caller, ledgerID)
	}
	if amount.Sign() <= 0 {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidAmount, "cash-out amount must be positive")
	}
	credit := ledger.CurrentDebt.Neg()
	if credit.Sign() <= 0 || amount.GreaterThan(credit) {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidAmount, "cash-out amount exceeds accrued payout credit")
	}

	assetAmount, err := s.fx.RefToAsset(ctx, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.assets.Transfer(ctx, ledger.FundingAsset, ledger.Account, destination, assetAmount); err != nil {
		return decimal.Zero, err
	}

	ledger.CurrentDebt = ledger.CurrentDebt.Add(amount)
	if err := s.store.Save(ctx, ledger); err != nil {
		return decimal.Zero, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save debt")
	}
	s.emit(ctx, events.Event{
		Type:        events.TypeCashOutPayout,
		LedgerID:    ledger.ID,
		Customer:    ledger.Customer,
		Destination: destination,
		DebtReduced: &amount,
		Amount:      &assetAmount,
	})
	s.emitDebtChanged(ctx, ledger)
	return assetAmount, nil
}

// SetCustomer changes the financed customer. Owner capability only.
func (s *Service) SetCustomer(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, customer id.Principal) error {
	if err := s.authz.Require(ctx, caller, id.RoleOwner); err != nil {
		return err
	}
	if customer.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "customer is required")
	}

	mu := s.lock(ledgerID)
	mu.Lock()
	defer mu.Unlock()

	ledger, err := s.store.Get(ctx, ledgerID)
	if err != nil {
		return err
	}
	ledger.Customer = customer
	if err := s.store.Save(ctx, ledger); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save customer")
	}
	s.emit(ctx, events.Event{
		Type:        events.TypeCustomerChanged,
		LedgerID:    ledger.ID,
		NewCustomer: customer,
	})
	return nil
}

// SetBuffer changes the FX safety multiplier. Owner capability only; the
// buffer must exceed 1.0 so sized coverage always over-funds.
func (s *Service) SetBuffer(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, buffer decimal.Decimal) error {
	if err := s.authz.Require(ctx, caller, id.RoleOwner); err != nil {
		return err
	}

	mu := s.lock(ledgerID)
	mu.Lock()
	defer mu.Unlock()

	ledger, err := s.store.Get(ctx, ledgerID)
	if err != nil {
		return err
	}
	if !ledger.IsFX() {
		return dErrors.New(dErrors.CodeBadRequest, "buffer is only available on FX instances")
	}
	if buffer.LessThanOrEqual(decimal.NewFromInt(1)) {
		return dErrors.New(dErrors.CodeInvalidAmount, "buffer must be greater than 1.0")
	}
	ledger.FXBuffer = buffer
	if err := s.store.Save(ctx, ledger); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save buffer")
	}
	s.emit(ctx, events.Event{
		Type:      events.TypeFxRiskBufferChanged,
		LedgerID:  ledger.ID,
		NewBuffer: &buffer,
	})
	return nil
}

// toAsset converts a debt-denominated amount into funding-asset units.
func (s *Service) toAsset(ctx context.Context, ledger *models.Ledger, amount decimal.Decimal) (decimal.Decimal, error) {
	if !ledger.IsFX() {
		return amount, nil
	}
	if s.fx == nil {
		return decimal.Zero, dErrors.New(dErrors.CodeInternal, "FX instance has no converter")
	}
	return s.fx.RefToAsset(ctx, amount)
}

func (s *Service) emitDebtChanged(ctx context.Context, ledger *models.Ledger) {
	debt := ledger.CurrentDebt
	s.emit(ctx, events.Event{
		Type:     events.TypeDebtChanged,
		LedgerID: ledger.ID,
		NewDebt:  &debt,
	})
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	event.At = requestcontext.Now(ctx)
	if err := s.publisher.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish ledger event",
			"type", event.Type,
			"ledger_id", event.LedgerID,
			"error", err,
		)
	}
}
