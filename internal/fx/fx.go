// Package fx converts between the reference currency debt is denominated in
// and the funding asset transfers settle in. Conversion happens only at
// transfer boundaries; debt itself is never recomputed when the rate moves.
package fx

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	dErrors "flowlend/pkg/domain-errors"
	"flowlend/pkg/money"
	"flowlend/pkg/requestcontext"
)

//go:generate mockgen -source=fx.go -destination=mocks/mocks.go -package=mocks PriceStore

// Price is one observation of the reference/asset exchange rate: how many
// funding-asset units one reference unit buys.
type Price struct {
	Rate      decimal.Decimal `json:"rate"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PriceStore holds the latest oracle observation.
type PriceStore interface {
	Latest(ctx context.Context) (*Price, error)
	Put(ctx context.Context, price Price) error
}

// Snapshot is one validated rate observation pinned for the duration of a
// single operation. Conversions on a snapshot are pure arithmetic and cannot
// fail, so an operation that moves money resolves the rate exactly once,
// before the first transfer, and every conversion in the call agrees on it.
type Snapshot struct {
	rate decimal.Decimal
}

// NewSnapshot pins an explicit rate. Production code obtains snapshots from
// Service.Snapshot; this constructor serves test doubles.
func NewSnapshot(rate decimal.Decimal) (*Snapshot, error) {
	if rate.Sign() <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "exchange rate must be positive")
	}
	return &Snapshot{rate: rate}, nil
}

// RefToAsset converts a reference-currency amount at the pinned rate.
func (p *Snapshot) RefToAsset(amount decimal.Decimal) decimal.Decimal {
	return money.MulTruncate(amount, p.rate, money.AssetScale)
}

// AssetToRef converts a funding-asset amount at the pinned rate.
func (p *Snapshot) AssetToRef(amount decimal.Decimal) decimal.Decimal {
	return money.DivTruncate(amount, p.rate, money.ReferenceScale)
}

// Service converts amounts at the latest oracle price, refusing to convert
// on a price older than the configured tolerance. Both directions truncate
// toward the ledger so conversion never manufactures value for the customer.
type Service struct {
	prices    PriceStore
	tolerance time.Duration
}

func New(prices PriceStore, tolerance time.Duration) (*Service, error) {
	if prices == nil {
		return nil, fmt.Errorf("price store is required")
	}
	if tolerance <= 0 {
		return nil, fmt.Errorf("price tolerance must be positive")
	}
	return &Service{prices: prices, tolerance: tolerance}, nil
}

func (s *Service) rate(ctx context.Context) (decimal.Decimal, error) {
	price, err := s.prices.Latest(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if price.Rate.Sign() <= 0 {
		return decimal.Zero, dErrors.New(dErrors.CodeInvalidAmount, "exchange rate must be positive")
	}
	age := requestcontext.Now(ctx).Sub(price.UpdatedAt)
	if age > s.tolerance {
		return decimal.Zero, dErrors.Newf(dErrors.CodeStalePrice,
			"exchange rate is %s old, tolerance is %s", age, s.tolerance)
	}
	return price.Rate, nil
}

// Snapshot resolves the current rate once for use across an operation.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	rate, err := s.rate(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{rate: rate}, nil
}

// RefToAsset converts a reference-currency amount into funding-asset units
// at the latest price. Operations with more than one conversion take a
// Snapshot instead.
func (s *Service) RefToAsset(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.RefToAsset(amount), nil
}

// AssetToRef converts a funding-asset amount into reference-currency units
// at the latest price.
func (s *Service) AssetToRef(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.AssetToRef(amount), nil
}
