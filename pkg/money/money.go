// Package money centralizes fixed-point amount arithmetic for the lender
// family. Amounts are shopspring decimals at the owning asset's native scale.
// Debt balances are signed: positive means the customer owes the lender,
// negative means the lender owes the customer.
//
// Conversions between currencies truncate toward zero at the target scale so
// repeated conversions never leak value away from the ledger.
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// AssetScale is the native decimal precision of the funding stablecoin.
const AssetScale int32 = 6

// ReferenceScale is the decimal precision used for reference-currency debt.
const ReferenceScale int32 = 6

// MaxAmount is the "withdraw everything" sentinel. Requests for MaxAmount
// clamp to the available balance instead of failing.
var MaxAmount = decimal.NewFromInt(math.MaxInt64)

// Zero is a reusable zero amount.
var Zero = decimal.Zero

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MulTruncate multiplies a by b and truncates toward zero at scale.
// Intermediate precision is decimal (unbounded), so no rounding bias
// accumulates before the final truncation.
func MulTruncate(a, b decimal.Decimal, scale int32) decimal.Decimal {
	return a.Mul(b).Truncate(scale)
}

// DivTruncate divides a by b and truncates toward zero at scale.
// b must be non-zero; callers validate prices before converting.
func DivTruncate(a, b decimal.Decimal, scale int32) decimal.Decimal {
	// DivisionPrecision default (16) is insufficient against truncation at
	// high scales; compute with headroom past the target scale first.
	return a.DivRound(b, scale+8).Truncate(scale)
}

// IsNegative reports whether a < 0.
func IsNegative(a decimal.Decimal) bool {
	return a.Sign() < 0
}

// IsPositive reports whether a > 0.
func IsPositive(a decimal.Decimal) bool {
	return a.Sign() > 0
}
