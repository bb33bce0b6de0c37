// Package quote verifies signed price quotes. A quote is a JWT signed with
// HMAC by a pricer whose key is bound to the target backend; policy creation
// is refused unless the signature verifies and the signer holds the pricer
// capability.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"flowlend/internal/backend"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
	"flowlend/pkg/requestcontext"
)

// Quote is a verified price quote for one policy.
type Quote struct {
	ID         id.QuoteID
	Backend    id.BackendID
	Pricer     id.Principal
	Premium    decimal.Decimal
	Coverage   decimal.Decimal
	ValidUntil time.Time
}

// Claims is the JWT payload of a signed quote. The issuer is the pricer
// principal, the jti is the quote ID, and exp bounds quote validity.
type Claims struct {
	Backend  string `json:"backend"`
	Premium  string `json:"premium"`
	Coverage string `json:"coverage"`
	jwt.RegisteredClaims
}

// Authorizer is the capability predicate.
type Authorizer interface {
	Require(ctx context.Context, principal id.Principal, role id.Role) error
}

// Verifier validates quote signatures against the backend registry's pricer
// keys.
type Verifier struct {
	registry backend.Registry
	authz    Authorizer
}

func NewVerifier(registry backend.Registry, authz Authorizer) (*Verifier, error) {
	if registry == nil {
		return nil, fmt.Errorf("backend registry is required")
	}
	if authz == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	return &Verifier{registry: registry, authz: authz}, nil
}

// Verify checks the signed quote against the target backend and returns the
// decoded quote. Failures are authorization errors: a quote that does not
// verify is indistinguishable from a forged one.
func (v *Verifier) Verify(ctx context.Context, signedQuote string, target id.BackendID) (*Quote, error) {
	b, err := v.registry.Get(ctx, target)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(signedQuote, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		c, ok := token.Claims.(*Claims)
		if !ok {
			return nil, jwt.ErrTokenInvalidClaims
		}
		key, ok := b.PricerKeys[id.Principal(c.Issuer)]
		if !ok {
			return nil, fmt.Errorf("no pricer key for principal %s on backend %s", c.Issuer, target)
		}
		return key, nil
	}, jwt.WithTimeFunc(func() time.Time { return requestcontext.Now(ctx) }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "quote has expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "quote signature verification failed")
	}
	if !token.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "quote signature verification failed")
	}

	pricer := id.Principal(claims.Issuer)
	if err := v.authz.Require(ctx, pricer, id.RolePricer); err != nil {
		return nil, err
	}
	if id.BackendID(claims.Backend) != target {
		return nil, dErrors.Newf(dErrors.CodeBadRequest,
			"quote is for backend %s, not %s", claims.Backend, target)
	}

	premium, err := decimal.NewFromString(claims.Premium)
	if err != nil || premium.Sign() <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "quote premium must be a positive amount")
	}
	coverage, err := decimal.NewFromString(claims.Coverage)
	if err != nil || coverage.Sign() <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "quote coverage must be a positive amount")
	}

	q := &Quote{
		ID:       id.QuoteID(claims.ID),
		Backend:  target,
		Pricer:   pricer,
		Premium:  premium,
		Coverage: coverage,
	}
	if claims.ExpiresAt != nil {
		q.ValidUntil = claims.ExpiresAt.Time
	}
	return q, nil
}

// Sign produces a signed quote token. Used by pricer tooling and tests.
func Sign(key []byte, pricer id.Principal, backendID id.BackendID, premium, coverage decimal.Decimal, validUntil time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Backend:  backendID.String(),
		Premium:  premium.String(),
		Coverage: coverage.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    pricer.String(),
			ID:        id.NewQuoteID().String(),
			ExpiresAt: jwt.NewNumericDate(validUntil),
		},
	})
	return token.SignedString(key)
}
