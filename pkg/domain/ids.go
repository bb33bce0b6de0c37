// Package domain defines the primitive identifier and value types shared
// across FlowLend modules. Construct values via the Parse helpers at trust
// boundaries; direct casting bypasses validation.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Principal identifies an actor: a human operator, a service account, a
// lender instance's own funding account, or an issuing-engine callback
// identity. Principals are opaque strings; UUID-based principals are minted
// with NewPrincipal.
type Principal string

// NewPrincipal mints a random UUID-backed principal.
func NewPrincipal() Principal {
	return Principal(uuid.NewString())
}

// ParsePrincipal validates a non-empty principal string.
func ParsePrincipal(s string) (Principal, error) {
	if s == "" {
		return "", fmt.Errorf("principal must not be empty")
	}
	return Principal(s), nil
}

func (p Principal) String() string { return string(p) }
func (p Principal) IsNil() bool    { return p == "" }

// LedgerID identifies a lender instance.
type LedgerID string

func NewLedgerID() LedgerID        { return LedgerID(uuid.NewString()) }
func (id LedgerID) String() string { return string(id) }
func (id LedgerID) IsNil() bool    { return id == "" }

// ParseLedgerID validates that s is a UUID-shaped ledger ID.
func ParseLedgerID(s string) (LedgerID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid ledger ID %q: %w", s, err)
	}
	return LedgerID(s), nil
}

// PolicyID identifies a policy at the issuing engine.
type PolicyID string

func NewPolicyID() PolicyID        { return PolicyID(uuid.NewString()) }
func (id PolicyID) String() string { return string(id) }
func (id PolicyID) IsNil() bool    { return id == "" }

// BackendID identifies an issuing-engine backend (risk module). The zero
// value is the "unset" sentinel meaning "use the instance's default backend".
type BackendID string

func (id BackendID) String() string { return string(id) }
func (id BackendID) IsNil() bool    { return id == "" }

// PoolID identifies the parent issuing pool a backend belongs to.
type PoolID string

func (id PoolID) String() string { return string(id) }
func (id PoolID) IsNil() bool    { return id == "" }

// AssetID identifies a fungible funding asset.
type AssetID string

func (id AssetID) String() string { return string(id) }
func (id AssetID) IsNil() bool    { return id == "" }

// QuoteID identifies a signed price quote (the JWT's jti claim).
type QuoteID string

func NewQuoteID() QuoteID         { return QuoteID(uuid.NewString()) }
func (id QuoteID) String() string { return string(id) }
func (id QuoteID) IsNil() bool    { return id == "" }
