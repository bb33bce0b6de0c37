package domain

import "fmt"

// Role is a capability a principal may hold. Privileged operations consult
// the authorization policy with (principal, role) before proceeding.
type Role string

// Capabilities used by the lender family.
const (
	RoleOwner         Role = "OWNER_ROLE"
	RoleGuardian      Role = "GUARDIAN_ROLE"
	RolePolicyCreator Role = "POLICY_CREATOR_ROLE"
	RoleResolver      Role = "RESOLVER_ROLE"
	RoleActiveRMAdmin Role = "ACTIVE_RM_ADMIN_ROLE"
	RoleRepay         Role = "REPAY_ROLE"
	RolePricer        Role = "PRICER_ROLE"
	RoleCustomer      Role = "CUSTOMER_ROLE"
)

var knownRoles = map[Role]struct{}{
	RoleOwner:         {},
	RoleGuardian:      {},
	RolePolicyCreator: {},
	RoleResolver:      {},
	RoleActiveRMAdmin: {},
	RoleRepay:         {},
	RolePricer:        {},
	RoleCustomer:      {},
}

// ParseRole validates and returns a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role: %s", s)
	}
	return r, nil
}

func (r Role) IsValid() bool {
	_, ok := knownRoles[r]
	return ok
}

func (r Role) String() string { return string(r) }
