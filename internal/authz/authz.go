// Package authz implements the capability predicate consulted before every
// privileged lender operation. Access control is a single service checked by
// value rather than checks embedded in type hierarchies.
package authz

//go:generate mockgen -source=authz.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"fmt"
	"log/slog"

	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// Store persists role grants.
type Store interface {
	// HasRole reports whether the principal holds the role.
	HasRole(ctx context.Context, principal id.Principal, role id.Role) (bool, error)

	// Grant gives the principal the role. Idempotent.
	Grant(ctx context.Context, principal id.Principal, role id.Role) error

	// Revoke removes the role from the principal. Idempotent.
	Revoke(ctx context.Context, principal id.Principal, role id.Role) error

	// RolesOf lists all roles held by the principal.
	RolesOf(ctx context.Context, principal id.Principal) ([]id.Role, error)
}

// Policy is the read side consumed by services.
type Policy interface {
	HasRole(ctx context.Context, principal id.Principal, role id.Role) (bool, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("authz store is required")
	}
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) HasRole(ctx context.Context, principal id.Principal, role id.Role) (bool, error) {
	if principal.IsNil() {
		return false, nil
	}
	return s.store.HasRole(ctx, principal, role)
}

// Require returns an authorization error naming the principal and the missing
// role when the predicate does not hold.
func (s *Service) Require(ctx context.Context, principal id.Principal, role id.Role) error {
	ok, err := s.HasRole(ctx, principal, role)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check role")
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeUnauthorized, "principal %s is missing role %s", principal, role)
	}
	return nil
}

func (s *Service) Grant(ctx context.Context, caller, principal id.Principal, role id.Role) error {
	if err := s.Require(ctx, caller, id.RoleOwner); err != nil {
		return err
	}
	if !role.IsValid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown role %s", role)
	}
	if err := s.store.Grant(ctx, principal, role); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to grant role")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "role granted",
			"principal", principal,
			"role", role,
			"granted_by", caller,
		)
	}
	return nil
}

func (s *Service) Revoke(ctx context.Context, caller, principal id.Principal, role id.Role) error {
	if err := s.Require(ctx, caller, id.RoleOwner); err != nil {
		return err
	}
	if err := s.store.Revoke(ctx, principal, role); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke role")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "role revoked",
			"principal", principal,
			"role", role,
			"revoked_by", caller,
		)
	}
	return nil
}

func (s *Service) RolesOf(ctx context.Context, principal id.Principal) ([]id.Role, error) {
	roles, err := s.store.RolesOf(ctx, principal)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list roles")
	}
	return roles, nil
}
