// Package selector implements the active-backend state machine: a lender is
// either default-bound (no override) or overridden to another backend in the
// same issuing pool. In-flight policies created under a previous backend are
// unaffected; only new policy creation follows the selection.
package selector

import (
	"context"
	"fmt"
	"log/slog"

	"flowlend/internal/backend"
	"flowlend/internal/ledger/events"
	"flowlend/internal/ledger/models"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
	"flowlend/pkg/requestcontext"
)

// LedgerStore is the slice of the ledger store the selector needs.
type LedgerStore interface {
	Get(ctx context.Context, ledgerID id.LedgerID) (*models.Ledger, error)
	Save(ctx context.Context, ledger *models.Ledger) error
}

// Authorizer is the capability predicate.
type Authorizer interface {
	Require(ctx context.Context, principal id.Principal, role id.Role) error
}

type Service struct {
	ledgers   LedgerStore
	registry  backend.Registry
	authz     Authorizer
	publisher events.Publisher
	logger    *slog.Logger
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

func New(ledgers LedgerStore, registry backend.Registry, authz Authorizer, opts ...Option) (*Service, error) {
	if ledgers == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("backend registry is required")
	}
	if authz == nil {
		return nil, fmt.Errorf("authorizer is required")
	}

	svc := &Service{
		ledgers:   ledgers,
		registry:  registry,
		authz:     authz,
		publisher: events.NewInMemory(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SetActiveBackend overrides the backend used for new policies. The zero
// BackendID returns the instance to default-bound. A non-default target must
// share the default backend's parent pool.
func (s *Service) SetActiveBackend(ctx context.Context, caller id.Principal, ledgerID id.LedgerID, backendID id.BackendID) error {
	if err := s.authz.Require(ctx, caller, id.RoleActiveRMAdmin); err != nil {
		return err
	}

	ledger, err := s.ledgers.Get(ctx, ledgerID)
	if err != nil {
		return err
	}

	if !backendID.IsNil() && backendID != ledger.DefaultBackend {
		target, err := s.registry.Get(ctx, backendID)
		if err != nil {
			return err
		}
		def, err := s.registry.Get(ctx, ledger.DefaultBackend)
		if err != nil {
			return err
		}
		if target.Pool != def.Pool {
			return dErrors.Newf(dErrors.CodeCrossPoolMismatch,
				"backend %s belongs to pool %s, expected pool %s", backendID, target.Pool, def.Pool)
		}
	}

	ledger.ActiveBackend = backendID
	if err := s.ledgers.Save(ctx, ledger); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save active backend")
	}

	effective := ledger.EffectiveBackend()
	event := events.Event{
		Type:       events.TypeActiveRiskModuleChanged,
		LedgerID:   ledger.ID,
		NewBackend: effective,
		At:         requestcontext.Now(ctx),
	}
	if err := s.publisher.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish backend change",
			"ledger_id", ledgerID,
			"error", err,
		)
	}
	return nil
}

// ActiveBackend resolves the backend new policies are routed to: the
// override when set, the default otherwise.
func (s *Service) ActiveBackend(ctx context.Context, ledgerID id.LedgerID) (*backend.Backend, error) {
	ledger, err := s.ledgers.Get(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	return s.registry.Get(ctx, ledger.EffectiveBackend())
}
