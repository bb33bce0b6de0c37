package store

import (
	"context"
	"database/sql"
	"fmt"

	id "flowlend/pkg/domain"
)

// PostgresStore persists role grants in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE role_grants (
//	    principal TEXT NOT NULL,
//	    role      TEXT NOT NULL,
//	    granted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (principal, role)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed role store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) HasRole(ctx context.Context, principal id.Principal, role id.Role) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_grants WHERE principal = $1 AND role = $2)`,
		principal.String(), role.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role grant: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Grant(ctx context.Context, principal id.Principal, role id.Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_grants (principal, role)
		VALUES ($1, $2)
		ON CONFLICT (principal, role) DO NOTHING
	`, principal.String(), role.String())
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

func (s *PostgresStore) Revoke(ctx context.Context, principal id.Principal, role id.Role) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM role_grants WHERE principal = $1 AND role = $2`,
		principal.String(), role.String(),
	)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RolesOf(ctx context.Context, principal id.Principal) ([]id.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM role_grants WHERE principal = $1 ORDER BY role`,
		principal.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var roles []id.Role
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, id.Role(r))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}
