package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flowlend/internal/backend"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// PostgresRegistry persists backend descriptors in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE backends (
//	    id      TEXT PRIMARY KEY,
//	    pool    TEXT NOT NULL,
//	    engine  TEXT NOT NULL,
//	    account TEXT NOT NULL
//	);
//
//	CREATE TABLE backend_pricer_keys (
//	    backend_id TEXT NOT NULL REFERENCES backends (id),
//	    pricer     TEXT NOT NULL,
//	    key        BYTEA NOT NULL,
//	    PRIMARY KEY (backend_id, pricer)
//	);
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed registry.
func NewPostgres(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) Get(ctx context.Context, backendID id.BackendID) (*backend.Backend, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, pool, engine, account FROM backends WHERE id = $1
	`, backendID.String())

	var b backend.Backend
	var bid, pool, engine, account string
	if err := row.Scan(&bid, &pool, &engine, &account); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "backend %s is not registered", backendID)
		}
		return nil, fmt.Errorf("get backend: %w", err)
	}
	b.ID = id.BackendID(bid)
	b.Pool = id.PoolID(pool)
	b.Engine = id.Principal(engine)
	b.Account = id.Principal(account)

	rows, err := r.db.QueryContext(ctx, `
		SELECT pricer, key FROM backend_pricer_keys WHERE backend_id = $1
	`, backendID.String())
	if err != nil {
		return nil, fmt.Errorf("get pricer keys: %w", err)
	}
	defer rows.Close()

	b.PricerKeys = make(map[id.Principal][]byte)
	for rows.Next() {
		var pricer string
		var key []byte
		if err := rows.Scan(&pricer, &key); err != nil {
			return nil, fmt.Errorf("scan pricer key: %w", err)
		}
		b.PricerKeys[id.Principal(pricer)] = key
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get pricer keys: %w", err)
	}
	return &b, nil
}

func (r *PostgresRegistry) Register(ctx context.Context, b *backend.Backend) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register backend: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backends (id, pool, engine, account)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET pool = EXCLUDED.pool, engine = EXCLUDED.engine, account = EXCLUDED.account
	`, b.ID.String(), b.Pool.String(), b.Engine.String(), b.Account.String())
	if err != nil {
		return fmt.Errorf("register backend: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM backend_pricer_keys WHERE backend_id = $1
	`, b.ID.String()); err != nil {
		return fmt.Errorf("register backend: %w", err)
	}
	for pricer, key := range b.PricerKeys {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backend_pricer_keys (backend_id, pricer, key)
			VALUES ($1, $2, $3)
		`, b.ID.String(), pricer.String(), key); err != nil {
			return fmt.Errorf("register pricer key: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRegistry) IsEnginePrincipal(ctx context.Context, principal id.Principal) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM backends WHERE engine = $1)
	`, principal.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check engine principal: %w", err)
	}
	return exists, nil
}
