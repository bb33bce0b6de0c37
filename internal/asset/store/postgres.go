package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

// PostgresStore persists balances in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE asset_balances (
//	    asset     TEXT NOT NULL,
//	    principal TEXT NOT NULL,
//	    balance   NUMERIC(38, 6) NOT NULL DEFAULT 0 CHECK (balance >= 0),
//	    PRIMARY KEY (asset, principal)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed balance store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Balance(ctx context.Context, asset id.AssetID, principal id.Principal) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT balance::text FROM asset_balances WHERE asset = $1 AND principal = $2`,
		asset.String(), principal.String(),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return balance, nil
}

// Transfer moves amount inside a single transaction. The conditional debit
// UPDATE is the insufficiency check: zero rows affected means the source
// balance was too small and the transaction rolls back untouched.
func (s *PostgresStore) Transfer(ctx context.Context, asset id.AssetID, from, to id.Principal, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "transfer amount must not be negative")
	}
	if amount.IsZero() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE asset_balances
		SET balance = balance - $1
		WHERE asset = $2 AND principal = $3 AND balance >= $1
	`, amount.String(), asset.String(), from.String())
	if err != nil {
		return fmt.Errorf("debit source: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit source: %w", err)
	}
	if affected == 0 {
		return dErrors.Newf(dErrors.CodeTransferFailed,
			"transfer of %s %s from %s failed: insufficient balance", amount, asset, from)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO asset_balances (asset, principal, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset, principal) DO UPDATE SET
			balance = asset_balances.balance + EXCLUDED.balance
	`, asset.String(), to.String(), amount.String())
	if err != nil {
		return fmt.Errorf("credit destination: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Mint(ctx context.Context, asset id.AssetID, to id.Principal, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "mint amount must not be negative")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_balances (asset, principal, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset, principal) DO UPDATE SET
			balance = asset_balances.balance + EXCLUDED.balance
	`, asset.String(), to.String(), amount.String())
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	return nil
}
