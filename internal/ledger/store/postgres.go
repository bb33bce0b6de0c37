package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"flowlend/internal/ledger/models"
	id "flowlend/pkg/domain"
)

// PostgresStore persists lender instances in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE ledgers (
//	    id              TEXT PRIMARY KEY,
//	    customer        TEXT NOT NULL,
//	    account         TEXT NOT NULL,
//	    funding_asset   TEXT NOT NULL,
//	    current_debt    NUMERIC(38, 6) NOT NULL DEFAULT 0,
//	    default_backend TEXT NOT NULL,
//	    active_backend  TEXT NOT NULL DEFAULT '',
//	    denomination    TEXT NOT NULL,
//	    fx_buffer       NUMERIC(12, 6) NOT NULL DEFAULT 0
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, ledger *models.Ledger) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledgers (id, customer, account, funding_asset, current_debt,
		                     default_backend, active_backend, denomination, fx_buffer)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		ledger.ID.String(),
		ledger.Customer.String(),
		ledger.Account.String(),
		ledger.FundingAsset.String(),
		ledger.CurrentDebt.String(),
		ledger.DefaultBackend.String(),
		ledger.ActiveBackend.String(),
		string(ledger.Denomination),
		ledger.FXBuffer.String(),
	)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, ledgerID id.LedgerID) (*models.Ledger, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer, account, funding_asset, current_debt::text,
		       default_backend, active_backend, denomination, fx_buffer::text
		FROM ledgers WHERE id = $1
	`, ledgerID.String())

	ledger, err := scanLedger(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ledger: %w", err)
	}
	return ledger, nil
}

func (s *PostgresStore) Save(ctx context.Context, ledger *models.Ledger) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledgers
		SET customer = $2, current_debt = $3, active_backend = $4, fx_buffer = $5
		WHERE id = $1
	`,
		ledger.ID.String(),
		ledger.Customer.String(),
		ledger.CurrentDebt.String(),
		ledger.ActiveBackend.String(),
		ledger.FXBuffer.String(),
	)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLedger(row *sql.Row) (*models.Ledger, error) {
	var (
		ledger                   models.Ledger
		ledgerID                 string
		customer, account, asset string
		debt, buffer             string
		defaultBackend, active   string
		denomination             string
	)
	err := row.Scan(&ledgerID, &customer, &account, &asset, &debt,
		&defaultBackend, &active, &denomination, &buffer)
	if err != nil {
		return nil, err
	}

	ledger.ID = id.LedgerID(ledgerID)
	ledger.Customer = id.Principal(customer)
	ledger.Account = id.Principal(account)
	ledger.FundingAsset = id.AssetID(asset)
	ledger.DefaultBackend = id.BackendID(defaultBackend)
	ledger.ActiveBackend = id.BackendID(active)
	ledger.Denomination = models.Denomination(denomination)

	if ledger.CurrentDebt, err = decimal.NewFromString(debt); err != nil {
		return nil, fmt.Errorf("parse current_debt: %w", err)
	}
	if ledger.FXBuffer, err = decimal.NewFromString(buffer); err != nil {
		return nil, fmt.Errorf("parse fx_buffer: %w", err)
	}
	return &ledger, nil
}
