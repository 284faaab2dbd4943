package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/domain"
)

const accountColumns = `id, user_id, bank_login_id, external_ref, name, currency,
	account_type, status, balance, last_synced_at, created_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) GetByLoginID(ctx context.Context, loginID uuid.UUID) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE bank_login_id = $1 ORDER BY created_at`,
		loginID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByLoginID: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByLoginID: scan: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByLoginID: rows: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (
			id, user_id, bank_login_id, external_ref, name, currency,
			account_type, status, balance, last_synced_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		account.ID, account.UserID, account.BankLoginID, account.ExternalRef,
		account.Name, account.Currency, account.AccountType, account.Status,
		account.Balance, account.LastSyncedAt, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// UpsertFromBank reconciles one bank-reported account against the local row,
// matching on (bank_login_id, external_ref). The bank is authoritative for
// balance and name on synced accounts. On conflict the existing row wins the
// identity: account.ID is overwritten with the canonical id.
func (r *AccountRepository) UpsertFromBank(ctx context.Context, account *domain.Account) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (
			id, user_id, bank_login_id, external_ref, name, currency,
			account_type, status, balance, last_synced_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (bank_login_id, external_ref) WHERE external_ref <> ''
		DO UPDATE SET name = EXCLUDED.name,
			balance = EXCLUDED.balance,
			last_synced_at = EXCLUDED.last_synced_at
		RETURNING id`,
		account.ID, account.UserID, account.BankLoginID, account.ExternalRef,
		account.Name, account.Currency, account.AccountType, account.Status,
		account.Balance, account.LastSyncedAt, account.CreatedAt,
	).Scan(&account.ID)
	if err != nil {
		return fmt.Errorf("UpsertFromBank: %w", err)
	}
	return nil
}

func (r *AccountRepository) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, last_synced_at = $2 WHERE id = $3`,
		balance, syncedAt, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateBalance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateBalance: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateBalance: %w", domain.ErrAccountNotFound)
	}
	return nil
}

func scanAccount(s scanner) (*domain.Account, error) {
	var a domain.Account
	err := s.Scan(
		&a.ID, &a.UserID, &a.BankLoginID, &a.ExternalRef, &a.Name, &a.Currency,
		&a.AccountType, &a.Status, &a.Balance, &a.LastSyncedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
