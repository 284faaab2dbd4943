package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/finpulse/corebank/internal/domain"
)

const transactionColumns = `id, account_id, amount, direction, description, external_ref, posted_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a settlement transaction. The (account_id, external_ref)
// unique constraint makes the insert idempotent under job redelivery.
func (r *TransactionRepository) Create(ctx context.Context, tx *sql.Tx, t *domain.SettlementTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settlement_transactions (
			id, account_id, amount, direction, description, external_ref, posted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, external_ref) DO NOTHING`,
		t.ID, t.AccountID, t.Amount, t.Direction, t.Description, t.ExternalRef, t.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// UpsertFromBank records a bank-feed transaction discovered during sync.
func (r *TransactionRepository) UpsertFromBank(ctx context.Context, t *domain.SettlementTransaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settlement_transactions (
			id, account_id, amount, direction, description, external_ref, posted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, external_ref) DO NOTHING`,
		t.ID, t.AccountID, t.Amount, t.Direction, t.Description, t.ExternalRef, t.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("UpsertFromBank: %w", err)
	}
	return nil
}

func (r *TransactionRepository) GetByExternalRef(ctx context.Context, accountID uuid.UUID, externalRef string) (*domain.SettlementTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM settlement_transactions
		WHERE account_id = $1 AND external_ref = $2`,
		accountID, externalRef,
	)

	var t domain.SettlementTransaction
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Direction, &t.Description, &t.ExternalRef, &t.PostedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByExternalRef: %w", domain.ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("GetByExternalRef: %w", err)
	}
	return &t, nil
}
