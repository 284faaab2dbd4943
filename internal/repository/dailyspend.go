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

// DailySpendRepository maintains a running reservation counter per
// (account, UTC day). Admission reserves amounts atomically against the
// cap; failed and cancelled payments release their reservation, so the
// counter tracks completed-plus-pending volume for the day.
type DailySpendRepository struct {
	db *sql.DB
}

func NewDailySpendRepository(db *sql.DB) *DailySpendRepository {
	return &DailySpendRepository{db: db}
}

// SpendDay truncates t to the UTC calendar day the cap applies to.
func SpendDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// Reserve atomically adds amount to the account's counter for day, failing
// with ErrDailyLimitExceeded when the new total would exceed cap. The
// conditional upsert takes a row lock, so two concurrent reservations
// serialize and cannot jointly exceed the cap.
func (r *DailySpendRepository) Reserve(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, day time.Time, amount, cap decimal.Decimal) error {
	if amount.GreaterThan(cap) {
		return fmt.Errorf("Reserve: %w", domain.ErrDailyLimitExceeded)
	}

	var reserved decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`INSERT INTO account_daily_spend (account_id, day, reserved)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, day)
		DO UPDATE SET reserved = account_daily_spend.reserved + EXCLUDED.reserved
		WHERE account_daily_spend.reserved + EXCLUDED.reserved <= $4
		RETURNING reserved`,
		accountID, day, amount, cap,
	).Scan(&reserved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("Reserve: %w", domain.ErrDailyLimitExceeded)
		}
		return fmt.Errorf("Reserve: %w", err)
	}
	return nil
}

// Release gives back a reservation when a payment reaches failed or
// cancelled. Clamped at zero; the counter never goes negative.
func (r *DailySpendRepository) Release(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, day time.Time, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE account_daily_spend
		SET reserved = GREATEST(reserved - $1, 0)
		WHERE account_id = $2 AND day = $3`,
		amount, accountID, day,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

// Reserved reports the current counter value, zero when no row exists.
func (r *DailySpendRepository) Reserved(ctx context.Context, accountID uuid.UUID, day time.Time) (decimal.Decimal, error) {
	var reserved decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT reserved FROM account_daily_spend WHERE account_id = $1 AND day = $2`,
		accountID, day,
	).Scan(&reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("Reserved: %w", err)
	}
	return reserved, nil
}
