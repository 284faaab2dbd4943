package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finpulse/corebank/internal/domain"
)

const bankLoginColumns = `id, user_id, bank, branch, username, status,
	access_token, refresh_token, token_expires_at, scope,
	sync_frequency_s, last_synced_at, created_at`

type BankLoginRepository struct {
	db *sql.DB
}

func NewBankLoginRepository(db *sql.DB) *BankLoginRepository {
	return &BankLoginRepository{db: db}
}

func (r *BankLoginRepository) Create(ctx context.Context, l *domain.BankLogin) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bank_logins (
			id, user_id, bank, branch, username, status,
			access_token, refresh_token, token_expires_at, scope,
			sync_frequency_s, last_synced_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.UserID, l.Bank, l.Branch, l.Username, l.Status,
		l.AccessToken, l.RefreshToken, l.TokenExpiresAt, l.Scope,
		l.SyncFrequencyS, l.LastSyncedAt, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *BankLoginRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BankLogin, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bankLoginColumns+` FROM bank_logins WHERE id = $1`, id,
	)
	l, err := scanBankLogin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrLoginNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return l, nil
}

// ListNeedingSync returns active logins whose sync interval has elapsed.
func (r *BankLoginRepository) ListNeedingSync(ctx context.Context, now time.Time, limit int) ([]domain.BankLogin, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bankLoginColumns+` FROM bank_logins
		WHERE status = 'active'
		  AND (last_synced_at IS NULL
		       OR last_synced_at + make_interval(secs => sync_frequency_s) <= $1)
		ORDER BY last_synced_at NULLS FIRST
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListNeedingSync: %w", err)
	}
	defer rows.Close()

	var logins []domain.BankLogin
	for rows.Next() {
		l, err := scanBankLogin(rows)
		if err != nil {
			return nil, fmt.Errorf("ListNeedingSync: scan: %w", err)
		}
		logins = append(logins, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListNeedingSync: rows: %w", err)
	}
	return logins, nil
}

func (r *BankLoginRepository) UpdateTokens(ctx context.Context, id uuid.UUID, access, refresh string, expiresAt time.Time, scope string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bank_logins
		SET access_token = $1, refresh_token = $2, token_expires_at = $3, scope = $4
		WHERE id = $5`,
		access, refresh, expiresAt, scope, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateTokens: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateTokens: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateTokens: %w", domain.ErrLoginNotFound)
	}
	return nil
}

func (r *BankLoginRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.BankLoginStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bank_logins SET status = $1 WHERE id = $2`, status, id,
	)
	if err != nil {
		return fmt.Errorf("SetStatus: %w", err)
	}
	return nil
}

func (r *BankLoginRepository) UpdateLastSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bank_logins SET last_synced_at = $1 WHERE id = $2`, syncedAt, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateLastSynced: %w", err)
	}
	return nil
}

func scanBankLogin(s scanner) (*domain.BankLogin, error) {
	var l domain.BankLogin
	err := s.Scan(
		&l.ID, &l.UserID, &l.Bank, &l.Branch, &l.Username, &l.Status,
		&l.AccessToken, &l.RefreshToken, &l.TokenExpiresAt, &l.Scope,
		&l.SyncFrequencyS, &l.LastSyncedAt, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
