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

const paymentColumns = `id, account_id, user_id, amount, direction, payment_type,
	status, description, external_ref, failure_reason, created_at, updated_at, completed_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (
			id, account_id, user_id, amount, direction, payment_type,
			status, description, external_ref, failure_reason,
			created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.AccountID, p.UserID, p.Amount, p.Direction, p.PaymentType,
		p.Status, p.Description, p.ExternalRef, p.FailureReason,
		p.CreatedAt, p.UpdatedAt, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id,
	)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

// SetExternalRef records the bank's settlement reference while the payment
// is still pending, so a redelivered job polls instead of re-submitting.
func (r *PaymentRepository) SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET external_ref = $1, updated_at = now()
		WHERE id = $2 AND status = 'pending'`,
		ref, id,
	)
	if err != nil {
		return fmt.Errorf("SetExternalRef: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SetExternalRef: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("SetExternalRef: %w", domain.ErrPaymentTerminal)
	}
	return nil
}

// MarkTerminal transitions a pending payment to a terminal status. The
// status guard makes terminal states sticky: a second transition reports
// ErrPaymentTerminal instead of overwriting the first outcome.
func (r *PaymentRepository) MarkTerminal(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus, failureReason *string, completedAt *time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payments SET status = $1, failure_reason = $2, completed_at = $3, updated_at = now()
		WHERE id = $4 AND status = 'pending'`,
		status, failureReason, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("MarkTerminal: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("MarkTerminal: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("MarkTerminal: %w", domain.ErrPaymentTerminal)
	}
	return nil
}

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	err := s.Scan(
		&p.ID, &p.AccountID, &p.UserID, &p.Amount, &p.Direction, &p.PaymentType,
		&p.Status, &p.Description, &p.ExternalRef, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
