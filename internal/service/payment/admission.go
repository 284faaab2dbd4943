package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/logging"
	"github.com/finpulse/corebank/internal/repository"
)

type CreatePaymentRequest struct {
	AccountID   uuid.UUID
	Amount      string
	Direction   domain.PaymentDirection
	PaymentType domain.PaymentType
	Description string
}

// CreatePayment admits a payment request: ownership, account state, amount
// sign, and the daily aggregate cap, then persists the pending payment and
// its settlement job in one transaction. The cap check and the insert share
// that transaction, so concurrent requests cannot jointly exceed the cap.
func (s *Service) CreatePayment(ctx context.Context, req CreatePaymentRequest, userID uuid.UUID) (*domain.Payment, error) {
	log := logging.FromContext(ctx)

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("CreatePayment: %w", domain.ErrInvalidRequest.WithDetail("amount", req.Amount))
	}

	acct, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("CreatePayment: %w", err)
	}

	if err := validateCreate(req, amount, acct, userID); err != nil {
		return nil, fmt.Errorf("CreatePayment: %w", err)
	}

	now := s.now().UTC()
	p := &domain.Payment{
		ID:          uuid.New(),
		AccountID:   acct.ID,
		UserID:      userID,
		Amount:      amount,
		Direction:   req.Direction,
		PaymentType: req.PaymentType,
		Status:      domain.PaymentStatusPending,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("CreatePayment: begin tx: %w", err)
	}
	defer tx.Rollback()

	day := repository.SpendDay(now)
	if err := s.spend.Reserve(ctx, tx, acct.ID, day, amount, s.config.DailyCap); err != nil {
		return nil, fmt.Errorf("CreatePayment: %w", err)
	}

	if err := s.payments.Create(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("CreatePayment: create payment: %w", err)
	}

	args, err := json.Marshal(domain.SettlementArgs{PaymentID: p.ID})
	if err != nil {
		return nil, fmt.Errorf("CreatePayment: marshal job args: %w", err)
	}
	job := &domain.Job{
		ID:          uuid.New(),
		Kind:        domain.JobKindPaymentSettlement,
		Args:        args,
		Queue:       domain.DefaultQueue,
		State:       domain.JobStateAvailable,
		MaxAttempts: s.config.JobMaxAttempts,
		ScheduledAt: now,
		UniqueKey:   domain.SettlementUniqueKey(p.ID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.jobs.Enqueue(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("CreatePayment: enqueue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("CreatePayment: commit: %w", err)
	}

	log.Info("payment admitted",
		"payment_id", p.ID,
		"account_id", acct.ID,
		"amount", amount,
		"direction", req.Direction,
		"payment_type", req.PaymentType,
	)

	return p, nil
}

func validateCreate(req CreatePaymentRequest, amount decimal.Decimal, acct *domain.Account, userID uuid.UUID) error {
	// ownership is one hop only: the account's own user id, never inferred
	// through joins
	if acct.UserID != userID {
		return fmt.Errorf("validateCreate: %w", domain.ErrUnauthorized)
	}

	if acct.Status != domain.AccountStatusActive {
		return fmt.Errorf("validateCreate: %w", domain.ErrAccountInactive)
	}

	if amount.Sign() <= 0 {
		return fmt.Errorf("validateCreate: %w", domain.ErrNegativeAmount)
	}

	if !domain.ValidDirection(req.Direction) {
		return fmt.Errorf("validateCreate: direction %q: %w", req.Direction, domain.ErrInvalidRequest)
	}
	if !domain.ValidPaymentType(req.PaymentType) {
		return fmt.Errorf("validateCreate: payment type %q: %w", req.PaymentType, domain.ErrInvalidRequest)
	}

	return nil
}
