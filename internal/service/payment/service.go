package payment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/config"
	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/events"
)

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type paymentRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	MarkTerminal(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus, failureReason *string, completedAt *time.Time) error
}

type spendRepo interface {
	Reserve(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, day time.Time, amount, cap decimal.Decimal) error
	Release(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, day time.Time, amount decimal.Decimal) error
}

type jobQueue interface {
	Enqueue(ctx context.Context, tx *sql.Tx, job *domain.Job) (bool, error)
	CancelPending(ctx context.Context, tx *sql.Tx, uniqueKey string) (bool, error)
	HasExecuting(ctx context.Context, tx *sql.Tx, uniqueKey string) (bool, error)
}

// Service is the admission side of the payment engine: it decides whether a
// payment request may enter the system and hands accepted payments to the
// orchestrator. It never talks to the bank.
type Service struct {
	accounts accountRepo
	payments paymentRepo
	spend    spendRepo
	jobs     jobQueue
	events   events.Publisher
	db       *sql.DB
	config   *config.Config
	now      func() time.Time
}

func NewService(
	accounts accountRepo,
	payments paymentRepo,
	spend spendRepo,
	jobs jobQueue,
	publisher events.Publisher,
	db *sql.DB,
	cfg *config.Config,
) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		accounts: accounts,
		payments: payments,
		spend:    spend,
		jobs:     jobs,
		events:   publisher,
		db:       db,
		config:   cfg,
		now:      time.Now,
	}
}

// GetPayment returns a payment if it belongs to the requesting user.
// Foreign payments surface as not found rather than unauthorized, to avoid
// confirming their existence.
func (s *Service) GetPayment(ctx context.Context, paymentID, userID uuid.UUID) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("GetPayment: %w", err)
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("GetPayment: %w", domain.ErrPaymentNotFound)
	}
	return p, nil
}
