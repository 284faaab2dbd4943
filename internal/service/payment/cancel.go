package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/events"
	"github.com/finpulse/corebank/internal/logging"
	"github.com/finpulse/corebank/internal/repository"
)

// CancelPayment administratively cancels a pending payment. It acquires the
// same per-payment exclusivity as settlement: the job row moves
// available -> cancelled here, while a worker moves it
// available -> executing, so exactly one side wins. A payment whose job is
// already executing reports payment_in_flight instead of racing.
func (s *Service) CancelPayment(ctx context.Context, paymentID, userID uuid.UUID) (*domain.Payment, error) {
	log := logging.FromContext(ctx)

	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("CancelPayment: %w", err)
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("CancelPayment: %w", domain.ErrPaymentNotFound)
	}
	if p.Status.IsTerminal() {
		return nil, fmt.Errorf("CancelPayment: %w", domain.ErrPaymentTerminal)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("CancelPayment: begin tx: %w", err)
	}
	defer tx.Rollback()

	key := domain.SettlementUniqueKey(p.ID)
	retired, err := s.jobs.CancelPending(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("CancelPayment: %w", err)
	}
	if !retired {
		executing, err := s.jobs.HasExecuting(ctx, tx, key)
		if err != nil {
			return nil, fmt.Errorf("CancelPayment: %w", err)
		}
		if executing {
			return nil, fmt.Errorf("CancelPayment: %w", domain.ErrPaymentInFlight)
		}
		// no active job: either already settled (the status guard below
		// catches it) or the job was discarded, in which case cancelling
		// the payment is still legitimate
	}

	if err := s.payments.MarkTerminal(ctx, tx, p.ID, domain.PaymentStatusCancelled, nil, nil); err != nil {
		return nil, fmt.Errorf("CancelPayment: %w", err)
	}

	day := repository.SpendDay(p.CreatedAt)
	if err := s.spend.Release(ctx, tx, p.AccountID, day, p.Amount); err != nil {
		return nil, fmt.Errorf("CancelPayment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("CancelPayment: commit: %w", err)
	}

	log.Info("payment cancelled", "payment_id", p.ID, "account_id", p.AccountID)

	event := events.PaymentEvent{
		PaymentID:  p.ID,
		AccountID:  p.AccountID,
		UserID:     p.UserID,
		Status:     domain.PaymentStatusCancelled,
		Amount:     p.Amount,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.events.PublishPaymentEvent(ctx, event); err != nil {
		log.Warn("failed to publish cancellation event", "payment_id", p.ID, "error", err)
	}

	updated, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("CancelPayment: reload: %w", err)
	}
	return updated, nil
}
