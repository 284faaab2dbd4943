package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/logging"
)

// PaymentEvent is emitted once per terminal payment transition.
type PaymentEvent struct {
	PaymentID  uuid.UUID            `json:"payment_id"`
	AccountID  uuid.UUID            `json:"account_id"`
	UserID     uuid.UUID            `json:"user_id"`
	Status     domain.PaymentStatus `json:"status"`
	Amount     decimal.Decimal      `json:"amount"`
	Currency   string               `json:"currency"`
	Reason     string               `json:"reason,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

type Publisher interface {
	PublishPaymentEvent(ctx context.Context, event PaymentEvent) error
	Close()
}

// Nop drops events; used when no broker is configured.
type Nop struct{}

func (Nop) PublishPaymentEvent(ctx context.Context, event PaymentEvent) error {
	logging.FromContext(ctx).Debug("event publishing disabled, dropping",
		"payment_id", event.PaymentID, "status", event.Status)
	return nil
}

func (Nop) Close() {}
