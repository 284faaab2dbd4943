package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentDirection string

const (
	DirectionCredit PaymentDirection = "credit"
	DirectionDebit  PaymentDirection = "debit"
)

type PaymentType string

const (
	PaymentTypeTransfer   PaymentType = "transfer"
	PaymentTypePayment    PaymentType = "payment"
	PaymentTypeDeposit    PaymentType = "deposit"
	PaymentTypeWithdrawal PaymentType = "withdrawal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is permitted.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

type Payment struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Direction   PaymentDirection
	PaymentType PaymentType
	Status      PaymentStatus
	Description string
	// ExternalRef is the bank's settlement reference, nil until the bank
	// has accepted the payment.
	ExternalRef   *string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func ValidDirection(d PaymentDirection) bool {
	return d == DirectionCredit || d == DirectionDebit
}

func ValidPaymentType(t PaymentType) bool {
	switch t {
	case PaymentTypeTransfer, PaymentTypePayment, PaymentTypeDeposit, PaymentTypeWithdrawal:
		return true
	}
	return false
}
