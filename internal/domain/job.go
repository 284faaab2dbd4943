package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobKindPaymentSettlement JobKind = "payment-settlement"
	JobKindBankSync          JobKind = "bank-sync"
)

type JobState string

const (
	JobStateAvailable JobState = "available"
	JobStateExecuting JobState = "executing"
	JobStateCompleted JobState = "completed"
	JobStateCancelled JobState = "cancelled"
	JobStateDiscarded JobState = "discarded"
)

const DefaultQueue = "default"

// Job is one durable unit of deferred work. Delivery is at-least-once, so
// handlers must be idempotent. UniqueKey gives at-most-one-in-flight
// semantics: two jobs sharing a key are never simultaneously available or
// executing.
type Job struct {
	ID          uuid.UUID
	Kind        JobKind
	Args        json.RawMessage
	Queue       string
	State       JobState
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time
	UniqueKey   string
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type SettlementArgs struct {
	PaymentID uuid.UUID `json:"payment_id"`
}

type BankSyncArgs struct {
	LoginID uuid.UUID `json:"login_id"`
}

func SettlementUniqueKey(paymentID uuid.UUID) string {
	return "payment-settlement:" + paymentID.String()
}

func BankSyncUniqueKey(loginID uuid.UUID) string {
	return "bank-sync:" + loginID.String()
}
