package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementTransaction is the posted-ledger record for money that has
// actually moved: created exactly once when a payment settles, or upserted
// from the bank's transaction feed during sync. Immutable once written.
type SettlementTransaction struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Direction   PaymentDirection
	Description string
	// ExternalRef links back to the originating payment's settlement
	// reference; unique per account.
	ExternalRef string
	PostedAt    time.Time
}
