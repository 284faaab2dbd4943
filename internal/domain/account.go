package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeChecking   AccountType = "checking"
	AccountTypeSavings    AccountType = "savings"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeInvestment AccountType = "investment"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusClosed   AccountStatus = "closed"
)

type Account struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	BankLoginID uuid.UUID
	// ExternalRef is the bank's identifier for this account, set on link
	// and used to correlate sync results.
	ExternalRef  string
	Name         string
	Currency     string
	AccountType  AccountType
	Status       AccountStatus
	Balance      decimal.Decimal
	LastSyncedAt *time.Time
	CreatedAt    time.Time
}
