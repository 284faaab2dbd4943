package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/domain"
)

func SeedBankLogin(t *testing.T, db *sql.DB, userID uuid.UUID) *domain.BankLogin {
	t.Helper()

	expiry := time.Now().UTC().Add(time.Hour)
	l := &domain.BankLogin{
		ID:             uuid.New(),
		UserID:         userID,
		Bank:           "firstbank",
		Branch:         "main",
		Username:       "user-" + uuid.NewString()[:8],
		Status:         domain.BankLoginStatusActive,
		AccessToken:    "test-access-token",
		RefreshToken:   "test-refresh-token",
		TokenExpiresAt: &expiry,
		SyncFrequencyS: 3600,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO bank_logins (id, user_id, bank, branch, username, status,
			access_token, refresh_token, token_expires_at, sync_frequency_s, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.UserID, l.Bank, l.Branch, l.Username, l.Status,
		l.AccessToken, l.RefreshToken, l.TokenExpiresAt, l.SyncFrequencyS, l.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed bank login: %v", err)
	}
	return l
}

func SeedAccount(t *testing.T, db *sql.DB, userID, loginID uuid.UUID, balance decimal.Decimal) *domain.Account {
	t.Helper()

	a := &domain.Account{
		ID:          uuid.New(),
		UserID:      userID,
		BankLoginID: loginID,
		ExternalRef: "acct-" + uuid.NewString()[:8],
		Name:        "Checking",
		Currency:    "USD",
		AccountType: domain.AccountTypeChecking,
		Status:      domain.AccountStatusActive,
		Balance:     balance,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO accounts (id, user_id, bank_login_id, external_ref, name,
			currency, account_type, status, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.UserID, a.BankLoginID, a.ExternalRef, a.Name,
		a.Currency, a.AccountType, a.Status, a.Balance, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func SetAccountStatus(t *testing.T, db *sql.DB, accountID uuid.UUID, status domain.AccountStatus) {
	t.Helper()

	if _, err := db.Exec(`UPDATE accounts SET status = $1 WHERE id = $2`, status, accountID); err != nil {
		t.Fatalf("set account status: %v", err)
	}
}

// SeedPendingPayment inserts a pending payment together with its daily-cap
// reservation, the state admission leaves behind.
func SeedPendingPayment(t *testing.T, db *sql.DB, account *domain.Account, amount decimal.Decimal) *domain.Payment {
	t.Helper()

	now := time.Now().UTC()
	p := &domain.Payment{
		ID:          uuid.New(),
		AccountID:   account.ID,
		UserID:      account.UserID,
		Amount:      amount,
		Direction:   domain.DirectionDebit,
		PaymentType: domain.PaymentTypeTransfer,
		Status:      domain.PaymentStatusPending,
		Description: "seeded payment",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := db.Exec(
		`INSERT INTO payments (id, account_id, user_id, amount, direction,
			payment_type, status, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.AccountID, p.UserID, p.Amount, p.Direction,
		p.PaymentType, p.Status, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed pending payment: %v", err)
	}

	AddDailySpend(t, db, account.ID, now, amount)
	return p
}

// AddDailySpend bumps the reservation counter directly, bypassing the cap
// check. Useful for setting up near-limit conditions.
func AddDailySpend(t *testing.T, db *sql.DB, accountID uuid.UUID, at time.Time, amount decimal.Decimal) {
	t.Helper()

	_, err := db.Exec(
		`INSERT INTO account_daily_spend (account_id, day, reserved)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, day)
		 DO UPDATE SET reserved = account_daily_spend.reserved + EXCLUDED.reserved`,
		accountID, at.UTC().Truncate(24*time.Hour), amount,
	)
	if err != nil {
		t.Fatalf("add daily spend: %v", err)
	}
}

func GetPaymentStatus(t *testing.T, db *sql.DB, paymentID uuid.UUID) domain.PaymentStatus {
	t.Helper()

	var status domain.PaymentStatus
	if err := db.QueryRow(`SELECT status FROM payments WHERE id = $1`, paymentID).Scan(&status); err != nil {
		t.Fatalf("get payment status %s: %v", paymentID, err)
	}
	return status
}

func GetDailyReserved(t *testing.T, db *sql.DB, accountID uuid.UUID, at time.Time) decimal.Decimal {
	t.Helper()

	var reserved decimal.Decimal
	err := db.QueryRow(
		`SELECT reserved FROM account_daily_spend WHERE account_id = $1 AND day = $2`,
		accountID, at.UTC().Truncate(24*time.Hour),
	).Scan(&reserved)
	if err == sql.ErrNoRows {
		return decimal.Zero
	}
	if err != nil {
		t.Fatalf("get daily reserved %s: %v", accountID, err)
	}
	return reserved
}

func GetJobState(t *testing.T, db *sql.DB, uniqueKey string) domain.JobState {
	t.Helper()

	var state domain.JobState
	err := db.QueryRow(
		`SELECT state FROM jobs WHERE unique_key = $1 ORDER BY created_at DESC LIMIT 1`,
		uniqueKey,
	).Scan(&state)
	if err != nil {
		t.Fatalf("get job state %s: %v", uniqueKey, err)
	}
	return state
}

func CountJobs(t *testing.T, db *sql.DB, uniqueKey string) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE unique_key = $1`, uniqueKey).Scan(&count)
	if err != nil {
		t.Fatalf("count jobs %s: %v", uniqueKey, err)
	}
	return count
}

func CountSettlements(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM settlement_transactions WHERE account_id = $1`, accountID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count settlements %s: %v", accountID, err)
	}
	return count
}
