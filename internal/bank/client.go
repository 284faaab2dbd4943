package bank

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/domain"
)

// BreakerKey is the circuit dependency key shared by every bank API call.
// Settlement and sync trip and recover the same circuit.
const BreakerKey = "bank_api"

// Credentials carries what an operation needs to authenticate against the
// bank. Never log the token.
type Credentials struct {
	AccessToken string
}

type Account struct {
	ExternalID string
	Name       string
	Type       string
	Currency   string
	Balance    decimal.Decimal
}

type Transaction struct {
	ExternalID  string
	Amount      decimal.Decimal
	Direction   string
	Description string
	PostedAt    time.Time
}

type Balance struct {
	Current   decimal.Decimal
	Available decimal.Decimal
	Currency  string
}

type PaymentRequest struct {
	// Reference is our payment id; banks are expected to deduplicate on it.
	Reference         string
	AccountExternalID string
	Amount            decimal.Decimal
	Currency          string
	Direction         string
	Description       string
}

type PaymentResult struct {
	ExternalRef string
}

// PaymentStatus is the normalized settlement outcome. Bank-specific decline
// codes collapse to DeclineReason: present means failed, absent with
// Pending false means completed.
type PaymentStatus struct {
	Pending       bool
	DeclineReason string
}

type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// Client normalizes one bank's REST API. Every operation is a single
// request/response pair; retry policy belongs to the caller.
type Client interface {
	FetchAccounts(ctx context.Context, creds Credentials) ([]Account, error)
	FetchTransactions(ctx context.Context, creds Credentials, accountExternalID string, since time.Time) ([]Transaction, error)
	FetchBalance(ctx context.Context, creds Credentials, accountExternalID string) (Balance, error)
	CreatePayment(ctx context.Context, creds Credentials, req PaymentRequest) (PaymentResult, error)
	GetPaymentStatus(ctx context.Context, creds Credentials, externalRef string) (PaymentStatus, error)
	RefreshToken(ctx context.Context, refreshToken string) (Token, error)
}

// APIError is any non-2xx answer from a bank, normalized to status plus a
// truncated body.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bank API status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) ServerError() bool { return e.StatusCode >= 500 }
func (e *APIError) AuthError() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// Classify folds a gateway error into the domain taxonomy: timeouts and
// transport failures and 5xx answers are retryable dependency errors,
// anything else is a definite rejection left to the caller to interpret.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.ServerError() {
			return domain.ErrBankUnavailable.WithCause(err).WithDetail("status_code", fmt.Sprint(apiErr.StatusCode))
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout.WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrTimeout.WithCause(err)
	}
	return domain.ErrTransport.WithCause(err)
}
