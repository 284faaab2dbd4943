package settlement

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpulse/corebank/internal/bank"
	"github.com/finpulse/corebank/internal/breaker"
	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/repository"
	"github.com/finpulse/corebank/internal/testutil"
)

type scriptedBank struct {
	createResult bank.PaymentResult
	createErr    error
	createCalls  int

	status      bank.PaymentStatus
	statusErr   error
	statusCalls int
}

func (b *scriptedBank) CreatePayment(ctx context.Context, creds bank.Credentials, req bank.PaymentRequest) (bank.PaymentResult, error) {
	b.createCalls++
	return b.createResult, b.createErr
}

func (b *scriptedBank) GetPaymentStatus(ctx context.Context, creds bank.Credentials, externalRef string) (bank.PaymentStatus, error) {
	b.statusCalls++
	return b.status, b.statusErr
}

func (b *scriptedBank) FetchAccounts(ctx context.Context, creds bank.Credentials) ([]bank.Account, error) {
	return nil, nil
}

func (b *scriptedBank) FetchTransactions(ctx context.Context, creds bank.Credentials, accountExternalID string, since time.Time) ([]bank.Transaction, error) {
	return nil, nil
}

func (b *scriptedBank) FetchBalance(ctx context.Context, creds bank.Credentials, accountExternalID string) (bank.Balance, error) {
	return bank.Balance{}, nil
}

func (b *scriptedBank) RefreshToken(ctx context.Context, refreshToken string) (bank.Token, error) {
	return bank.Token{}, nil
}

type staticRegistry struct {
	client bank.Client
}

func (r staticRegistry) For(bankID string) (bank.Client, error) { return r.client, nil }

type staticTokens struct{}

func (staticTokens) EnsureValid(ctx context.Context, login *domain.BankLogin) (string, error) {
	return login.AccessToken, nil
}

type processorEnv struct {
	db        *sql.DB
	processor *Processor
	client    *scriptedBank
	payments  *repository.PaymentRepository
	account   *domain.Account
	payment   *domain.Payment
}

func newProcessorEnv(t *testing.T, client *scriptedBank) *processorEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	userID := uuid.New()
	login := testutil.SeedBankLogin(t, db, userID)
	account := testutil.SeedAccount(t, db, userID, login.ID, decimal.NewFromInt(5000))
	payment := testutil.SeedPendingPayment(t, db, account, decimal.NewFromInt(250))

	payments := repository.NewPaymentRepository(db)
	processor := NewProcessor(
		payments,
		repository.NewAccountRepository(db),
		repository.NewBankLoginRepository(db),
		repository.NewTransactionRepository(db),
		repository.NewDailySpendRepository(db),
		staticTokens{},
		staticRegistry{client: client},
		breaker.NewRegistry(5, 30*time.Second),
		nil,
		db,
		5*time.Second,
	)

	return &processorEnv{
		db:        db,
		processor: processor,
		client:    client,
		payments:  payments,
		account:   account,
		payment:   payment,
	}
}

func (e *processorEnv) reserved(t *testing.T) decimal.Decimal {
	t.Helper()
	return testutil.GetDailyReserved(t, e.db, e.account.ID, e.payment.CreatedAt)
}

func TestProcessPaymentCompletes(t *testing.T) {
	client := &scriptedBank{
		createResult: bank.PaymentResult{ExternalRef: "ext-100"},
		status:       bank.PaymentStatus{},
	}
	env := newProcessorEnv(t, client)
	ctx := context.Background()

	txn, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.NoError(t, err)
	require.NotNil(t, txn)

	assert.Equal(t, "ext-100", txn.ExternalRef)
	assert.True(t, txn.Amount.Equal(env.payment.Amount))
	assert.Equal(t, env.payment.Direction, txn.Direction)
	assert.Equal(t, 1, client.createCalls)
	assert.Equal(t, domain.PaymentStatusCompleted, testutil.GetPaymentStatus(t, env.db, env.payment.ID))
	assert.True(t, env.reserved(t).Equal(env.payment.Amount),
		"completed payment keeps its daily-cap reservation")
}

func TestProcessPaymentDeclined(t *testing.T) {
	client := &scriptedBank{
		createResult: bank.PaymentResult{ExternalRef: "ext-101"},
		status:       bank.PaymentStatus{DeclineReason: "insufficient funds"},
	}
	env := newProcessorEnv(t, client)
	ctx := context.Background()

	txn, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.NoError(t, err)
	assert.Nil(t, txn)

	payment, err := env.payments.GetByID(ctx, env.payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, "insufficient funds", *payment.FailureReason)
	assert.True(t, env.reserved(t).IsZero(), "declined payment releases its reservation")
	assert.Equal(t, 0, testutil.CountSettlements(t, env.db, env.account.ID))
}

func TestProcessPaymentIdempotentAfterCompletion(t *testing.T) {
	client := &scriptedBank{
		createResult: bank.PaymentResult{ExternalRef: "ext-102"},
		status:       bank.PaymentStatus{},
	}
	env := newProcessorEnv(t, client)
	ctx := context.Background()

	first, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	client.createCalls = 0
	client.statusCalls = 0

	second, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID, "redelivery returns the recorded outcome")
	assert.Equal(t, 0, client.createCalls, "no bank call for a terminal payment")
	assert.Equal(t, 0, client.statusCalls)
	assert.Equal(t, 1, testutil.CountSettlements(t, env.db, env.account.ID))
}

func TestProcessPaymentRedeliveryPollsInsteadOfResubmitting(t *testing.T) {
	client := &scriptedBank{
		createResult: bank.PaymentResult{ExternalRef: "ext-103"},
		status:       bank.PaymentStatus{Pending: true},
	}
	env := newProcessorEnv(t, client)
	ctx := context.Background()

	// first attempt submits, bank still processing
	_, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPaymentProcessing)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 1, client.createCalls)

	// second attempt sees the recorded reference and only polls
	client.status = bank.PaymentStatus{}
	txn, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, 1, client.createCalls, "submission happens at most once")
	assert.Equal(t, 2, client.statusCalls)
}

func TestProcessPaymentTransientSubmitFailure(t *testing.T) {
	client := &scriptedBank{
		createErr: &bank.APIError{StatusCode: 503, Body: "upstream down"},
	}
	env := newProcessorEnv(t, client)
	ctx := context.Background()

	_, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBankUnavailable)
	assert.True(t, domain.IsRetryable(err))

	payment, err := env.payments.GetByID(ctx, env.payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status,
		"transient failures leave the payment pending")
	assert.Nil(t, payment.ExternalRef)
	assert.True(t, env.reserved(t).Equal(env.payment.Amount), "reservation held while pending")
}

func TestProcessPaymentDefiniteSubmitRejection(t *testing.T) {
	client := &scriptedBank{
		createErr: &bank.APIError{StatusCode: 422, Body: "unsupported currency"},
	}
	env := newProcessorEnv(t, client)
	ctx := context.Background()

	txn, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.NoError(t, err, "a definite rejection settles the payment, it is not a processing error")
	assert.Nil(t, txn)

	payment, err := env.payments.GetByID(ctx, env.payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, payment.Status)
	assert.True(t, env.reserved(t).IsZero())
}

func TestProcessPaymentOpenCircuitShortCircuits(t *testing.T) {
	client := &scriptedBank{
		createErr: &bank.APIError{StatusCode: 500, Body: "boom"},
	}
	env := newProcessorEnv(t, client)
	ctx := context.Background()

	// breaker threshold in newProcessorEnv is 5 consecutive failures
	for range 5 {
		_, err := env.processor.ProcessPayment(ctx, env.payment.ID)
		require.Error(t, err)
	}

	calls := client.createCalls
	_, err := env.processor.ProcessPayment(ctx, env.payment.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, calls, client.createCalls, "open circuit skips the bank call")
}
