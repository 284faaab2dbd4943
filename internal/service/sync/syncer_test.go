package sync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpulse/corebank/internal/bank"
	"github.com/finpulse/corebank/internal/breaker"
	"github.com/finpulse/corebank/internal/domain"
)

type fakeLogins struct {
	login      *domain.BankLogin
	lastSynced *time.Time
}

func (f *fakeLogins) GetByID(ctx context.Context, id uuid.UUID) (*domain.BankLogin, error) {
	return f.login, nil
}

func (f *fakeLogins) UpdateLastSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error {
	f.lastSynced = &syncedAt
	return nil
}

type fakeAccounts struct {
	upserts  []domain.Account
	balances map[uuid.UUID]decimal.Decimal
}

func (f *fakeAccounts) GetByLoginID(ctx context.Context, loginID uuid.UUID) ([]domain.Account, error) {
	return f.upserts, nil
}

func (f *fakeAccounts) UpsertFromBank(ctx context.Context, account *domain.Account) error {
	f.upserts = append(f.upserts, *account)
	return nil
}

func (f *fakeAccounts) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error {
	if f.balances == nil {
		f.balances = make(map[uuid.UUID]decimal.Decimal)
	}
	f.balances[id] = balance
	return nil
}

type fakeTxns struct {
	upserts []domain.SettlementTransaction
}

func (f *fakeTxns) UpsertFromBank(ctx context.Context, t *domain.SettlementTransaction) error {
	f.upserts = append(f.upserts, *t)
	return nil
}

type passTokens struct{}

func (passTokens) EnsureValid(ctx context.Context, login *domain.BankLogin) (string, error) {
	return login.AccessToken, nil
}

type fakeBank struct {
	accounts     []bank.Account
	accountsErr  error
	transactions []bank.Transaction
	txnErr       error
	balance      bank.Balance

	accountCalls int
}

func (b *fakeBank) FetchAccounts(ctx context.Context, creds bank.Credentials) ([]bank.Account, error) {
	b.accountCalls++
	return b.accounts, b.accountsErr
}

func (b *fakeBank) FetchTransactions(ctx context.Context, creds bank.Credentials, accountExternalID string, since time.Time) ([]bank.Transaction, error) {
	return b.transactions, b.txnErr
}

func (b *fakeBank) FetchBalance(ctx context.Context, creds bank.Credentials, accountExternalID string) (bank.Balance, error) {
	return b.balance, nil
}

func (b *fakeBank) CreatePayment(ctx context.Context, creds bank.Credentials, req bank.PaymentRequest) (bank.PaymentResult, error) {
	return bank.PaymentResult{}, nil
}

func (b *fakeBank) GetPaymentStatus(ctx context.Context, creds bank.Credentials, externalRef string) (bank.PaymentStatus, error) {
	return bank.PaymentStatus{}, nil
}

func (b *fakeBank) RefreshToken(ctx context.Context, refreshToken string) (bank.Token, error) {
	return bank.Token{}, nil
}

type fakeRegistry struct {
	client bank.Client
}

func (r fakeRegistry) For(bankID string) (bank.Client, error) { return r.client, nil }

func activeLogin() *domain.BankLogin {
	return &domain.BankLogin{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Bank:        "firstbank",
		Status:      domain.BankLoginStatusActive,
		AccessToken: "token",
	}
}

func newSyncer(logins *fakeLogins, accounts *fakeAccounts, txns *fakeTxns, client bank.Client, breakers *breaker.Registry) *Syncer {
	return NewSyncer(logins, accounts, txns, passTokens{}, fakeRegistry{client: client}, breakers, time.Second)
}

func TestSyncLoginReconcilesAccountsAndTransactions(t *testing.T) {
	logins := &fakeLogins{login: activeLogin()}
	accounts := &fakeAccounts{}
	txns := &fakeTxns{}
	client := &fakeBank{
		accounts: []bank.Account{
			{ExternalID: "acct-1", Name: "Checking", Type: "checking", Currency: "USD", Balance: decimal.NewFromInt(900)},
		},
		transactions: []bank.Transaction{
			{ExternalID: "txn-1", Amount: decimal.NewFromInt(100), Direction: "debit", Description: "groceries", PostedAt: time.Now().UTC()},
			{ExternalID: "txn-2", Amount: decimal.NewFromInt(50), Direction: "credit", Description: "refund", PostedAt: time.Now().UTC()},
		},
		balance: bank.Balance{Current: decimal.NewFromInt(950), Currency: "USD"},
	}

	s := newSyncer(logins, accounts, txns, client, breaker.NewRegistry(5, 30*time.Second))
	err := s.SyncLogin(context.Background(), logins.login.ID)
	require.NoError(t, err)

	require.Len(t, accounts.upserts, 1)
	acct := accounts.upserts[0]
	assert.Equal(t, "acct-1", acct.ExternalRef)
	assert.Equal(t, domain.AccountTypeChecking, acct.AccountType)
	assert.Equal(t, logins.login.UserID, acct.UserID)

	require.Len(t, txns.upserts, 2)
	assert.Equal(t, "txn-1", txns.upserts[0].ExternalRef)
	assert.Equal(t, domain.DirectionDebit, txns.upserts[0].Direction)

	require.Contains(t, accounts.balances, acct.ID)
	assert.True(t, accounts.balances[acct.ID].Equal(decimal.NewFromInt(950)),
		"balance endpoint is authoritative over the account listing")

	require.NotNil(t, logins.lastSynced)
}

func TestSyncLoginSkipsNonActiveLogin(t *testing.T) {
	login := activeLogin()
	login.Status = domain.BankLoginStatusError
	logins := &fakeLogins{login: login}
	client := &fakeBank{}

	s := newSyncer(logins, &fakeAccounts{}, &fakeTxns{}, client, breaker.NewRegistry(5, 30*time.Second))
	err := s.SyncLogin(context.Background(), login.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, client.accountCalls, "errored logins are never synced")
	assert.Nil(t, logins.lastSynced)
}

func TestSyncLoginSkipsCycleWhileCircuitOpen(t *testing.T) {
	logins := &fakeLogins{login: activeLogin()}
	accounts := &fakeAccounts{}
	client := &fakeBank{
		accounts: []bank.Account{{ExternalID: "acct-1", Type: "checking"}},
	}

	breakers := breaker.NewRegistry(1, time.Minute)
	_, err := breaker.Do(context.Background(), breakers, bank.BreakerKey, time.Second,
		func(context.Context) (struct{}, error) {
			return struct{}{}, &bank.APIError{StatusCode: 500, Body: "down"}
		}, nil)
	require.Error(t, err)
	require.Equal(t, breaker.ModeOpen, breakers.Mode(bank.BreakerKey))

	s := newSyncer(logins, accounts, &fakeTxns{}, client, breakers)
	err = s.SyncLogin(context.Background(), logins.login.ID)
	require.NoError(t, err, "an open circuit skips the cycle instead of failing the job")

	assert.Equal(t, 0, client.accountCalls)
	assert.Empty(t, accounts.upserts)
	assert.Nil(t, logins.lastSynced, "a skipped cycle does not count as a sync")
}

func TestSyncLoginPropagatesTransientTransactionFailure(t *testing.T) {
	logins := &fakeLogins{login: activeLogin()}
	client := &fakeBank{
		accounts: []bank.Account{{ExternalID: "acct-1", Type: "checking", Currency: "USD"}},
		txnErr:   &bank.APIError{StatusCode: 503, Body: "upstream down"},
	}

	s := newSyncer(logins, &fakeAccounts{}, &fakeTxns{}, client, breaker.NewRegistry(5, 30*time.Second))
	err := s.SyncLogin(context.Background(), logins.login.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBankUnavailable)
	assert.True(t, domain.IsRetryable(err))
	assert.Nil(t, logins.lastSynced, "a failed sync stays due for the next cycle")
}

func TestMapAccountTypeDefaultsUnknownToChecking(t *testing.T) {
	assert.Equal(t, domain.AccountTypeSavings, mapAccountType("savings"))
	assert.Equal(t, domain.AccountTypeChecking, mapAccountType("money_market"))
}
