package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/bank"
	"github.com/finpulse/corebank/internal/breaker"
	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/logging"
)

type loginRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BankLogin, error)
	UpdateLastSynced(ctx context.Context, id uuid.UUID, syncedAt time.Time) error
}

type accountRepo interface {
	GetByLoginID(ctx context.Context, loginID uuid.UUID) ([]domain.Account, error)
	UpsertFromBank(ctx context.Context, account *domain.Account) error
	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal, syncedAt time.Time) error
}

type transactionRepo interface {
	UpsertFromBank(ctx context.Context, t *domain.SettlementTransaction) error
}

type tokenManager interface {
	EnsureValid(ctx context.Context, login *domain.BankLogin) (string, error)
}

type bankRegistry interface {
	For(bankID string) (bank.Client, error)
}

// Syncer pulls one login's accounts, balances and transaction history from
// the bank and reconciles the local copy. Bank data is authoritative: local
// rows are upserted to match, keyed on the bank's external identifiers, so
// re-running a sync converges instead of duplicating.
type Syncer struct {
	logins   loginRepo
	accounts accountRepo
	txns     transactionRepo
	tokens   tokenManager
	banks    bankRegistry
	breakers *breaker.Registry

	callTimeout time.Duration
	now         func() time.Time
}

func NewSyncer(
	logins loginRepo,
	accounts accountRepo,
	txns transactionRepo,
	tokens tokenManager,
	banks bankRegistry,
	breakers *breaker.Registry,
	callTimeout time.Duration,
) *Syncer {
	return &Syncer{
		logins:      logins,
		accounts:    accounts,
		txns:        txns,
		tokens:      tokens,
		banks:       banks,
		breakers:    breakers,
		callTimeout: callTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SyncLogin refreshes everything under one bank login. An open circuit skips
// the cycle cleanly via fallbacks; the next scheduled run picks the login up
// again. Read-only calls degrade to stale data rather than errors.
func (s *Syncer) SyncLogin(ctx context.Context, loginID uuid.UUID) error {
	log := logging.FromContext(ctx)

	login, err := s.logins.GetByID(ctx, loginID)
	if err != nil {
		return fmt.Errorf("SyncLogin: %w", err)
	}
	if login.Status != domain.BankLoginStatusActive {
		log.Info("skipping sync for non-active login", "login_id", loginID, "status", login.Status)
		return nil
	}

	accessToken, err := s.tokens.EnsureValid(ctx, login)
	if err != nil {
		return fmt.Errorf("SyncLogin: %w", err)
	}
	creds := bank.Credentials{AccessToken: accessToken}

	client, err := s.banks.For(login.Bank)
	if err != nil {
		return fmt.Errorf("SyncLogin: %w", err)
	}

	remote, err := breaker.Do(ctx, s.breakers, bank.BreakerKey, s.callTimeout,
		func(c context.Context) ([]bank.Account, error) {
			return client.FetchAccounts(c, creds)
		},
		func() ([]bank.Account, error) {
			return nil, errSkipped
		})
	if err != nil {
		if errors.Is(err, errSkipped) {
			log.Info("bank circuit open, skipping sync cycle", "login_id", loginID)
			return nil
		}
		return fmt.Errorf("SyncLogin: %w", bank.Classify(err))
	}

	since := time.Time{}
	if login.LastSyncedAt != nil {
		since = *login.LastSyncedAt
	}

	var firstErr error
	for _, ra := range remote {
		if err := s.syncAccount(ctx, client, creds, login, ra, since); err != nil {
			log.Error("account sync failed", "login_id", loginID,
				"account_external_id", ra.ExternalID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("SyncLogin: %w", firstErr)
	}

	syncedAt := s.now()
	if err := s.logins.UpdateLastSynced(ctx, loginID, syncedAt); err != nil {
		return fmt.Errorf("SyncLogin: %w", err)
	}

	log.Info("login synced", "login_id", loginID, "accounts", len(remote))
	return nil
}

func (s *Syncer) syncAccount(ctx context.Context, client bank.Client, creds bank.Credentials, login *domain.BankLogin, remote bank.Account, since time.Time) error {
	acct := &domain.Account{
		ID:          uuid.New(),
		UserID:      login.UserID,
		BankLoginID: login.ID,
		ExternalRef: remote.ExternalID,
		Name:        remote.Name,
		Currency:    remote.Currency,
		AccountType: mapAccountType(remote.Type),
		Status:      domain.AccountStatusActive,
		Balance:     remote.Balance,
		CreatedAt:   s.now(),
	}
	if err := s.accounts.UpsertFromBank(ctx, acct); err != nil {
		return fmt.Errorf("syncAccount: %w", err)
	}

	txns, err := breaker.Do(ctx, s.breakers, bank.BreakerKey, s.callTimeout,
		func(c context.Context) ([]bank.Transaction, error) {
			return client.FetchTransactions(c, creds, remote.ExternalID, since)
		},
		func() ([]bank.Transaction, error) {
			return nil, errSkipped
		})
	if err != nil {
		if errors.Is(err, errSkipped) {
			return nil
		}
		return fmt.Errorf("syncAccount: %w", bank.Classify(err))
	}
	for _, rt := range txns {
		t := &domain.SettlementTransaction{
			ID:          uuid.New(),
			AccountID:   acct.ID,
			Amount:      rt.Amount,
			Direction:   domain.PaymentDirection(rt.Direction),
			Description: rt.Description,
			ExternalRef: rt.ExternalID,
			PostedAt:    rt.PostedAt,
		}
		if err := s.txns.UpsertFromBank(ctx, t); err != nil {
			return fmt.Errorf("syncAccount: %w", err)
		}
	}

	balance, err := breaker.Do(ctx, s.breakers, bank.BreakerKey, s.callTimeout,
		func(c context.Context) (bank.Balance, error) {
			return client.FetchBalance(c, creds, remote.ExternalID)
		},
		func() (bank.Balance, error) {
			return bank.Balance{}, errSkipped
		})
	if err != nil {
		if errors.Is(err, errSkipped) {
			return nil
		}
		return fmt.Errorf("syncAccount: %w", bank.Classify(err))
	}
	if err := s.accounts.UpdateBalance(ctx, acct.ID, balance.Current, s.now()); err != nil {
		return fmt.Errorf("syncAccount: %w", err)
	}
	return nil
}

// errSkipped marks a fallback result so callers can tell "circuit open,
// nothing fetched" apart from a genuinely empty answer.
var errSkipped = errors.New("sync step skipped")

func mapAccountType(t string) domain.AccountType {
	switch domain.AccountType(t) {
	case domain.AccountTypeChecking, domain.AccountTypeSavings,
		domain.AccountTypeCredit, domain.AccountTypeInvestment:
		return domain.AccountType(t)
	}
	return domain.AccountTypeChecking
}
