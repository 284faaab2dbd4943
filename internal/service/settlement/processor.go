package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/bank"
	"github.com/finpulse/corebank/internal/breaker"
	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/events"
	"github.com/finpulse/corebank/internal/logging"
	"github.com/finpulse/corebank/internal/repository"
)

type paymentRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error
	MarkTerminal(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.PaymentStatus, failureReason *string, completedAt *time.Time) error
}

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type loginRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BankLogin, error)
}

type transactionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, t *domain.SettlementTransaction) error
	GetByExternalRef(ctx context.Context, accountID uuid.UUID, externalRef string) (*domain.SettlementTransaction, error)
}

type spendRepo interface {
	Release(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, day time.Time, amount decimal.Decimal) error
}

type tokenManager interface {
	EnsureValid(ctx context.Context, login *domain.BankLogin) (string, error)
}

type bankRegistry interface {
	For(bankID string) (bank.Client, error)
}

// Processor drives a persisted payment from pending to a terminal state.
// It is invoked by the job orchestrator and must tolerate redelivery: a
// terminal payment short-circuits to its recorded outcome with no external
// call.
type Processor struct {
	payments    paymentRepo
	accounts    accountRepo
	logins      loginRepo
	txns        transactionRepo
	spend       spendRepo
	tokens      tokenManager
	banks       bankRegistry
	breakers    *breaker.Registry
	events      events.Publisher
	db          *sql.DB
	callTimeout time.Duration
}

func NewProcessor(
	payments paymentRepo,
	accounts accountRepo,
	logins loginRepo,
	txns transactionRepo,
	spend spendRepo,
	tokens tokenManager,
	banks bankRegistry,
	breakers *breaker.Registry,
	publisher events.Publisher,
	db *sql.DB,
	callTimeout time.Duration,
) *Processor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Processor{
		payments:    payments,
		accounts:    accounts,
		logins:      logins,
		txns:        txns,
		spend:       spend,
		tokens:      tokens,
		banks:       banks,
		breakers:    breakers,
		events:      publisher,
		db:          db,
		callTimeout: callTimeout,
	}
}

// ProcessPayment advances one payment. Retryable dependency failures leave
// the payment pending and propagate for the orchestrator to back off on;
// definite bank rejections flip the payment to failed and do not retry.
func (p *Processor) ProcessPayment(ctx context.Context, paymentID uuid.UUID) (*domain.SettlementTransaction, error) {
	log := logging.FromContext(ctx)

	payment, err := p.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}

	if payment.Status.IsTerminal() {
		log.Info("payment already terminal, skipping",
			"payment_id", payment.ID, "status", payment.Status)
		if payment.Status == domain.PaymentStatusCompleted && payment.ExternalRef != nil {
			txn, err := p.txns.GetByExternalRef(ctx, payment.AccountID, *payment.ExternalRef)
			if err != nil {
				return nil, fmt.Errorf("ProcessPayment: load settlement: %w", err)
			}
			return txn, nil
		}
		return nil, nil
	}

	acct, err := p.accounts.GetByID(ctx, payment.AccountID)
	if err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}
	login, err := p.logins.GetByID(ctx, acct.BankLoginID)
	if err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}

	accessToken, err := p.tokens.EnsureValid(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}
	creds := bank.Credentials{AccessToken: accessToken}

	client, err := p.banks.For(login.Bank)
	if err != nil {
		return nil, fmt.Errorf("ProcessPayment: %w", err)
	}

	// first delivery submits; redeliveries with a recorded reference only poll
	if payment.ExternalRef == nil {
		if err := p.submit(ctx, client, creds, acct, payment); err != nil {
			return nil, err
		}
		if payment.Status == domain.PaymentStatusFailed {
			return nil, nil
		}
	}

	return p.resolve(ctx, client, creds, payment, acct.Currency)
}

func (p *Processor) submit(ctx context.Context, client bank.Client, creds bank.Credentials, acct *domain.Account, payment *domain.Payment) error {
	log := logging.FromContext(ctx)

	req := bank.PaymentRequest{
		Reference:         payment.ID.String(),
		AccountExternalID: acct.ExternalRef,
		Amount:            payment.Amount,
		Currency:          acct.Currency,
		Direction:         string(payment.Direction),
		Description:       payment.Description,
	}

	// mutating call: no fallback, an open circuit propagates as retryable
	result, err := breaker.Do(ctx, p.breakers, bank.BreakerKey, p.callTimeout,
		func(c context.Context) (bank.PaymentResult, error) {
			return client.CreatePayment(c, creds, req)
		}, nil)
	if err != nil {
		classified := bank.Classify(err)
		if domain.IsRetryable(classified) || errors.Is(classified, domain.ErrCircuitOpen) {
			return fmt.Errorf("submit: %w", classified)
		}

		// definite rejection: the bank refused the payment outright
		var apiErr *bank.APIError
		reason := "bank rejected payment"
		if errors.As(err, &apiErr) {
			reason = fmt.Sprintf("bank rejected payment: status %d", apiErr.StatusCode)
		}
		if err := p.fail(ctx, payment, acct.Currency, reason); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		return nil
	}

	if err := p.payments.SetExternalRef(ctx, payment.ID, result.ExternalRef); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	ref := result.ExternalRef
	payment.ExternalRef = &ref

	log.Info("payment submitted to bank", "payment_id", payment.ID, "external_ref", ref)
	return nil
}

func (p *Processor) resolve(ctx context.Context, client bank.Client, creds bank.Credentials, payment *domain.Payment, currency string) (*domain.SettlementTransaction, error) {
	status, err := breaker.Do(ctx, p.breakers, bank.BreakerKey, p.callTimeout,
		func(c context.Context) (bank.PaymentStatus, error) {
			return client.GetPaymentStatus(c, creds, *payment.ExternalRef)
		}, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", bank.Classify(err))
	}

	switch {
	case status.DeclineReason != "":
		if err := p.fail(ctx, payment, currency, status.DeclineReason); err != nil {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		return nil, nil
	case status.Pending:
		return nil, fmt.Errorf("resolve: %w", domain.ErrPaymentProcessing)
	}

	return p.complete(ctx, payment, currency)
}

// complete marks the payment settled and posts the settlement transaction
// in one transaction. The transaction insert is keyed on the external
// reference, so a redelivered completion never posts twice.
func (p *Processor) complete(ctx context.Context, payment *domain.Payment, currency string) (*domain.SettlementTransaction, error) {
	log := logging.FromContext(ctx)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("complete: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if err := p.payments.MarkTerminal(ctx, tx, payment.ID, domain.PaymentStatusCompleted, nil, &now); err != nil {
		if errors.Is(err, domain.ErrPaymentTerminal) {
			// another delivery got here first; its outcome stands
			return p.txns.GetByExternalRef(ctx, payment.AccountID, *payment.ExternalRef)
		}
		return nil, fmt.Errorf("complete: %w", err)
	}

	txn := &domain.SettlementTransaction{
		ID:          uuid.New(),
		AccountID:   payment.AccountID,
		Amount:      payment.Amount,
		Direction:   payment.Direction,
		Description: payment.Description,
		ExternalRef: *payment.ExternalRef,
		PostedAt:    now,
	}
	if err := p.txns.Create(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("complete: commit: %w", err)
	}

	log.Info("payment completed", "payment_id", payment.ID, "external_ref", *payment.ExternalRef)
	p.publish(ctx, payment, domain.PaymentStatusCompleted, currency, "")

	return p.txns.GetByExternalRef(ctx, payment.AccountID, *payment.ExternalRef)
}

// fail records a definite rejection and releases the payment's daily-cap
// reservation so the account regains headroom.
func (p *Processor) fail(ctx context.Context, payment *domain.Payment, currency, reason string) error {
	log := logging.FromContext(ctx)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fail: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := p.payments.MarkTerminal(ctx, tx, payment.ID, domain.PaymentStatusFailed, &reason, nil); err != nil {
		if errors.Is(err, domain.ErrPaymentTerminal) {
			return nil
		}
		return fmt.Errorf("fail: %w", err)
	}

	day := repository.SpendDay(payment.CreatedAt)
	if err := p.spend.Release(ctx, tx, payment.AccountID, day, payment.Amount); err != nil {
		return fmt.Errorf("fail: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("fail: commit: %w", err)
	}

	payment.Status = domain.PaymentStatusFailed
	log.Info("payment failed", "payment_id", payment.ID, "reason", reason)
	p.publish(ctx, payment, domain.PaymentStatusFailed, currency, reason)
	return nil
}

func (p *Processor) publish(ctx context.Context, payment *domain.Payment, status domain.PaymentStatus, currency, reason string) {
	event := events.PaymentEvent{
		PaymentID:  payment.ID,
		AccountID:  payment.AccountID,
		UserID:     payment.UserID,
		Status:     status,
		Amount:     payment.Amount,
		Currency:   currency,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := p.events.PublishPaymentEvent(ctx, event); err != nil {
		logging.FromContext(ctx).Warn("failed to publish payment event",
			"payment_id", payment.ID, "status", status, "error", err)
	}
}
