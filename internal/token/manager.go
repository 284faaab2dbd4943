package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finpulse/corebank/internal/bank"
	"github.com/finpulse/corebank/internal/domain"
	"github.com/finpulse/corebank/internal/logging"
)

// RefreshSkew is how long before expiry a token is treated as stale.
const RefreshSkew = 5 * time.Minute

type loginStore interface {
	UpdateTokens(ctx context.Context, id uuid.UUID, access, refresh string, expiresAt time.Time, scope string) error
	SetStatus(ctx context.Context, id uuid.UUID, status domain.BankLoginStatus) error
}

type bankRegistry interface {
	For(bankID string) (bank.Client, error)
}

// Manager owns the OAuth2 token lifecycle for bank logins. It refreshes at
// most once per call and never loops; transient refresh failures are left
// to the job orchestrator's retry.
type Manager struct {
	logins loginStore
	banks  bankRegistry
	now    func() time.Time
}

func NewManager(logins loginStore, banks bankRegistry) *Manager {
	return &Manager{logins: logins, banks: banks, now: time.Now}
}

// EnsureValid returns an access token usable right now. When the stored
// token is missing, expired, or inside the refresh skew, it performs one
// refresh, persists the rotated pair, and updates login in place. A
// definite refresh rejection marks the login errored and surfaces
// invalid_token; transient failures propagate as retryable.
func (m *Manager) EnsureValid(ctx context.Context, login *domain.BankLogin) (string, error) {
	now := m.now().UTC()
	if !login.TokenExpiringWithin(now, RefreshSkew) {
		return login.AccessToken, nil
	}

	log := logging.FromContext(ctx)

	client, err := m.banks.For(login.Bank)
	if err != nil {
		return "", fmt.Errorf("EnsureValid: %w", err)
	}

	tok, err := client.RefreshToken(ctx, login.RefreshToken)
	if err != nil {
		classified := bank.Classify(err)
		if domain.IsRetryable(classified) {
			return "", fmt.Errorf("EnsureValid: refresh: %w", classified)
		}

		// the bank definitively rejected the grant; the login is unusable
		// until the user re-links
		if setErr := m.logins.SetStatus(ctx, login.ID, domain.BankLoginStatusError); setErr != nil {
			log.Error("failed to mark login errored", "login_id", login.ID, "error", setErr)
		}
		log.Warn("token refresh rejected", "login_id", login.ID, "bank", login.Bank)
		return "", fmt.Errorf("EnsureValid: %w", domain.ErrInvalidToken.WithCause(err))
	}

	if err := m.logins.UpdateTokens(ctx, login.ID, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt, tok.Scope); err != nil {
		return "", fmt.Errorf("EnsureValid: persist tokens: %w", err)
	}

	login.AccessToken = tok.AccessToken
	login.RefreshToken = tok.RefreshToken
	expiresAt := tok.ExpiresAt
	login.TokenExpiresAt = &expiresAt
	if tok.Scope != "" {
		login.Scope = tok.Scope
	}

	log.Info("token refreshed", "login_id", login.ID, "bank", login.Bank, "expires_at", tok.ExpiresAt)
	return tok.AccessToken, nil
}
