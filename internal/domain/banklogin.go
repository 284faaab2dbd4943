package domain

import (
	"time"

	"github.com/google/uuid"
)

type BankLoginStatus string

const (
	BankLoginStatusActive  BankLoginStatus = "active"
	BankLoginStatusError   BankLoginStatus = "error"
	BankLoginStatusRevoked BankLoginStatus = "revoked"
)

// BankLogin holds one user's OAuth2 link to a bank branch.
// (user, branch, username) is unique.
type BankLogin struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Bank     string
	Branch   string
	Username string
	Status   BankLoginStatus

	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	Scope          string

	SyncFrequencyS int
	LastSyncedAt   *time.Time
	CreatedAt      time.Time
}

// NeedsSync reports whether enough time has elapsed since the last sync.
func (l *BankLogin) NeedsSync(now time.Time) bool {
	if l.Status != BankLoginStatusActive {
		return false
	}
	if l.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*l.LastSyncedAt) >= time.Duration(l.SyncFrequencyS)*time.Second
}

// TokenExpiringWithin reports whether the access token is missing, expired,
// or will expire within skew.
func (l *BankLogin) TokenExpiringWithin(now time.Time, skew time.Duration) bool {
	if l.TokenExpiresAt == nil {
		return true
	}
	return !now.Before(l.TokenExpiresAt.Add(-skew))
}
