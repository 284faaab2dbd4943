package payment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpulse/corebank/internal/domain"
)

func TestValidateCreate(t *testing.T) {
	ownerID := uuid.New()
	account := func(mutate func(*domain.Account)) *domain.Account {
		a := &domain.Account{
			ID:     uuid.New(),
			UserID: ownerID,
			Status: domain.AccountStatusActive,
		}
		if mutate != nil {
			mutate(a)
		}
		return a
	}

	validReq := CreatePaymentRequest{
		Direction:   domain.DirectionDebit,
		PaymentType: domain.PaymentTypeTransfer,
	}

	tests := []struct {
		name    string
		req     CreatePaymentRequest
		amount  decimal.Decimal
		acct    *domain.Account
		userID  uuid.UUID
		wantErr error
	}{
		{
			name:   "valid debit transfer",
			req:    validReq,
			amount: decimal.NewFromInt(100),
			acct:   account(nil),
			userID: ownerID,
		},
		{
			name:    "foreign account",
			req:     validReq,
			amount:  decimal.NewFromInt(100),
			acct:    account(nil),
			userID:  uuid.New(),
			wantErr: domain.ErrUnauthorized,
		},
		{
			name:   "inactive account",
			req:    validReq,
			amount: decimal.NewFromInt(100),
			acct: account(func(a *domain.Account) {
				a.Status = domain.AccountStatusInactive
			}),
			userID:  ownerID,
			wantErr: domain.ErrAccountInactive,
		},
		{
			name:   "closed account",
			req:    validReq,
			amount: decimal.NewFromInt(100),
			acct: account(func(a *domain.Account) {
				a.Status = domain.AccountStatusClosed
			}),
			userID:  ownerID,
			wantErr: domain.ErrAccountInactive,
		},
		{
			name:    "zero amount",
			req:     validReq,
			amount:  decimal.Zero,
			acct:    account(nil),
			userID:  ownerID,
			wantErr: domain.ErrNegativeAmount,
		},
		{
			name:    "negative amount",
			req:     validReq,
			amount:  decimal.NewFromInt(-50),
			acct:    account(nil),
			userID:  ownerID,
			wantErr: domain.ErrNegativeAmount,
		},
		{
			name: "unknown direction",
			req: CreatePaymentRequest{
				Direction:   "sideways",
				PaymentType: domain.PaymentTypeTransfer,
			},
			amount:  decimal.NewFromInt(100),
			acct:    account(nil),
			userID:  ownerID,
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name: "unknown payment type",
			req: CreatePaymentRequest{
				Direction:   domain.DirectionDebit,
				PaymentType: "wire",
			},
			amount:  decimal.NewFromInt(100),
			acct:    account(nil),
			userID:  ownerID,
			wantErr: domain.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCreate(tt.req, tt.amount, tt.acct, tt.userID)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidationOrderOwnershipFirst(t *testing.T) {
	// a foreign caller probing an inactive account must see unauthorized,
	// not the account's state
	acct := &domain.Account{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: domain.AccountStatusInactive,
	}
	err := validateCreate(CreatePaymentRequest{
		Direction:   domain.DirectionDebit,
		PaymentType: domain.PaymentTypeTransfer,
	}, decimal.NewFromInt(-1), acct, uuid.New())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
