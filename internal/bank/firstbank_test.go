package bank

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpulse/corebank/internal/domain"
)

func newTestBank(t *testing.T, handler http.Handler) *FirstBank {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFirstBank(srv.URL, "client-id", "client-secret", 5*time.Second)
}

func TestFetchAccounts(t *testing.T) {
	var gotAuth string
	c := newTestBank(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/accounts", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"accounts":[
			{"id":"fb-1","name":"Checking","type":"checking","currency":"USD","balance":"1234.56"}
		]}`))
	}))

	accounts, err := c.FetchAccounts(context.Background(), Credentials{AccessToken: "tok"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, accounts, 1)
	assert.Equal(t, "fb-1", accounts[0].ExternalID)
	assert.Equal(t, "checking", accounts[0].Type)
	assert.Equal(t, "1234.56", accounts[0].Balance.String())
}

func TestFetchTransactionsSinceParameter(t *testing.T) {
	var gotSince string
	c := newTestBank(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		w.Write([]byte(`{"transactions":[]}`))
	}))

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.FetchTransactions(context.Background(), Credentials{AccessToken: "tok"}, "fb-1", since)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00Z", gotSince)
}

func TestCreatePaymentSendsReference(t *testing.T) {
	c := newTestBank(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payments", r.URL.Path)
		w.Write([]byte(`{"payment_ref":"fb-pay-1","status":"completed"}`))
	}))

	result, err := c.CreatePayment(context.Background(), Credentials{AccessToken: "tok"}, PaymentRequest{
		Reference: "11111111-1111-1111-1111-111111111111",
	})
	require.NoError(t, err)
	assert.Equal(t, "fb-pay-1", result.ExternalRef)
}

func TestGetPaymentStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want PaymentStatus
	}{
		{
			name: "completed",
			body: `{"payment_ref":"p","status":"completed"}`,
			want: PaymentStatus{},
		},
		{
			name: "processing stays pending",
			body: `{"payment_ref":"p","status":"processing"}`,
			want: PaymentStatus{Pending: true},
		},
		{
			name: "requires_action stays pending",
			body: `{"payment_ref":"p","status":"requires_action"}`,
			want: PaymentStatus{Pending: true},
		},
		{
			name: "decline reason wins over status",
			body: `{"payment_ref":"p","status":"failed","decline_reason":"limit breached"}`,
			want: PaymentStatus{DeclineReason: "limit breached"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestBank(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			got, err := c.GetPaymentStatus(context.Background(), Credentials{AccessToken: "tok"}, "p")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRefreshTokenFormEncoding(t *testing.T) {
	c := newTestBank(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		assert.Equal(t, "old-refresh", r.PostFormValue("refresh_token"))
		assert.Equal(t, "client-id", r.PostFormValue("client_id"))
		w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt","expires_in":3600,"scope":"accounts"}`))
	}))

	tok, err := c.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-at", tok.AccessToken)
	assert.Equal(t, "new-rt", tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)
}

func TestAPIErrorStatusAndBody(t *testing.T) {
	c := newTestBank(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate_limited"}`, http.StatusTooManyRequests)
	}))

	_, err := c.FetchAccounts(context.Background(), Credentials{AccessToken: "tok"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "rate_limited")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "server error is retryable bank_unavailable",
			err:  &APIError{StatusCode: 502, Body: "bad gateway"},
			want: domain.ErrBankUnavailable,
		},
		{
			name: "deadline exceeded is timeout",
			err:  context.DeadlineExceeded,
			want: domain.ErrTimeout,
		},
		{
			name: "plain transport failure",
			err:  errors.New("connection reset"),
			want: domain.ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.True(t, domain.IsRetryable(got))
		})
	}

	t.Run("client error passes through unclassified", func(t *testing.T) {
		src := &APIError{StatusCode: 422, Body: "bad currency"}
		got := Classify(src)
		var apiErr *APIError
		require.ErrorAs(t, got, &apiErr)
		assert.Equal(t, 422, apiErr.StatusCode)
		assert.False(t, domain.IsRetryable(got))
	})

	t.Run("domain errors are left alone", func(t *testing.T) {
		got := Classify(domain.ErrCircuitOpen)
		assert.ErrorIs(t, got, domain.ErrCircuitOpen)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Classify(nil))
	})
}
