package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/logging"
)

// FirstBank talks to the firstbank REST API. All bank-specific payload
// shapes and decline codes stay inside this file; callers only see the
// Client contract.
type FirstBank struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewFirstBank(baseURL, clientID, clientSecret string, timeout time.Duration) *FirstBank {
	return &FirstBank{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type fbAccount struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type fbTransaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   string          `json:"direction"`
	Description string          `json:"description"`
	PostedAt    time.Time       `json:"posted_at"`
}

type fbBalance struct {
	Current   decimal.Decimal `json:"current"`
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
}

type fbPaymentRequest struct {
	Reference   string          `json:"reference"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Direction   string          `json:"direction"`
	Description string          `json:"description"`
}

type fbPaymentResponse struct {
	PaymentRef    string `json:"payment_ref"`
	Status        string `json:"status"`
	DeclineReason string `json:"decline_reason"`
}

type fbTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (c *FirstBank) FetchAccounts(ctx context.Context, creds Credentials) ([]Account, error) {
	var payload struct {
		Accounts []fbAccount `json:"accounts"`
	}
	if err := c.get(ctx, creds, "/v1/accounts", &payload); err != nil {
		return nil, fmt.Errorf("FetchAccounts: %w", err)
	}

	accounts := make([]Account, 0, len(payload.Accounts))
	for _, a := range payload.Accounts {
		accounts = append(accounts, Account{
			ExternalID: a.ID,
			Name:       a.Name,
			Type:       a.Type,
			Currency:   a.Currency,
			Balance:    a.Balance,
		})
	}
	return accounts, nil
}

func (c *FirstBank) FetchTransactions(ctx context.Context, creds Credentials, accountExternalID string, since time.Time) ([]Transaction, error) {
	path := fmt.Sprintf("/v1/accounts/%s/transactions", url.PathEscape(accountExternalID))
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var payload struct {
		Transactions []fbTransaction `json:"transactions"`
	}
	if err := c.get(ctx, creds, path, &payload); err != nil {
		return nil, fmt.Errorf("FetchTransactions: %w", err)
	}

	txns := make([]Transaction, 0, len(payload.Transactions))
	for _, t := range payload.Transactions {
		txns = append(txns, Transaction{
			ExternalID:  t.ID,
			Amount:      t.Amount,
			Direction:   t.Direction,
			Description: t.Description,
			PostedAt:    t.PostedAt,
		})
	}
	return txns, nil
}

func (c *FirstBank) FetchBalance(ctx context.Context, creds Credentials, accountExternalID string) (Balance, error) {
	var payload fbBalance
	path := fmt.Sprintf("/v1/accounts/%s/balance", url.PathEscape(accountExternalID))
	if err := c.get(ctx, creds, path, &payload); err != nil {
		return Balance{}, fmt.Errorf("FetchBalance: %w", err)
	}
	return Balance{Current: payload.Current, Available: payload.Available, Currency: payload.Currency}, nil
}

func (c *FirstBank) CreatePayment(ctx context.Context, creds Credentials, req PaymentRequest) (PaymentResult, error) {
	body := fbPaymentRequest{
		Reference:   req.Reference,
		AccountID:   req.AccountExternalID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Direction:   req.Direction,
		Description: req.Description,
	}

	var payload fbPaymentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments", creds.AccessToken, body, &payload); err != nil {
		return PaymentResult{}, fmt.Errorf("CreatePayment: %w", err)
	}
	return PaymentResult{ExternalRef: payload.PaymentRef}, nil
}

// GetPaymentStatus maps firstbank's status vocabulary onto the binary
// settlement outcome: any decline reason means failed, "processing" and
// "requires_action" stay pending, everything else is settled.
func (c *FirstBank) GetPaymentStatus(ctx context.Context, creds Credentials, externalRef string) (PaymentStatus, error) {
	var payload fbPaymentResponse
	path := "/v1/payments/" + url.PathEscape(externalRef)
	if err := c.get(ctx, creds, path, &payload); err != nil {
		return PaymentStatus{}, fmt.Errorf("GetPaymentStatus: %w", err)
	}

	if payload.DeclineReason != "" {
		return PaymentStatus{DeclineReason: payload.DeclineReason}, nil
	}
	switch payload.Status {
	case "processing", "requires_action":
		return PaymentStatus{Pending: true}, nil
	}
	return PaymentStatus{}, nil
}

func (c *FirstBank) RefreshToken(ctx context.Context, refreshToken string) (Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("RefreshToken: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Token{}, fmt.Errorf("RefreshToken: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, fmt.Errorf("RefreshToken: %w", readAPIError(resp))
	}

	var payload fbTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Token{}, fmt.Errorf("RefreshToken: decode: %w", err)
	}

	return Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second),
		Scope:        payload.Scope,
	}, nil
}

func (c *FirstBank) get(ctx context.Context, creds Credentials, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, creds.AccessToken, nil, out)
}

func (c *FirstBank) do(ctx context.Context, method, path, token string, in, out any) error {
	log := logging.FromContext(ctx)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("do: marshal: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("do: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do: send: %w", err)
	}
	defer resp.Body.Close()

	log.Debug("bank response received",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("do: decode: %w", err)
		}
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
}
