// mock-bank is a standalone firstbank stub for local development. It issues
// tokens, serves a couple of canned accounts, accepts payments with
// reference deduplication, and declines any payment whose description
// contains "decline" so failure paths can be exercised end to end.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finpulse/corebank/internal/logging"
)

type account struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type transaction struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   string          `json:"direction"`
	Description string          `json:"description"`
	PostedAt    time.Time       `json:"posted_at"`
}

type paymentRequest struct {
	Reference   string          `json:"reference"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Direction   string          `json:"direction"`
	Description string          `json:"description"`
}

type paymentResponse struct {
	PaymentRef    string `json:"payment_ref"`
	Status        string `json:"status"`
	DeclineReason string `json:"decline_reason,omitempty"`
}

type server struct {
	mu sync.Mutex
	// byReference dedupes payment submissions; resubmitting a reference
	// returns the original payment instead of creating a second one.
	// byPaymentRef serves status polls.
	byReference  map[string]paymentResponse
	byPaymentRef map[string]paymentResponse
	accounts     []account
}

func main() {
	logging.Init("mock-bank", os.Getenv("LOG_LEVEL"), "development")

	s := &server{
		byReference:  make(map[string]paymentResponse),
		byPaymentRef: make(map[string]paymentResponse),
		accounts: []account{
			{ID: "fb-chk-001", Name: "Everyday Checking", Type: "checking", Currency: "USD", Balance: decimal.NewFromInt(4200)},
			{ID: "fb-sav-001", Name: "Rainy Day Savings", Type: "savings", Currency: "USD", Balance: decimal.NewFromInt(15750)},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", s.handleToken)
	mux.HandleFunc("GET /v1/accounts", s.handleAccounts)
	mux.HandleFunc("GET /v1/accounts/{id}/transactions", s.handleTransactions)
	mux.HandleFunc("GET /v1/accounts/{id}/balance", s.handleBalance)
	mux.HandleFunc("POST /v1/payments", s.handleCreatePayment)
	mux.HandleFunc("GET /v1/payments/{ref}", s.handlePaymentStatus)

	addr := ":8082"
	if v := os.Getenv("MOCK_BANK_ADDR"); v != "" {
		addr = v
	}

	slog.Info("mock bank listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostFormValue("grant_type") != "refresh_token" {
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}
	if r.PostFormValue("refresh_token") == "revoked" {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
		return
	}

	writeJSON(w, map[string]any{
		"access_token":  "at-" + uuid.NewString(),
		"refresh_token": "rt-" + uuid.NewString(),
		"expires_in":    3600,
		"scope":         "accounts payments",
	})
}

func (s *server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	writeJSON(w, map[string]any{"accounts": s.accounts})
}

func (s *server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	now := time.Now().UTC()
	writeJSON(w, map[string]any{"transactions": []transaction{
		{ID: "fb-txn-" + r.PathValue("id") + "-1", Amount: decimal.NewFromInt(45), Direction: "debit", Description: "card purchase", PostedAt: now.Add(-36 * time.Hour)},
		{ID: "fb-txn-" + r.PathValue("id") + "-2", Amount: decimal.NewFromInt(1200), Direction: "credit", Description: "salary", PostedAt: now.Add(-12 * time.Hour)},
	}})
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	for _, a := range s.accounts {
		if a.ID == r.PathValue("id") {
			writeJSON(w, map[string]any{
				"current":   a.Balance,
				"available": a.Balance,
				"currency":  a.Currency,
			})
			return
		}
	}
	http.Error(w, `{"error":"account_not_found"}`, http.StatusNotFound)
}

func (s *server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reference == "" {
		http.Error(w, `{"error":"invalid_payment"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byReference[req.Reference]; ok {
		writeJSON(w, existing)
		return
	}

	resp := paymentResponse{
		PaymentRef: fmt.Sprintf("fb-pay-%s", uuid.NewString()[:8]),
		Status:     "completed",
	}
	switch {
	case strings.Contains(strings.ToLower(req.Description), "decline"):
		resp.Status = "failed"
		resp.DeclineReason = "insufficient funds"
	case strings.Contains(strings.ToLower(req.Description), "slow"):
		resp.Status = "processing"
	}

	s.byReference[req.Reference] = resp
	s.byPaymentRef[resp.PaymentRef] = resp
	slog.Info("payment accepted", "reference", req.Reference, "payment_ref", resp.PaymentRef, "status", resp.Status)
	writeJSON(w, resp)
}

func (s *server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r) {
		return
	}

	s.mu.Lock()
	resp, ok := s.byPaymentRef[r.PathValue("ref")]
	if ok && resp.Status == "processing" {
		// a processing payment settles on its next poll
		resp.Status = "completed"
		s.byPaymentRef[r.PathValue("ref")] = resp
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":"payment_not_found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, resp)
}

func authorized(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, `{"error":"missing_token"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
