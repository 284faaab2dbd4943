package domain

import (
	"errors"
	"fmt"
)

type ErrorCategory string

const (
	CategoryNotFound       ErrorCategory = "not_found"
	CategoryAuthorization  ErrorCategory = "authorization"
	CategoryBusinessRule   ErrorCategory = "business_rule"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryDependency     ErrorCategory = "dependency_unavailable"
	CategoryConflict       ErrorCategory = "conflict"
	CategoryInternal       ErrorCategory = "internal"
)

// Error is the canonical failure vocabulary for the engine. Reason is a
// stable machine-readable code; Details must only ever hold values safe to
// surface to a caller (never tokens or credentials).
type Error struct {
	Reason   string
	Category ErrorCategory
	Message  string
	Details  map[string]string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on Reason so wrapped copies compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Reason == t.Reason
}

// Retryable reports whether the orchestrator should re-attempt the
// operation. Only dependency failures qualify; business-rule and
// authorization failures never resolve on their own.
func (e *Error) Retryable() bool { return e.Category == CategoryDependency }

// WithCause returns a copy carrying err as the underlying cause.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.cause = err
	return &c
}

// WithDetail returns a copy with one extra caller-safe detail attached.
func (e *Error) WithDetail(key, value string) *Error {
	c := *e
	c.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = value
	return &c
}

var (
	ErrAccountNotFound = &Error{Reason: "account_not_found", Category: CategoryNotFound, Message: "account not found"}
	ErrPaymentNotFound = &Error{Reason: "payment_not_found", Category: CategoryNotFound, Message: "payment not found"}
	ErrLoginNotFound   = &Error{Reason: "login_not_found", Category: CategoryNotFound, Message: "bank login not found"}

	ErrUnauthorized = &Error{Reason: "unauthorized", Category: CategoryAuthorization, Message: "account does not belong to requesting user"}

	ErrAccountInactive    = &Error{Reason: "account_inactive", Category: CategoryBusinessRule, Message: "account is not active"}
	ErrNegativeAmount     = &Error{Reason: "negative_amount", Category: CategoryBusinessRule, Message: "amount must be a positive decimal"}
	ErrDailyLimitExceeded = &Error{Reason: "daily_limit_exceeded", Category: CategoryBusinessRule, Message: "daily payment cap exceeded for this account"}
	ErrInvalidRequest     = &Error{Reason: "invalid_request", Category: CategoryBusinessRule, Message: "request is malformed"}

	ErrInvalidToken = &Error{Reason: "invalid_token", Category: CategoryAuthentication, Message: "bank login token could not be refreshed"}
	ErrTokenExpired = &Error{Reason: "token_expired", Category: CategoryAuthentication, Message: "bank login token has expired"}

	ErrCircuitOpen       = &Error{Reason: "circuit_open", Category: CategoryDependency, Message: "dependency circuit is open"}
	ErrTimeout           = &Error{Reason: "timeout", Category: CategoryDependency, Message: "dependency call timed out"}
	ErrTransport         = &Error{Reason: "transport_error", Category: CategoryDependency, Message: "dependency call failed in transit"}
	ErrBankUnavailable   = &Error{Reason: "bank_unavailable", Category: CategoryDependency, Message: "bank API returned a server error"}
	ErrPaymentProcessing = &Error{Reason: "payment_processing", Category: CategoryDependency, Message: "bank has not reached a settlement decision yet"}

	ErrPaymentTerminal = &Error{Reason: "payment_terminal", Category: CategoryConflict, Message: "payment already in a terminal state"}
	ErrPaymentInFlight = &Error{Reason: "payment_in_flight", Category: CategoryConflict, Message: "a settlement attempt is currently executing"}

	ErrInternal = &Error{Reason: "internal_error", Category: CategoryInternal, Message: "an unexpected error occurred"}
)

// IsRetryable reports whether err (or anything it wraps) is a retryable
// dependency failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
