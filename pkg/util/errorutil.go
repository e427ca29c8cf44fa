package util

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/dualauth/internal/domain"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewTooManyRequests(message string) error {
	return NewDomainError("TOO_MANY_REQUESTS", message, http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if kind, ok := domain.KindOf(err); ok {
		de := FromAuthError(kind)
		de.Err = err
		return de
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

const reauthenticate = "please sign in again"

// authErrors maps auth failure kinds to client responses. Token and domain
// faults share one generic answer so the reason is not revealed.
var authErrors = map[domain.ErrorKind]DomainError{
	domain.KindInvalidCredentials:     {Code: "INVALID_CREDENTIALS", Message: "incorrect username or password", HTTPStatus: http.StatusUnauthorized},
	domain.KindAccountUnconfirmed:     {Code: "ACCOUNT_UNCONFIRMED", Message: "account is not confirmed yet", HTTPStatus: http.StatusForbidden},
	domain.KindMFARequired:            {Code: "MFA_REQUIRED", Message: "a verification code is required", HTTPStatus: http.StatusUnauthorized},
	domain.KindMFAIncorrect:           {Code: "MFA_INCORRECT", Message: "incorrect verification code", HTTPStatus: http.StatusUnauthorized},
	domain.KindMFAExpired:             {Code: "MFA_EXPIRED", Message: "verification code expired, sign in again", HTTPStatus: http.StatusUnauthorized},
	domain.KindTokenExpired:           {Code: "SESSION_EXPIRED", Message: "session expired, " + reauthenticate, HTTPStatus: http.StatusUnauthorized},
	domain.KindSessionExpired:         {Code: "SESSION_EXPIRED", Message: "session expired, " + reauthenticate, HTTPStatus: http.StatusUnauthorized},
	domain.KindRefreshFailed:          {Code: "SESSION_EXPIRED", Message: "session expired, " + reauthenticate, HTTPStatus: http.StatusUnauthorized},
	domain.KindInsufficientPermission: {Code: "FORBIDDEN", Message: "insufficient permissions", HTTPStatus: http.StatusForbidden},
	domain.KindProviderUnavailable:    {Code: "PROVIDER_UNAVAILABLE", Message: "identity provider unavailable, try again later", HTTPStatus: http.StatusServiceUnavailable},
}

// FromAuthError builds the client facing error of kind.
func FromAuthError(kind domain.ErrorKind) *DomainError {
	if de, ok := authErrors[kind]; ok {
		return &de
	}
	return &DomainError{Code: "UNAUTHENTICATED", Message: reauthenticate, HTTPStatus: http.StatusUnauthorized}
}
