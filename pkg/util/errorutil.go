package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Stable failure reasons returned to calling services.
const (
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeTokenTampered         = "TOKEN_TAMPERED"
	CodeTokenMalformed        = "TOKEN_MALFORMED"
	CodeTokenRevoked          = "TOKEN_REVOKED"
	CodeIssuerMismatch        = "TOKEN_ISSUER_MISMATCH"
	CodeWrongTokenType        = "WRONG_TOKEN_TYPE"
	CodeRefreshTokenNotFound  = "REFRESH_TOKEN_NOT_FOUND"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeAccountLocked         = "ACCOUNT_LOCKED"
	CodeAccountDisabled       = "ACCOUNT_DISABLED"
	CodeRevocationUnavailable = "REVOCATION_STORE_UNAVAILABLE"
	CodeKeysNotReady          = "KEYS_NOT_READY"
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

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap attaches a stable code to err.
func Wrap(code, message string, status int, err error) error {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := strings.ToUpper(strings.ReplaceAll(http.StatusText(fiberErr.Code), " ", "_"))
		return &DomainError{Code: code, Message: fiberErr.Message, HTTPStatus: fiberErr.Code}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
