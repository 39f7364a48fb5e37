package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestToDomainErrorFiberError(t *testing.T) {
	de := ToDomainError(fiber.NewError(http.StatusBadRequest, "invalid payload"))
	if de.Code != "BAD_REQUEST" || de.HTTPStatus != http.StatusBadRequest || de.Message != "invalid payload" {
		t.Fatalf("unexpected mapping %+v", de)
	}
}

func TestToDomainErrorKeepsWrappedDomainError(t *testing.T) {
	inner := NewValidationError("public key required", nil)
	de := ToDomainError(fmt.Errorf("check: %w", inner))
	if de.Code != "VALIDATION_FAILED" || de.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("unexpected mapping %+v", de)
	}
}

func TestToDomainErrorUnknown(t *testing.T) {
	cause := errors.New("boom")
	de := ToDomainError(cause)
	if de.Code != "INTERNAL_ERROR" || de.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unexpected mapping %+v", de)
	}
	if !errors.Is(de, cause) {
		t.Fatal("expected internal error to wrap the cause")
	}
}
