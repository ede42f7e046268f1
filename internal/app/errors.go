package app

import (
	"errors"
	"fmt"
	"net/http"

	"quire/api/internal/identity"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code, so errors.Is(err, ErrAccessDenied) holds for any
// access-denied error regardless of message or details.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrAuthenticationRequired = domainError(http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Sign in to continue", nil)
	ErrAccessDenied           = domainError(http.StatusForbidden, "ACCESS_DENIED", "You do not have access to this document", nil)
	ErrNotFound               = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	ErrUserNotFound           = domainError(http.StatusNotFound, "USER_NOT_FOUND", "No user with that email", nil)
	ErrConflict               = domainError(http.StatusConflict, "CONFLICT", "Another save landed first; try again", map[string]any{"retryable": true})
	ErrBackendUnavailable     = domainError(http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "The service is unavailable; try again", nil)
	ErrValidation             = domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid request", nil)
	ErrPartialFailure         = domainError(http.StatusInternalServerError, "PARTIAL_FAILURE", "Operation partially completed", nil)

	ErrInvalidCredentials = domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	ErrEmailExists        = domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	ErrWeakPassword       = domainError(http.StatusUnprocessableEntity, "WEAK_PASSWORD", identity.ErrWeakPassword.Error(), nil)
)

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, ErrValidation.Code, message, nil)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, ErrNotFound.Code, what+" not found", nil)
}

func partialFailure(message string, details any) *DomainError {
	return domainError(http.StatusInternalServerError, ErrPartialFailure.Code, message, details)
}

// identityError maps provider failures onto the domain taxonomy.
func identityError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, identity.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, identity.ErrEmailRegistered):
		return ErrEmailExists
	case errors.Is(err, identity.ErrWeakPassword):
		return ErrWeakPassword
	case errors.Is(err, identity.ErrInvalidSession):
		return ErrAuthenticationRequired
	}
	return ErrBackendUnavailable
}
