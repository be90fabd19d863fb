package app

import (
	"errors"
	"fmt"
	"net/http"

	"bloodlink/api/internal/auth"
	"bloodlink/api/internal/authpw"
	"bloodlink/api/internal/directory"
	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/sos"
	"bloodlink/api/internal/store"
	"github.com/go-playground/validator/v10"
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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var engineStatus = map[sos.Kind]int{
	sos.KindNotFound:        http.StatusNotFound,
	sos.KindConflict:        http.StatusConflict,
	sos.KindForbidden:       http.StatusForbidden,
	sos.KindUnauthenticated: http.StatusUnauthorized,
	sos.KindInvalid:         http.StatusBadRequest,
	sos.KindInternal:        http.StatusInternalServerError,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var engineErr *sos.Error
	if errors.As(err, &engineErr) {
		status, ok := engineStatus[engineErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if engineErr.Kind == sos.KindInternal {
			return status, sos.CodeServerError, "Server error", nil
		}
		return status, engineErr.Code, engineErr.Message, nil
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", validationDetails(validationErrs)
	}

	switch {
	case errors.Is(err, identity.ErrDisabled), errors.Is(err, authpw.ErrAccountDisabled):
		return http.StatusForbidden, "FORBIDDEN", "Account disabled", nil
	case errors.Is(err, identity.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, sos.CodeUnauthenticated, "Authentication required", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil
	case errors.Is(err, authpw.ErrInvalidRefresh):
		return http.StatusUnauthorized, sos.CodeUnauthenticated, "Refresh token invalid", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "User already exists", nil
	case errors.Is(err, authpw.ErrMissingFields),
		errors.Is(err, authpw.ErrWeakPassword),
		errors.Is(err, authpw.ErrInvalidRole),
		errors.Is(err, authpw.ErrBloodTypeRequired):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, directory.ErrAdminImmutable):
		return http.StatusBadRequest, "ADMIN_IMMUTABLE", "Admin users cannot be deactivated", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, sos.CodeServerError, "Server error", nil
}
