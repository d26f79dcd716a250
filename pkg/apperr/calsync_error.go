package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Validation errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidInput = "INVALID_INPUT"
	CodeMissingField = "MISSING_FIELD"

	// Resource errors
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"

	// Integrity errors
	CodeTamperedCiphertext = "TAMPERED_CIPHERTEXT"
	CodeMalformedCiphertext = "MALFORMED_CIPHERTEXT"

	// OAuth flow errors
	CodeInvalidState        = "INVALID_STATE"
	CodeExpiredState        = "EXPIRED_STATE"
	CodeCodeAlreadyUsed     = "CODE_ALREADY_USED"
	CodeRedirectURIMismatch = "REDIRECT_URI_MISMATCH"
	CodeOAuthFailed         = "OAUTH_FAILED"
	CodeReauthRequired      = "REAUTH_REQUIRED"

	// External errors
	CodeCalendarSyncFailed = "CALENDAR_SYNC_FAILED"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeExternalError      = "EXTERNAL_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// Integrity errors

// TamperedCiphertext is returned when authenticated decryption fails.
func TamperedCiphertext(err error) *AppError {
	return &AppError{
		Code:    CodeTamperedCiphertext,
		Message: "stored ciphertext failed integrity check",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func MalformedCiphertext(reason string) *AppError {
	return &AppError{
		Code:    CodeMalformedCiphertext,
		Message: fmt.Sprintf("malformed ciphertext: %s", reason),
		Status:  http.StatusInternalServerError,
	}
}

// OAuth flow errors
func InvalidState(reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("invalid oauth state: %s", reason),
		Status:  http.StatusBadRequest,
	}
}

func ExpiredState() *AppError {
	return &AppError{
		Code:    CodeExpiredState,
		Message: "oauth state has expired, start the connection again",
		Status:  http.StatusBadRequest,
	}
}

func CodeAlreadyUsed(err error) *AppError {
	return &AppError{
		Code:    CodeCodeAlreadyUsed,
		Message: "authorization code was already used or has expired",
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func RedirectURIMismatch(err error) *AppError {
	return &AppError{
		Code:    CodeRedirectURIMismatch,
		Message: "redirect uri does not match the registered client",
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func OAuthFailed(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeOAuthFailed,
		Message: fmt.Sprintf("OAuth failed for %s", provider),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// ReauthRequired means the stored grant is no longer usable and the user must reconnect.
func ReauthRequired(provider string, err error) *AppError {
	return &AppError{
		Code:    CodeReauthRequired,
		Message: fmt.Sprintf("%s access was revoked or expired, please reconnect", provider),
		Status:  http.StatusUnauthorized,
		Details: map[string]any{"provider": provider},
		Err:     err,
	}
}

// External errors
func CalendarSyncFailed(err error) *AppError {
	return &AppError{
		Code:    CodeCalendarSyncFailed,
		Message: "calendar sync failed",
		Status:  http.StatusBadGateway,
		Err:     err,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code == code {
			return true
		}
		return appErr.Err != nil && HasCode(appErr.Err, code)
	}
	return false
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
