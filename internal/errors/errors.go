package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Validation errors (VALIDATION-001 to VALIDATION-099)
	ErrCodeValidationFailed   ErrorCode = "VALIDATION-001"
	ErrCodeValidationRequired ErrorCode = "VALIDATION-002"
	ErrCodePasswordMismatch   ErrorCode = "VALIDATION-003"

	// Authentication errors (AUTH-001 to AUTH-099)
	ErrCodeInvalidCredentials ErrorCode = "AUTH-001"
	ErrCodeNotAuthenticated   ErrorCode = "AUTH-002"
	ErrCodeTokenExpired       ErrorCode = "AUTH-003"
	ErrCodeForbidden          ErrorCode = "AUTH-004"

	// API errors (API-001 to API-099)
	ErrCodeAPINetwork     ErrorCode = "API-001"
	ErrCodeAPIServer      ErrorCode = "API-002"
	ErrCodeAPIDecode      ErrorCode = "API-003"
	ErrCodeAPICircuitOpen ErrorCode = "API-004"
	ErrCodeAPINotFound    ErrorCode = "API-005"
	ErrCodeAPIBadRequest  ErrorCode = "API-006"
	ErrCodeAPIConflict    ErrorCode = "API-007"
	ErrCodeAPIRateLimited ErrorCode = "API-008"
	ErrCodeAPIRequest     ErrorCode = "API-009"

	// MFA errors (MFA-001 to MFA-099)
	ErrCodeMFABusy                 ErrorCode = "MFA-001"
	ErrCodeMFANoPendingSetup       ErrorCode = "MFA-002"
	ErrCodeMFAInvalidCode          ErrorCode = "MFA-003"
	ErrCodeMFAConfirmationRequired ErrorCode = "MFA-004"
	ErrCodeMFAClosed               ErrorCode = "MFA-005"

	// Session errors (SESSION-001 to SESSION-099)
	ErrCodeSessionLoad  ErrorCode = "SESSION-001"
	ErrCodeSessionSave  ErrorCode = "SESSION-002"
	ErrCodeSessionClear ErrorCode = "SESSION-003"

	// Config errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
	ErrCodeConfigKey     ErrorCode = "CONFIG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeDirectoryFailed ErrorCode = "IO-004"
	ErrCodeFileUnmarshal   ErrorCode = "IO-005"
	ErrCodeFileMarshal     ErrorCode = "IO-006"
)

// DashError represents an enhanced error with code, field details and suggestions
type DashError struct {
	Code        ErrorCode
	Message     string
	Fields      map[string]string
	Suggestions []string
	Status      int
	Cause       error
}

// Error implements the error interface
func (e *DashError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("\n  %s: %s", k, e.Fields[k]))
		}
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *DashError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DashError with the same code.
// A target with an empty code never matches.
func (e *DashError) Is(target error) bool {
	t, ok := target.(*DashError)
	if !ok || t.Code == "" {
		return false
	}
	return e.Code == t.Code
}

// New creates a new DashError
func New(code ErrorCode, message string) *DashError {
	return &DashError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new DashError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *DashError {
	return &DashError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *DashError) WithSuggestion(suggestion string) *DashError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *DashError) WithSuggestions(suggestions ...string) *DashError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithField attaches a field-level message, used for inline form errors
func (e *DashError) WithField(field, message string) *DashError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

// WithStatus records the HTTP status that produced the error
func (e *DashError) WithStatus(status int) *DashError {
	e.Status = status
	return e
}

// CodeOf returns the code of the first DashError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var de *DashError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a DashError with code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// As is re-exported so callers importing this package under the name
// "errors" keep access to the standard helper.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is re-exported for the same reason as As.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Common error constructors for frequently used errors

// NewValidationError creates a validation error carrying per-field messages
func NewValidationError(fields map[string]string) *DashError {
	err := New(ErrCodeValidationFailed, "validation failed")
	for k, v := range fields {
		err.WithField(k, v)
	}
	return err
}

// NewNotAuthenticatedError creates the error returned when an operation needs a session
func NewNotAuthenticatedError() *DashError {
	return New(ErrCodeNotAuthenticated, "not logged in").
		WithSuggestion("Run 'meetdash auth login' to authenticate")
}

// NewInvalidCredentialsError creates a bad-credentials error
func NewInvalidCredentialsError(message string) *DashError {
	if message == "" {
		message = "invalid email or password"
	}
	return New(ErrCodeInvalidCredentials, message).
		WithSuggestion("Check your email and password").
		WithSuggestion("Run 'meetdash auth reset-password request' if you forgot your password")
}

// NewTokenExpiredError creates an expired-session error
func NewTokenExpiredError() *DashError {
	return New(ErrCodeTokenExpired, "session has expired").
		WithSuggestion("Run 'meetdash auth login' to start a new session")
}

// NewNetworkError creates an API connectivity error
func NewNetworkError(cause error) *DashError {
	return Wrap(ErrCodeAPINetwork, "could not reach the API", cause).
		WithSuggestion("Check your network connection").
		WithSuggestion("Verify the API URL with 'meetdash config get api.url'")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *DashError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *DashError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
