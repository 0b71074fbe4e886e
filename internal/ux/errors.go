package ux

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

// ErrorWithSuggestion wraps an error with helpful recovery suggestions
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\n💡 Suggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap provides access to the underlying error
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// NewErrorWithSuggestion creates a new error with a suggestion
func NewErrorWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

var codeSuggestions = map[errors.ErrorCode]string{
	errors.ErrCodeNotAuthenticated: "Sign in with 'meetdash auth login'",
	errors.ErrCodeTokenExpired:     "Your session ended; sign in again with 'meetdash auth login'",
	errors.ErrCodeForbidden:        "Ask an administrator for the required permission, or check 'meetdash auth whoami'",
	errors.ErrCodeAPINetwork:       "Check the API URL with 'meetdash config get api.url' and your network connection",
	errors.ErrCodeAPICircuitOpen:   "The API failed repeatedly; wait a few seconds before retrying",
	errors.ErrCodeAPIRateLimited:   "Too many requests; wait a moment before retrying",
	errors.ErrCodeConfigInvalid:    "Inspect settings with 'meetdash config view' and fix them with 'meetdash config set'",
	errors.ErrCodeConfigKey:        "List settings with 'meetdash config keys'",
	errors.ErrCodeSessionLoad:      "Discard the stored session with 'meetdash auth logout' and sign in again",
	errors.ErrCodeMFAInvalidCode:   "Codes rotate every 30 seconds; enter the current one from your authenticator",
}

// EnhanceError adds a recovery suggestion when err does not carry one.
func EnhanceError(err error) error {
	if err == nil {
		return nil
	}

	var de *errors.DashError
	if errors.As(err, &de) {
		if len(de.Suggestions) > 0 {
			return err
		}
		if s, ok := codeSuggestions[de.Code]; ok {
			return NewErrorWithSuggestion(err, s)
		}
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") {
		return NewErrorWithSuggestion(err,
			"Check the API URL with 'meetdash config get api.url' and your network connection")
	}
	if strings.Contains(errMsg, "permission denied") {
		return NewErrorWithSuggestion(err,
			"Check permissions on the meetdash home directory (default ~/.meetdash)")
	}
	if strings.Contains(errMsg, "unknown command") {
		return NewErrorWithSuggestion(err,
			"Run 'meetdash --help' to list commands")
	}
	if strings.Contains(errMsg, "input required but not running interactively") {
		return NewErrorWithSuggestion(err,
			"Pass the value with a flag when running without a terminal")
	}

	return err
}

// FormatError provides consistent error formatting with context
func FormatError(err error, context string) error {
	if err == nil {
		return nil
	}

	enhanced := EnhanceError(err)
	if context != "" {
		return fmt.Errorf("%s: %w", context, enhanced)
	}
	return enhanced
}
