package ux

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

func TestNewErrorWithSuggestion(t *testing.T) {
	assert.Nil(t, NewErrorWithSuggestion(nil, "anything"))

	err := NewErrorWithSuggestion(stderrors.New("something failed"), "try this fix")
	assert.Contains(t, err.Error(), "something failed")
	assert.Contains(t, err.Error(), "Suggestion: try this fix")

	plain := NewErrorWithSuggestion(stderrors.New("something failed"), "")
	assert.Equal(t, "something failed", plain.Error())
}

func TestEnhanceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		suggestion string
	}{
		{"not signed in", errors.New(errors.ErrCodeNotAuthenticated, "not logged in"), "meetdash auth login"},
		{"expired", errors.New(errors.ErrCodeTokenExpired, "expired"), "sign in again"},
		{"forbidden", errors.New(errors.ErrCodeForbidden, "denied"), "administrator"},
		{"network", errors.New(errors.ErrCodeAPINetwork, "unreachable"), "config get api.url"},
		{"circuit", errors.New(errors.ErrCodeAPICircuitOpen, "open"), "wait a few seconds"},
		{"config", errors.New(errors.ErrCodeConfigInvalid, "bad"), "meetdash config view"},
		{"otp", errors.New(errors.ErrCodeMFAInvalidCode, "bad code"), "30 seconds"},
		{"raw dial", stderrors.New("dial tcp 127.0.0.1:8000: connection refused"), "config get api.url"},
		{"raw unknown command", stderrors.New(`unknown command "foo" for "meetdash"`), "meetdash --help"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnhanceError(tt.err)
			var ews *ErrorWithSuggestion
			require.True(t, stderrors.As(got, &ews))
			assert.Contains(t, ews.Suggestion, tt.suggestion)
		})
	}
}

func TestEnhanceError_KeepsOwnSuggestions(t *testing.T) {
	err := errors.New(errors.ErrCodeNotAuthenticated, "not logged in").WithSuggestion("custom hint")
	assert.Same(t, err, EnhanceError(err))
}

func TestEnhanceError_Unknown(t *testing.T) {
	err := stderrors.New("something odd")
	assert.Equal(t, err, EnhanceError(err))
	assert.Nil(t, EnhanceError(nil))
}

func TestFormatError(t *testing.T) {
	assert.Nil(t, FormatError(nil, "login"))

	base := errors.New(errors.ErrCodeAPINetwork, "could not reach the API")
	got := FormatError(base, "login")
	assert.Contains(t, got.Error(), "login: ")
	assert.True(t, errors.HasCode(got, errors.ErrCodeAPINetwork), "chain preserved")

	wrapped := fmt.Errorf("outer: %w", base)
	assert.True(t, stderrors.Is(FormatError(wrapped, ""), base))
}
