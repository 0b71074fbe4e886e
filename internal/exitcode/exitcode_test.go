package exitcode

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected int
	}{
		{"Success", Success, 0},
		{"GeneralError", GeneralError, 1},
		{"UsageError", UsageError, 2},
		{"ValidationError", ValidationError, 3},
		{"ConfigError", ConfigError, 4},
		{"AuthError", AuthError, 5},
		{"NetworkError", NetworkError, 6},
		{"Interrupted", Interrupted, 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.code)
		})
	}
}

func TestDetermineExitCode_Coded(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid credentials", errors.NewInvalidCredentialsError("Invalid email or password"), AuthError},
		{"not authenticated", errors.NewNotAuthenticatedError(), AuthError},
		{"token expired", errors.NewTokenExpiredError(), AuthError},
		{"forbidden", errors.New(errors.ErrCodeForbidden, "nope"), AuthError},
		{"network", errors.NewNetworkError(stderrors.New("dial tcp")), NetworkError},
		{"circuit open", errors.New(errors.ErrCodeAPICircuitOpen, "circuit open"), NetworkError},
		{"server", errors.New(errors.ErrCodeAPIServer, "boom"), NetworkError},
		{"field validation", errors.NewValidationError(map[string]string{"email": "required"}), ValidationError},
		{"bad request", errors.New(errors.ErrCodeAPIBadRequest, "bad"), ValidationError},
		{"otp", errors.New(errors.ErrCodeMFAInvalidCode, "bad code"), ValidationError},
		{"confirmation", errors.New(errors.ErrCodeMFAConfirmationRequired, "confirm"), UsageError},
		{"config", errors.New(errors.ErrCodeConfigKey, "unknown key"), ConfigError},
		{"wrapped", fmt.Errorf("login: %w", errors.NewInvalidCredentialsError("x")), AuthError},
		{"io falls through", errors.New(errors.ErrCodeFileWriteFailed, "disk full"), GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetermineExitCode(tt.err))
		})
	}
}

func TestDetermineExitCode_Message(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error returns success", nil, Success},
		{"authentication error", stderrors.New("authentication failed: invalid token"), AuthError},
		{"401 http error", stderrors.New("HTTP 401 Unauthorized"), AuthError},
		{"403 http error", stderrors.New("HTTP 403 Forbidden"), AuthError},
		{"network error", stderrors.New("network error: connection timeout"), NetworkError},
		{"connection refused", stderrors.New("connection refused"), NetworkError},
		{"dns", stderrors.New("dial tcp: lookup api: no such host"), NetworkError},
		{"invalid flag", stderrors.New("invalid flag: --foo"), UsageError},
		{"required flag", stderrors.New(`required flag(s) "email" not set`), UsageError},
		{"arg count", stderrors.New("accepts 1 arg(s), received 0"), UsageError},
		{"generic error", stderrors.New("something went wrong"), GeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetermineExitCode(tt.err))
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	assert.Equal(t, "Success", GetExitCodeDescription(Success))
	assert.Equal(t, "Configuration error", GetExitCodeDescription(ConfigError))
	assert.Equal(t, "Network error", GetExitCodeDescription(NetworkError))
	assert.Equal(t, "Interrupted", GetExitCodeDescription(Interrupted))
	assert.Equal(t, "Unknown error", GetExitCodeDescription(99))
}
