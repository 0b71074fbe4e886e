package exitcode

import (
	"os"
	"strings"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// ValidationError indicates rejected input, before or after the backend saw it
	ValidationError = 3

	// ConfigError indicates an unreadable or invalid configuration
	ConfigError = 4

	// AuthError indicates an authentication or authorization failure
	AuthError = 5

	// NetworkError indicates a network connectivity issue
	NetworkError = 6

	// Interrupted indicates the user cancelled with Ctrl+C (128 + SIGINT)
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error to an exit code. Coded errors are
// classified by their code; anything else falls back to the message.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	if code := errors.CodeOf(err); code != "" {
		if c, ok := byCode(code); ok {
			return c
		}
	}
	return byMessage(strings.ToLower(err.Error()))
}

func byCode(code errors.ErrorCode) (int, bool) {
	switch code {
	case errors.ErrCodeAPINetwork, errors.ErrCodeAPICircuitOpen, errors.ErrCodeAPIServer, errors.ErrCodeAPIRateLimited:
		return NetworkError, true
	case errors.ErrCodeAPIBadRequest, errors.ErrCodeAPIConflict, errors.ErrCodeMFAInvalidCode:
		return ValidationError, true
	case errors.ErrCodeMFAConfirmationRequired:
		return UsageError, true
	}

	prefix, _, _ := strings.Cut(string(code), "-")
	switch prefix {
	case "VALIDATION":
		return ValidationError, true
	case "AUTH":
		return AuthError, true
	case "CONFIG":
		return ConfigError, true
	}
	return 0, false
}

func byMessage(msg string) int {
	// Authentication errors
	if strings.Contains(msg, "authentication") || strings.Contains(msg, "unauthorized") {
		return AuthError
	}
	if strings.Contains(msg, "forbidden") || strings.Contains(msg, "permission denied") {
		return AuthError
	}
	if strings.Contains(msg, "not logged in") || strings.Contains(msg, "session has expired") {
		return AuthError
	}

	// Network errors
	if strings.Contains(msg, "network") || strings.Contains(msg, "connection") {
		return NetworkError
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "unreachable") {
		return NetworkError
	}
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "service unavailable") {
		return NetworkError
	}

	// Usage errors
	if strings.Contains(msg, "invalid flag") || strings.Contains(msg, "unknown command") {
		return UsageError
	}
	if strings.Contains(msg, "required flag") || strings.Contains(msg, "missing argument") {
		return UsageError
	}
	if strings.Contains(msg, "accepts") && strings.Contains(msg, "arg(s)") {
		return UsageError
	}

	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case ValidationError:
		return "Validation error"
	case ConfigError:
		return "Configuration error"
	case AuthError:
		return "Authentication error"
	case NetworkError:
		return "Network error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
