// Package validate runs client-side form checks before anything is sent to
// the API. Failures come back as a VALIDATION-001 error whose Fields map holds
// one message per offending input, keyed by the input's wire name.
package validate

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	otpRe   = regexp.MustCompile(`^\d{6}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name so messages line up with form inputs.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "emailshape", func(fl validator.FieldLevel) bool {
		return IsEmail(fl.Field().String())
	})
	mustRegister(v, "otp", func(fl validator.FieldLevel) bool {
		return IsOTPCode(fl.Field().String())
	})
	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		return IsPhoneNumber(fl.Field().String())
	})
	mustRegister(v, "brandcolor", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || hexColorRe.MatchString(s)
	})
	return v
}

var hexColorRe = regexp.MustCompile(`^#([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// Struct validates s using its `validate` tags.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrap(errors.ErrCodeValidationFailed, "validation failed", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := fields[fe.Field()]; seen {
			continue
		}
		fields[fe.Field()] = msgForTag(fe)
	}
	return errors.NewValidationError(fields)
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Bool {
			return "must be accepted"
		}
		return "is required"
	case "emailshape":
		return "must be a valid email address"
	case "otp":
		return "must be 6 digits"
	case "phone":
		return "must be a valid phone number"
	case "brandcolor":
		return "must be a hex color like #1a2b3c"
	case "eqfield":
		return "passwords do not match"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be less than %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "fqdn":
		return "must be a domain name like example.com"
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// IsEmail checks the local@domain.tld shape. It does not resolve anything.
func IsEmail(s string) bool {
	return emailRe.MatchString(s)
}

// IsOTPCode accepts exactly six ASCII digits.
func IsOTPCode(s string) bool {
	return otpRe.MatchString(s)
}

// IsPhoneNumber accepts an optional leading '+' followed by 10 to 15 digits,
// ignoring spaces, dots, dashes and parentheses.
func IsPhoneNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	s = strings.TrimPrefix(s, "+")
	n := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			n++
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return false
		}
	}
	return n >= 10 && n <= 15
}

// PasswordsMatch compares byte-for-byte; whitespace is significant.
func PasswordsMatch(password, confirm string) bool {
	return password == confirm
}
