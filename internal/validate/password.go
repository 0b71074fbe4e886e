package validate

import (
	"strings"
	"unicode/utf8"

	"github.com/felixgeelhaar/meetdash/internal/domain"
)

// Special lists the punctuation counted by the strength meter.
const Special = `!@#$%^&*(),.?":{}|<>`

// MinPasswordLength is the length criterion of the strength meter.
const MinPasswordLength = 8

// Strength is the result of scoring a password.
type Strength struct {
	Score int          `json:"score" yaml:"score"`
	Label string       `json:"label" yaml:"label"`
	Color domain.Color `json:"color" yaml:"color"`
	Unmet []string     `json:"unmet,omitempty" yaml:"unmet,omitempty"`
}

// Valid reports whether every criterion is satisfied.
func (s Strength) Valid() bool {
	return len(s.Unmet) == 0
}

type criterion struct {
	message string
	ok      func(string) bool
}

var criteria = []criterion{
	{"Password must be at least 8 characters long", func(p string) bool {
		return utf8.RuneCountInString(p) >= MinPasswordLength
	}},
	{"Password must contain at least one uppercase letter", func(p string) bool {
		return strings.IndexFunc(p, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0
	}},
	{"Password must contain at least one lowercase letter", func(p string) bool {
		return strings.IndexFunc(p, func(r rune) bool { return r >= 'a' && r <= 'z' }) >= 0
	}},
	{"Password must contain at least one number", func(p string) bool {
		return strings.IndexFunc(p, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
	}},
	{"Password must contain at least one special character", func(p string) bool {
		return strings.ContainsAny(p, Special)
	}},
}

// PasswordStrength scores p with five independent 20-point criteria.
func PasswordStrength(p string) Strength {
	s := Strength{}
	for _, c := range criteria {
		if c.ok(p) {
			s.Score += 20
		} else {
			s.Unmet = append(s.Unmet, c.message)
		}
	}
	s.Label = StrengthLabel(s.Score)
	s.Color = StrengthColor(s.Score)
	return s
}

// StrengthLabel buckets a 0-100 score.
func StrengthLabel(score int) string {
	switch {
	case score <= 0:
		return "No password"
	case score <= 40:
		return "Weak"
	case score <= 60:
		return "Fair"
	case score <= 80:
		return "Good"
	default:
		return "Strong"
	}
}

// StrengthColor returns the meter tone for a score.
func StrengthColor(score int) domain.Color {
	switch {
	case score <= 40:
		return domain.ColorError
	case score <= 60:
		return domain.ColorWarning
	case score <= 80:
		return domain.ColorInfo
	default:
		return domain.ColorSuccess
	}
}
