package domain

import (
	"regexp"
	"strings"
	"time"
)

var hexColorRe = regexp.MustCompile(`^#([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)

// FormatPhoneNumber renders 10-digit and 1-prefixed 11-digit North American
// numbers; anything else is returned unchanged.
func FormatPhoneNumber(phone string) string {
	digits := digitsOnly(phone)
	switch {
	case len(digits) == 10:
		return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:]
	case len(digits) == 11 && digits[0] == '1':
		return "+1 (" + digits[1:4] + ") " + digits[4:7] + "-" + digits[7:]
	}
	return phone
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskEmail keeps the first and last character of the local part.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || len(local) <= 2 {
		return email
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + "@" + domain
}

// MaskPhoneNumber keeps only the last four characters.
func MaskPhoneNumber(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// IsValidHexColor accepts #rgb and #rrggbb.
func IsValidHexColor(color string) bool {
	return hexColorRe.MatchString(color)
}

// IsValidTimezone reports whether name is a loadable IANA zone.
func IsValidTimezone(name string) bool {
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// Option is a value/label pair offered by profile forms.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// LanguageOptions lists the supported UI languages.
func LanguageOptions() []Option {
	return []Option{
		{"en", "English"},
		{"es", "Spanish"},
		{"fr", "French"},
		{"de", "German"},
		{"it", "Italian"},
		{"pt", "Portuguese"},
		{"ja", "Japanese"},
		{"ko", "Korean"},
		{"zh", "Chinese"},
	}
}

// DateFormatOptions lists the supported date formats.
func DateFormatOptions() []Option {
	return []Option{
		{"MM/DD/YYYY", "MM/DD/YYYY"},
		{"DD/MM/YYYY", "DD/MM/YYYY"},
		{"YYYY-MM-DD", "YYYY-MM-DD"},
		{"MMM DD, YYYY", "MMM DD, YYYY"},
		{"DD MMM YYYY", "DD MMM YYYY"},
	}
}

// TimeFormatOptions lists the supported clock formats.
func TimeFormatOptions() []Option {
	return []Option{
		{"12h", "12-hour (AM/PM)"},
		{"24h", "24-hour"},
	}
}
