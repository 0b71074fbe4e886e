package domain

import "time"

// MFADevice is a server-owned second factor. The client lists devices and
// triggers enable/disable/regenerate; it never edits them locally.
type MFADevice struct {
	ID                string     `json:"id" yaml:"id"`
	DeviceType        DeviceType `json:"device_type" yaml:"device_type"`
	DeviceTypeDisplay string     `json:"device_type_display,omitempty" yaml:"device_type_display,omitempty"`
	Name              string     `json:"name" yaml:"name"`
	PhoneNumber       string     `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	IsActive          bool       `json:"is_active" yaml:"is_active"`
	IsPrimary         bool       `json:"is_primary" yaml:"is_primary"`
	LastUsedAt        *time.Time `json:"last_used_at" yaml:"last_used_at"`
	CreatedAt         time.Time  `json:"created_at" yaml:"created_at"`
}

// UserSession is one server-side login session.
type UserSession struct {
	ID           string         `json:"id" yaml:"id"`
	SessionKey   string         `json:"session_key,omitempty" yaml:"session_key,omitempty"`
	IPAddress    string         `json:"ip_address" yaml:"ip_address"`
	Country      string         `json:"country,omitempty" yaml:"country,omitempty"`
	City         string         `json:"city,omitempty" yaml:"city,omitempty"`
	Location     string         `json:"location,omitempty" yaml:"location,omitempty"`
	UserAgent    string         `json:"user_agent" yaml:"user_agent"`
	DeviceInfo   map[string]any `json:"device_info,omitempty" yaml:"device_info,omitempty"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	LastActivity time.Time      `json:"last_activity" yaml:"last_activity"`
	ExpiresAt    time.Time      `json:"expires_at" yaml:"expires_at"`
	IsActive     bool           `json:"is_active" yaml:"is_active"`
	IsCurrent    bool           `json:"is_current" yaml:"is_current"`
	IsExpired    bool           `json:"is_expired" yaml:"is_expired"`
}

// DeviceInfo is the parsed browser/os/device triple of a session.
type DeviceInfo struct {
	Browser string `json:"browser" yaml:"browser"`
	OS      string `json:"os" yaml:"os"`
	Device  string `json:"device" yaml:"device"`
}

// Device parses the session's free-form device info, defaulting each part to "Unknown".
func (s UserSession) Device() DeviceInfo {
	pick := func(key string) string {
		if v, ok := s.DeviceInfo[key].(string); ok && v != "" {
			return v
		}
		return "Unknown"
	}
	return DeviceInfo{
		Browser: pick("browser"),
		OS:      pick("os"),
		Device:  pick("device"),
	}
}

// Invitation is a pending team invite.
type Invitation struct {
	ID            string           `json:"id" yaml:"id"`
	InvitedByName string           `json:"invited_by_name" yaml:"invited_by_name"`
	InvitedEmail  string           `json:"invited_email" yaml:"invited_email"`
	Role          string           `json:"role" yaml:"role"`
	RoleName      string           `json:"role_name" yaml:"role_name"`
	Message       string           `json:"message,omitempty" yaml:"message,omitempty"`
	Status        InvitationStatus `json:"status" yaml:"status"`
	CreatedAt     time.Time        `json:"created_at" yaml:"created_at"`
	ExpiresAt     time.Time        `json:"expires_at" yaml:"expires_at"`
}

// AuditLog is one security-relevant event on the account.
type AuditLog struct {
	ID            string         `json:"id" yaml:"id"`
	UserEmail     string         `json:"user_email" yaml:"user_email"`
	Action        string         `json:"action" yaml:"action"`
	ActionDisplay string         `json:"action_display" yaml:"action_display"`
	Description   string         `json:"description" yaml:"description"`
	IPAddress     *string        `json:"ip_address" yaml:"ip_address"`
	UserAgent     string         `json:"user_agent" yaml:"user_agent"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
}

// Page is the backend's paginated list envelope.
type Page[T any] struct {
	Count    int     `json:"count" yaml:"count"`
	Next     *string `json:"next" yaml:"next"`
	Previous *string `json:"previous" yaml:"previous"`
	Results  []T     `json:"results" yaml:"results"`
}
