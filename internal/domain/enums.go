package domain

import (
	"encoding/json"
	"fmt"
)

// Color is a presentation tone shared by status chips and toasts.
type Color string

const (
	ColorSuccess   Color = "success"
	ColorWarning   Color = "warning"
	ColorError     Color = "error"
	ColorInfo      Color = "info"
	ColorPrimary   Color = "primary"
	ColorSecondary Color = "secondary"
)

// AccountStatus is the server-assigned state gating what a user may access.
type AccountStatus string

const (
	StatusActive                     AccountStatus = "active"
	StatusInactive                   AccountStatus = "inactive"
	StatusSuspended                  AccountStatus = "suspended"
	StatusPendingVerification        AccountStatus = "pending_verification"
	StatusPasswordExpired            AccountStatus = "password_expired"
	StatusPasswordExpiredGracePeriod AccountStatus = "password_expired_grace_period"
)

// AccountStatuses lists every status in display order.
var AccountStatuses = []AccountStatus{
	StatusActive,
	StatusInactive,
	StatusSuspended,
	StatusPendingVerification,
	StatusPasswordExpired,
	StatusPasswordExpiredGracePeriod,
}

// Valid reports whether s is one of the known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPendingVerification,
		StatusPasswordExpired, StatusPasswordExpiredGracePeriod:
		return true
	}
	return false
}

// Label returns the human-readable status name.
func (s AccountStatus) Label() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusInactive:
		return "Inactive"
	case StatusSuspended:
		return "Suspended"
	case StatusPendingVerification:
		return "Pending Verification"
	case StatusPasswordExpired:
		return "Password Expired"
	case StatusPasswordExpiredGracePeriod:
		return "Password Expired (Grace Period)"
	}
	return string(s)
}

// Color returns the chip tone for the status. The grace period shares the
// warning tone with pending verification; inactive is informational.
func (s AccountStatus) Color() Color {
	switch s {
	case StatusActive:
		return ColorSuccess
	case StatusPendingVerification, StatusPasswordExpiredGracePeriod:
		return ColorWarning
	case StatusSuspended, StatusPasswordExpired:
		return ColorError
	case StatusInactive:
		return ColorInfo
	}
	return ColorInfo
}

// UnmarshalJSON rejects statuses outside the closed set.
func (s *AccountStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := AccountStatus(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown account status %q", raw)
	}
	*s = v
	return nil
}

// RoleType classifies a role.
type RoleType string

const (
	RoleAdmin          RoleType = "admin"
	RoleOrganizer      RoleType = "organizer"
	RoleTeamMember     RoleType = "team_member"
	RoleBillingManager RoleType = "billing_manager"
	RoleViewer         RoleType = "viewer"
)

// Valid reports whether t is one of the known role types.
func (t RoleType) Valid() bool {
	switch t {
	case RoleAdmin, RoleOrganizer, RoleTeamMember, RoleBillingManager, RoleViewer:
		return true
	}
	return false
}

// Label returns the display name of the role type.
func (t RoleType) Label() string {
	switch t {
	case RoleAdmin:
		return "Admin"
	case RoleOrganizer:
		return "Organizer"
	case RoleTeamMember:
		return "Team Member"
	case RoleBillingManager:
		return "Billing Manager"
	case RoleViewer:
		return "Viewer"
	}
	return string(t)
}

// Color returns the chip tone for the role type.
func (t RoleType) Color() Color {
	switch t {
	case RoleAdmin:
		return ColorError
	case RoleOrganizer:
		return ColorPrimary
	case RoleTeamMember:
		return ColorSecondary
	case RoleBillingManager:
		return ColorWarning
	case RoleViewer:
		return ColorSuccess
	}
	return ColorSecondary
}

// UnmarshalJSON rejects role types outside the closed set.
func (t *RoleType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := RoleType(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown role type %q", raw)
	}
	*t = v
	return nil
}

// DeviceType is the kind of second factor.
type DeviceType string

const (
	DeviceTOTP   DeviceType = "totp"
	DeviceSMS    DeviceType = "sms"
	DeviceBackup DeviceType = "backup"
)

// Valid reports whether d is one of the known device types.
func (d DeviceType) Valid() bool {
	switch d {
	case DeviceTOTP, DeviceSMS, DeviceBackup:
		return true
	}
	return false
}

// Enrollable reports whether the device type can be set up by the user.
// Backup codes are generated, never enrolled.
func (d DeviceType) Enrollable() bool {
	switch d {
	case DeviceTOTP, DeviceSMS:
		return true
	case DeviceBackup:
		return false
	}
	return false
}

// Label returns the display name of the device type.
func (d DeviceType) Label() string {
	switch d {
	case DeviceTOTP:
		return "Authenticator App"
	case DeviceSMS:
		return "SMS"
	case DeviceBackup:
		return "Backup Codes"
	}
	return string(d)
}

// Icon returns the icon name used for the device type.
func (d DeviceType) Icon() string {
	switch d {
	case DeviceTOTP:
		return "smartphone"
	case DeviceSMS:
		return "sms"
	case DeviceBackup:
		return "backup"
	}
	return "security"
}

// UnmarshalJSON rejects device types outside the closed set.
func (d *DeviceType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := DeviceType(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown device type %q", raw)
	}
	*d = v
	return nil
}

// InvitationStatus is the lifecycle of a team invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// Color returns the chip tone for the invitation status.
func (s InvitationStatus) Color() Color {
	switch s {
	case InvitationAccepted:
		return ColorSuccess
	case InvitationPending:
		return ColorWarning
	case InvitationDeclined:
		return ColorError
	case InvitationExpired:
		return ColorInfo
	}
	return ColorInfo
}
