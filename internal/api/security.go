package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/felixgeelhaar/meetdash/internal/domain"
)

// MFASetup starts enrolling a device.
type MFASetup struct {
	DeviceType  domain.DeviceType `json:"device_type"`
	DeviceName  string            `json:"device_name"`
	PhoneNumber string            `json:"phone_number,omitempty"`
}

// MFASetupResponse carries the enrollment material. SMS devices get no QR.
type MFASetupResponse struct {
	Message        string `json:"message,omitempty"`
	DeviceID       string `json:"device_id,omitempty"`
	QRCode         string `json:"qr_code,omitempty"`
	ManualEntryKey string `json:"manual_entry_key,omitempty"`
}

// MFAVerify confirms an enrollment with a one-time code.
type MFAVerify struct {
	OTPCode  string `json:"otp_code"`
	DeviceID string `json:"device_id,omitempty"`
}

// BackupCodesResponse is returned when MFA is confirmed or codes are rotated.
type BackupCodesResponse struct {
	Message     string   `json:"message,omitempty"`
	BackupCodes []string `json:"backup_codes,omitempty"`
}

// InvitationRequest invites someone to the team.
type InvitationRequest struct {
	InvitedEmail string `json:"invited_email" validate:"required,emailshape"`
	Role         string `json:"role" validate:"required"`
	Message      string `json:"message,omitempty" validate:"omitempty,max=500"`
}

// InvitationResponse accepts or declines an invitation.
type InvitationResponse struct {
	Token           string `json:"token" validate:"required"`
	Action          string `json:"action" validate:"required,oneof=accept decline"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	Password        string `json:"password,omitempty"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"omitempty,eqfield=Password"`
}

// list decodes either a bare JSON array or a paginated envelope.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err == nil {
		*l = items
		return nil
	}
	var page domain.Page[T]
	if err := json.Unmarshal(data, &page); err != nil {
		return err
	}
	*l = page.Results
	return nil
}

func getList[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out list[T]
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return []T(out), nil
}

// SetupMFA requests enrollment material.
func (c *Client) SetupMFA(ctx context.Context, s MFASetup) (*MFASetupResponse, error) {
	var out MFASetupResponse
	if err := c.request(ctx, http.MethodPost, "/users/mfa/setup/", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyMFA confirms enrollment.
func (c *Client) VerifyMFA(ctx context.Context, v MFAVerify) (*BackupCodesResponse, error) {
	var out BackupCodesResponse
	if err := c.request(ctx, http.MethodPost, "/users/mfa/verify/", v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisableMFA turns MFA off after re-checking the password.
func (c *Client) DisableMFA(ctx context.Context, password string) (*MessageResponse, error) {
	return c.message(ctx, "/users/mfa/disable/", map[string]string{"password": password})
}

// MFADevices lists enrolled devices.
func (c *Client) MFADevices(ctx context.Context) ([]domain.MFADevice, error) {
	return getList[domain.MFADevice](ctx, c, "/users/mfa/devices/")
}

// RegenerateBackupCodes replaces the backup codes.
func (c *Client) RegenerateBackupCodes(ctx context.Context, password string) (*BackupCodesResponse, error) {
	var out BackupCodesResponse
	in := map[string]string{"password": password}
	if err := c.request(ctx, http.MethodPost, "/users/mfa/backup-codes/regenerate/", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResendSMS resends the enrollment code of a pending SMS device.
func (c *Client) ResendSMS(ctx context.Context) (*MessageResponse, error) {
	return c.message(ctx, "/users/mfa/resend-sms/", nil)
}

// SendSMSCode sends a login code to an enrolled SMS device.
func (c *Client) SendSMSCode(ctx context.Context, deviceID string) (*MessageResponse, error) {
	return c.message(ctx, "/users/mfa/send-sms-code/", map[string]string{"device_id": deviceID})
}

// Sessions lists the user's server-side sessions.
func (c *Client) Sessions(ctx context.Context) ([]domain.UserSession, error) {
	return getList[domain.UserSession](ctx, c, "/users/sessions/")
}

// RevokeSession ends one session.
func (c *Client) RevokeSession(ctx context.Context, id string) (*MessageResponse, error) {
	return c.message(ctx, "/users/sessions/"+url.PathEscape(id)+"/revoke/", nil)
}

// RevokeAllSessions ends every session except the current one.
func (c *Client) RevokeAllSessions(ctx context.Context) (*MessageResponse, error) {
	return c.message(ctx, "/users/sessions/revoke-all/", nil)
}

// Roles lists the roles visible to the user.
func (c *Client) Roles(ctx context.Context) ([]domain.Role, error) {
	return getList[domain.Role](ctx, c, "/users/roles/")
}

// Permissions lists every permission.
func (c *Client) Permissions(ctx context.Context) ([]domain.Permission, error) {
	return getList[domain.Permission](ctx, c, "/users/permissions/")
}

// Invitations lists pending invitations.
func (c *Client) Invitations(ctx context.Context) ([]domain.Invitation, error) {
	return getList[domain.Invitation](ctx, c, "/users/invitations/")
}

// SendInvitation invites someone.
func (c *Client) SendInvitation(ctx context.Context, r InvitationRequest) (*domain.Invitation, error) {
	var out domain.Invitation
	if err := c.request(ctx, http.MethodPost, "/users/invitations/", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RespondInvitation accepts or declines an invitation.
func (c *Client) RespondInvitation(ctx context.Context, r InvitationResponse) (*MessageResponse, error) {
	return c.message(ctx, "/users/invitations/respond/", r)
}

// AuditLogs fetches one page of the audit log. Pages start at 1.
func (c *Client) AuditLogs(ctx context.Context, page int) (*domain.Page[domain.AuditLog], error) {
	path := "/users/audit-logs/"
	if page > 1 {
		path += "?page=" + strconv.Itoa(page)
	}
	var out domain.Page[domain.AuditLog]
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
