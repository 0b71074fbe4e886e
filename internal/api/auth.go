package api

import (
	"context"
	"net/http"

	"github.com/felixgeelhaar/meetdash/internal/domain"
)

// Credentials is the login form.
type Credentials struct {
	Email      string `json:"email" validate:"required,emailshape"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

// Registration is the sign-up form.
type Registration struct {
	FirstName       string `json:"first_name" validate:"required,max=30"`
	LastName        string `json:"last_name" validate:"required,max=30"`
	Email           string `json:"email" validate:"required,emailshape"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	TermsAccepted   bool   `json:"terms_accepted" validate:"required"`
}

// PasswordChange is the change-password form.
type PasswordChange struct {
	OldPassword        string `json:"old_password" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

// ForcedPasswordChange is the form shown when the password has expired.
type ForcedPasswordChange struct {
	NewPassword        string `json:"new_password" validate:"required"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

// PasswordResetConfirm completes a reset started by email.
type PasswordResetConfirm struct {
	Token              string `json:"token" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User    *domain.User `json:"user"`
	Token   string       `json:"token"`
	Message string       `json:"message,omitempty"`
}

// MessageResponse is the generic {"message": ...} answer.
type MessageResponse struct {
	Message string `json:"message"`
}

// TokenResponse is a message that may rotate the token.
type TokenResponse struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

// Login exchanges credentials for a user and token.
func (c *Client) Login(ctx context.Context, cr Credentials) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.request(ctx, http.MethodPost, "/users/login/", cr, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, r Registration) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.request(ctx, http.MethodPost, "/users/register/", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the server-side session. Failures are not presented; the
// caller recovers locally.
func (c *Client) Logout(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/users/logout/", nil, nil, quiet())
}

// Profile fetches the current user's profile.
func (c *Client) Profile(ctx context.Context) (*domain.Profile, error) {
	var out domain.Profile
	if err := c.request(ctx, http.MethodGet, "/users/profile/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile patches the profile, as multipart when files are attached.
func (c *Client) UpdateProfile(ctx context.Context, u ProfileUpdate) (*domain.Profile, error) {
	var out domain.Profile
	if u.HasFiles() {
		b, err := u.multipart()
		if err != nil {
			return nil, err
		}
		if err := c.send(ctx, http.MethodPatch, "/users/profile/", b, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}
	if err := c.request(ctx, http.MethodPatch, "/users/profile/", u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangePassword changes the password; the answer may carry a new token.
func (c *Client) ChangePassword(ctx context.Context, pc PasswordChange) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.request(ctx, http.MethodPost, "/users/change-password/", pc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForcePasswordChange replaces an expired password.
func (c *Client) ForcePasswordChange(ctx context.Context, fc ForcedPasswordChange) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.request(ctx, http.MethodPost, "/users/force-password-change/", fc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyEmail confirms the address behind token.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*MessageResponse, error) {
	return c.message(ctx, "/users/verify-email/", map[string]string{"token": token})
}

// ResendVerification mails a new verification link.
func (c *Client) ResendVerification(ctx context.Context, email string) (*MessageResponse, error) {
	return c.message(ctx, "/users/resend-verification/", map[string]string{"email": email})
}

// RequestPasswordReset mails a reset link.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (*MessageResponse, error) {
	return c.message(ctx, "/users/request-password-reset/", map[string]string{"email": email})
}

// ConfirmPasswordReset sets a new password from a reset token.
func (c *Client) ConfirmPasswordReset(ctx context.Context, r PasswordResetConfirm) (*MessageResponse, error) {
	return c.message(ctx, "/users/confirm-password-reset/", r)
}

func (c *Client) message(ctx context.Context, path string, in any) (*MessageResponse, error) {
	var out MessageResponse
	if err := c.request(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
