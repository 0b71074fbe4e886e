package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/guard"
	"github.com/felixgeelhaar/meetdash/internal/session"
	"github.com/felixgeelhaar/meetdash/internal/tui"
	"github.com/felixgeelhaar/meetdash/internal/ux"
	"github.com/felixgeelhaar/meetdash/internal/validate"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in, sign out and manage credentials",
	Long: `Manage your dashboard session and credentials.

The session is kept in the meetdash home directory (or redis, see
'meetdash config get session.backend') and restored on every invocation.

Examples:
  meetdash auth login --email ada@example.com
  meetdash auth status
  meetdash auth change-password
  meetdash auth logout`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long: `Sign in and store the session.

The password is asked for when --password is not given. After signing in
the route guard is consulted for --next (default "/") so you learn right
away whether the account needs email verification or a new password.`,
	RunE: withApp(runAuthLogin),
}

var authRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE:  withApp(runAuthRegister),
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session",
	Long: `End the session on the server and remove it locally.

The local session is removed even when the server cannot be reached.`,
	RunE: withApp(runAuthLogout),
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether you are signed in",
	RunE:  withApp(runAuthStatus),
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user with roles and permissions",
	RunE:  withApp(runAuthWhoami),
}

var authChangePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change your password",
	RunE:  withApp(runAuthChangePassword),
}

var authForcePasswordChangeCmd = &cobra.Command{
	Use:   "force-password-change",
	Short: "Set a new password after it has expired",
	RunE:  withApp(runAuthForcePasswordChange),
}

var authVerifyEmailCmd = &cobra.Command{
	Use:   "verify-email <token>",
	Short: "Confirm your email address with the emailed token",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runAuthVerifyEmail),
}

var authResendVerificationCmd = &cobra.Command{
	Use:   "resend-verification",
	Short: "Send the verification email again",
	RunE:  withApp(runAuthResendVerification),
}

var authResetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Reset a forgotten password",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var authResetRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Email a password reset link",
	RunE:  withApp(runAuthResetRequest),
}

var authResetConfirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Set a new password with the emailed reset token",
	RunE:  withApp(runAuthResetConfirm),
}

func init() {
	authLoginCmd.Flags().String("email", "", "account email")
	authLoginCmd.Flags().String("password", "", "account password (prompted when empty)")
	authLoginCmd.Flags().Bool("remember-me", false, "ask the server for a long-lived session")
	authLoginCmd.Flags().String("next", guard.PathHome, "page to check after signing in")

	authRegisterCmd.Flags().String("email", "", "account email")
	authRegisterCmd.Flags().String("first-name", "", "first name")
	authRegisterCmd.Flags().String("last-name", "", "last name")
	authRegisterCmd.Flags().String("password", "", "password (prompted when empty)")
	authRegisterCmd.Flags().String("password-confirm", "", "password again (prompted when empty)")
	authRegisterCmd.Flags().Bool("accept-terms", false, "accept the terms of service")

	authChangePasswordCmd.Flags().String("old-password", "", "current password")
	authChangePasswordCmd.Flags().String("new-password", "", "new password")
	authChangePasswordCmd.Flags().String("new-password-confirm", "", "new password again")

	authForcePasswordChangeCmd.Flags().String("new-password", "", "new password")
	authForcePasswordChangeCmd.Flags().String("new-password-confirm", "", "new password again")

	authResendVerificationCmd.Flags().String("email", "", "account email (default: signed-in user)")

	authResetRequestCmd.Flags().String("email", "", "account email")
	authResetConfirmCmd.Flags().String("token", "", "reset token from the email")
	authResetConfirmCmd.Flags().String("new-password", "", "new password")
	authResetConfirmCmd.Flags().String("new-password-confirm", "", "new password again")

	authResetPasswordCmd.AddCommand(authResetRequestCmd, authResetConfirmCmd)
	authCmd.AddCommand(
		authLoginCmd,
		authRegisterCmd,
		authLogoutCmd,
		authStatusCmd,
		authWhoamiCmd,
		authChangePasswordCmd,
		authForcePasswordChangeCmd,
		authVerifyEmailCmd,
		authResendVerificationCmd,
		authResetPasswordCmd,
	)
	rootCmd.AddCommand(authCmd)
}

func emailPrompt() tui.Prompt {
	return tui.Prompt{Message: "Email", Placeholder: "you@example.com", Required: true}
}

// loginResult is the outcome of login: the user and where the guard sends them.
type loginResult struct {
	User *domain.User   `json:"user" yaml:"user"`
	Next guard.Decision `json:"next" yaml:"next"`
}

func runAuthLogin(ctx context.Context, app *App, _ []string) error {
	cmd := app.cmd
	email, err := flagOrPrompt(cmd, "email", emailPrompt())
	if err != nil {
		return err
	}
	password, err := secretFlag(cmd, "password", "Password")
	if err != nil {
		return err
	}
	remember, _ := cmd.Flags().GetBool("remember-me")
	next, _ := cmd.Flags().GetString("next")

	var user *domain.User
	err = tui.Spin(ctx, "Signing in", func(ctx context.Context) error {
		var err error
		user, err = app.Auth.Login(ctx, api.Credentials{Email: email, Password: password, RememberMe: remember})
		return err
	})
	if err != nil {
		return err
	}

	res := loginResult{User: user, Next: app.Guard.Navigate(app.Session.Snapshot(), next)}
	return app.print(ux.View{
		Data: res,
		Text: func(w io.Writer) error {
			out := app.stdout(w)
			out.KeyValues(userPairs(user))
			if res.Next.Kind == guard.KindRedirect {
				out.Muted(fmt.Sprintf("Next step: %s", res.Next.Target))
			}
			return nil
		},
	})
}

func runAuthRegister(ctx context.Context, app *App, _ []string) error {
	cmd := app.cmd
	email, err := flagOrPrompt(cmd, "email", emailPrompt())
	if err != nil {
		return err
	}
	first, err := flagOrPrompt(cmd, "first-name", tui.Prompt{Message: "First name", Required: true})
	if err != nil {
		return err
	}
	last, err := flagOrPrompt(cmd, "last-name", tui.Prompt{Message: "Last name", Required: true})
	if err != nil {
		return err
	}
	password, err := flagOrPrompt(cmd, "password", tui.Prompt{
		Message:  "Password",
		Secret:   true,
		Required: true,
		Validate: passwordStrong,
	})
	if err != nil {
		return err
	}
	confirm, err := secretFlag(cmd, "password-confirm", "Confirm password")
	if err != nil {
		return err
	}
	terms, _ := cmd.Flags().GetBool("accept-terms")

	user, err := app.Auth.Register(ctx, api.Registration{
		FirstName:       first,
		LastName:        last,
		Email:           email,
		Password:        password,
		PasswordConfirm: confirm,
		TermsAccepted:   terms,
	})
	if err != nil {
		return err
	}
	if user == nil {
		return app.print(messageView("Account created. Check your email to verify it."))
	}
	return app.print(userView(app, user))
}

// passwordStrong rejects passwords that miss a strength criterion while
// typing, so the server's rejection is rarely seen.
func passwordStrong(p string) error {
	s := validate.PasswordStrength(p)
	if len(s.Unmet) > 0 {
		return fmt.Errorf("%s password: %s", s.Label, s.Unmet[0])
	}
	return nil
}

func runAuthLogout(ctx context.Context, app *App, _ []string) error {
	if !app.Session.Snapshot().Authenticated {
		return app.print(messageView("Not signed in."))
	}
	app.Auth.Logout(ctx)
	return app.print(messageView("Signed out."))
}

// status is the session summary printed by "auth status".
type status struct {
	Authenticated bool       `json:"authenticated" yaml:"authenticated"`
	Email         string     `json:"email,omitempty" yaml:"email,omitempty"`
	AccountStatus string     `json:"account_status,omitempty" yaml:"account_status,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Backend       string     `json:"session_backend" yaml:"session_backend"`
	API           string     `json:"api_url" yaml:"api_url"`
}

func buildStatus(st session.State, backend, apiURL string) status {
	s := status{Authenticated: st.Authenticated, Backend: backend, API: apiURL}
	if !st.Authenticated {
		return s
	}
	s.Email = st.User.Email
	s.AccountStatus = string(st.User.AccountStatus)
	if exp, ok := session.TokenExpiry(st.Token); ok {
		s.ExpiresAt = &exp
	}
	return s
}

func runAuthStatus(_ context.Context, app *App, _ []string) error {
	s := buildStatus(app.Session.Snapshot(), app.Config.Session.Backend, app.Config.API.URL)
	return app.print(ux.View{
		Data: s,
		Text: func(w io.Writer) error {
			out := app.stdout(w)
			if !s.Authenticated {
				out.Line("Not signed in.")
				out.Muted("Run 'meetdash auth login' to authenticate.")
				return nil
			}
			out.KeyValues([][2]string{
				{"Signed in as", s.Email},
				{"Account", domain.AccountStatus(s.AccountStatus).Label()},
				{"Expires", formatTime(s.ExpiresAt)},
				{"Session store", s.Backend},
				{"API", s.API},
			})
			return nil
		},
	})
}

// whoami is the identity printed by "auth whoami".
type whoami struct {
	User        *domain.User        `json:"user" yaml:"user"`
	Permissions []domain.Permission `json:"permissions" yaml:"permissions"`
}

func runAuthWhoami(_ context.Context, app *App, _ []string) error {
	u, err := app.requireUser()
	if err != nil {
		return err
	}
	perms := app.Auth.Permissions()
	return app.print(ux.View{
		Data: whoami{User: u, Permissions: perms},
		Text: func(w io.Writer) error {
			out := app.stdout(w)
			out.KeyValues(userPairs(u))
			rows := make([][]string, 0, len(perms))
			for _, p := range perms {
				rows = append(rows, []string{p.Codename, p.Name, p.Category})
			}
			out.Table([]string{"Permission", "Name", "Category"}, rows, "No permissions.")
			return nil
		},
	})
}

func runAuthChangePassword(ctx context.Context, app *App, _ []string) error {
	if _, err := app.requireUser(); err != nil {
		return err
	}
	cmd := app.cmd
	old, err := secretFlag(cmd, "old-password", "Current password")
	if err != nil {
		return err
	}
	next, err := flagOrPrompt(cmd, "new-password", tui.Prompt{
		Message: "New password", Secret: true, Required: true, Validate: passwordStrong,
	})
	if err != nil {
		return err
	}
	confirm, err := secretFlag(cmd, "new-password-confirm", "Confirm new password")
	if err != nil {
		return err
	}
	if err := app.Auth.ChangePassword(ctx, api.PasswordChange{
		OldPassword:        old,
		NewPassword:        next,
		NewPasswordConfirm: confirm,
	}); err != nil {
		return err
	}
	return app.print(messageView("Password changed."))
}

func runAuthForcePasswordChange(ctx context.Context, app *App, _ []string) error {
	if _, err := app.requireUser(); err != nil {
		return err
	}
	cmd := app.cmd
	next, err := flagOrPrompt(cmd, "new-password", tui.Prompt{
		Message: "New password", Secret: true, Required: true, Validate: passwordStrong,
	})
	if err != nil {
		return err
	}
	confirm, err := secretFlag(cmd, "new-password-confirm", "Confirm new password")
	if err != nil {
		return err
	}
	if err := app.Auth.ForcePasswordChange(ctx, api.ForcedPasswordChange{
		NewPassword:        next,
		NewPasswordConfirm: confirm,
	}); err != nil {
		return err
	}
	return app.print(messageView("Password changed. Your account is active again."))
}

func runAuthVerifyEmail(ctx context.Context, app *App, args []string) error {
	if err := app.Auth.VerifyEmail(ctx, args[0]); err != nil {
		return err
	}
	return app.print(messageView("Email verified."))
}

func runAuthResendVerification(ctx context.Context, app *App, _ []string) error {
	email, _ := app.cmd.Flags().GetString("email")
	if email == "" {
		if u := app.Auth.CurrentUser(); u != nil {
			email = u.Email
		}
	}
	if email == "" {
		var err error
		if email, err = flagOrPrompt(app.cmd, "email", emailPrompt()); err != nil {
			return err
		}
	}
	if err := app.Auth.ResendVerification(ctx, email); err != nil {
		return err
	}
	return app.print(messageView("Verification email sent to " + domain.MaskEmail(email) + "."))
}

func runAuthResetRequest(ctx context.Context, app *App, _ []string) error {
	email, err := flagOrPrompt(app.cmd, "email", emailPrompt())
	if err != nil {
		return err
	}
	if err := app.Auth.RequestPasswordReset(ctx, email); err != nil {
		return err
	}
	return app.print(messageView("If the account exists, a reset link is on its way."))
}

func runAuthResetConfirm(ctx context.Context, app *App, _ []string) error {
	cmd := app.cmd
	token, err := flagOrPrompt(cmd, "token", tui.Prompt{Message: "Reset token", Required: true})
	if err != nil {
		return err
	}
	next, err := flagOrPrompt(cmd, "new-password", tui.Prompt{
		Message: "New password", Secret: true, Required: true, Validate: passwordStrong,
	})
	if err != nil {
		return err
	}
	confirm, err := secretFlag(cmd, "new-password-confirm", "Confirm new password")
	if err != nil {
		return err
	}
	if err := app.Auth.ConfirmPasswordReset(ctx, api.PasswordResetConfirm{
		Token:              token,
		NewPassword:        next,
		NewPasswordConfirm: confirm,
	}); err != nil {
		return err
	}
	return app.print(messageView("Password reset. Sign in with the new password."))
}
