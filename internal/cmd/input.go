package cmd

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/guard"
	"github.com/felixgeelhaar/meetdash/internal/tui"
)

// flagOrPrompt returns the flag value, asking for it when empty. Without a
// terminal a missing value is a validation error naming the flag.
func flagOrPrompt(cmd *cobra.Command, name string, p tui.Prompt) (string, error) {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", err
	}
	if v != "" {
		return v, nil
	}
	v, err = tui.PromptForString(p)
	if stderrors.Is(err, tui.ErrNotInteractive) {
		return "", missingFlag(name)
	}
	return v, err
}

func secretFlag(cmd *cobra.Command, name, message string) (string, error) {
	return flagOrPrompt(cmd, name, tui.Prompt{Message: message, Secret: true, Required: true})
}

func missingFlag(name string) error {
	return errors.New(errors.ErrCodeValidationRequired, fmt.Sprintf("--%s is required", name)).
		WithField(name, "This field is required")
}

// confirmed reports whether --yes was given or the user agreed interactively.
// Without a terminal and without --yes it returns false, leaving the refusal
// to the operation itself.
func confirmed(cmd *cobra.Command, question string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, err
	}
	if yes {
		return true, nil
	}
	ok, err := tui.PromptForConfirmation(question, false)
	if stderrors.Is(err, tui.ErrNotInteractive) {
		return false, nil
	}
	return ok, err
}

func readUpload(path string) (*api.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read "+path, err)
	}
	return &api.File{Name: filepath.Base(path), Data: data}, nil
}

// enter runs the route guard for path. A redirect becomes an error telling
// the user which step is missing.
func (a *App) enter(path string) error {
	st := a.Session.Snapshot()
	d := a.Guard.Navigate(st, path)
	switch d.Kind {
	case guard.KindAllow:
		return nil
	case guard.KindNotFound:
		return errors.New(errors.ErrCodeAPINotFound, "no dashboard page at "+path)
	}
	if !st.Authenticated {
		return redirectError(nil, d)
	}
	return redirectError(st.User, d)
}

func redirectError(u *domain.User, d guard.Decision) error {
	switch d.Target {
	case guard.PathLogin:
		if u == nil {
			return errors.NewNotAuthenticatedError()
		}
		err := errors.New(errors.ErrCodeForbidden, "account is "+strings.ToLower(u.AccountStatus.Label()))
		if u.AccountStatus == domain.StatusPasswordExpiredGracePeriod {
			return err.WithSuggestion("Change your password with 'meetdash auth change-password'")
		}
		return err.WithSuggestion("Contact an administrator to reactivate the account")
	case guard.PathVerifyEmail:
		return errors.New(errors.ErrCodeForbidden, "email address is not verified").
			WithSuggestions(
				"Run 'meetdash auth verify-email <token>' with the token from the email",
				"Request a new email with 'meetdash auth resend-verification'",
			)
	case guard.PathChangePassword:
		return errors.New(errors.ErrCodeForbidden, "password has expired").
			WithSuggestion("Set a new password with 'meetdash auth force-password-change'")
	case guard.PathUnauthorized:
		return errors.New(errors.ErrCodeForbidden, "you do not have access to this page").
			WithField("permission", d.Reason)
	}
	return errors.New(errors.ErrCodeForbidden, "navigation redirected to "+d.Target)
}

// requireUser fails when nobody is signed in.
func (a *App) requireUser() (*domain.User, error) {
	u := a.Auth.CurrentUser()
	if u == nil {
		return nil, errors.NewNotAuthenticatedError()
	}
	return u, nil
}
