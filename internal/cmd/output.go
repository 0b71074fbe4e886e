package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/tui"
	"github.com/felixgeelhaar/meetdash/internal/ui"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

// print renders v on stdout in the configured format.
func (a *App) print(v ux.View) error {
	f, err := ux.NewFormatter(a.Config.Output.Format, &ux.FormatterOptions{
		Writer:  a.cmd.OutOrStdout(),
		NoColor: a.Config.Output.NoColor,
	})
	if err != nil {
		return err
	}
	return f.Format(v)
}

// stdout returns a renderer for command results.
func (a *App) stdout(w io.Writer) *tui.Renderer {
	return tui.NewRenderer(w, a.Config.Output.NoColor)
}

// recordingPresenter remembers which errors reached the notification feed
// so they are not reported a second time on exit.
type recordingPresenter struct {
	ui   *ui.Store
	seen []*errors.DashError
}

func (p *recordingPresenter) PresentError(err error) {
	var de *errors.DashError
	if errors.As(err, &de) {
		p.seen = append(p.seen, de)
	}
	p.ui.PresentError(err)
}

func (p *recordingPresenter) presented(err error) bool {
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		de, ok := e.(*errors.DashError)
		if !ok {
			continue
		}
		for _, s := range p.seen {
			if s == de {
				return true
			}
		}
	}
	return false
}

// ReportedError marks an error the user has already seen as a notification.
// The exit code still derives from Err.
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string { return e.Err.Error() }

func (e *ReportedError) Unwrap() error { return e.Err }

// Reported reports whether err was already shown to the user.
func Reported(err error) bool {
	var r *ReportedError
	return stderrors.As(err, &r)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func roleNames(roles []domain.Role) string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return strings.Join(names, ", ")
}

func userPairs(u *domain.User) [][2]string {
	return [][2]string{
		{"Name", u.DisplayName()},
		{"Email", u.Email},
		{"Status", u.AccountStatus.Label()},
		{"Email verified", yesNo(u.IsEmailVerified)},
		{"MFA", yesNo(u.IsMFAEnabled)},
		{"Organizer", yesNo(u.IsOrganizer)},
		{"Roles", roleNames(u.Roles)},
		{"Last login", formatTime(u.LastLogin)},
		{"Joined", formatTime(u.DateJoined)},
	}
}

func userView(a *App, u *domain.User) ux.View {
	return ux.View{
		Data: u,
		Text: func(w io.Writer) error {
			a.stdout(w).KeyValues(userPairs(u))
			return nil
		},
	}
}

func messageView(msg string) ux.View {
	return ux.View{
		Data: map[string]string{"message": msg},
		Text: func(w io.Writer) error {
			_, err := fmt.Fprintln(w, msg)
			return err
		},
	}
}
