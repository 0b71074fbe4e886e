package cmd

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/cache"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

const sessionsPage = "/users/sessions"

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Review and revoke your active sign-ins",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List active sessions",
	RunE:    withApp(runSessionsList),
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Sign out one session",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSessionsRevoke),
}

var sessionsRevokeAllCmd = &cobra.Command{
	Use:   "revoke-all",
	Short: "Sign out every session except this one",
	RunE:  withApp(runSessionsRevokeAll),
}

func init() {
	sessionsRevokeAllCmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsRevokeCmd, sessionsRevokeAllCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionRows(sessions []domain.UserSession) [][]string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		dev := s.Device()
		current := ""
		if s.IsCurrent {
			current = "*"
		}
		where := s.Location
		if where == "" {
			where = s.IPAddress
		}
		last := s.LastActivity
		rows = append(rows, []string{
			current,
			s.ID,
			dev.Browser + " on " + dev.OS,
			where,
			formatTime(&last),
			s.ExpiresAt.Sub(time.Now()).Round(time.Minute).String(),
		})
	}
	return rows
}

func runSessionsList(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(sessionsPage); err != nil {
		return err
	}
	sessions, err := cache.Fetch(ctx, app.Cache, cache.KeySessions, app.API.Sessions)
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: sessions,
		Text: func(w io.Writer) error {
			app.stdout(w).Table([]string{"", "ID", "Device", "Location", "Last active", "Expires in"},
				sessionRows(sessions), "No active sessions.")
			return nil
		},
	})
}

func runSessionsRevoke(ctx context.Context, app *App, args []string) error {
	if err := app.enter(sessionsPage); err != nil {
		return err
	}
	resp, err := app.API.RevokeSession(ctx, args[0])
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeySessions)
	return app.print(messageView(orDefault(resp.Message, "Session revoked.")))
}

func runSessionsRevokeAll(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(sessionsPage); err != nil {
		return err
	}
	ok, err := confirmed(app.cmd, "Sign out all other sessions?")
	if err != nil {
		return err
	}
	if !ok {
		return app.print(messageView("Nothing revoked."))
	}
	resp, err := app.API.RevokeAllSessions(ctx)
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeySessions)
	return app.print(messageView(orDefault(resp.Message, "All other sessions revoked.")))
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
