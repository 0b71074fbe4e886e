package cmd

import (
	"context"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/ui"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"inbox"},
	Short:   "Read the notification feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var notificationsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List notifications, newest first",
	RunE:    withApp(runNotificationsList),
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Mark a notification, or all of them, as read",
	Args:  cobra.MaximumNArgs(1),
	RunE:  withApp(runNotificationsRead),
}

var notificationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every notification",
	RunE:  withApp(runNotificationsClear),
}

func init() {
	notificationsListCmd.Flags().Bool("unread", false, "only unread notifications")
	notificationsReadCmd.Flags().Bool("all", false, "mark every notification as read")

	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsClearCmd)
	rootCmd.AddCommand(notificationsCmd)
}

func runNotificationsList(_ context.Context, app *App, _ []string) error {
	unreadOnly, err := app.cmd.Flags().GetBool("unread")
	if err != nil {
		return err
	}
	all := app.UI.Notifications()
	list := make([]ui.Notification, 0, len(all))
	for _, n := range all {
		if unreadOnly && n.Read {
			continue
		}
		list = append(list, n)
	}
	return app.print(ux.View{
		Data: list,
		Text: func(w io.Writer) error {
			r := app.stdout(w)
			rows := make([][]string, 0, len(list))
			for _, n := range list {
				mark := ""
				if !n.Read {
					mark = "*"
				}
				at := n.Timestamp
				rows = append(rows, []string{mark, n.ID, formatTime(&at), r.Toast(n)})
			}
			r.Table([]string{"", "ID", "When", "Notification"}, rows, "No notifications.")
			if unread := app.UI.Unread(); unread > 0 {
				r.Muted(strconv.Itoa(unread) + " unread")
			}
			return nil
		},
	})
}

func runNotificationsRead(_ context.Context, app *App, args []string) error {
	all, err := app.cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}
	switch {
	case all:
		app.UI.MarkAllRead()
		return app.print(messageView("All notifications marked as read."))
	case len(args) == 0:
		return errors.New(errors.ErrCodeValidationRequired, "pass a notification ID or --all")
	case !app.UI.MarkRead(args[0]):
		return errors.New(errors.ErrCodeAPINotFound, "no notification with ID "+args[0]).
			WithSuggestion("List IDs with 'meetdash notifications list'")
	}
	return app.print(messageView("Marked as read."))
}

func runNotificationsClear(_ context.Context, app *App, _ []string) error {
	app.UI.Clear()
	return app.print(messageView("Notifications cleared."))
}
