package cmd

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/cache"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/tui"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

const (
	teamPage  = "/users/team"
	rolesPage = "/users/roles"
	auditPage = "/users/audit-logs"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List roles and what they grant",
	RunE:  withApp(runRolesList),
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "List every permission the backend knows",
	RunE:  withApp(runPermissionsList),
}

var invitationsCmd = &cobra.Command{
	Use:     "invitations",
	Aliases: []string{"invites"},
	Short:   "Invite people to your team",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var invitationsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sent invitations",
	RunE:    withApp(runInvitationsList),
}

var invitationsSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Invite someone by email",
	RunE:  withApp(runInvitationsSend),
}

var invitationsRespondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Accept or decline an invitation you received",
	Long: `Accept or decline an invitation you received.

People without an account set their name and password when accepting:
  meetdash invitations respond --token abc --action accept \
    --first-name Ada --last-name Lovelace --password '...' --password-confirm '...'`,
	RunE: withApp(runInvitationsRespond),
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the security audit log",
	RunE:  withApp(runAuditList),
}

func init() {
	invitationsSendCmd.Flags().String("email", "", "email address to invite")
	invitationsSendCmd.Flags().String("role", "", "role ID to grant")
	invitationsSendCmd.Flags().String("message", "", "personal note")

	invitationsRespondCmd.Flags().String("token", "", "invitation token")
	invitationsRespondCmd.Flags().String("action", "", "accept or decline")
	invitationsRespondCmd.Flags().String("first-name", "", "first name for a new account")
	invitationsRespondCmd.Flags().String("last-name", "", "last name for a new account")
	invitationsRespondCmd.Flags().String("password", "", "password for a new account")
	invitationsRespondCmd.Flags().String("password-confirm", "", "password again")

	auditCmd.Flags().Int("page", 1, "page number")

	invitationsCmd.AddCommand(invitationsListCmd, invitationsSendCmd, invitationsRespondCmd)
	rootCmd.AddCommand(rolesCmd, permissionsCmd, invitationsCmd, auditCmd)
}

func runRolesList(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(rolesPage); err != nil {
		return err
	}
	roles, err := cache.Fetch(ctx, app.Cache, cache.KeyRoles, app.API.Roles)
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: roles,
		Text: func(w io.Writer) error {
			rows := make([][]string, 0, len(roles))
			for _, r := range roles {
				parent := ""
				if r.ParentName != nil {
					parent = *r.ParentName
				}
				system := ""
				if r.IsSystemRole {
					system = "system"
				}
				rows = append(rows, []string{
					r.ID, r.Name, r.RoleType.Label(), parent,
					strconv.Itoa(len(r.Permissions)), system,
				})
			}
			app.stdout(w).Table([]string{"ID", "Name", "Type", "Parent", "Permissions", ""},
				rows, "No roles defined.")
			return nil
		},
	})
}

// permissionsList is the catalog plus which entries the signed-in user holds.
type permissionsList struct {
	Permissions []domain.Permission `json:"permissions" yaml:"permissions"`
	Granted     []string            `json:"granted" yaml:"granted"`
}

func runPermissionsList(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(rolesPage); err != nil {
		return err
	}
	perms, err := cache.Fetch(ctx, app.Cache, cache.KeyPermissions, app.API.Permissions)
	if err != nil {
		return err
	}
	out := permissionsList{Permissions: perms, Granted: []string{}}
	for _, p := range perms {
		if app.Auth.HasPermission(p.Codename) {
			out.Granted = append(out.Granted, p.Codename)
		}
	}
	return app.print(ux.View{
		Data: out,
		Text: func(w io.Writer) error {
			rows := make([][]string, 0, len(perms))
			for _, p := range perms {
				rows = append(rows, []string{p.Codename, p.Name, p.Category, yesNo(app.Auth.HasPermission(p.Codename))})
			}
			app.stdout(w).Table([]string{"Codename", "Name", "Category", "Granted"}, rows, "No permissions defined.")
			return nil
		},
	})
}

func runInvitationsList(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(teamPage); err != nil {
		return err
	}
	invites, err := cache.Fetch(ctx, app.Cache, cache.KeyInvitations, app.API.Invitations)
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: invites,
		Text: func(w io.Writer) error {
			rows := make([][]string, 0, len(invites))
			for _, inv := range invites {
				expires := inv.ExpiresAt
				rows = append(rows, []string{
					inv.ID, inv.InvitedEmail, inv.RoleName, string(inv.Status), inv.InvitedByName, formatTime(&expires),
				})
			}
			app.stdout(w).Table([]string{"ID", "Email", "Role", "Status", "Invited by", "Expires"},
				rows, "No invitations sent.")
			return nil
		},
	})
}

func runInvitationsSend(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(teamPage); err != nil {
		return err
	}
	email, err := flagOrPrompt(app.cmd, "email", emailPrompt())
	if err != nil {
		return err
	}
	role, err := flagOrPrompt(app.cmd, "role", tui.Prompt{Message: "Role ID", Required: true})
	if err != nil {
		return err
	}
	message, _ := app.cmd.Flags().GetString("message")

	inv, err := app.API.SendInvitation(ctx, api.InvitationRequest{
		InvitedEmail: strings.TrimSpace(email),
		Role:         role,
		Message:      message,
	})
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeyInvitations)
	app.UI.Success("Invitation sent to " + inv.InvitedEmail)
	return app.print(ux.View{
		Data: inv,
		Text: func(w io.Writer) error {
			expires := inv.ExpiresAt
			app.stdout(w).KeyValues([][2]string{
				{"ID", inv.ID},
				{"Email", inv.InvitedEmail},
				{"Role", inv.RoleName},
				{"Status", string(inv.Status)},
				{"Expires", formatTime(&expires)},
			})
			return nil
		},
	})
}

func runInvitationsRespond(ctx context.Context, app *App, _ []string) error {
	f := app.cmd.Flags()
	token, err := flagOrPrompt(app.cmd, "token", tui.Prompt{Message: "Invitation token", Required: true})
	if err != nil {
		return err
	}
	action, err := f.GetString("action")
	if err != nil {
		return err
	}
	if action == "" {
		action, err = tui.PromptForSelect("Respond to the invitation", []string{"accept", "decline"})
		if err != nil {
			if errors.Is(err, tui.ErrNotInteractive) {
				return missingFlag("action")
			}
			return err
		}
	}
	r := api.InvitationResponse{Token: token, Action: strings.ToLower(action)}
	r.FirstName, _ = f.GetString("first-name")
	r.LastName, _ = f.GetString("last-name")
	r.Password, _ = f.GetString("password")
	r.PasswordConfirm, _ = f.GetString("password-confirm")
	if r.Password != "" {
		if err := passwordStrong(r.Password); err != nil {
			return err
		}
	}

	resp, err := app.API.RespondInvitation(ctx, r)
	if err != nil {
		return err
	}
	fallback := "Invitation accepted."
	if r.Action == "decline" {
		fallback = "Invitation declined."
	}
	return app.print(messageView(orDefault(resp.Message, fallback)))
}

func runAuditList(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(auditPage); err != nil {
		return err
	}
	page, err := app.cmd.Flags().GetInt("page")
	if err != nil {
		return err
	}
	if page < 1 {
		return errors.New(errors.ErrCodeValidationFailed, "--page must be 1 or greater").
			WithField("page", "must be 1 or greater")
	}
	// pages other than the first are not cached
	load := func(ctx context.Context) (*domain.Page[domain.AuditLog], error) {
		return app.API.AuditLogs(ctx, page)
	}
	var logs *domain.Page[domain.AuditLog]
	if page == 1 {
		logs, err = cache.Fetch(ctx, app.Cache, cache.KeyAuditLogs, load)
	} else {
		logs, err = load(ctx)
	}
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: logs,
		Text: func(w io.Writer) error {
			r := app.stdout(w)
			rows := make([][]string, 0, len(logs.Results))
			for _, e := range logs.Results {
				ip := ""
				if e.IPAddress != nil {
					ip = *e.IPAddress
				}
				at := e.CreatedAt
				rows = append(rows, []string{formatTime(&at), orDefault(e.ActionDisplay, e.Action), e.Description, ip})
			}
			r.Table([]string{"When", "Action", "Description", "IP"}, rows, "No audit entries.")
			if logs.Next != nil {
				r.Muted("More entries: --page " + strconv.Itoa(page+1))
			}
			return nil
		},
	})
}
