package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/guard"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Show where the dashboard would send you for a page",
	Long: `Run the route guard for a dashboard path with the current session and
print the decision. The command succeeds whatever the decision is.

  meetdash open /users/team
  meetdash open /dashboard`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(runOpen),
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the dashboard route table",
	RunE:  withApp(runRoutes),
}

func init() {
	rootCmd.AddCommand(openCmd, routesCmd)
}

func decisionLine(d guard.Decision) string {
	switch d.Kind {
	case guard.KindAllow:
		return "ALLOW"
	case guard.KindWait:
		return "WAIT"
	case guard.KindNotFound:
		return "NOT FOUND"
	}
	line := "REDIRECT " + d.Target
	if d.From != "" {
		line += " (from " + d.From + ")"
	}
	if d.Reason != "" {
		line += ": " + d.Reason
	}
	return line
}

func runOpen(_ context.Context, app *App, args []string) error {
	d := app.Guard.Navigate(app.Session.Snapshot(), args[0])
	return app.print(ux.View{
		Data: d,
		Text: func(w io.Writer) error {
			_, err := fmt.Fprintln(w, decisionLine(d))
			return err
		},
	})
}

func runRoutes(_ context.Context, app *App, _ []string) error {
	routes := app.Guard.Routes()
	st := app.Session.Snapshot()
	return app.print(ux.View{
		Data: routes,
		Text: func(w io.Writer) error {
			rows := make([][]string, 0, len(routes))
			for _, r := range routes {
				target := r.Pattern
				if cut := len(target) - 2; cut > 0 && target[cut:] == "/*" {
					target = target[:cut]
				}
				rows = append(rows, []string{
					r.Pattern, r.Title, string(r.Access), r.Permission,
					decisionLine(app.Guard.Navigate(st, target)),
				})
			}
			app.stdout(w).Table([]string{"Pattern", "Title", "Access", "Permission", "You"}, rows, "No routes.")
			return nil
		},
	})
}
