package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "meetdash",
	Short: "Scheduling dashboard client",
	Long: `meetdash is the command-line shell of the scheduling dashboard.

It signs you in and out, keeps your session between invocations, walks you
through multi-factor enrollment, and reads the account resources of the
users module: profile, sessions, roles, invitations and audit logs.

Navigation targets are checked by the same route guard the dashboard uses:
  meetdash open /users/team`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// interrupt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// Root exposes the command tree, e.g. for documentation generation.
func Root() *cobra.Command {
	return rootCmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("home", "", "meetdash home directory (default $MEETDASH_HOME or ~/.meetdash)")
	pf.String("api-url", "", "backend API base URL (overrides api.url)")
	pf.StringP("format", "f", "", "output format: text, json, yaml (overrides output.format)")
	pf.Bool("no-color", false, "disable colored output")
	pf.String("log-level", "", "log level: debug, info, warn, error (overrides logging.level)")
	pf.String("log-format", "", "log format: text, json (overrides logging.format)")
	pf.BoolP("quiet", "q", false, "suppress notifications on stderr")
	pf.Bool("metrics", false, "print request and flow metrics on exit")
}
