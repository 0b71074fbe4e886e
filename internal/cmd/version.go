package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/ux"
	"github.com/felixgeelhaar/meetdash/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform.`,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "show detailed version information")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}
	f, err := ux.NewFormatter(cc.Format, &ux.FormatterOptions{Writer: cmd.OutOrStdout(), NoColor: cc.NoColor})
	if err != nil {
		return err
	}
	info := version.GetInfo()
	return f.Format(ux.View{
		Data: info,
		Text: func(w io.Writer) error {
			if verbose {
				_, err := fmt.Fprintln(w, info.String())
				return err
			}
			_, err := fmt.Fprintf(w, "meetdash %s\n", info.Short())
			return err
		},
	})
}
