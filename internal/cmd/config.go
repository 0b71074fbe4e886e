package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/meetdash/internal/config"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or edit meetdash configuration",
	Long: `Manage configuration stored at ~/.meetdash/config.yaml

Settings cover the backend URL and timeouts, where the session is kept
(file or redis), logging, route guard policy and output defaults.
Environment variables prefixed MEETDASH_ override the file.

Examples:
  # View the effective configuration
  meetdash config view

  # Point at a local backend
  meetdash config set api.url http://localhost:8000

  # Keep sessions in Redis
  meetdash config set session.backend redis

  # Edit the file in $EDITOR
  meetdash config edit
`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Display the effective configuration",
	RunE:  runConfigView,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration in $EDITOR",
	RunE:  runConfigEdit,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long:  `Print the effective value of a dotted key, e.g. api.url.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  `Set a dotted key in the configuration file, e.g. api.timeout 15s.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable keys",
	RunE:  runConfigKeys,
}

func init() {
	configCmd.AddCommand(configViewCmd, configEditCmd, configGetCmd, configSetCmd, configPathCmd, configKeysCmd)
	rootCmd.AddCommand(configCmd)
}

// configFormatter prints with --format, falling back to the file's output
// format without validating the rest of the file.
func configFormatter(cmd *cobra.Command, cc *CommandContext, home string) (ux.Formatter, error) {
	format := cc.Format
	if format == "" {
		if cfg, err := config.ReadFile(config.Path(home)); err == nil {
			format = cfg.Output.Format
		}
	}
	return ux.NewFormatter(format, &ux.FormatterOptions{Writer: cmd.OutOrStdout(), NoColor: cc.NoColor})
}

func configHome(cmd *cobra.Command) (*CommandContext, string, error) {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return nil, "", err
	}
	home, err := cc.ResolveHome()
	if err != nil {
		return nil, "", err
	}
	return cc, home, nil
}

func runConfigView(cmd *cobra.Command, args []string) error {
	cc, home, err := configHome(cmd)
	if err != nil {
		return err
	}
	_, cfg, err := cc.loadConfig()
	if err != nil {
		return ux.FormatError(err, "loading configuration")
	}
	f, err := configFormatter(cmd, cc, home)
	if err != nil {
		return err
	}
	return f.Format(ux.View{
		Data: cfg,
		Text: func(w io.Writer) error {
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "# %s\n%s", config.Path(home), data)
			return err
		},
	})
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	_, home, err := configHome(cmd)
	if err != nil {
		return err
	}
	path := config.Path(home)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(config.Default(), path); err != nil {
			return ux.FormatError(err, "creating configuration")
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	editorCmd := exec.CommandContext(cmd.Context(), editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "failed to run editor "+editor, err)
	}

	if _, err := config.Load(home); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "The configuration file contains errors, please fix it.")
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration updated")
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cc, _, err := configHome(cmd)
	if err != nil {
		return err
	}
	_, cfg, err := cc.loadConfig()
	if err != nil {
		return ux.FormatError(err, "loading configuration")
	}
	value, err := cfg.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	_, home, err := configHome(cmd)
	if err != nil {
		return err
	}
	path := config.Path(home)
	cfg, err := config.ReadFile(path)
	if err != nil {
		return ux.FormatError(err, "loading configuration")
	}
	if err := cfg.Set(args[0], args[1]); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return ux.FormatError(err, "saving configuration")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %s = %s\n", args[0], args[1])
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	_, home, err := configHome(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), config.Path(home))
	return nil
}

func runConfigKeys(cmd *cobra.Command, args []string) error {
	for _, k := range config.Keys() {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}
