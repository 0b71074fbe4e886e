package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/health"
	"github.com/felixgeelhaar/meetdash/internal/session"
	"github.com/felixgeelhaar/meetdash/internal/tui"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, backend and session store",
	Long: `Run diagnostics to check meetdash is set up correctly.

Checks include:
  • Configuration file and MEETDASH_ environment overrides
  • Home directory permissions
  • Backend reachability at api.url
  • Saved session in the file or redis store

Examples:
  meetdash doctor
  meetdash doctor --format json
`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorReport is the printed outcome of all checks.
type doctorReport struct {
	Status health.Status   `json:"status" yaml:"status"`
	Checks []health.Report `json:"checks" yaml:"checks"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	home, err := cc.ResolveHome()
	if err != nil {
		return err
	}

	// a broken configuration is reported as a failed check
	var store session.Persister
	_, cfg, err := cc.loadConfig()
	if err != nil {
		cfg = nil
	} else {
		var client *redis.Client
		store, client = openPersister(cfg, home)
		if client != nil {
			defer func() { _ = client.Close() }()
		}
	}

	m := health.NewManager()
	if cfg != nil && cfg.API.Timeout > 0 {
		m.WithTimeout(cfg.API.Timeout)
	}
	for _, c := range health.Standard(home, cfg, store) {
		m.AddChecker(c)
	}
	reports := m.Check(cmd.Context())
	report := doctorReport{Status: health.OverallStatus(reports), Checks: reports}

	format := cc.Format
	if format == "" && cfg != nil {
		format = cfg.Output.Format
	}
	noColor := cc.NoColor || (cfg != nil && cfg.Output.NoColor)
	f, err := ux.NewFormatter(format, &ux.FormatterOptions{Writer: cmd.OutOrStdout(), NoColor: noColor})
	if err != nil {
		return err
	}
	if err := f.Format(ux.View{
		Data: report,
		Text: func(w io.Writer) error { return printDoctor(w, noColor, report) },
	}); err != nil {
		return err
	}
	if report.Status == health.StatusUnhealthy {
		failed := 0
		for _, r := range reports {
			if r.Status == health.StatusUnhealthy {
				failed++
			}
		}
		return fmt.Errorf("%d of %d checks failed", failed, len(reports))
	}
	return nil
}

func printDoctor(w io.Writer, noColor bool, report doctorReport) error {
	r := tui.NewRenderer(w, noColor)
	st := r.Styles()
	r.Title("meetdash doctor")
	for _, c := range report.Checks {
		icon := st.Success.Render("✓")
		switch c.Status {
		case health.StatusDegraded:
			icon = st.Warning.Render("!")
		case health.StatusUnhealthy:
			icon = st.Error.Render("✗")
		}
		r.Line("%s %-14s %s %s", icon, c.Name, c.Message, st.Muted.Render(c.Latency.Round(time.Millisecond).String()))
		for _, key := range []string{"path", "url", "backend", "error"} {
			if v, ok := c.Details[key]; ok {
				r.Line("    %s: %v", key, v)
			}
		}
	}
	r.Line("")
	r.Line("Overall: %s", report.Status)
	return nil
}
