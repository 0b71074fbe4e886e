package cmd

import (
	"context"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/auth"
	"github.com/felixgeelhaar/meetdash/internal/cache"
	"github.com/felixgeelhaar/meetdash/internal/config"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/guard"
	"github.com/felixgeelhaar/meetdash/internal/log"
	"github.com/felixgeelhaar/meetdash/internal/metrics"
	"github.com/felixgeelhaar/meetdash/internal/mfa"
	"github.com/felixgeelhaar/meetdash/internal/session"
	"github.com/felixgeelhaar/meetdash/internal/tui"
	"github.com/felixgeelhaar/meetdash/internal/ui"
	"github.com/felixgeelhaar/meetdash/internal/version"
)

// CommandContext holds the persistent flags of one invocation.
type CommandContext struct {
	Home      string
	APIURL    string
	Format    string
	NoColor   bool
	LogLevel  string
	LogFormat string
	Quiet     bool
	Metrics   bool
}

// NewCommandContext extracts command context from cobra.Command flags.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	flags := cmd.Flags()
	cc := &CommandContext{}
	var err error

	if cc.Home, err = flags.GetString("home"); err != nil {
		return nil, err
	}
	if cc.APIURL, err = flags.GetString("api-url"); err != nil {
		return nil, err
	}
	if cc.Format, err = flags.GetString("format"); err != nil {
		return nil, err
	}
	if cc.NoColor, err = flags.GetBool("no-color"); err != nil {
		return nil, err
	}
	if cc.LogLevel, err = flags.GetString("log-level"); err != nil {
		return nil, err
	}
	if cc.LogFormat, err = flags.GetString("log-format"); err != nil {
		return nil, err
	}
	if cc.Quiet, err = flags.GetBool("quiet"); err != nil {
		return nil, err
	}
	if cc.Metrics, err = flags.GetBool("metrics"); err != nil {
		return nil, err
	}
	return cc, nil
}

// ResolveHome returns --home or the default home directory.
func (cc *CommandContext) ResolveHome() (string, error) {
	if cc.Home != "" {
		return cc.Home, nil
	}
	return config.Home()
}

// loadConfig reads the configuration and applies flag overrides.
func (cc *CommandContext) loadConfig() (string, *config.Config, error) {
	home, err := cc.ResolveHome()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return "", nil, err
	}
	overrides := map[string]string{
		"api.url":        cc.APIURL,
		"output.format":  cc.Format,
		"logging.level":  cc.LogLevel,
		"logging.format": cc.LogFormat,
	}
	for _, key := range []string{"api.url", "output.format", "logging.level", "logging.format"} {
		if v := overrides[key]; v != "" {
			if err := cfg.Set(key, v); err != nil {
				return "", nil, err
			}
		}
	}
	if cc.NoColor {
		cfg.Output.NoColor = true
	}
	return home, cfg, nil
}

// App is the wired dashboard shell for one invocation.
type App struct {
	Flags    *CommandContext
	Home     string
	Config   *config.Config
	Logger   *log.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Session  *session.Store
	UI       *ui.Store
	Cache    *cache.Cache
	API      *api.Client
	Auth     *auth.Orchestrator
	MFA      *mfa.Flow
	Guard    *guard.Guard
	Out      *tui.Renderer

	cmd       *cobra.Command
	redis     *redis.Client
	presenter *recordingPresenter
}

// newApp loads configuration, wires every component and restores the saved
// session.
func newApp(cmd *cobra.Command) (*App, error) {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return nil, err
	}
	home, cfg, err := cc.loadConfig()
	if err != nil {
		return nil, err
	}

	logger := log.New(log.FromSettings(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()))
	log.SetDefaultLogger(logger)

	a := &App{Flags: cc, Home: home, Config: cfg, Logger: logger, cmd: cmd}
	a.Registry, a.Metrics = metrics.NewRegistry()
	a.Out = tui.NewRenderer(cmd.ErrOrStderr(), cfg.Output.NoColor)

	uiOpts := []ui.Option{ui.WithLogger(logger)}
	if !cc.Quiet {
		uiOpts = append(uiOpts, ui.WithSink(a.Out.Sink()))
	}
	a.UI = ui.New(uiOpts...)
	a.presenter = &recordingPresenter{ui: a.UI}
	if err := a.UI.Load(a.notificationsPath()); err != nil {
		logger.WithError(err).Warn("ignoring unreadable notification feed")
	}

	persister, client := openPersister(cfg, home)
	a.redis = client
	a.Session = session.New(session.WithPersister(persister), session.WithLogger(logger))

	a.Cache = cache.New(cache.WithMetrics(a.Metrics))

	clientCfg := cfg.ClientConfig()
	clientCfg.UserAgent = version.GetInfo().UserAgent()
	a.API = api.New(clientCfg,
		api.WithSession(a.Session),
		api.WithPresenter(a.presenter),
		api.WithLogger(logger),
		api.WithMetrics(a.Metrics),
	)
	a.Auth = auth.New(a.API, a.Session,
		auth.WithCache(a.Cache),
		auth.WithNotifier(a.UI),
		auth.WithLogger(logger),
		auth.WithMetrics(a.Metrics),
	)
	a.MFA = mfa.New(a.API, a.Session,
		mfa.WithCache(a.Cache),
		mfa.WithNotifier(a.UI),
		mfa.WithLogger(logger),
		mfa.WithMetrics(a.Metrics),
	)

	if err := a.Session.Restore(cmd.Context()); err != nil {
		a.UI.PresentError(err)
	}

	policy := cfg.GuardPolicy()
	if policy.InheritParentPermissions && a.Session.Snapshot().Authenticated {
		policy.Catalog = a.roleCatalog(cmd.Context())
	}
	a.Guard = guard.New(
		guard.WithPolicy(policy),
		guard.WithMetrics(a.Metrics),
		guard.WithLogger(logger),
	)
	return a, nil
}

// roleCatalog fetches every role so the guard can walk role parents. Without
// it the guard falls back to the user's own roles.
func (a *App) roleCatalog(ctx context.Context) []domain.Role {
	roles, err := cache.Fetch(ctx, a.Cache, cache.KeyRoles, a.API.Roles)
	if err != nil {
		a.Logger.WithError(err).Warn("role catalog unavailable, parent permissions are not inherited")
		return nil
	}
	return roles
}

// openPersister returns the configured session store. The redis client is
// nil for the file backend and must be closed by the caller otherwise.
func openPersister(cfg *config.Config, home string) (session.Persister, *redis.Client) {
	if cfg.Session.Backend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr, DB: cfg.Session.RedisDB})
		return session.NewRedisStore(client, cfg.Session.Profile, cfg.Session.TTL), client
	}
	return session.NewFileStore(home), nil
}

func (a *App) notificationsPath() string {
	return filepath.Join(a.Home, ui.FileName)
}

// Close persists the notification feed and releases connections.
func (a *App) Close() {
	a.MFA.Close()
	a.Auth.Close()
	if err := a.UI.Save(a.notificationsPath()); err != nil {
		a.Logger.WithError(err).Warn("failed to save notifications")
	}
	if a.Flags.Metrics {
		if err := metrics.WriteSummary(a.cmd.ErrOrStderr(), a.Registry); err != nil {
			a.Logger.WithError(err).Warn("failed to write metrics")
		}
	}
	a.Session.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// runFunc is a command body running against a wired App.
type runFunc func(ctx context.Context, app *App, args []string) error

// withApp builds the App for the command, runs fn and always closes the App,
// so notifications raised by a failing command are still saved.
func withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		err = fn(cmd.Context(), app, args)
		if err != nil && !app.Flags.Quiet && app.presenter.presented(err) {
			return &ReportedError{Err: err}
		}
		return err
	}
}
