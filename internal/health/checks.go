package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/felixgeelhaar/meetdash/internal/config"
	"github.com/felixgeelhaar/meetdash/internal/session"
)

// ConfigChecker loads the configuration file with its environment overlay.
type ConfigChecker struct {
	Home string
}

func (c *ConfigChecker) Name() string { return "config" }

func (c *ConfigChecker) Check(_ context.Context) *Result {
	path := config.Path(c.Home)
	if _, err := config.Load(c.Home); err != nil {
		return Unhealthy(err.Error()).WithDetail("path", path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Healthy("no config file, using defaults").WithDetail("path", path)
	}
	return Healthy("configuration is valid").WithDetail("path", path)
}

// HomeChecker verifies the home directory can hold the session and
// notification files.
type HomeChecker struct {
	Dir string
}

func (c *HomeChecker) Name() string { return "home" }

func (c *HomeChecker) Check(_ context.Context) *Result {
	if err := os.MkdirAll(c.Dir, 0o700); err != nil {
		return Unhealthy("cannot create home directory").WithDetail("path", c.Dir).WithDetail("error", err.Error())
	}
	f, err := os.CreateTemp(c.Dir, ".doctor-*")
	if err != nil {
		return Unhealthy("home directory is not writable").WithDetail("path", c.Dir).WithDetail("error", err.Error())
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return Healthy("home directory is writable").WithDetail("path", c.Dir)
}

// APIChecker sends one unauthenticated request to the backend. Any answer
// below 500 proves it is reachable.
type APIChecker struct {
	URL    string
	Client *http.Client
}

func (c *APIChecker) Name() string { return "api" }

func (c *APIChecker) Check(ctx context.Context) *Result {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Unhealthy("invalid API URL").WithDetail("url", c.URL).WithDetail("error", err.Error())
	}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Unhealthy("backend is unreachable").
			WithDetail("url", c.URL).
			WithDetail("error", err.Error()).
			WithLatency(latency)
	}
	_ = resp.Body.Close()

	r := Healthy("backend is reachable")
	if resp.StatusCode >= http.StatusInternalServerError {
		r = Degraded(fmt.Sprintf("backend answered %d", resp.StatusCode))
	}
	return r.WithDetail("url", c.URL).WithDetail("status", resp.StatusCode).WithLatency(latency)
}

// SessionChecker reads the saved session from the configured store.
type SessionChecker struct {
	Backend string
	Store   session.Persister
}

func (c *SessionChecker) Name() string { return "session-store" }

func (c *SessionChecker) Check(ctx context.Context) *Result {
	p, err := c.Store.Load(ctx)
	if err != nil {
		return Unhealthy("cannot read the saved session").
			WithDetail("backend", c.Backend).
			WithDetail("error", err.Error())
	}
	if p == nil || p.Token == "" || p.User == nil {
		return Healthy("no saved session").WithDetail("backend", c.Backend)
	}
	r := Healthy("saved session for "+p.User.Email).
		WithDetail("backend", c.Backend).
		WithDetail("saved_at", p.SavedAt.Format(time.RFC3339))
	if exp, ok := session.TokenExpiry(p.Token); ok {
		r.WithDetail("expires_at", exp.Format(time.RFC3339))
		if !exp.After(time.Now()) {
			r.Status = StatusDegraded
			r.Message = "saved session has expired"
		}
	}
	return r
}

// Standard returns the checks for a home directory and its configuration.
// The store is nil when the configuration could not be loaded.
func Standard(home string, cfg *config.Config, store session.Persister) []Checker {
	checks := []Checker{
		&ConfigChecker{Home: home},
		&HomeChecker{Dir: home},
	}
	if cfg == nil {
		return checks
	}
	checks = append(checks, &APIChecker{URL: cfg.API.URL, Client: &http.Client{Timeout: cfg.API.Timeout}})
	if store != nil {
		checks = append(checks, &SessionChecker{Backend: cfg.Session.Backend, Store: store})
	}
	return checks
}
