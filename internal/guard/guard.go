// Package guard decides whether a navigation target may be shown for the
// current session, and where to send the user otherwise.
//
// Authorization outcomes are decisions, never errors.
package guard

import (
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/log"
	"github.com/felixgeelhaar/meetdash/internal/metrics"
	"github.com/felixgeelhaar/meetdash/internal/session"
)

// Redirect targets.
const (
	PathHome           = "/"
	PathLogin          = "/login"
	PathVerifyEmail    = "/verify-email"
	PathChangePassword = "/change-password"
	PathUnauthorized   = "/unauthorized"
)

// Kind is the outcome of a decision.
type Kind string

const (
	// KindWait means the session is still resolving
	KindWait Kind = "wait"
	// KindAllow means the route may be shown
	KindAllow Kind = "allow"
	// KindRedirect means the user must be sent to Target
	KindRedirect Kind = "redirect"
	// KindNotFound means no route matches the path
	KindNotFound Kind = "not_found"
)

// Decision is the guard's answer for one navigation.
type Decision struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// From is the originally requested location, kept for post-login return.
	From   string `json:"from,omitempty" yaml:"from,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Allowed reports whether the route may be shown.
func (d Decision) Allowed() bool { return d.Kind == KindAllow }

// Policy holds the behaviours the dashboard has not settled on.
type Policy struct {
	// GracePeriodTarget is where password_expired_grace_period accounts go.
	GracePeriodTarget string
	// InheritParentPermissions lets a role grant its ancestors' permissions.
	InheritParentPermissions bool
	// Catalog resolves role parents when inheritance is on.
	Catalog []domain.Role
}

// DefaultPolicy treats grace-period accounts like other inactive ones and
// applies no role inheritance.
func DefaultPolicy() Policy {
	return Policy{GracePeriodTarget: PathLogin}
}

// Guard evaluates navigations against a route table.
type Guard struct {
	policy  Policy
	routes  []Route
	metrics *metrics.Metrics
	logger  *log.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(g *Guard) { g.policy = p }
}

// WithRoutes replaces the dashboard route table.
func WithRoutes(routes []Route) Option {
	return func(g *Guard) { g.routes = routes }
}

// WithMetrics records decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// New creates a guard over the dashboard routes.
func New(opts ...Option) *Guard {
	g := &Guard{policy: DefaultPolicy(), routes: DashboardRoutes()}
	for _, opt := range opts {
		opt(g)
	}
	if g.policy.GracePeriodTarget == "" {
		g.policy.GracePeriodTarget = PathLogin
	}
	g.logger = log.OrDiscard(g.logger).WithGroup("guard")
	return g
}

// Policy returns the active policy.
func (g *Guard) Policy() Policy { return g.policy }

// Routes returns the route table.
func (g *Guard) Routes() []Route {
	return append([]Route(nil), g.routes...)
}

// Navigate resolves path against the route table and decides.
func (g *Guard) Navigate(st session.State, path string) Decision {
	route, ok := Match(g.routes, path)
	if !ok {
		return g.record(Decision{Kind: KindNotFound, From: path, Reason: "no route matches"})
	}
	return g.Decide(st, route)
}

// Decide applies the decision table to a matched route.
func (g *Guard) Decide(st session.State, route Route) Decision {
	switch route.Access {
	case AccessAlias:
		return g.record(Decision{Kind: KindRedirect, Target: route.RedirectTo, From: route.Path, Reason: "alias"})
	case AccessOpen:
		return g.record(Decision{Kind: KindAllow})
	case AccessPublic:
		switch {
		case st.Loading:
			return g.record(Decision{Kind: KindWait, Reason: "session is resolving"})
		case st.Authenticated:
			return g.record(Decision{Kind: KindRedirect, Target: PathHome, From: route.Path, Reason: "already signed in"})
		}
		return g.record(Decision{Kind: KindAllow})
	}
	return g.record(decide(st, route.Permission, route.Path, g.policy))
}

func (g *Guard) record(d Decision) Decision {
	g.metrics.RecordGuardDecision(string(d.Kind), d.Target)
	g.logger.Debug("navigation decided", "kind", d.Kind, "target", d.Target, "from", d.From)
	return d
}

// Decide evaluates the protected-route table for st with the default policy.
// required may be empty.
func Decide(st session.State, required, from string) Decision {
	return decide(st, required, from, DefaultPolicy())
}

func decide(st session.State, required, from string, p Policy) Decision {
	if st.Loading {
		return Decision{Kind: KindWait, Reason: "session is resolving"}
	}
	if !st.Authenticated || st.User == nil {
		return Decision{Kind: KindRedirect, Target: PathLogin, From: from, Reason: "not signed in"}
	}

	switch st.User.AccountStatus {
	case domain.StatusActive:
	case domain.StatusPendingVerification:
		return Decision{Kind: KindRedirect, Target: PathVerifyEmail, Reason: "email not verified"}
	case domain.StatusPasswordExpired:
		return Decision{Kind: KindRedirect, Target: PathChangePassword, Reason: "password expired"}
	case domain.StatusPasswordExpiredGracePeriod:
		target := p.GracePeriodTarget
		if target == "" {
			target = PathLogin
		}
		return Decision{Kind: KindRedirect, Target: target, Reason: "password expiry grace period"}
	default:
		return Decision{Kind: KindRedirect, Target: PathLogin, Reason: "account " + string(st.User.AccountStatus)}
	}

	if required != "" && !holds(st.User, required, p) {
		return Decision{Kind: KindRedirect, Target: PathUnauthorized, Reason: "missing permission " + required}
	}
	return Decision{Kind: KindAllow}
}

// holds is a flat test over every role's permissions, optionally walking
// role parents through the catalog.
func holds(u *domain.User, codename string, p Policy) bool {
	if u.HasPermission(codename) {
		return true
	}
	if !p.InheritParentPermissions {
		return false
	}
	byID := make(map[string]domain.Role, len(p.Catalog))
	for _, r := range p.Catalog {
		byID[r.ID] = r
	}
	for _, r := range u.Roles {
		seen := map[string]bool{r.ID: true}
		for parent := r.Parent; parent != nil && !seen[*parent]; {
			seen[*parent] = true
			pr, ok := byID[*parent]
			if !ok {
				break
			}
			if pr.HasPermission(codename) {
				return true
			}
			parent = pr.Parent
		}
	}
	return false
}
