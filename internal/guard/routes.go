package guard

import (
	"net/url"
	"strings"

	"github.com/felixgeelhaar/meetdash/internal/domain"
)

// Access says how a route is guarded.
type Access string

const (
	// AccessProtected routes run the full decision table
	AccessProtected Access = "protected"
	// AccessPublic routes are for signed-out users; signed-in users go home
	AccessPublic Access = "public"
	// AccessOpen routes are always shown
	AccessOpen Access = "open"
	// AccessAlias routes redirect to RedirectTo
	AccessAlias Access = "alias"
)

// Route is one entry of the route table. Patterns are exact paths or a
// prefix ending in "/*", which also matches the bare prefix.
type Route struct {
	Pattern    string `json:"pattern" yaml:"pattern"`
	Title      string `json:"title,omitempty" yaml:"title,omitempty"`
	Access     Access `json:"access" yaml:"access"`
	Permission string `json:"permission,omitempty" yaml:"permission,omitempty"`
	RedirectTo string `json:"redirect_to,omitempty" yaml:"redirect_to,omitempty"`

	// Path is the concrete location that matched, set by Match.
	Path string `json:"-" yaml:"-"`
}

// DashboardRoutes is the dashboard's navigation table.
func DashboardRoutes() []Route {
	return []Route{
		{Pattern: PathLogin, Title: "Sign in", Access: AccessPublic},
		{Pattern: "/register", Title: "Create account", Access: AccessPublic},
		{Pattern: "/reset-password/*", Title: "Reset password", Access: AccessPublic},
		{Pattern: PathVerifyEmail, Title: "Verify email", Access: AccessOpen},
		{Pattern: PathChangePassword, Title: "Change password", Access: AccessOpen},
		{Pattern: PathUnauthorized, Title: "Unauthorized", Access: AccessOpen},

		{Pattern: PathHome, Title: "Dashboard", Access: AccessProtected},
		{Pattern: "/dashboard", Access: AccessAlias, RedirectTo: PathHome},
		{Pattern: "/users/*", Title: "Users", Access: AccessProtected},
		{Pattern: "/users/team/*", Title: "Team", Access: AccessProtected, Permission: domain.PermEditUsers},
		{Pattern: "/users/roles/*", Title: "Roles", Access: AccessProtected, Permission: domain.PermManageRoles},
		{Pattern: "/users/audit-logs/*", Title: "Audit logs", Access: AccessProtected, Permission: domain.PermViewAuditLogs},
		{Pattern: "/users/sso/*", Title: "Single sign-on", Access: AccessProtected, Permission: domain.PermManageSSO},
		{Pattern: "/events/*", Title: "Events", Access: AccessProtected},
		{Pattern: "/availability/*", Title: "Availability", Access: AccessProtected},
		{Pattern: "/integrations/*", Title: "Integrations", Access: AccessProtected},
		{Pattern: "/notifications/*", Title: "Notifications", Access: AccessProtected},
		{Pattern: "/contacts/*", Title: "Contacts", Access: AccessProtected},
		{Pattern: "/workflows/*", Title: "Workflows", Access: AccessProtected},
	}
}

// Match finds the most specific route for location. Query strings and
// trailing slashes are ignored for matching.
func Match(routes []Route, location string) (Route, bool) {
	path := normalize(location)
	best, bestLen := Route{}, -1
	for _, r := range routes {
		n, ok := matchLen(r.Pattern, path)
		if ok && n > bestLen {
			best, bestLen = r, n
		}
	}
	if bestLen < 0 {
		return Route{}, false
	}
	best.Path = location
	return best, true
}

func matchLen(pattern, path string) (int, bool) {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return len(prefix), true
		}
		return 0, false
	}
	if path == pattern {
		// exact matches beat a prefix of the same length
		return len(pattern) + 1, true
	}
	return 0, false
}

func normalize(location string) string {
	path := location
	if u, err := url.Parse(location); err == nil {
		path = u.Path
	}
	if path == "" {
		return PathHome
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = PathHome
		}
	}
	return path
}
