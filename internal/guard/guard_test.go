package guard

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/metrics"
	"github.com/felixgeelhaar/meetdash/internal/session"
)

func signedIn(status domain.AccountStatus, roles ...domain.Role) session.State {
	return session.State{
		User:          &domain.User{ID: "u1", Email: "u@example.com", AccountStatus: status, Roles: roles},
		Token:         "tok",
		Authenticated: true,
	}
}

func roleWith(id string, parent *string, codenames ...string) domain.Role {
	r := domain.Role{ID: id, Name: id, Parent: parent}
	for _, c := range codenames {
		r.Permissions = append(r.Permissions, domain.Permission{ID: "p-" + c, Codename: c})
	}
	return r
}

func TestDecisionTable(t *testing.T) {
	editor := roleWith("editor", nil, domain.PermEditUsers)

	tests := []struct {
		name     string
		state    session.State
		required string
		want     Decision
	}{
		{
			name:  "loading waits",
			state: session.State{Loading: true},
			want:  Decision{Kind: KindWait},
		},
		{
			name:  "loading wins over everything",
			state: func() session.State { s := signedIn(domain.StatusSuspended); s.Loading = true; return s }(),
			want:  Decision{Kind: KindWait},
		},
		{
			name:  "anonymous goes to login remembering origin",
			state: session.State{},
			want:  Decision{Kind: KindRedirect, Target: PathLogin, From: "/users/team"},
		},
		{
			name:  "pending verification",
			state: signedIn(domain.StatusPendingVerification),
			want:  Decision{Kind: KindRedirect, Target: PathVerifyEmail},
		},
		{
			name:  "password expired",
			state: signedIn(domain.StatusPasswordExpired),
			want:  Decision{Kind: KindRedirect, Target: PathChangePassword},
		},
		{
			name:  "grace period treated conservatively",
			state: signedIn(domain.StatusPasswordExpiredGracePeriod),
			want:  Decision{Kind: KindRedirect, Target: PathLogin},
		},
		{
			name:  "suspended",
			state: signedIn(domain.StatusSuspended, editor),
			want:  Decision{Kind: KindRedirect, Target: PathLogin},
		},
		{
			name:  "inactive",
			state: signedIn(domain.StatusInactive),
			want:  Decision{Kind: KindRedirect, Target: PathLogin},
		},
		{
			name:     "missing permission",
			state:    signedIn(domain.StatusActive, roleWith("viewer", nil)),
			required: domain.PermEditUsers,
			want:     Decision{Kind: KindRedirect, Target: PathUnauthorized},
		},
		{
			name:     "permission from any role",
			state:    signedIn(domain.StatusActive, roleWith("viewer", nil), editor),
			required: domain.PermEditUsers,
			want:     Decision{Kind: KindAllow},
		},
		{
			name:  "active without requirement",
			state: signedIn(domain.StatusActive),
			want:  Decision{Kind: KindAllow},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.state, tt.required, "/users/team")
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Target, got.Target)
			assert.Equal(t, tt.want.From, got.From)
		})
	}
}

func TestParentPermissionsIgnoredByDefault(t *testing.T) {
	admin := "admin"
	catalog := []domain.Role{roleWith(admin, nil, domain.PermManageRoles)}
	child := roleWith("organizer", &admin)
	st := signedIn(domain.StatusActive, child)

	g := New(WithPolicy(Policy{Catalog: catalog}))
	d := g.Decide(st, Route{Pattern: "/x", Access: AccessProtected, Permission: domain.PermManageRoles})
	assert.Equal(t, PathUnauthorized, d.Target)

	g = New(WithPolicy(Policy{Catalog: catalog, InheritParentPermissions: true}))
	d = g.Decide(st, Route{Pattern: "/x", Access: AccessProtected, Permission: domain.PermManageRoles})
	assert.True(t, d.Allowed())
}

func TestInheritanceCycleTerminates(t *testing.T) {
	a, b := "a", "b"
	catalog := []domain.Role{roleWith(a, &b), roleWith(b, &a)}
	st := signedIn(domain.StatusActive, roleWith("c", &a))

	g := New(WithPolicy(Policy{Catalog: catalog, InheritParentPermissions: true}))
	d := g.Decide(st, Route{Access: AccessProtected, Permission: "nothing"})
	assert.Equal(t, KindRedirect, d.Kind)
}

func TestGracePeriodPolicy(t *testing.T) {
	g := New(WithPolicy(Policy{GracePeriodTarget: PathChangePassword}))
	d := g.Navigate(signedIn(domain.StatusPasswordExpiredGracePeriod), "/events")
	assert.Equal(t, PathChangePassword, d.Target)

	g = New(WithPolicy(Policy{}))
	assert.Equal(t, PathLogin, g.Policy().GracePeriodTarget)
}

func TestNavigate(t *testing.T) {
	reg, m := metrics.NewRegistry()
	require.NotNil(t, reg)
	g := New(WithMetrics(m))
	active := signedIn(domain.StatusActive)

	tests := []struct {
		name   string
		state  session.State
		path   string
		kind   Kind
		target string
	}{
		{"home", active, "/", KindAllow, ""},
		{"alias", active, "/dashboard", KindRedirect, PathHome},
		{"module prefix", active, "/events/123/edit", KindAllow, ""},
		{"bare module", active, "/events", KindAllow, ""},
		{"trailing slash and query", active, "/availability/?week=2", KindAllow, ""},
		{"protected sub-route needs permission", active, "/users/team", KindRedirect, PathUnauthorized},
		{"users overview open to all", active, "/users/profile", KindAllow, ""},
		{"public while signed in", active, "/login", KindRedirect, PathHome},
		{"public while signed out", session.State{}, "/register", KindAllow, ""},
		{"public while loading", session.State{Loading: true}, "/login", KindWait, ""},
		{"unverified user sent to verify email", signedIn(domain.StatusPendingVerification), "/users/profile", KindRedirect, PathVerifyEmail},
		{"open page", signedIn(domain.StatusPendingVerification), PathVerifyEmail, KindAllow, ""},
		{"unknown", active, "/nope", KindNotFound, ""},
		{"anonymous", session.State{}, "/workflows", KindRedirect, PathLogin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Navigate(tt.state, tt.path)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.target, d.Target)
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardDecisions.WithLabelValues("redirect", PathUnauthorized)))
}

func TestNavigateKeepsOrigin(t *testing.T) {
	d := New().Navigate(session.State{}, "/events/42?tab=guests")
	assert.Equal(t, "/events/42?tab=guests", d.From)
}

func TestMatchPrefersMostSpecific(t *testing.T) {
	r, ok := Match(DashboardRoutes(), "/users/roles/7")
	require.True(t, ok)
	assert.Equal(t, "/users/roles/*", r.Pattern)
	assert.Equal(t, domain.PermManageRoles, r.Permission)

	r, ok = Match(DashboardRoutes(), "/users")
	require.True(t, ok)
	assert.Equal(t, "/users/*", r.Pattern)

	_, ok = Match(DashboardRoutes(), "/usersx")
	assert.False(t, ok)
}
