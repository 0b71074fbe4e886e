package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/apitest"
	"github.com/felixgeelhaar/meetdash/internal/auth"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/session"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "Sup3r-secret!"
)

// harness runs the command tree against a fake backend and a private home.
type harness struct {
	t       *testing.T
	home    string
	backend *apitest.Backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("CI", "true")
	b := apitest.New(t)
	b.AddUser(domain.User{
		Email:           testEmail,
		FirstName:       "Ada",
		LastName:        "Lovelace",
		IsEmailVerified: true,
	}, testPassword)
	return &harness{t: t, home: t.TempDir(), backend: b}
}

// run executes one invocation with JSON output and returns stdout.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{
		"--home", h.home,
		"--api-url", h.backend.URL(),
		"--format", "json",
		"--no-color",
	}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) runJSON(v any, args ...string) {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	require.NoError(h.t, json.Unmarshal([]byte(out), v), out)
}

func (h *harness) login() {
	h.t.Helper()
	_, err := h.run("auth", "login", "--email", testEmail, "--password", testPassword)
	require.NoError(h.t, err)
}

// resetFlags restores every flag to its default. Command trees are package
// globals, so values would otherwise leak between invocations.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestLoginStatusLogout(t *testing.T) {
	h := newHarness(t)

	var st status
	h.runJSON(&st, "auth", "status")
	assert.False(t, st.Authenticated)
	assert.Equal(t, "file", st.Backend)

	var res struct {
		User domain.User `json:"user"`
		Next struct {
			Kind string `json:"kind"`
		} `json:"next"`
	}
	h.runJSON(&res, "auth", "login", "--email", testEmail, "--password", testPassword)
	assert.Equal(t, testEmail, res.User.Email)
	assert.Equal(t, "allow", res.Next.Kind)
	assert.FileExists(t, filepath.Join(h.home, session.FileName))

	h.runJSON(&st, "auth", "status")
	assert.True(t, st.Authenticated)
	assert.Equal(t, testEmail, st.Email)
	assert.Equal(t, h.backend.URL(), st.API)

	var who struct {
		User domain.User `json:"user"`
	}
	h.runJSON(&who, "auth", "whoami")
	assert.Equal(t, "Ada", who.User.FirstName)

	var msg map[string]string
	h.runJSON(&msg, "auth", "logout")
	assert.Equal(t, "Signed out.", msg["message"])
	assert.NoFileExists(t, filepath.Join(h.home, session.FileName))

	h.runJSON(&msg, "auth", "logout")
	assert.Equal(t, "Not signed in.", msg["message"])

	_, err := h.run("auth", "whoami")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotAuthenticated))
}

func TestLoginRejectedIsReportedOnce(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("auth", "login", "--email", testEmail, "--password", "wrong")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidCredentials))
	assert.True(t, Reported(err))

	_, err = h.run("--quiet", "auth", "login", "--email", testEmail, "--password", "wrong")
	require.Error(t, err)
	assert.False(t, Reported(err))
}

func TestLoginWithoutTerminalNeedsFlags(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("auth", "login", "--email", testEmail)
	require.Error(t, err)
	var de *errors.DashError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, errors.ErrCodeValidationRequired, de.Code)
	assert.Contains(t, de.Fields, "password")
}

func TestOpenDecisions(t *testing.T) {
	h := newHarness(t)

	decide := func(path string) map[string]string {
		var d map[string]string
		h.runJSON(&d, "open", path)
		return d
	}

	d := decide("/users/profile")
	assert.Equal(t, "redirect", d["kind"])
	assert.Equal(t, "/login", d["target"])
	assert.Equal(t, "/users/profile", d["from"])

	h.login()
	assert.Equal(t, "allow", decide("/users/profile")["kind"])
	assert.Equal(t, "/", decide("/login")["target"])
	assert.Equal(t, "/unauthorized", decide("/users/team")["target"])
	assert.Equal(t, "not_found", decide("/nowhere")["kind"])

	h.backend.SetStatus(testEmail, domain.StatusSuspended)
	// the stored user is only refreshed by a new login
	assert.Equal(t, "allow", decide("/users/profile")["kind"])
}

func TestProtectedCommandsNeedSession(t *testing.T) {
	h := newHarness(t)

	for _, args := range [][]string{
		{"profile", "show"},
		{"sessions", "list"},
		{"mfa", "devices"},
	} {
		_, err := h.run(args...)
		assert.True(t, errors.HasCode(err, errors.ErrCodeNotAuthenticated), args)
	}
	assert.Zero(t, h.backend.Calls(http.MethodGet, "/users/profile/"))
}

func TestTeamPagesNeedPermission(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, err := h.run("invitations", "list")
	var de *errors.DashError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, errors.ErrCodeForbidden, de.Code)
	assert.Contains(t, de.Fields["permission"], domain.PermEditUsers)
}

func TestMFASetupWithCode(t *testing.T) {
	h := newHarness(t)
	h.login()

	var res map[string][]string
	h.runJSON(&res, "mfa", "setup", "--type", "totp", "--name", "Laptop", "--code", apitest.ValidOTP)
	assert.Len(t, res["backup_codes"], 8)

	var devices []domain.MFADevice
	h.runJSON(&devices, "mfa", "devices")
	require.Len(t, devices, 1)
	assert.Equal(t, "Laptop", devices[0].Name)

	var who struct {
		User domain.User `json:"user"`
	}
	h.runJSON(&who, "auth", "whoami")
	assert.True(t, who.User.IsMFAEnabled)
}

func TestMFASetupWithoutCodeCancels(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, err := h.run("mfa", "setup", "--type", "totp", "--name", "Laptop")
	var de *errors.DashError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Fields, "code")
	assert.Zero(t, h.backend.Calls(http.MethodPost, "/users/mfa/verify/"))
}

func TestMFADisableNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, err := h.run("mfa", "disable", "--password", testPassword)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMFAConfirmationRequired))
	assert.Zero(t, h.backend.Calls(http.MethodPost, "/users/mfa/disable/"))
}

func TestNotificationsPersistBetweenRuns(t *testing.T) {
	h := newHarness(t)
	h.login()
	assert.FileExists(t, filepath.Join(h.home, "notifications.json"))

	var list []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		Read    bool   `json:"read"`
	}
	h.runJSON(&list, "notifications", "list")
	require.NotEmpty(t, list)
	assert.Equal(t, auth.MsgWelcomeBack, list[0].Message)
	assert.False(t, list[0].Read)

	_, err := h.run("notifications", "read", list[0].ID)
	require.NoError(t, err)
	h.runJSON(&list, "notifications", "list", "--unread")
	assert.Empty(t, list)

	_, err = h.run("notifications", "read", "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeAPINotFound))

	_, err = h.run("notifications", "clear")
	require.NoError(t, err)
	h.runJSON(&list, "notifications", "list")
	assert.Empty(t, list)
}

func TestConfigSetGet(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("config", "set", "api.timeout", "15s")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(h.home, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "15s")

	out, err := h.run("config", "get", "api.timeout")
	require.NoError(t, err)
	assert.Equal(t, "15s\n", out)

	_, err = h.run("config", "set", "nope", "x")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigKey))

	_, err = h.run("config", "set", "session.backend", "floppy")
	assert.Error(t, err)
}

func TestVersionJSON(t *testing.T) {
	h := newHarness(t)
	var info map[string]string
	h.runJSON(&info, "version")
	assert.NotEmpty(t, info["version"])
	assert.NotEmpty(t, info["platform"])
}

func TestDoctor(t *testing.T) {
	h := newHarness(t)
	h.login()

	var report struct {
		Status string `json:"status"`
		Checks []struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"checks"`
	}
	h.runJSON(&report, "doctor")
	assert.Equal(t, "healthy", report.Status)
	require.Len(t, report.Checks, 4)
	assert.Equal(t, "session-store", report.Checks[3].Name)
	assert.Contains(t, report.Checks[3].Message, testEmail)

	require.NoError(t, os.WriteFile(filepath.Join(h.home, "config.yaml"), []byte("session:\n  backend: floppy\n"), 0o600))
	_, err := h.run("doctor")
	assert.Error(t, err)
}

func TestGuardInheritsParentPermissions(t *testing.T) {
	h := newHarness(t)
	organizer := h.backend.Roles()[1]
	require.NotNil(t, organizer.Parent)
	h.backend.AddUser(domain.User{
		Email:           "grace@example.com",
		FirstName:       "Grace",
		IsEmailVerified: true,
		Roles:           []domain.Role{organizer},
	}, testPassword)
	_, err := h.run("auth", "login", "--email", "grace@example.com", "--password", testPassword)
	require.NoError(t, err)

	_, err = h.run("invitations", "list")
	assert.True(t, errors.HasCode(err, errors.ErrCodeForbidden))

	_, err = h.run("config", "set", "guard.inherit_parent_permissions", "true")
	require.NoError(t, err)
	var invites []domain.Invitation
	h.runJSON(&invites, "invitations", "list")
	assert.Empty(t, invites)
}

func TestSSOProvidersNeedPermission(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, err := h.run("sso", "saml", "list")
	var de *errors.DashError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, errors.ErrCodeForbidden, de.Code)
	assert.Contains(t, de.Fields["permission"], domain.PermManageSSO)
	assert.Zero(t, h.backend.Calls(http.MethodGet, "/users/sso/saml/"))
}

func TestSSOAdminManagesProviders(t *testing.T) {
	h := newHarness(t)
	h.backend.AddUser(domain.User{
		Email:           "root@example.com",
		FirstName:       "Root",
		IsEmailVerified: true,
		Roles:           []domain.Role{h.backend.Roles()[0]},
	}, testPassword)
	_, err := h.run("auth", "login", "--email", "root@example.com", "--password", testPassword)
	require.NoError(t, err)

	cert := filepath.Join(t.TempDir(), "idp.pem")
	require.NoError(t, os.WriteFile(cert, []byte("-----BEGIN CERTIFICATE-----\n"), 0o600))

	_, err = h.run("sso", "saml", "create", "--name", "Acme", "--domain", "acme.test", "--entity-id", "urn:acme")
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationRequired), "missing --sso-url without a terminal")

	var created domain.SAMLConfiguration
	h.runJSON(&created, "sso", "saml", "create",
		"--name", "Acme", "--domain", "acme.test", "--entity-id", "urn:acme",
		"--sso-url", "https://idp.acme.test/sso", "--cert-file", cert)
	assert.Equal(t, "acme.test", created.OrganizationDomain)
	assert.True(t, created.IsActive)

	_, err = h.run("sso", "saml", "update", created.ID, "--sso-url", "not a url")
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))

	_, err = h.run("sso", "saml", "update", created.ID)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationRequired))

	var updated domain.SAMLConfiguration
	h.runJSON(&updated, "sso", "saml", "update", created.ID, "--active=false")
	assert.False(t, updated.IsActive)
	assert.Equal(t, "urn:acme", updated.EntityID)

	var list []domain.SAMLConfiguration
	h.runJSON(&list, "sso", "saml", "list")
	require.Len(t, list, 1)

	var msg map[string]string
	h.runJSON(&msg, "sso", "saml", "delete", created.ID)
	assert.Equal(t, "Nothing deleted.", msg["message"])
	h.runJSON(&msg, "sso", "saml", "delete", created.ID, "--yes")
	assert.Empty(t, h.backend.SAMLConfigurations())

	var oidc domain.OIDCConfiguration
	h.runJSON(&oidc, "sso", "oidc", "create",
		"--name", "Acme", "--domain", "acme.test", "--issuer", "https://login.acme.test",
		"--client-id", "meetdash", "--client-secret", "s3cret", "--scopes", "openid, email")
	assert.Equal(t, []string{"openid", "email"}, oidc.Scopes)
	req, ok := h.backend.Last(http.MethodPost, "/users/sso/oidc/")
	require.True(t, ok)
	assert.Contains(t, string(req.Body), `"client_secret":"s3cret"`)
}

func TestSSODiscoverWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.backend.AddSAMLConfiguration(domain.SAMLConfiguration{
		OrganizationName:   "Acme",
		OrganizationDomain: "acme.test",
		SSOURL:             "https://idp.acme.test/sso",
		IsActive:           true,
	})

	var d struct {
		SSOAvailable bool   `json:"sso_available"`
		SSOType      string `json:"sso_type"`
	}
	h.runJSON(&d, "sso", "discover", "ACME.test")
	assert.True(t, d.SSOAvailable)
	assert.Equal(t, "saml", d.SSOType)

	var resp map[string]string
	h.runJSON(&resp, "sso", "initiate", "--type", "saml", "--domain", "acme.test")
	assert.Equal(t, "https://idp.acme.test/sso", resp["auth_url"])

	_, err := h.run("sso", "sessions")
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotAuthenticated))
}
