package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/apitest"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/metrics"
	"github.com/felixgeelhaar/meetdash/internal/session"
)

type recordingPresenter struct {
	mu   sync.Mutex
	errs []error
}

func (p *recordingPresenter) PresentError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

func (p *recordingPresenter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.errs)
}

type fixture struct {
	backend   *apitest.Backend
	store     *session.Store
	presenter *recordingPresenter
	metrics   *metrics.Metrics
	client    *Client
	token     string
}

const (
	testEmail    = "ada@example.com"
	testPassword = "Secret1!"
)

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		backend:   apitest.New(t),
		store:     session.New(),
		presenter: &recordingPresenter{},
	}
	t.Cleanup(f.store.Close)
	_, f.metrics = metrics.NewRegistry()

	f.token = f.backend.AddUser(domain.User{
		Email:     testEmail,
		FirstName: "Ada",
		LastName:  "Lovelace",
	}, testPassword)

	cfg := DefaultConfig()
	cfg.BaseURL = f.backend.URL()
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}
	f.client = New(cfg,
		WithSession(f.store),
		WithPresenter(f.presenter),
		WithMetrics(f.metrics),
	)
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	u, ok := f.backend.User(testEmail)
	require.True(t, ok)
	f.store.Login(&u, f.token)
}

func TestLoginReturnsUserAndToken(t *testing.T) {
	f := newFixture(t)

	resp, err := f.client.Login(context.Background(), Credentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.User)
	assert.Equal(t, testEmail, resp.User.Email)

	req, ok := f.backend.Last(http.MethodPost, "/users/login/")
	require.True(t, ok)
	assert.Empty(t, req.Header.Get("Authorization"), "logged-out requests carry no token")
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	_, err = uuid.Parse(req.Header.Get(RequestIDHeader))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"email":"ada@example.com","password":"Secret1!","remember_me":false}`, string(req.Body))
}

func TestInvalidCredentialsPresentedOnce(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.Login(context.Background(), Credentials{Email: testEmail, Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidCredentials, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "Invalid credentials")
	assert.Equal(t, 1, f.presenter.count())
}

func TestAuthorizationHeaderScheme(t *testing.T) {
	t.Run("token scheme by default", func(t *testing.T) {
		f := newFixture(t)
		f.login(t)

		_, err := f.client.Profile(context.Background())
		require.NoError(t, err)
		req, _ := f.backend.Last(http.MethodGet, "/users/profile/")
		assert.Equal(t, "Token "+f.token, req.Header.Get("Authorization"))
	})

	t.Run("bearer when configured", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.AuthScheme = "Bearer" })
		f.backend.Scheme = "Bearer"
		f.login(t)

		_, err := f.client.Profile(context.Background())
		require.NoError(t, err)
		req, _ := f.backend.Last(http.MethodGet, "/users/profile/")
		assert.Equal(t, "Bearer "+f.token, req.Header.Get("Authorization"))
	})
}

func TestUnauthorizedOnAuthenticatedCallLogsOut(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.RevokeTokens(testEmail)

	_, err := f.client.Sessions(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTokenExpired, errors.CodeOf(err))
	assert.False(t, f.store.Snapshot().Authenticated)
	assert.Equal(t, 1, f.presenter.count())
}

func TestFieldErrorsMapped(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.Register(context.Background(), Registration{
		Email: testEmail, FirstName: "A", LastName: "B",
		Password: "x", PasswordConfirm: "x", TermsAccepted: true,
	})
	require.Error(t, err)

	var de *errors.DashError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, errors.ErrCodeAPIBadRequest, de.Code)
	assert.Equal(t, http.StatusBadRequest, de.Status)
	assert.Equal(t, "user with this email already exists.", de.Fields["email"])
}

func TestErrorBodyShapes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		code   errors.ErrorCode
		msg    string
	}{
		{"detail", http.StatusForbidden, map[string]string{"detail": "Nope."}, errors.ErrCodeForbidden, "Nope."},
		{"non field errors", http.StatusBadRequest, map[string][]string{"non_field_errors": {"Bad combo."}}, errors.ErrCodeAPIBadRequest, "Bad combo."},
		{"message", http.StatusConflict, map[string]string{"message": "Taken."}, errors.ErrCodeAPIConflict, "Taken."},
		{"not found", http.StatusNotFound, nil, errors.ErrCodeAPINotFound, "Not found"},
		{"rate limited", http.StatusTooManyRequests, nil, errors.ErrCodeAPIRateLimited, "Too many requests"},
		{"teapot", http.StatusTeapot, nil, errors.ErrCodeAPIRequest, "status 418"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.login(t)
			f.backend.Fail(http.MethodPost, "/users/mfa/resend-sms/", tt.status, tt.body)

			_, err := f.client.ResendSMS(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRetriesIdempotentServerErrors(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.Fail(http.MethodGet, "/users/roles/", http.StatusServiceUnavailable, nil)
	f.backend.Fail(http.MethodGet, "/users/roles/", http.StatusBadGateway, nil)

	roles, err := f.client.Roles(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, roles)
	assert.Equal(t, 3, f.backend.Calls(http.MethodGet, "/users/roles/"))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.APIRetries.WithLabelValues("/users/roles/")))
	assert.Zero(t, f.presenter.count())
}

func TestDoesNotRetryPost(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.Fail(http.MethodPost, "/users/sessions/revoke-all/", http.StatusInternalServerError, nil)

	_, err := f.client.RevokeAllSessions(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAPIServer, errors.CodeOf(err))
	assert.Equal(t, 1, f.backend.Calls(http.MethodPost, "/users/sessions/revoke-all/"))
}

func TestCircuitBreakerOpens(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.MaxRetries = 0
		c.Breaker.MinRequests = 2
		c.Breaker.FailureRatio = 0.5
		c.Breaker.Timeout = time.Minute
	})
	f.login(t)
	for i := 0; i < 2; i++ {
		f.backend.Fail(http.MethodGet, "/users/sessions/", http.StatusInternalServerError, nil)
	}

	for i := 0; i < 2; i++ {
		_, err := f.client.Sessions(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, f.client.BreakerState())

	_, err := f.client.Sessions(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAPICircuitOpen, errors.CodeOf(err))
	assert.Equal(t, 2, f.backend.Calls(http.MethodGet, "/users/sessions/"))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.BreakerState.WithLabelValues("meetdash-api")))
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Breaker.MinRequests = 1
		c.Breaker.FailureRatio = 0.1
	})

	for i := 0; i < 3; i++ {
		_, err := f.client.Login(context.Background(), Credentials{Email: testEmail, Password: "wrong"})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, f.client.BreakerState())
}

func TestNetworkError(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxRetries = 0 })
	f.backend.Server.Close()

	_, err := f.client.Login(context.Background(), Credentials{Email: testEmail, Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAPINetwork, errors.CodeOf(err))
	assert.Equal(t, 1, f.presenter.count())
}

func TestCancelledRequestNotPresented(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	release := f.backend.Block(http.MethodGet, "/users/profile/")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.client.Profile(ctx)
	require.Error(t, err)
	assert.Zero(t, f.presenter.count())
}

func TestLogoutFailureNotPresented(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.Fail(http.MethodPost, "/users/logout/", http.StatusInternalServerError, nil)

	err := f.client.Logout(context.Background())
	require.Error(t, err)
	assert.Zero(t, f.presenter.count())
}

func TestUpdateProfileJSON(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	name := "Countess"
	public := false

	p, err := f.client.UpdateProfile(context.Background(), ProfileUpdate{DisplayName: &name, PublicProfile: &public})
	require.NoError(t, err)
	assert.Equal(t, "Countess", p.DisplayName)

	req, _ := f.backend.Last(http.MethodPatch, "/users/profile/")
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"display_name":"Countess","public_profile":false}`, string(req.Body))
}

func TestUpdateProfileMultipart(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	bio := "Analyst"

	p, err := f.client.UpdateProfile(context.Background(), ProfileUpdate{
		Bio:            &bio,
		ProfilePicture: &File{Name: "ada.png", Data: []byte("\x89PNG")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Analyst", p.Bio)
	require.NotNil(t, p.ProfilePicture)
	assert.Equal(t, "/media/ada.png", *p.ProfilePicture)

	req, _ := f.backend.Last(http.MethodPatch, "/users/profile/")
	assert.True(t, strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data"))
}

func TestProfileUpdateIsEmpty(t *testing.T) {
	assert.True(t, ProfileUpdate{}.IsEmpty())
	s := ""
	assert.False(t, ProfileUpdate{Bio: &s}.IsEmpty())
	assert.False(t, ProfileUpdate{BrandLogo: &File{Name: "x"}}.IsEmpty())
}

func TestListShapes(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	roles, err := f.client.Roles(context.Background())
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	perms, err := f.client.Permissions(context.Background())
	require.NoError(t, err, "paginated envelope")
	assert.Len(t, perms, 5)
}

func TestAuditLogPagination(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	for i := 0; i < 25; i++ {
		f.backend.AddAuditLog(domain.AuditLog{ID: fmt.Sprint(i), Action: "login", CreatedAt: time.Now()})
	}

	first, err := f.client.AuditLogs(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 25, first.Count)
	assert.Len(t, first.Results, 20)
	assert.NotNil(t, first.Next)

	second, err := f.client.AuditLogs(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, second.Results, 5)
	assert.Nil(t, second.Next)
}

func TestSessionsRevoke(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.AddSession(testEmail, domain.UserSession{ID: "s-1", IsCurrent: true})
	f.backend.AddSession(testEmail, domain.UserSession{ID: "s-2"})
	f.backend.AddSession(testEmail, domain.UserSession{ID: "s-3"})

	_, err := f.client.RevokeSession(context.Background(), "s-2")
	require.NoError(t, err)
	_, err = f.client.RevokeSession(context.Background(), "missing")
	assert.Equal(t, errors.ErrCodeAPINotFound, errors.CodeOf(err))

	_, err = f.client.RevokeAllSessions(context.Background())
	require.NoError(t, err)
	list, err := f.client.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s-1", list[0].ID)
}

func TestMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	_, err := f.client.RevokeSession(context.Background(), "abc123")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.metrics.APIRequests.WithLabelValues(http.MethodPost, "/users/sessions/:id/revoke/", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Errors.WithLabelValues(string(errors.ErrCodeAPINotFound))))
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/users/profile/", endpointLabel("/users/profile/"))
	assert.Equal(t, "/users/sessions/:id/revoke/", endpointLabel("/users/sessions/9f1c2e/revoke/"))
	assert.Equal(t, "/users/audit-logs/", endpointLabel("/users/audit-logs/?page=2"))
	assert.Equal(t, "/users/mfa/backup-codes/regenerate/", endpointLabel("/users/mfa/backup-codes/regenerate/"))
	assert.Equal(t, "/users/sso/discovery/", endpointLabel("/users/sso/discovery/?domain=acme.test"))
}

func TestDefaults(t *testing.T) {
	c := New(Config{BaseURL: "http://example.test/api/v1/"})
	cfg := c.Config()
	assert.Equal(t, "http://example.test/api/v1", cfg.BaseURL)
	assert.Equal(t, "Token", cfg.AuthScheme)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "meetdash-api", cfg.Breaker.Name)
}

func TestPresenterFunc(t *testing.T) {
	var got error
	p := PresenterFunc(func(err error) { got = err })
	p.PresentError(fmt.Errorf("x"))
	assert.EqualError(t, got, "x")
}

func (f *fixture) loginAdmin(t *testing.T) {
	t.Helper()
	const email = "root@example.com"
	tok := f.backend.AddUser(domain.User{
		Email: email,
		Roles: []domain.Role{f.backend.Roles()[0]},
	}, testPassword)
	u, ok := f.backend.User(email)
	require.True(t, ok)
	f.store.Login(&u, tok)
}

func strPtr(s string) *string { return &s }

func TestSAMLConfigurationLifecycle(t *testing.T) {
	f := newFixture(t)
	f.loginAdmin(t)
	ctx := context.Background()

	created, err := f.client.CreateSAMLConfiguration(ctx, SAMLConfig{
		OrganizationName:   strPtr("Acme"),
		OrganizationDomain: strPtr("acme.test"),
		EntityID:           strPtr("https://idp.acme.test/metadata"),
		SSOURL:             strPtr("https://idp.acme.test/sso"),
		X509Cert:           strPtr("-----BEGIN CERTIFICATE-----"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.Equal(t, "email", created.EmailAttribute)

	req, ok := f.backend.Last(http.MethodPost, "/users/sso/saml/")
	require.True(t, ok)
	assert.Contains(t, string(req.Body), `"x509_cert"`)
	assert.NotContains(t, string(req.Body), `"slo_url"`, "unset fields are not sent")

	inactive := false
	updated, err := f.client.UpdateSAMLConfiguration(ctx, created.ID, SAMLConfig{IsActive: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "Acme", updated.OrganizationName)

	list, err := f.client.SAMLConfigurations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.client.DeleteSAMLConfiguration(ctx, created.ID))
	err = f.client.DeleteSAMLConfiguration(ctx, created.ID)
	assert.Equal(t, errors.ErrCodeAPINotFound, errors.CodeOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.metrics.APIRequests.WithLabelValues(http.MethodDelete, "/users/sso/saml/:id/", "404")))
}

func TestOIDCCreateRequiresSecret(t *testing.T) {
	f := newFixture(t)
	f.loginAdmin(t)
	ctx := context.Background()

	_, err := f.client.CreateOIDCConfiguration(ctx, OIDCConfig{
		OrganizationName:   strPtr("Acme"),
		OrganizationDomain: strPtr("acme.test"),
		Issuer:             strPtr("https://login.acme.test"),
		ClientID:           strPtr("meetdash"),
	})
	var de *errors.DashError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Fields, "client_secret")

	created, err := f.client.CreateOIDCConfiguration(ctx, OIDCConfig{
		OrganizationName:   strPtr("Acme"),
		OrganizationDomain: strPtr("acme.test"),
		Issuer:             strPtr("https://login.acme.test"),
		ClientID:           strPtr("meetdash"),
		ClientSecret:       strPtr("s3cret"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "email", "profile"}, created.Scopes)
}

func TestSSOConfigurationNeedsPermission(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	_, err := f.client.SAMLConfigurations(context.Background())
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
	assert.True(t, f.store.Snapshot().Authenticated, "403 keeps the session")
}

func TestSSOSessionsEnvelope(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.backend.AddSSOSession(testEmail, domain.SSOSession{ID: "sso-1", SSOType: domain.SSOOIDC, ProviderName: "Acme"})
	f.backend.AddSSOSession(testEmail, domain.SSOSession{ID: "sso-2", SSOType: domain.SSOSAML, ProviderName: "Acme"})
	ctx := context.Background()

	list, err := f.client.SSOSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SSOOIDC, list[0].SSOType)

	resp, err := f.client.RevokeSSOSession(ctx, "sso-1")
	require.NoError(t, err)
	assert.Equal(t, "SSO session revoked successfully", resp.Message)

	_, err = f.client.SSOLogout(ctx)
	require.NoError(t, err)
	list, err = f.client.SSOSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSSODiscoveryAndInitiate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.client.SSODiscover(ctx, "acme.test")
	require.NoError(t, err)
	assert.False(t, d.SSOAvailable)

	f.backend.AddSAMLConfiguration(domain.SAMLConfiguration{
		OrganizationName:   "Acme",
		OrganizationDomain: "acme.test",
		SSOURL:             "https://idp.acme.test/sso",
		IsActive:           true,
	})
	d, err = f.client.SSODiscover(ctx, "acme.test")
	require.NoError(t, err, "discovery is public")
	assert.True(t, d.SSOAvailable)
	assert.Equal(t, domain.SSOSAML, d.SSOType)
	assert.Equal(t, "Acme", d.ProviderName)

	resp, err := f.client.InitiateSSO(ctx, SSOInitiate{
		SSOType:            domain.SSOSAML,
		OrganizationDomain: "acme.test",
		RedirectURL:        "https://app.example.com/dashboard",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.AuthURL, "https://idp.acme.test/sso?RelayState="))

	_, err = f.client.InitiateSSO(ctx, SSOInitiate{SSOType: domain.SSOOIDC, OrganizationDomain: "acme.test"})
	assert.Equal(t, errors.ErrCodeAPIBadRequest, errors.CodeOf(err))
}
