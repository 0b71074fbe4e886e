// Package apitest runs an in-memory users backend on httptest so the API
// client, orchestrators and CLI can be exercised end to end.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/meetdash/internal/domain"
)

// ValidOTP is the one code the fake accepts unless OTPCode is changed.
const ValidOTP = "123456"

type account struct {
	user     domain.User
	password string
}

type forced struct {
	status int
	body   any
}

// Request is a recorded request.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Backend is the fake. Exported fields may be changed between requests while
// holding no lock; tests are expected to configure it before use.
type Backend struct {
	Server *httptest.Server

	// Scheme is the accepted Authorization scheme.
	Scheme string
	// OTPCode is the code accepted by MFA verification.
	OTPCode string

	mu          sync.Mutex
	accounts    map[string]*account // by email
	tokens      map[string]string   // token -> email
	emailTokens map[string]string   // verification/reset token -> email
	sessions    map[string][]domain.UserSession
	devices     map[string][]domain.MFADevice
	pending     map[string]*domain.MFADevice
	roles       []domain.Role
	permissions []domain.Permission
	invitations []domain.Invitation
	auditLogs   []domain.AuditLog
	saml        []domain.SAMLConfiguration
	oidc        []domain.OIDCConfiguration
	ssoSessions map[string][]domain.SSOSession
	forced      map[string][]forced
	blocked     map[string]chan struct{}
	requests    []Request
}

// New starts a backend that is shut down with the test.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		Scheme:      "Token",
		OTPCode:     ValidOTP,
		accounts:    make(map[string]*account),
		tokens:      make(map[string]string),
		emailTokens: make(map[string]string),
		sessions:    make(map[string][]domain.UserSession),
		devices:     make(map[string][]domain.MFADevice),
		pending:     make(map[string]*domain.MFADevice),
		ssoSessions: make(map[string][]domain.SSOSession),
		forced:      make(map[string][]forced),
		blocked:     make(map[string]chan struct{}),
	}
	b.seedCatalog()
	b.Server = httptest.NewServer(b.router())
	t.Cleanup(func() {
		b.mu.Lock()
		for k, ch := range b.blocked {
			close(ch)
			delete(b.blocked, k)
		}
		b.mu.Unlock()
		b.Server.Close()
	})
	return b
}

// URL is the API base URL to hand to the client.
func (b *Backend) URL() string {
	return b.Server.URL + "/api/v1"
}

// AddUser registers an account and returns a token for it.
func (b *Backend) AddUser(u domain.User, password string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.AccountStatus == "" {
		u.AccountStatus = domain.StatusActive
	}
	b.accounts[u.Email] = &account{user: u, password: password}
	return b.issueToken(u.Email)
}

// User returns the stored account.
func (b *Backend) User(email string) (domain.User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[email]
	if !ok {
		return domain.User{}, false
	}
	return *a.user.Clone(), true
}

// SetStatus changes an account's status.
func (b *Backend) SetStatus(email string, s domain.AccountStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.accounts[email]; ok {
		a.user.AccountStatus = s
	}
}

// EmailToken issues a verification or reset token for email.
func (b *Backend) EmailToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tok := "et-" + uuid.NewString()
	b.emailTokens[tok] = email
	return tok
}

// RevokeTokens invalidates every token of email.
func (b *Backend) RevokeTokens(email string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tok, e := range b.tokens {
		if e == email {
			delete(b.tokens, tok)
		}
	}
}

// Fail makes the next request to method+path answer status with body.
// Calls queue up.
func (b *Backend) Fail(method, path string, status int, body any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key(method, path)
	b.forced[k] = append(b.forced[k], forced{status: status, body: body})
}

// Block holds requests to method+path until the returned release is called.
func (b *Backend) Block(method, path string) (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	k := key(method, path)
	b.blocked[k] = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.blocked[k] == ch {
				delete(b.blocked, k)
				close(ch)
			}
		})
	}
}

// Calls counts requests to method+path.
func (b *Backend) Calls(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Requests returns every recorded request.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Last returns the most recent request to method+path.
func (b *Backend) Last(method, path string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if r := b.requests[i]; r.Method == method && r.Path == path {
			return r, true
		}
	}
	return Request{}, false
}

// AddSession adds a server-side session for email.
func (b *Backend) AddSession(email string, s domain.UserSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[email] = append(b.sessions[email], s)
}

// AddDevice adds an active MFA device for email.
func (b *Backend) AddDevice(email string, d domain.MFADevice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[email] = append(b.devices[email], d)
	if a, ok := b.accounts[email]; ok {
		a.user.IsMFAEnabled = true
	}
}

// AddInvitation adds a pending invitation.
func (b *Backend) AddInvitation(inv domain.Invitation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invitations = append(b.invitations, inv)
}

// AddAuditLog appends an audit entry.
func (b *Backend) AddAuditLog(l domain.AuditLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auditLogs = append(b.auditLogs, l)
}

// AddSSOSession adds an identity provider session for email.
func (b *Backend) AddSSOSession(email string, s domain.SSOSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ssoSessions[email] = append(b.ssoSessions[email], s)
}

// AddSAMLConfiguration stores a SAML provider, assigning an ID when empty.
func (b *Backend) AddSAMLConfiguration(c domain.SAMLConfiguration) domain.SAMLConfiguration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	b.saml = append(b.saml, c)
	return c
}

// SAMLConfigurations returns the stored SAML providers.
func (b *Backend) SAMLConfigurations() []domain.SAMLConfiguration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.SAMLConfiguration(nil), b.saml...)
}

// OIDCConfigurations returns the stored OIDC providers.
func (b *Backend) OIDCConfigurations() []domain.OIDCConfiguration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OIDCConfiguration(nil), b.oidc...)
}

// Roles returns the seeded role catalog.
func (b *Backend) Roles() []domain.Role {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Role, len(b.roles))
	copy(out, b.roles)
	return out
}

func (b *Backend) issueToken(email string) string {
	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	b.tokens[tok] = email
	return tok
}

func (b *Backend) seedCatalog() {
	perms := []domain.Permission{
		{ID: "p-edit-users", Codename: domain.PermEditUsers, Name: "Can edit users", Category: "users"},
		{ID: "p-manage-roles", Codename: domain.PermManageRoles, Name: "Can manage roles", Category: "users"},
		{ID: "p-audit", Codename: domain.PermViewAuditLogs, Name: "Can view audit logs", Category: "security"},
		{ID: "p-sso", Codename: domain.PermManageSSO, Name: "Can manage SSO", Category: "security"},
		{ID: "p-events", Codename: "can_manage_events", Name: "Can manage events", Category: "events"},
	}
	admin := "r-admin"
	b.permissions = perms
	b.roles = []domain.Role{
		{ID: admin, Name: "Administrator", RoleType: domain.RoleAdmin, Permissions: perms, TotalPermissions: len(perms), IsSystemRole: true},
		{ID: "r-organizer", Name: "Organizer", RoleType: domain.RoleOrganizer, Parent: &admin, Permissions: perms[4:], TotalPermissions: 1},
		{ID: "r-viewer", Name: "Viewer", RoleType: domain.RoleViewer},
	}
}

func key(method, path string) string {
	return method + " " + path
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
